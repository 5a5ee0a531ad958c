package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/handlers"
)

// Observer — точка расширения вокруг вызова handler'а в processEntry.
//
// Observers вызываются в порядке регистрации: BeforeExecute по прямому,
// AfterExecute по обратному. Контекст, возвращённый BeforeExecute,
// передаётся handler'у и следующим observers.
type Observer interface {
	BeforeExecute(ctx context.Context, ec *handlers.ExecutionContext) context.Context
	AfterExecute(ctx context.Context, ec *handlers.ExecutionContext, result handlers.ExecutionResult, elapsed time.Duration)
}

// EventPublisher публикует события жизненного цикла во внешнюю шину.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}

// TriggerPublisher отправляет запрос на внеочередной проход оркестратора.
type TriggerPublisher interface {
	PublishOrchestrateRequest(ctx context.Context, reason string) error
}

// PassMetrics получает итоги каждого вызова Orchestrate.
type PassMetrics interface {
	ObservePass(acquired bool, processed int, elapsed time.Duration)
}

// Authorizer решает, кто может выполнить интерактивную задачу.
type Authorizer interface {
	CanExecute(ctx context.Context, actorID string, queueID uuid.UUID) (bool, error)
	Describe(rule *domain.AssignmentRule, process *domain.Process) string
}
