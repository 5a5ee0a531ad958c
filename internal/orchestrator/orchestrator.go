package orchestrator

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/lock"
	"github.com/shaiso/Taskflow/internal/store"
)

// Default configuration values.
const (
	DefaultLockName    = "taskflow.orchestrator"
	DefaultLockTTL     = 5 * time.Minute
	DefaultMaxDuration = time.Minute
)

// Result — итог одного вызова Orchestrate.
type Result struct {
	// Processed — сколько записей обработано за проход.
	Processed int `json:"processed"`

	// Acquired — удалось ли взять блокировку. false означает,
	// что другой проход уже разбирает очередь.
	Acquired bool `json:"acquired"`

	// Yielded — проход остановлен по maxDuration, в очереди могли остаться записи.
	Yielded bool `json:"yielded"`
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Storage
	Catalog *engine.Catalog
	Store   store.Store

	// Handlers и назначение
	Registry   *handlers.Registry
	Authorizer Authorizer

	// Locker — эксклюзивная TTL-блокировка (default: lock.NewMemory()).
	Locker lock.Locker

	// Optional integrations
	Events    EventPublisher
	Triggers  TriggerPublisher
	Observers []Observer
	Metrics   PassMetrics

	// Pass configuration
	LockName    string        // имя блокировки (default: taskflow.orchestrator)
	LockTTL     time.Duration // TTL блокировки (default: 5m)
	MaxDuration time.Duration // бюджет времени прохода (default: 1m)

	// Token — общий секрет для Trigger. Пустой токен запрещает любой вызов.
	Token string

	// PostActionOrchestrate — запускать проход сразу после NewProcess и CompleteTask.
	PostActionOrchestrate bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator продвигает процессы по графу шаблона.
type Orchestrator struct {
	catalog    *engine.Catalog
	store      store.Store
	registry   *handlers.Registry
	authorizer Authorizer
	locker     lock.Locker

	events    EventPublisher
	triggers  TriggerPublisher
	observers []Observer
	metrics   PassMetrics

	lockName    string
	lockTTL     time.Duration
	maxDuration time.Duration
	token       string
	postAction  bool

	logger *slog.Logger
	now    func() time.Time
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewMemory()
	}

	lockName := cfg.LockName
	if lockName == "" {
		lockName = DefaultLockName
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}

	maxDuration := cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		catalog:     cfg.Catalog,
		store:       cfg.Store,
		registry:    cfg.Registry,
		authorizer:  cfg.Authorizer,
		locker:      locker,
		events:      cfg.Events,
		triggers:    cfg.Triggers,
		observers:   cfg.Observers,
		metrics:     cfg.Metrics,
		lockName:    lockName,
		lockTTL:     lockTTL,
		maxDuration: maxDuration,
		token:       cfg.Token,
		postAction:  cfg.PostActionOrchestrate,
		logger:      logger,
		now:         now,
	}
}

// Trigger проверяет токен и запускает проход с настройками по умолчанию.
//
// При неверном токене возвращает ErrUnauthorized, не трогая блокировку.
func (o *Orchestrator) Trigger(ctx context.Context, token string) (Result, error) {
	if o.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(o.token)) != 1 {
		return Result{}, ErrUnauthorized
	}
	return o.Orchestrate(ctx, "", 0)
}

// Orchestrate разбирает очередь под блокировкой lockName.
//
// Пустой lockName и нулевой maxDuration заменяются значениями из Config.
// Если блокировку держит другой проход, возвращается пустой Result без ошибки.
// Проход останавливается, когда очередь пуста или истёк maxDuration;
// оставшиеся записи достанутся следующему вызову.
func (o *Orchestrator) Orchestrate(ctx context.Context, lockName string, maxDuration time.Duration) (result Result, err error) {
	if lockName == "" {
		lockName = o.lockName
	}
	if maxDuration <= 0 {
		maxDuration = o.maxDuration
	}

	start := o.now()
	defer func() {
		if o.metrics != nil {
			o.metrics.ObservePass(result.Acquired, result.Processed, o.now().Sub(start))
		}
	}()

	lease, err := o.locker.Acquire(ctx, lockName, o.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		o.logger.Debug("orchestrate skipped, lock is held", "lock", lockName)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock %s: %w", lockName, err)
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			o.logger.Warn("failed to release orchestrator lock", "lock", lockName, "error", relErr)
		}
	}()

	result.Acquired = true
	deadline := start.Add(maxDuration)
	o.logger.Info("orchestrate pass started", "lock", lockName, "max_duration", maxDuration)

	if err := o.reconcile(ctx); err != nil {
		return result, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !o.now().Before(deadline) {
			result.Yielded = true
			break
		}

		entry, err := o.store.NextReady(ctx)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("next ready entry: %w", err)
		}

		if err := o.processEntry(ctx, entry); err != nil {
			return result, fmt.Errorf("process entry %s: %w", entry.ID, err)
		}
		result.Processed++
	}

	o.logger.Info("orchestrate pass finished",
		"lock", lockName,
		"processed", result.Processed,
		"yielded", result.Yielded,
		"duration", o.now().Sub(start),
	)
	return result, nil
}

// afterAction запускает внеочередной проход после действия пользователя.
// Ошибки только логируются: действие уже сохранено.
func (o *Orchestrator) afterAction(ctx context.Context, reason string) {
	if o.triggers != nil {
		if err := o.triggers.PublishOrchestrateRequest(ctx, reason); err != nil {
			o.logger.Warn("failed to publish orchestrate request", "reason", reason, "error", err)
		}
	}
	if !o.postAction {
		return
	}
	result, err := o.Orchestrate(ctx, "", 0)
	if err != nil {
		o.logger.Error("post-action orchestrate failed", "reason", reason, "error", err)
		return
	}
	o.logger.Debug("post-action orchestrate", "reason", reason, "processed", result.Processed, "acquired", result.Acquired)
}

// publish отправляет событие. Ошибка шины не прерывает работу движка.
func (o *Orchestrator) publish(ctx context.Context, event domain.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishEvent(ctx, event); err != nil {
		o.logger.Warn("failed to publish event",
			"type", event.Type,
			"process_id", event.ProcessID,
			"error", err,
		)
	}
}
