package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/store"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

// processEntry выполняет одну READY-запись.
//
// Ошибка возвращается только при сбое хранилища, и проход прерывается.
// Если сбой случился до перехода в COMPLETE, запись остаётся READY и будет
// взята следующим проходом; если после, процесс досчитает reconcile.
// Проблемы самой задачи переводят запись в ERROR.
func (o *Orchestrator) processEntry(ctx context.Context, entry *domain.QueueEntry) error {
	log := telemetry.WithEntryID(telemetry.WithProcessID(o.logger, entry.ProcessID.String()), entry.ID.String()).
		With("node_id", entry.NodeID)

	process, err := o.store.GetProcess(ctx, entry.ProcessID)
	if errors.Is(err, store.ErrNotFound) {
		return o.failEntry(ctx, log, entry, "process not found")
	}
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}

	if !process.IsRunning() {
		log.Debug("process is not running, cancelling entry", "process_status", process.Status)
		return o.cancelEntry(ctx, entry)
	}

	compiled, err := o.catalog.Get(ctx, process.TemplateID, process.TemplateVersion)
	if errors.Is(err, store.ErrNotFound) {
		return o.failEntry(ctx, log, entry, fmt.Sprintf("template %s v%d not found", process.TemplateID, process.TemplateVersion))
	}
	if err != nil {
		return fmt.Errorf("get template: %w", err)
	}

	node, ok := compiled.Graph.Node(entry.NodeID)
	if !ok {
		return o.failEntry(ctx, log, entry, fmt.Sprintf("node %s not found in template", entry.NodeID))
	}

	handler, err := o.registry.Get(node.TypeID)
	if err != nil {
		return o.failEntry(ctx, log, entry, err.Error())
	}

	ec := handlers.NewExecutionContext(process, entry, node, log)
	result := o.execute(ctx, handler, ec)

	switch result.Outcome {
	case handlers.OutcomeContinue:
		err := o.completeEntry(ctx, log, entry, compiled, ec, domain.EntryStatusReady)
		if errors.Is(err, ErrInvalidState) {
			log.Warn("entry changed while completing, skipping", "error", err)
			return nil
		}
		return err

	case handlers.OutcomeSuspend:
		if !handler.IsInteractive() {
			return o.failEntry(ctx, log, entry, fmt.Sprintf("automated handler %s returned SUSPEND", node.TypeID))
		}
		return o.suspendEntry(ctx, log, entry, node, process)

	case handlers.OutcomeError:
		return o.failEntry(ctx, log, entry, result.Detail)

	default:
		return o.failEntry(ctx, log, entry, fmt.Sprintf("handler %s returned unknown outcome %q", node.TypeID, result.Outcome))
	}
}

// execute вызывает handler между observers и превращает панику в ERROR.
func (o *Orchestrator) execute(ctx context.Context, h handlers.TaskHandler, ec *handlers.ExecutionContext) (result handlers.ExecutionResult) {
	for _, obs := range o.observers {
		ctx = obs.BeforeExecute(ctx, ec)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ec.Logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			result = handlers.Fail(fmt.Errorf("%w: panic: %v", ErrHandlerExecution, r))
		}

		elapsed := time.Since(start)
		for i := len(o.observers) - 1; i >= 0; i-- {
			o.observers[i].AfterExecute(ctx, ec, result, elapsed)
		}
	}()

	res, err := h.Execute(ctx, ec)
	if err != nil {
		return handlers.Fail(fmt.Errorf("%w: %v", ErrHandlerExecution, err))
	}
	return res
}

// completeEntry одной операцией хранилища сохраняет изменения переменных,
// переводит запись в COMPLETE и создаёт записи следующих узлов.
// Затем settle продвигает join-узлы и проверяет завершение процесса.
//
// Ошибка settle оборачивается в errSettle: переход уже сохранён,
// а досчитать процесс сможет следующий проход.
func (o *Orchestrator) completeEntry(ctx context.Context, log *slog.Logger, entry *domain.QueueEntry, compiled *engine.Compiled, ec *handlers.ExecutionContext, expected domain.EntryStatus) error {
	done := *entry
	if err := done.TransitionTo(domain.EntryStatusComplete, o.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	done.CompletedBy = ec.Actor

	created, err := o.store.CompleteEntry(ctx, &done, expected, ec.Changes(), o.successorSeeds(&done, compiled))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: entry %s is no longer %s", ErrInvalidState, entry.ID, expected)
		}
		return fmt.Errorf("complete entry: %w", err)
	}

	log.Info("entry completed", "actor", done.CompletedBy, "successors", len(created))
	o.publish(ctx, domain.EntryEvent(domain.EventEntryCompleted, &done, o.now()))
	for i := range created {
		if created[i].Status == domain.EntryStatusReady {
			o.publish(ctx, domain.EntryEvent(domain.EventEntryReady, &created[i], o.now()))
		}
	}

	if err := o.settle(ctx, done.ProcessID, compiled); err != nil {
		return fmt.Errorf("%w: %w", errSettle, err)
	}
	return nil
}

// suspendEntry переводит интерактивную запись в ACTIVE.
// RunOnce, выставленный переходом, исключает повторный вызов Execute.
func (o *Orchestrator) suspendEntry(ctx context.Context, log *slog.Logger, entry *domain.QueueEntry, node *domain.TaskNode, process *domain.Process) error {
	active := *entry
	if err := active.TransitionTo(domain.EntryStatusActive, o.now()); err != nil {
		return o.failEntry(ctx, log, entry, err.Error())
	}
	if o.authorizer != nil {
		active.AssignedTo = o.authorizer.Describe(node.Assignment, process)
	}

	if err := o.store.UpdateEntryIf(ctx, &active, domain.EntryStatusReady); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("entry changed while suspending, skipping")
			return nil
		}
		return fmt.Errorf("suspend entry: %w", err)
	}

	log.Info("entry waiting for action", "assigned_to", active.AssignedTo)
	o.publish(ctx, domain.EntryEvent(domain.EventEntrySuspended, &active, o.now()))
	return nil
}

// failEntry переводит READY-запись в ERROR. Ветка останавливается,
// остальные записи очереди продолжают выполняться.
func (o *Orchestrator) failEntry(ctx context.Context, log *slog.Logger, entry *domain.QueueEntry, detail string) error {
	if detail == "" {
		detail = ErrHandlerExecution.Error()
	}

	failed := *entry
	if err := failed.Fail(detail, o.now()); err != nil {
		return fmt.Errorf("fail entry: %w", err)
	}
	if err := o.store.UpdateEntryIf(ctx, &failed, entry.Status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("entry changed while failing, skipping")
			return nil
		}
		return fmt.Errorf("fail entry: %w", err)
	}

	log.Warn("entry failed", "error", detail)
	o.publish(ctx, domain.EntryEvent(domain.EventEntryFailed, &failed, o.now()))
	return nil
}

// cancelEntry переводит нетерминальную запись в CANCELLED.
// Конфликт означает, что запись уже изменили, и не считается ошибкой.
func (o *Orchestrator) cancelEntry(ctx context.Context, entry *domain.QueueEntry) error {
	cancelled := *entry
	if err := cancelled.TransitionTo(domain.EntryStatusCancelled, o.now()); err != nil {
		return nil
	}
	if err := o.store.UpdateEntryIf(ctx, &cancelled, entry.Status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return fmt.Errorf("cancel entry %s: %w", entry.ID, err)
	}
	o.publish(ctx, domain.EntryEvent(domain.EventEntryCancelled, &cancelled, o.now()))
	return nil
}
