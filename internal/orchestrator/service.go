package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/store"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

// StartOptions — параметры NewProcess.
type StartOptions struct {
	// Version — версия шаблона. 0 означает последнюю активную.
	Version int

	// Variables — начальные переменные процесса.
	Variables map[string]any

	// Initiator — пользователь, запустивший процесс.
	// Сохраняется в переменной "initiator", если она не задана.
	Initiator string
}

// EntryDetail — запись очереди с данными для отображения задачи.
type EntryDetail struct {
	Entry       *domain.QueueEntry `json:"entry"`
	Process     *domain.Process    `json:"process"`
	Node        *domain.TaskNode   `json:"node"`
	Interactive bool               `json:"interactive"`

	// Form — форма интерактивной задачи, только для ACTIVE-записи.
	Form *handlers.Form `json:"form,omitempty"`

	// CanExecute — может ли запросивший пользователь выполнить задачу.
	CanExecute bool `json:"can_execute"`
}

// PublishTemplate проверяет и сохраняет новую версию шаблона.
//
// Версия с FAILURE-диагностиками сохраняется неактивной; отчёт возвращается
// в обоих случаях, ошибка только при сбое хранилища.
func (o *Orchestrator) PublishTemplate(ctx context.Context, t *domain.Template) (*engine.Compiled, error) {
	compiled, err := o.catalog.Publish(ctx, t)
	if err != nil {
		return nil, err
	}

	telemetry.WithTemplateID(o.logger, t.ID).Info("template published",
		"version", t.Version,
		"active", t.Active,
		"failures", len(compiled.Report.Failures()),
		"warnings", len(compiled.Report.Warnings()),
	)
	o.publish(ctx, domain.Event{
		Type:       domain.EventTemplatePublished,
		TemplateID: t.ID,
		Version:    t.Version,
		At:         o.now(),
	})
	return compiled, nil
}

// NewProcess запускает процесс по шаблону.
//
// Шаблон с FAILURE-диагностиками возвращает *engine.InvalidTemplateError
// со всеми найденными проблемами. Для каждого входного узла создаётся READY-запись.
func (o *Orchestrator) NewProcess(ctx context.Context, templateID string, opts StartOptions) (*domain.Process, error) {
	var (
		compiled *engine.Compiled
		err      error
	)
	if opts.Version > 0 {
		compiled, err = o.catalog.Get(ctx, templateID, opts.Version)
	} else {
		compiled, err = o.catalog.Latest(ctx, templateID)
	}
	if err != nil {
		return nil, err
	}
	if err := compiled.Report.Err(); err != nil {
		return nil, err
	}

	now := o.now()
	process := &domain.Process{
		ID:              uuid.New(),
		TemplateID:      compiled.Template.ID,
		TemplateVersion: compiled.Template.Version,
		Status:          domain.ProcessStatusRunning,
		Variables:       make(map[string]any, len(opts.Variables)+1),
		StartedAt:       now,
	}
	for k, v := range opts.Variables {
		process.Variables[k] = v
	}
	if _, ok := process.Variables[handlers.VariableInitiator]; !ok && opts.Initiator != "" {
		process.Variables[handlers.VariableInitiator] = opts.Initiator
	}

	entryNodes := compiled.Graph.EntryNodes()
	seeds := make([]domain.QueueEntry, 0, len(entryNodes))
	for _, node := range entryNodes {
		seeds = append(seeds, domain.NewQueueEntry(process.ID, node, domain.EntryStatusReady, now))
	}

	if err := o.store.CreateProcess(ctx, process, seeds); err != nil {
		return nil, fmt.Errorf("create process: %w", err)
	}

	telemetry.WithProcessID(o.logger, process.ID.String()).Info("process started",
		"template_id", process.TemplateID,
		"version", process.TemplateVersion,
		"entries", len(seeds),
	)
	o.publish(ctx, domain.ProcessEvent(domain.EventProcessStarted, process, now))
	for i := range seeds {
		o.publish(ctx, domain.EntryEvent(domain.EventEntryReady, &seeds[i], now))
	}

	o.afterAction(ctx, string(domain.EventProcessStarted))
	return process, nil
}

// CompleteTask завершает интерактивную задачу от имени actorID.
//
// Ошибки:
//   - ErrInvalidState — запись не ACTIVE или процесс не RUNNING
//   - ErrAccessDenied — actorID не проходит правило назначения
//   - ErrInvalidSubmission — handler отклонил данные (*handlers.SubmissionError)
//
// Право на выполнение проверяется заново при каждом вызове.
// Переход в COMPLETE условный: из двух одновременных отправок применяется одна.
func (o *Orchestrator) CompleteTask(ctx context.Context, queueID uuid.UUID, actorID string, submission map[string]any) error {
	entry, err := o.store.GetEntry(ctx, queueID)
	if err != nil {
		return fmt.Errorf("get entry %s: %w", queueID, err)
	}
	if entry.Status != domain.EntryStatusActive {
		return fmt.Errorf("%w: entry %s is %s, expected ACTIVE", ErrInvalidState, queueID, entry.Status)
	}

	process, err := o.store.GetProcess(ctx, entry.ProcessID)
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}
	if !process.IsRunning() {
		return fmt.Errorf("%w: process %s is %s", ErrInvalidState, process.ID, process.Status)
	}

	compiled, err := o.catalog.Get(ctx, process.TemplateID, process.TemplateVersion)
	if err != nil {
		return err
	}
	node, ok := compiled.Graph.Node(entry.NodeID)
	if !ok {
		return fmt.Errorf("node %s: %w", entry.NodeID, store.ErrNotFound)
	}
	handler, err := o.registry.Interactive(node.TypeID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	allowed, err := o.canExecute(ctx, actorID, queueID)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s cannot execute entry %s", ErrAccessDenied, actorID, queueID)
	}

	log := telemetry.WithEntryID(telemetry.WithProcessID(o.logger, process.ID.String()), entry.ID.String())
	ec := handlers.NewExecutionContext(process, entry, node, log)
	ec.Actor = actorID

	if submission == nil {
		submission = map[string]any{}
	}
	if err := handler.ValidateSubmission(ec, submission); err != nil {
		if !errors.Is(err, ErrInvalidSubmission) {
			err = handlers.NewSubmissionError(err.Error())
		}
		return err
	}
	if err := handler.ApplySubmission(ec, submission); err != nil {
		return fmt.Errorf("apply submission: %w", err)
	}

	if err := o.completeEntry(ctx, log, entry, compiled, ec, domain.EntryStatusActive); err != nil {
		if !errors.Is(err, errSettle) {
			return err
		}
		log.Warn("task completed, process will be settled by the next pass", "error", err)
	}

	o.afterAction(ctx, string(domain.EventEntryCompleted))
	return nil
}

// SetTaskStatus — административное изменение статуса записи.
//
// Допустимы:
//   - ERROR → READY: повторная попытка (RetryCount++, диагностика сбрасывается)
//   - любой нетерминальный → CANCELLED
//
// Следующие узлы не создаются, но завершение процесса проверяется заново.
func (o *Orchestrator) SetTaskStatus(ctx context.Context, queueID uuid.UUID, status domain.EntryStatus) (*domain.QueueEntry, error) {
	entry, err := o.store.GetEntry(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", queueID, err)
	}

	updated := *entry
	event := domain.EventEntryCancelled

	switch {
	case status == domain.EntryStatusReady && entry.Status == domain.EntryStatusError:
		process, err := o.store.GetProcess(ctx, entry.ProcessID)
		if err != nil {
			return nil, fmt.Errorf("get process: %w", err)
		}
		if !process.IsRunning() {
			return nil, fmt.Errorf("%w: process %s is %s", ErrInvalidState, process.ID, process.Status)
		}
		if err := updated.Retry(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		event = domain.EventEntryReady

	case status == domain.EntryStatusCancelled:
		if err := updated.TransitionTo(domain.EntryStatusCancelled, o.now()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}

	default:
		return nil, fmt.Errorf("%w: cannot set %s entry to %s", ErrInvalidState, entry.Status, status)
	}

	if err := o.store.UpdateEntryIf(ctx, &updated, entry.Status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: entry %s changed concurrently", ErrInvalidState, queueID)
		}
		return nil, fmt.Errorf("update entry: %w", err)
	}

	telemetry.WithEntryID(o.logger, queueID.String()).Info("entry status overridden",
		"from", entry.Status,
		"to", updated.Status,
		"retry_count", updated.RetryCount,
	)
	o.publish(ctx, domain.EntryEvent(event, &updated, o.now()))

	if updated.Status == domain.EntryStatusReady {
		o.afterAction(ctx, "entry.retried")
		return &updated, nil
	}
	if err := o.checkCompletion(ctx, updated.ProcessID); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CancelProcess отменяет процесс и все его нетерминальные записи.
func (o *Orchestrator) CancelProcess(ctx context.Context, processID uuid.UUID) error {
	process, err := o.store.GetProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("get process %s: %w", processID, err)
	}
	if !process.IsRunning() {
		return fmt.Errorf("%w: process %s is %s", ErrInvalidState, processID, process.Status)
	}

	process.MarkCancelled(o.now())
	if err := o.store.UpdateProcessStatus(ctx, process, domain.ProcessStatusRunning); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: process %s changed concurrently", ErrInvalidState, processID)
		}
		return fmt.Errorf("cancel process: %w", err)
	}

	entries, err := o.store.ListByProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	for i := range entries {
		if entries[i].Status.IsTerminal() {
			continue
		}
		if err := o.cancelEntry(ctx, &entries[i]); err != nil {
			return err
		}
	}

	telemetry.WithProcessID(o.logger, processID.String()).Info("process cancelled")
	o.publish(ctx, domain.ProcessEvent(domain.EventProcessCancelled, process, o.now()))
	return nil
}

// GetQueueEntry возвращает запись с узлом и формой интерактивной задачи.
// viewer используется для CanExecute; пустой viewer даёт false.
func (o *Orchestrator) GetQueueEntry(ctx context.Context, queueID uuid.UUID, viewer string) (*EntryDetail, error) {
	entry, err := o.store.GetEntry(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", queueID, err)
	}
	process, err := o.store.GetProcess(ctx, entry.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("get process: %w", err)
	}
	compiled, err := o.catalog.Get(ctx, process.TemplateID, process.TemplateVersion)
	if err != nil {
		return nil, err
	}
	node, ok := compiled.Graph.Node(entry.NodeID)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", entry.NodeID, store.ErrNotFound)
	}

	detail := &EntryDetail{
		Entry:       entry,
		Process:     process,
		Node:        node,
		Interactive: o.registry.IsInteractive(node.TypeID),
	}
	if !detail.Interactive || entry.Status != domain.EntryStatusActive {
		return detail, nil
	}

	handler, err := o.registry.Interactive(node.TypeID)
	if err != nil {
		return nil, err
	}
	ec := handlers.NewExecutionContext(process, entry, node, o.logger)
	if detail.Form, err = handler.BuildInteractionForm(ctx, ec); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	if viewer != "" {
		if detail.CanExecute, err = o.canExecute(ctx, viewer, queueID); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// GetProcess возвращает процесс по ID.
func (o *Orchestrator) GetProcess(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	return o.store.GetProcess(ctx, id)
}

// ListProcesses возвращает процессы по фильтру.
func (o *Orchestrator) ListProcesses(ctx context.Context, filter store.ProcessFilter) ([]domain.Process, error) {
	return o.store.ListProcesses(ctx, filter)
}

// ListTemplates возвращает последние версии шаблонов.
func (o *Orchestrator) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return o.catalog.List(ctx)
}

// canExecute без Authorizer запрещает любое интерактивное действие.
func (o *Orchestrator) canExecute(ctx context.Context, actorID string, queueID uuid.UUID) (bool, error) {
	if o.authorizer == nil {
		return false, nil
	}
	ok, err := o.authorizer.CanExecute(ctx, actorID, queueID)
	if err != nil {
		return false, fmt.Errorf("can execute: %w", err)
	}
	return ok, nil
}
