package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/store"
)

// successorSeeds строит записи для узлов, следующих за done.
//
// Обычный узел получает READY-запись. Join-узел получает WAITING-запись,
// которая становится READY в settle, когда у каждого предшественника есть
// COMPLETE-запись. Хранилище сохраняет их вместе с переходом done в COMPLETE
// и пропускает узлы, у которых запись уже есть.
func (o *Orchestrator) successorSeeds(done *domain.QueueEntry, compiled *engine.Compiled) []domain.QueueEntry {
	now := o.now()
	var seeds []domain.QueueEntry
	for _, nextID := range compiled.Graph.Successors(done.NodeID) {
		node, ok := compiled.Graph.Node(nextID)
		if !ok {
			continue
		}
		status := domain.EntryStatusReady
		if compiled.Graph.IsJoin(nextID) {
			status = domain.EntryStatusWaiting
		}
		seeds = append(seeds, domain.NewQueueEntry(done.ProcessID, node, status, now))
	}
	return seeds
}

// settle доводит процесс до согласованного состояния после перехода записи:
// переводит в READY join-узлы, все предшественники которых завершены,
// и проверяет завершение процесса.
//
// Повторный вызов безопасен. Orchestrate вызывает settle в начале каждого
// прохода для процессов из UnsettledProcesses, поэтому сбой здесь
// исправляется следующим проходом.
func (o *Orchestrator) settle(ctx context.Context, processID uuid.UUID, compiled *engine.Compiled) error {
	process, err := o.store.GetProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}
	if !process.IsRunning() {
		return nil
	}

	entries, err := o.store.ListByProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	completed := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Status == domain.EntryStatusComplete {
			completed[e.NodeID] = true
		}
	}

	promoted := false
	for i := range entries {
		e := &entries[i]
		if e.Status != domain.EntryStatusWaiting {
			continue
		}
		ok, err := o.promoteJoin(ctx, e, compiled, completed)
		if err != nil {
			return err
		}
		promoted = promoted || ok
	}
	if promoted {
		return nil
	}

	return o.completeIfDone(ctx, process, entries)
}

// promoteJoin переводит WAITING-запись в READY, если все предшественники узла завершены.
func (o *Orchestrator) promoteJoin(ctx context.Context, entry *domain.QueueEntry, compiled *engine.Compiled, completed map[string]bool) (bool, error) {
	for _, pred := range compiled.Graph.Predecessors(entry.NodeID) {
		if !completed[pred] {
			o.logger.Debug("join is waiting", "process_id", entry.ProcessID, "node_id", entry.NodeID, "missing", pred)
			return false, nil
		}
	}

	ready := *entry
	if err := ready.TransitionTo(domain.EntryStatusReady, o.now()); err != nil {
		return false, fmt.Errorf("promote join %s: %w", entry.NodeID, err)
	}
	if err := o.store.UpdateEntryIf(ctx, &ready, domain.EntryStatusWaiting); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return true, nil
		}
		return false, fmt.Errorf("promote join %s: %w", entry.NodeID, err)
	}

	o.logger.Info("join is ready", "process_id", entry.ProcessID, "node_id", entry.NodeID)
	o.publish(ctx, domain.EntryEvent(domain.EventEntryReady, &ready, o.now()))
	return true, nil
}

// checkCompletion перечитывает записи процесса и вызывает completeIfDone.
func (o *Orchestrator) checkCompletion(ctx context.Context, processID uuid.UUID) error {
	process, err := o.store.GetProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("get process: %w", err)
	}
	if !process.IsRunning() {
		return nil
	}
	entries, err := o.store.ListByProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	return o.completeIfDone(ctx, process, entries)
}

// completeIfDone переводит процесс в COMPLETE, когда ни одна запись
// не находится в WAITING, READY, ACTIVE или ERROR.
func (o *Orchestrator) completeIfDone(ctx context.Context, process *domain.Process, entries []domain.QueueEntry) error {
	for _, e := range entries {
		if e.Status.BlocksCompletion() {
			return nil
		}
	}

	process.MarkComplete(o.now())
	if err := o.store.UpdateProcessStatus(ctx, process, domain.ProcessStatusRunning); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return fmt.Errorf("complete process: %w", err)
	}

	o.logger.Info("process completed", "process_id", process.ID, "entries", len(entries))
	o.publish(ctx, domain.ProcessEvent(domain.EventProcessCompleted, process, o.now()))
	return nil
}

// reconcile вызывает settle для процессов, которые могли остаться
// несогласованными после сбоя: RUNNING с WAITING-записью или без
// единой незавершённой записи. Ошибка одного процесса не мешает остальным.
func (o *Orchestrator) reconcile(ctx context.Context) error {
	ids, err := o.store.UnsettledProcesses(ctx)
	if err != nil {
		return fmt.Errorf("list unsettled processes: %w", err)
	}

	for _, id := range ids {
		process, err := o.store.GetProcess(ctx, id)
		if err != nil {
			o.logger.Warn("reconcile: get process failed", "process_id", id, "error", err)
			continue
		}
		compiled, err := o.catalog.Get(ctx, process.TemplateID, process.TemplateVersion)
		if err != nil {
			o.logger.Warn("reconcile: get template failed", "process_id", id, "error", err)
			continue
		}
		if err := o.settle(ctx, id, compiled); err != nil {
			o.logger.Warn("reconcile failed", "process_id", id, "error", err)
		}
	}
	return nil
}
