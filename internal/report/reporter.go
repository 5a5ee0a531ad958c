// Package report строит представление процесса для отображения.
//
// Reporter только читает хранилище.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/store"
)

// Display — статус записи для отображения.
type Display string

const (
	DisplayWaiting     Display = "waiting"
	DisplayQueued      Display = "queued"
	DisplayCurrent     Display = "current"
	DisplayAwaitingYou Display = "awaiting your action"
	DisplayComplete    Display = "complete"
	DisplayCancelled   Display = "cancelled"
	DisplayError       Display = "error"
)

// Eligibility проверяет право пользователя на задачу.
type Eligibility interface {
	CanExecute(ctx context.Context, actorID string, queueID uuid.UUID) (bool, error)
}

// Item — одна запись очереди в хронологии процесса.
type Item struct {
	EntryID     uuid.UUID          `json:"entry_id"`
	NodeID      string             `json:"node_id"`
	NodeName    string             `json:"node_name"`
	NodeType    string             `json:"node_type"`
	Status      domain.EntryStatus `json:"status"`
	Display     Display            `json:"display"`
	AssignedTo  string             `json:"assigned_to,omitempty"`
	CompletedBy string             `json:"completed_by,omitempty"`
	Error       string             `json:"error,omitempty"`
	RetryCount  int                `json:"retry_count"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// Timeline — хронология процесса.
type Timeline struct {
	Process      *domain.Process            `json:"process"`
	TemplateName string                     `json:"template_name,omitempty"`
	Items        []Item                     `json:"items"`
	Counts       map[domain.EntryStatus]int `json:"counts"`
}

// Config — конфигурация Reporter.
type Config struct {
	Processes   store.ProcessStore
	Queue       store.QueueStore
	Catalog     *engine.Catalog
	Eligibility Eligibility
	Logger      *slog.Logger
}

// Reporter строит хронологию процессов.
type Reporter struct {
	processes   store.ProcessStore
	queue       store.QueueStore
	catalog     *engine.Catalog
	eligibility Eligibility
	logger      *slog.Logger
}

// New создаёт Reporter.
func New(cfg Config) *Reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		processes:   cfg.Processes,
		queue:       cfg.Queue,
		catalog:     cfg.Catalog,
		eligibility: cfg.Eligibility,
		logger:      logger,
	}
}

// GetTimeline возвращает записи процесса в порядке создания.
//
// ACTIVE-запись показывается как "awaiting your action", если viewer
// может её выполнить; пустой viewer видит её как "current".
func (r *Reporter) GetTimeline(ctx context.Context, processID uuid.UUID, viewer string) (*Timeline, error) {
	process, err := r.processes.GetProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("get process %s: %w", processID, err)
	}
	entries, err := r.queue.ListByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	timeline := &Timeline{
		Process: process,
		Items:   make([]Item, 0, len(entries)),
		Counts:  make(map[domain.EntryStatus]int),
	}

	// Шаблон нужен только для имён узлов: без него хронология всё равно строится.
	var graph *engine.Graph
	if compiled, err := r.catalog.Get(ctx, process.TemplateID, process.TemplateVersion); err != nil {
		r.logger.Warn("timeline without template", "process_id", processID, "error", err)
	} else {
		graph = compiled.Graph
		timeline.TemplateName = compiled.Template.Name
	}

	for i := range entries {
		e := &entries[i]
		item := Item{
			EntryID:     e.ID,
			NodeID:      e.NodeID,
			NodeName:    e.NodeID,
			NodeType:    e.NodeType,
			Status:      e.Status,
			AssignedTo:  e.AssignedTo,
			CompletedBy: e.CompletedBy,
			Error:       e.Error,
			RetryCount:  e.RetryCount,
			CreatedAt:   e.CreatedAt,
			StartedAt:   e.StartedAt,
			CompletedAt: e.CompletedAt,
		}
		if graph != nil {
			if node, ok := graph.Node(e.NodeID); ok {
				item.NodeName = node.DisplayName()
			}
		}

		item.Display, err = r.display(ctx, e, viewer)
		if err != nil {
			return nil, err
		}

		timeline.Counts[e.Status]++
		timeline.Items = append(timeline.Items, item)
	}

	return timeline, nil
}

func (r *Reporter) display(ctx context.Context, e *domain.QueueEntry, viewer string) (Display, error) {
	switch e.Status {
	case domain.EntryStatusWaiting:
		return DisplayWaiting, nil
	case domain.EntryStatusReady:
		return DisplayQueued, nil
	case domain.EntryStatusActive:
		if viewer == "" || r.eligibility == nil {
			return DisplayCurrent, nil
		}
		ok, err := r.eligibility.CanExecute(ctx, viewer, e.ID)
		if err != nil {
			return "", fmt.Errorf("can execute %s: %w", e.ID, err)
		}
		if ok {
			return DisplayAwaitingYou, nil
		}
		return DisplayCurrent, nil
	case domain.EntryStatusComplete:
		return DisplayComplete, nil
	case domain.EntryStatusCancelled:
		return DisplayCancelled, nil
	default:
		return DisplayError, nil
	}
}
