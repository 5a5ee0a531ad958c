package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition — недопустимый переход статуса записи очереди.
var ErrInvalidTransition = errors.New("invalid entry transition")

// QueueEntry — запись очереди: экземпляр узла шаблона внутри процесса.
type QueueEntry struct {
	// ID — уникальный идентификатор записи (queueId).
	ID uuid.UUID `json:"id"`

	// ProcessID — процесс, которому принадлежит запись.
	ProcessID uuid.UUID `json:"process_id"`

	// NodeID — узел шаблона.
	NodeID string `json:"node_id"`

	// NodeType — тип узла (копия TaskNode.TypeID на момент создания).
	NodeType string `json:"node_type"`

	// Status — текущий статус.
	Status EntryStatus `json:"status"`

	// AssignedTo — кому назначена интерактивная задача (для отображения).
	AssignedTo string `json:"assigned_to,omitempty"`

	// RunOnce — побочный эффект активации уже выполнен.
	// Выставляется при переходе в ACTIVE и не даёт выполнить запись повторно.
	RunOnce bool `json:"run_once"`

	// RetryCount — сколько раз запись возвращалась из ERROR в READY.
	RetryCount int `json:"retry_count"`

	// Error — диагностика последней ошибки handler'а.
	Error string `json:"error,omitempty"`

	// CompletedBy — пользователь, завершивший интерактивную задачу.
	CompletedBy string `json:"completed_by,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время перехода в ACTIVE.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время перехода в терминальный статус или ERROR.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewQueueEntry создаёт запись очереди для узла.
func NewQueueEntry(processID uuid.UUID, node *TaskNode, status EntryStatus, now time.Time) QueueEntry {
	return QueueEntry{
		ID:        uuid.New(),
		ProcessID: processID,
		NodeID:    node.ID,
		NodeType:  node.TypeID,
		Status:    status,
		CreatedAt: now,
	}
}

// IsExecutable возвращает true, если оркестратор может выполнить запись.
func (e *QueueEntry) IsExecutable() bool {
	return e.Status == EntryStatusReady && !e.RunOnce
}

// TransitionTo переводит запись в статус target.
//
// Переход в ACTIVE выставляет RunOnce: активация выполняется не более одного раза.
func (e *QueueEntry) TransitionTo(target EntryStatus, now time.Time) error {
	if !e.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, e.Status, target)
	}
	if target == EntryStatusActive {
		if e.RunOnce {
			return fmt.Errorf("%w: entry %s already activated", ErrInvalidTransition, e.ID)
		}
		e.RunOnce = true
		e.StartedAt = &now
	}

	switch target {
	case EntryStatusComplete, EntryStatusCancelled, EntryStatusError:
		e.CompletedAt = &now
	}
	e.Status = target
	return nil
}

// Fail переводит запись в ERROR с диагностикой.
func (e *QueueEntry) Fail(detail string, now time.Time) error {
	if err := e.TransitionTo(EntryStatusError, now); err != nil {
		return err
	}
	e.Error = detail
	return nil
}

// Retry возвращает запись из ERROR в READY (административное действие).
func (e *QueueEntry) Retry() error {
	if e.Status != EntryStatusError {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, e.Status)
	}
	e.Status = EntryStatusReady
	e.RunOnce = false
	e.Error = ""
	e.StartedAt = nil
	e.CompletedAt = nil
	e.RetryCount++
	return nil
}
