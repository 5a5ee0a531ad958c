package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события жизненного цикла.
type EventType string

const (
	EventProcessStarted    EventType = "process.started"
	EventProcessCompleted  EventType = "process.completed"
	EventProcessCancelled  EventType = "process.cancelled"
	EventEntryReady        EventType = "entry.ready"
	EventEntrySuspended    EventType = "entry.suspended"
	EventEntryCompleted    EventType = "entry.completed"
	EventEntryFailed       EventType = "entry.failed"
	EventEntryCancelled    EventType = "entry.cancelled"
	EventTemplatePublished EventType = "template.published"
)

// Event — событие, публикуемое во внешнюю шину.
type Event struct {
	Type       EventType `json:"type"`
	ProcessID  uuid.UUID `json:"process_id,omitempty"`
	EntryID    uuid.UUID `json:"entry_id,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	TemplateID string    `json:"template_id,omitempty"`
	Version    int       `json:"version,omitempty"`
	At         time.Time `json:"at"`
}

// EntryEvent создаёт событие по записи очереди.
func EntryEvent(t EventType, e *QueueEntry, now time.Time) Event {
	return Event{
		Type:       t,
		ProcessID:  e.ProcessID,
		EntryID:    e.ID,
		NodeID:     e.NodeID,
		Status:     string(e.Status),
		AssignedTo: e.AssignedTo,
		At:         now,
	}
}

// ProcessEvent создаёт событие по процессу.
func ProcessEvent(t EventType, p *Process, now time.Time) Event {
	return Event{
		Type:       t,
		ProcessID:  p.ID,
		Status:     string(p.Status),
		TemplateID: p.TemplateID,
		Version:    p.TemplateVersion,
		At:         now,
	}
}
