package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEntryStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from EntryStatus
		to   EntryStatus
		want bool
	}{
		{EntryStatusWaiting, EntryStatusReady, true},
		{EntryStatusWaiting, EntryStatusActive, false},
		{EntryStatusReady, EntryStatusActive, true},
		{EntryStatusReady, EntryStatusComplete, true},
		{EntryStatusActive, EntryStatusComplete, true},
		{EntryStatusActive, EntryStatusReady, false},
		{EntryStatusComplete, EntryStatusCancelled, false},
		{EntryStatusCancelled, EntryStatusReady, false},
		{EntryStatusError, EntryStatusCancelled, true},
		{EntryStatusError, EntryStatusReady, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s → %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestQueueEntry_ActivateSetsRunOnce(t *testing.T) {
	now := time.Now()
	e := NewQueueEntry(uuid.New(), &TaskNode{ID: "review", TypeID: "approval"}, EntryStatusReady, now)

	if !e.IsExecutable() {
		t.Fatal("fresh READY entry should be executable")
	}

	if err := e.TransitionTo(EntryStatusActive, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.RunOnce {
		t.Error("expected RunOnce after activation")
	}
	if e.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
	if e.IsExecutable() {
		t.Error("ACTIVE entry should not be executable")
	}
}

func TestQueueEntry_RunOnceBlocksSecondActivation(t *testing.T) {
	now := time.Now()
	e := NewQueueEntry(uuid.New(), &TaskNode{ID: "review", TypeID: "approval"}, EntryStatusReady, now)
	e.RunOnce = true

	err := e.TransitionTo(EntryStatusActive, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if e.Status != EntryStatusReady {
		t.Errorf("status should stay READY, got %s", e.Status)
	}
}

func TestQueueEntry_FailAndRetry(t *testing.T) {
	now := time.Now()
	e := NewQueueEntry(uuid.New(), &TaskNode{ID: "notify", TypeID: "http"}, EntryStatusReady, now)

	if err := e.Fail("connection refused", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != EntryStatusError || e.Error != "connection refused" {
		t.Fatalf("unexpected entry state: %s %q", e.Status, e.Error)
	}
	if !e.Status.BlocksCompletion() {
		t.Error("ERROR should block process completion")
	}

	if err := e.Retry(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != EntryStatusReady || e.RetryCount != 1 || e.Error != "" || e.CompletedAt != nil {
		t.Errorf("retry did not reset entry: %+v", e)
	}
}

func TestQueueEntry_RetryOnlyFromError(t *testing.T) {
	e := QueueEntry{Status: EntryStatusComplete}
	if err := e.Retry(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTaskNode_IsTerminal(t *testing.T) {
	if !(&TaskNode{TypeID: NodeTypeEnd}).IsTerminal() {
		t.Error("end node should be terminal")
	}
	if !(&TaskNode{TypeID: "http", Terminal: true}).IsTerminal() {
		t.Error("explicitly marked node should be terminal")
	}
	if (&TaskNode{TypeID: "http"}).IsTerminal() {
		t.Error("plain node should not be terminal")
	}
}
