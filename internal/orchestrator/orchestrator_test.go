package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/assignment"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/lock"
	"github.com/shaiso/Taskflow/internal/store"
	"golang.org/x/sync/errgroup"
)

// --- Test doubles ---

// funcHandler — автоматический handler с произвольной логикой.
type funcHandler struct {
	handlers.Automated
	typeID string
	fn     func(ctx context.Context, ec *handlers.ExecutionContext) (handlers.ExecutionResult, error)
}

func (h *funcHandler) TypeID() string { return h.typeID }

func (h *funcHandler) Execute(ctx context.Context, ec *handlers.ExecutionContext) (handlers.ExecutionResult, error) {
	return h.fn(ctx, ec)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) PublishEvent(ctx context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// countingLocker считает попытки захвата.
type countingLocker struct {
	lock.Locker
	attempts atomic.Int32
}

func (l *countingLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Lease, error) {
	l.attempts.Add(1)
	return l.Locker.Acquire(ctx, name, ttl)
}

type harness struct {
	orch     *Orchestrator
	store    *store.Memory
	registry *handlers.Registry
	locker   *countingLocker
	events   *recordingEvents
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness собирает оркестратор на in-memory хранилище.
// register добавляет тестовые handler'ы до создания оркестратора.
func newHarness(t *testing.T, register func(r *handlers.Registry), configure func(cfg *Config)) *harness {
	t.Helper()

	registry := handlers.DefaultRegistry()
	if register != nil {
		register(registry)
	}

	memory := store.NewMemory()
	validator := engine.NewValidator(registry)
	catalog := engine.NewCatalog(store.NewMemoryTemplates(), validator)
	resolver := assignment.New(assignment.Config{
		Processes: memory,
		Queue:     memory,
		Catalog:   catalog,
		Roles: assignment.NewStaticDirectory(map[string][]string{
			"alice": {"employee"},
			"bob":   {"manager"},
			"root":  {"admin"},
		}),
		AdminRoles: []string{"admin"},
		Logger:     discardLogger(),
	})
	validator.SetPredicates(resolver)

	h := &harness{
		store:    memory,
		registry: registry,
		locker:   &countingLocker{Locker: lock.NewMemory()},
		events:   &recordingEvents{},
	}

	cfg := Config{
		Catalog:    catalog,
		Store:      memory,
		Registry:   registry,
		Authorizer: resolver,
		Locker:     h.locker,
		Events:     h.events,
		Token:      "secret",
		Logger:     discardLogger(),
	}
	if configure != nil {
		configure(&cfg)
	}
	h.orch = New(cfg)
	return h
}

func (h *harness) publish(t *testing.T, tpl *domain.Template) {
	t.Helper()
	compiled, err := h.orch.PublishTemplate(context.Background(), tpl)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if compiled.Report.HasFailures() {
		t.Fatalf("template %s invalid: %v", tpl.ID, compiled.Report.Failures())
	}
}

func (h *harness) start(t *testing.T, templateID string) *domain.Process {
	t.Helper()
	p, err := h.orch.NewProcess(context.Background(), templateID, StartOptions{})
	if err != nil {
		t.Fatalf("new process: %v", err)
	}
	return p
}

func (h *harness) orchestrate(t *testing.T) Result {
	t.Helper()
	res, err := h.orch.Orchestrate(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	return res
}

// entry возвращает запись узла nodeID.
func (h *harness) entry(t *testing.T, processID uuid.UUID, nodeID string) *domain.QueueEntry {
	t.Helper()
	entries, err := h.store.ListByProcess(context.Background(), processID)
	if err != nil {
		t.Fatal(err)
	}
	for i := range entries {
		if entries[i].NodeID == nodeID {
			return &entries[i]
		}
	}
	t.Fatalf("no entry for node %s", nodeID)
	return nil
}

func (h *harness) hasEntry(t *testing.T, processID uuid.UUID, nodeID string) bool {
	t.Helper()
	entries, _ := h.store.ListByProcess(context.Background(), processID)
	for _, e := range entries {
		if e.NodeID == nodeID {
			return true
		}
	}
	return false
}

func (h *harness) processStatus(t *testing.T, id uuid.UUID) domain.ProcessStatus {
	t.Helper()
	p, err := h.store.GetProcess(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Status
}

// --- Templates ---

// linearTemplate: a(set_variables) → b(approval, alice) → c(set_variables, terminal).
func linearTemplate() *domain.Template {
	return &domain.Template{
		ID: "linear",
		Nodes: []domain.TaskNode{
			{ID: "a", TypeID: handlers.TypeSetVariables, Config: map[string]any{"values": map[string]any{"stage": "submitted"}}, Next: []string{"b"}},
			{ID: "b", TypeID: handlers.TypeApproval, Assignment: &domain.AssignmentRule{Kind: domain.AssignmentActor, Actors: []string{"alice"}}, Next: []string{"c"}},
			{ID: "c", TypeID: handlers.TypeSetVariables, Config: map[string]any{"values": map[string]any{"stage": "done"}}, Terminal: true},
		},
	}
}

// --- Scenarios ---

func TestScenario_AutomatedInteractiveAutomated(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, linearTemplate())

	p := h.start(t, "linear")
	if a := h.entry(t, p.ID, "a"); a.Status != domain.EntryStatusReady {
		t.Fatalf("expected a READY, got %s", a.Status)
	}

	// Проход выполняет a и переводит b в ожидание.
	res := h.orchestrate(t)
	if !res.Acquired || res.Processed != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if a := h.entry(t, p.ID, "a"); a.Status != domain.EntryStatusComplete {
		t.Errorf("expected a COMPLETE, got %s", a.Status)
	}
	b := h.entry(t, p.ID, "b")
	if b.Status != domain.EntryStatusActive || !b.RunOnce {
		t.Fatalf("expected b ACTIVE with RunOnce, got %s runOnce=%v", b.Status, b.RunOnce)
	}
	if b.AssignedTo != "actor:alice" {
		t.Errorf("unexpected assignee %q", b.AssignedTo)
	}

	// Повторный проход не трогает ACTIVE-запись.
	if res := h.orchestrate(t); res.Processed != 0 {
		t.Errorf("expected nothing to process, got %d", res.Processed)
	}

	if err := h.orch.CompleteTask(ctx, b.ID, "alice", map[string]any{"decision": "approve"}); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	b = h.entry(t, p.ID, "b")
	if b.Status != domain.EntryStatusComplete || b.CompletedBy != "alice" {
		t.Errorf("expected b COMPLETE by alice, got %s by %q", b.Status, b.CompletedBy)
	}
	if c := h.entry(t, p.ID, "c"); c.Status != domain.EntryStatusReady {
		t.Fatalf("expected c READY, got %s", c.Status)
	}

	if res := h.orchestrate(t); res.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", res.Processed)
	}
	if got := h.processStatus(t, p.ID); got != domain.ProcessStatusComplete {
		t.Fatalf("expected process COMPLETE, got %s", got)
	}

	final, _ := h.store.GetProcess(ctx, p.ID)
	if final.Variables["stage"] != "done" || final.Variables["b_decision"] != "approve" || final.Variables["b_decision_by"] != "alice" {
		t.Errorf("unexpected variables: %v", final.Variables)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if h.events.count(domain.EventProcessCompleted) != 1 {
		t.Errorf("expected one process.completed event")
	}
}

func TestScenario_AccessDenied(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.publish(t, linearTemplate())
	p := h.start(t, "linear")
	h.orchestrate(t)

	b := h.entry(t, p.ID, "b")
	err := h.orch.CompleteTask(context.Background(), b.ID, "bob", map[string]any{"decision": "approve"})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	b = h.entry(t, p.ID, "b")
	if b.Status != domain.EntryStatusActive {
		t.Errorf("expected b to stay ACTIVE, got %s", b.Status)
	}
	if h.hasEntry(t, p.ID, "c") {
		t.Error("c should not be created")
	}
}

func TestScenario_HandlerErrorStallsBranch(t *testing.T) {
	h := newHarness(t, func(r *handlers.Registry) {
		r.Register(&funcHandler{typeID: "boom", fn: func(ctx context.Context, ec *handlers.ExecutionContext) (handlers.ExecutionResult, error) {
			return handlers.ExecutionResult{}, errors.New("upstream unavailable")
		}})
	}, nil)
	ctx := context.Background()

	h.publish(t, &domain.Template{
		ID: "parallel",
		Nodes: []domain.TaskNode{
			{ID: "a", TypeID: "boom", Terminal: true},
			{ID: "s", TypeID: handlers.TypeSetVariables, Config: map[string]any{"values": map[string]any{"ok": true}}, Terminal: true},
		},
	})
	p := h.start(t, "parallel")

	if res := h.orchestrate(t); res.Processed != 2 {
		t.Fatalf("expected both entries processed, got %d", res.Processed)
	}

	a := h.entry(t, p.ID, "a")
	if a.Status != domain.EntryStatusError {
		t.Fatalf("expected a ERROR, got %s", a.Status)
	}
	if a.Error == "" {
		t.Error("ERROR entry should carry diagnostic detail")
	}
	if s := h.entry(t, p.ID, "s"); s.Status != domain.EntryStatusComplete {
		t.Errorf("sibling branch should complete, got %s", s.Status)
	}

	h.orchestrate(t)
	if got := h.processStatus(t, p.ID); got != domain.ProcessStatusRunning {
		t.Fatalf("expected process RUNNING while a is ERROR, got %s", got)
	}

	if _, err := h.orch.SetTaskStatus(ctx, a.ID, domain.EntryStatusCancelled); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got := h.processStatus(t, p.ID); got != domain.ProcessStatusComplete {
		t.Errorf("expected process COMPLETE after cancelling a, got %s", got)
	}
}

func TestScenario_JoinWaitsForAllPredecessors(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.publish(t, &domain.Template{
		ID: "join",
		Nodes: []domain.TaskNode{
			{ID: "start", TypeID: handlers.TypeStart, Next: []string{"left", "right"}},
			{ID: "left", TypeID: handlers.TypeSetVariables, Config: map[string]any{"values": map[string]any{"left": true}}, Next: []string{"d"}},
			{ID: "right", TypeID: handlers.TypeApproval, Assignment: &domain.AssignmentRule{Kind: domain.AssignmentRole, Roles: []string{"manager"}}, Next: []string{"d"}},
			{ID: "d", TypeID: handlers.TypeEnd},
		},
	})
	p := h.start(t, "join")
	h.orchestrate(t)

	d := h.entry(t, p.ID, "d")
	if d.Status != domain.EntryStatusWaiting {
		t.Fatalf("expected d WAITING, got %s", d.Status)
	}
	if right := h.entry(t, p.ID, "right"); right.Status != domain.EntryStatusActive {
		t.Fatalf("expected right ACTIVE, got %s", right.Status)
	}

	right := h.entry(t, p.ID, "right")
	if err := h.orch.CompleteTask(ctx, right.ID, "bob", map[string]any{"decision": "approve"}); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	d = h.entry(t, p.ID, "d")
	if d.Status != domain.EntryStatusReady {
		t.Fatalf("expected d READY after both predecessors, got %s", d.Status)
	}

	h.orchestrate(t)
	if got := h.processStatus(t, p.ID); got != domain.ProcessStatusComplete {
		t.Errorf("expected process COMPLETE, got %s", got)
	}

	entries, _ := h.store.ListByProcess(ctx, p.ID)
	if len(entries) != 4 {
		t.Errorf("expected 4 entries (one per node), got %d", len(entries))
	}
}

// --- completeTask ---

func TestCompleteTask_InvalidStateLeavesEntryUnchanged(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, &domain.Template{
		ID: "approve_first",
		Nodes: []domain.TaskNode{
			{ID: "b", TypeID: handlers.TypeApproval, Assignment: &domain.AssignmentRule{Kind: domain.AssignmentActor, Actors: []string{"alice"}}, Terminal: true},
		},
	})
	p := h.start(t, "approve_first")

	// READY: проход ещё не перевёл запись в ACTIVE.
	b := h.entry(t, p.ID, "b")
	err := h.orch.CompleteTask(ctx, b.ID, "alice", map[string]any{"decision": "approve"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for READY entry, got %v", err)
	}
	if after := h.entry(t, p.ID, "b"); *after != *b {
		t.Errorf("entry changed: %+v → %+v", b, after)
	}

	h.orchestrate(t)
	b = h.entry(t, p.ID, "b")
	if err := h.orch.CompleteTask(ctx, b.ID, "alice", map[string]any{"decision": "approve"}); err != nil {
		t.Fatalf("first submission: %v", err)
	}

	// Повторная отправка.
	completed := h.entry(t, p.ID, "b")
	err = h.orch.CompleteTask(ctx, b.ID, "alice", map[string]any{"decision": "reject"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for duplicate submission, got %v", err)
	}
	if after := h.entry(t, p.ID, "b"); *after != *completed {
		t.Errorf("entry changed by duplicate submission")
	}
	final, _ := h.store.GetProcess(ctx, p.ID)
	if final.Variables["b_decision"] != "approve" {
		t.Errorf("duplicate submission changed variables: %v", final.Variables)
	}
}

func TestCompleteTask_InvalidSubmission(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.publish(t, linearTemplate())
	p := h.start(t, "linear")
	h.orchestrate(t)

	b := h.entry(t, p.ID, "b")
	err := h.orch.CompleteTask(context.Background(), b.ID, "alice", map[string]any{"decision": "maybe"})
	if !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("expected ErrInvalidSubmission, got %v", err)
	}
	var subErr *handlers.SubmissionError
	if !errors.As(err, &subErr) || len(subErr.Violations) == 0 {
		t.Errorf("expected violations, got %v", err)
	}
	if b = h.entry(t, p.ID, "b"); b.Status != domain.EntryStatusActive {
		t.Errorf("expected b ACTIVE, got %s", b.Status)
	}
}

func TestCompleteTask_ConcurrentSubmissionsApplyOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, linearTemplate())
	p := h.start(t, "linear")
	h.orchestrate(t)
	b := h.entry(t, p.ID, "b")

	const submitters = 8
	var succeeded, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.orch.CompleteTask(ctx, b.ID, "alice", map[string]any{"decision": "approve"})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInvalidState):
				invalid.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || invalid.Load() != submitters-1 {
		t.Errorf("expected 1 success and %d InvalidState, got %d and %d", submitters-1, succeeded.Load(), invalid.Load())
	}
	entries, _ := h.store.ListByProcess(ctx, p.ID)
	if len(entries) != 3 {
		t.Errorf("expected a single successor, got %d entries", len(entries))
	}
}

// --- newProcess ---

func TestNewProcess_InvalidTemplate(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	compiled, err := h.orch.PublishTemplate(ctx, &domain.Template{
		ID: "broken",
		Nodes: []domain.TaskNode{
			{ID: "a", TypeID: "nope", Next: []string{"missing"}},
			{ID: "b", TypeID: handlers.TypeApproval, Terminal: true},
		},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if compiled.Template.Active {
		t.Error("invalid template must be stored inactive")
	}

	_, err = h.orch.NewProcess(ctx, "broken", StartOptions{Version: compiled.Template.Version})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var invalid *engine.InvalidTemplateError
	if !errors.As(err, &invalid) || len(invalid.Report.Failures()) < 3 {
		t.Errorf("expected every failure in the report, got %v", err)
	}

	if _, err := h.orch.NewProcess(ctx, "broken", StartOptions{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound without active version, got %v", err)
	}

	procs, _ := h.store.ListProcesses(ctx, store.ProcessFilter{})
	if len(procs) != 0 {
		t.Errorf("no process should be created, got %d", len(procs))
	}
}

func TestNewProcess_VariablesAndInitiator(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.publish(t, linearTemplate())

	p, err := h.orch.NewProcess(context.Background(), "linear", StartOptions{
		Variables: map[string]any{"amount": 120},
		Initiator: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.TemplateVersion != 1 {
		t.Errorf("expected version 1, got %d", p.TemplateVersion)
	}
	stored, _ := h.store.GetProcess(context.Background(), p.ID)
	if stored.Variables["amount"] != 120 || stored.Variables["initiator"] != "alice" {
		t.Errorf("unexpected variables: %v", stored.Variables)
	}
}

// --- orchestrate ---

func TestTrigger_TokenCheckedBeforeLock(t *testing.T) {
	h := newHarness(t, nil, nil)

	if _, err := h.orch.Trigger(context.Background(), "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if n := h.locker.attempts.Load(); n != 0 {
		t.Errorf("lock must not be touched on bad token, got %d attempts", n)
	}

	res, err := h.orch.Trigger(context.Background(), "secret")
	if err != nil || !res.Acquired {
		t.Errorf("expected acquired pass, got %+v, %v", res, err)
	}
}

func TestTrigger_EmptyTokenDeniesEverything(t *testing.T) {
	h := newHarness(t, nil, func(cfg *Config) { cfg.Token = "" })

	if _, err := h.orch.Trigger(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestOrchestrate_LockContentionIsNotAnError(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, linearTemplate())
	p := h.start(t, "linear")

	lease, err := h.locker.Acquire(ctx, DefaultLockName, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	res, err := h.orch.Orchestrate(ctx, "", 0)
	if err != nil {
		t.Fatalf("contention must not be an error: %v", err)
	}
	if res.Acquired || res.Processed != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if a := h.entry(t, p.ID, "a"); a.Status != domain.EntryStatusReady {
		t.Errorf("entry should be untouched, got %s", a.Status)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if res := h.orchestrate(t); !res.Acquired || res.Processed == 0 {
		t.Errorf("expected pass after release, got %+v", res)
	}
}

func TestOrchestrate_ConcurrentPassesProcessEachEntryOnce(t *testing.T) {
	var mu sync.Mutex
	executions := make(map[uuid.UUID]int)

	h := newHarness(t, func(r *handlers.Registry) {
		r.Register(&funcHandler{typeID: "count", fn: func(ctx context.Context, ec *handlers.ExecutionContext) (handlers.ExecutionResult, error) {
			mu.Lock()
			executions[ec.Entry.ID]++
			mu.Unlock()
			return handlers.Continue(), nil
		}})
	}, nil)
	ctx := context.Background()

	h.publish(t, &domain.Template{
		ID:    "single",
		Nodes: []domain.TaskNode{{ID: "only", TypeID: "count", Terminal: true}},
	})
	const processes = 25
	for i := 0; i < processes; i++ {
		h.start(t, "single")
	}

	var total atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 5; j++ {
				res, err := h.orch.Orchestrate(gctx, "", 0)
				if err != nil {
					return err
				}
				total.Add(int32(res.Processed))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	total.Add(int32(h.orchestrate(t).Processed))

	if total.Load() != processes {
		t.Errorf("expected %d completions, got %d", processes, total.Load())
	}
	if len(executions) != processes {
		t.Errorf("expected %d distinct entries executed, got %d", processes, len(executions))
	}
	for id, n := range executions {
		if n != 1 {
			t.Errorf("entry %s executed %d times", id, n)
		}
	}

	complete, _ := h.store.ListProcesses(ctx, store.ProcessFilter{Status: domain.ProcessStatusComplete})
	if len(complete) != processes {
		t.Errorf("expected %d complete processes, got %d", processes, len(complete))
	}
}

func TestOrchestrate_PanicMarksEntryError(t *testing.T) {
	h := newHarness(t, func(r *handlers.Registry) {
		r.Register(&funcHandler{typeID: "panic", fn: func(ctx context.Context, ec *handlers.ExecutionContext) (handlers.ExecutionResult, error) {
			panic("nil map")
		}})
	}, nil)
	h.publish(t, &domain.Template{
		ID:    "panicky",
		Nodes: []domain.TaskNode{{ID: "p", TypeID: "panic", Terminal: true}},
	})
	p := h.start(t, "panicky")

	res := h.orchestrate(t)
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", res.Processed)
	}
	if e := h.entry(t, p.ID, "p"); e.Status != domain.EntryStatusError {
		t.Errorf("expected ERROR after panic, got %s", e.Status)
	}

	// Блокировка освобождена.
	if res := h.orchestrate(t); !res.Acquired {
		t.Error("lock should be released after a panicking handler")
	}
}

func TestOrchestrate_YieldsAfterMaxDuration(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	h := newHarness(t, nil, func(cfg *Config) {
		cfg.Now = now
		cfg.MaxDuration = 3 * time.Second
	})
	h.publish(t, &domain.Template{
		ID:    "single",
		Nodes: []domain.TaskNode{{ID: "only", TypeID: handlers.TypeEnd}},
	})
	for i := 0; i < 10; i++ {
		h.start(t, "single")
	}

	res := h.orchestrate(t)
	if !res.Yielded {
		t.Fatalf("expected pass to yield, got %+v", res)
	}
	if res.Processed == 0 || res.Processed >= 10 {
		t.Errorf("expected a partial pass, got %d", res.Processed)
	}

	// Оставшиеся записи достаются следующим проходам.
	total := res.Processed
	for i := 0; i < 20 && total < 10; i++ {
		total += h.orchestrate(t).Processed
	}
	if total != 10 {
		t.Errorf("expected all 10 entries processed eventually, got %d", total)
	}
}

// --- setTaskStatus / cancelProcess ---

func TestSetTaskStatus_RetryAfterError(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, func(r *handlers.Registry) {
		r.Register(&funcHandler{typeID: "flaky", fn: func(ctx context.Context, ec *handlers.ExecutionContext) (handlers.ExecutionResult, error) {
			if calls.Add(1) == 1 {
				return handlers.Fail(errors.New("timeout")), nil
			}
			return handlers.Continue(), nil
		}})
	}, nil)
	ctx := context.Background()
	h.publish(t, &domain.Template{
		ID:    "flaky",
		Nodes: []domain.TaskNode{{ID: "f", TypeID: "flaky", Terminal: true}},
	})
	p := h.start(t, "flaky")
	h.orchestrate(t)

	f := h.entry(t, p.ID, "f")
	if f.Status != domain.EntryStatusError || f.Error != "timeout" {
		t.Fatalf("expected ERROR with detail, got %s %q", f.Status, f.Error)
	}

	retried, err := h.orch.SetTaskStatus(ctx, f.ID, domain.EntryStatusReady)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.RetryCount != 1 || retried.Error != "" || retried.Status != domain.EntryStatusReady {
		t.Errorf("unexpected retried entry: %+v", retried)
	}

	h.orchestrate(t)
	if got := h.processStatus(t, p.ID); got != domain.ProcessStatusComplete {
		t.Fatalf("expected COMPLETE after retry, got %s", got)
	}

	for _, status := range []domain.EntryStatus{domain.EntryStatusCancelled, domain.EntryStatusReady, domain.EntryStatusActive} {
		if _, err := h.orch.SetTaskStatus(ctx, f.ID, status); !errors.Is(err, ErrInvalidState) {
			t.Errorf("set %s on COMPLETE entry: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestCancelProcess(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, linearTemplate())
	p := h.start(t, "linear")
	h.orchestrate(t)

	if err := h.orch.CancelProcess(ctx, p.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.processStatus(t, p.ID); got != domain.ProcessStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got)
	}
	b := h.entry(t, p.ID, "b")
	if b.Status != domain.EntryStatusCancelled {
		t.Errorf("expected b CANCELLED, got %s", b.Status)
	}
	if a := h.entry(t, p.ID, "a"); a.Status != domain.EntryStatusComplete {
		t.Errorf("completed entries stay COMPLETE, got %s", a.Status)
	}

	if err := h.orch.CompleteTask(ctx, b.ID, "alice", map[string]any{"decision": "approve"}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if err := h.orch.CancelProcess(ctx, p.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second cancel, got %v", err)
	}
}

// --- getQueueEntry / observers ---

func TestGetQueueEntry_FormAndEligibility(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, linearTemplate())
	p := h.start(t, "linear")

	a := h.entry(t, p.ID, "a")
	detail, err := h.orch.GetQueueEntry(ctx, a.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Interactive || detail.Form != nil || detail.CanExecute {
		t.Errorf("automated entry should have no form: %+v", detail)
	}

	h.orchestrate(t)
	b := h.entry(t, p.ID, "b")

	detail, err = h.orch.GetQueueEntry(ctx, b.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !detail.Interactive || detail.Form == nil || !detail.CanExecute {
		t.Errorf("expected interactive form for alice: %+v", detail)
	}
	if len(detail.Form.Fields) == 0 {
		t.Error("form should have fields")
	}

	detail, _ = h.orch.GetQueueEntry(ctx, b.ID, "bob")
	if detail.CanExecute {
		t.Error("bob should not be able to execute")
	}

	if _, err := h.orch.GetQueueEntry(ctx, uuid.New(), "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type recordingObserver struct {
	name string
	log  *[]string
}

type observerKey struct{}

func (o recordingObserver) BeforeExecute(ctx context.Context, ec *handlers.ExecutionContext) context.Context {
	*o.log = append(*o.log, "before:"+o.name)
	return context.WithValue(ctx, observerKey{}, o.name)
}

func (o recordingObserver) AfterExecute(ctx context.Context, ec *handlers.ExecutionContext, result handlers.ExecutionResult, elapsed time.Duration) {
	*o.log = append(*o.log, "after:"+o.name+":"+string(result.Outcome))
}

func TestObservers_WrapExecution(t *testing.T) {
	var calls []string
	var seen any

	h := newHarness(t, func(r *handlers.Registry) {
		r.Register(&funcHandler{typeID: "probe", fn: func(ctx context.Context, ec *handlers.ExecutionContext) (handlers.ExecutionResult, error) {
			seen = ctx.Value(observerKey{})
			calls = append(calls, "execute")
			return handlers.Continue(), nil
		}})
	}, func(cfg *Config) {
		cfg.Observers = []Observer{
			recordingObserver{name: "first", log: &calls},
			recordingObserver{name: "second", log: &calls},
		}
	})
	h.publish(t, &domain.Template{
		ID:    "probe",
		Nodes: []domain.TaskNode{{ID: "p", TypeID: "probe", Terminal: true}},
	})
	h.start(t, "probe")
	h.orchestrate(t)

	expected := []string{"before:first", "before:second", "execute", "after:second:CONTINUE", "after:first:CONTINUE"}
	if len(calls) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, calls)
	}
	for i := range expected {
		if calls[i] != expected[i] {
			t.Errorf("call %d: expected %s, got %s", i, expected[i], calls[i])
		}
	}
	if seen != "second" {
		t.Errorf("handler should receive the context from observers, got %v", seen)
	}
}

// --- forms ---

func TestScenario_FormWithoutRequiredFieldsAcceptsEmptySubmission(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, &domain.Template{
		ID: "note",
		Nodes: []domain.TaskNode{
			{ID: "a", TypeID: handlers.TypeSetVariables, Config: map[string]any{"values": map[string]any{"stage": "submitted"}}, Next: []string{"note"}},
			{
				ID:         "note",
				TypeID:     handlers.TypeForm,
				Assignment: &domain.AssignmentRule{Kind: domain.AssignmentActor, Actors: []string{"alice"}},
				Config: map[string]any{"schema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"comment": map[string]any{"type": "string"}},
				}},
				Next: []string{"c"},
			},
			{ID: "c", TypeID: handlers.TypeSetVariables, Config: map[string]any{"values": map[string]any{"stage": "done"}}, Terminal: true},
		},
	})
	p := h.start(t, "note")

	if res := h.orchestrate(t); res.Processed != 2 {
		t.Fatalf("expected a and note processed, got %d", res.Processed)
	}
	note := h.entry(t, p.ID, "note")
	if note.Status != domain.EntryStatusActive {
		t.Fatalf("expected note ACTIVE, got %s", note.Status)
	}

	if err := h.orch.CompleteTask(ctx, note.ID, "alice", map[string]any{}); err != nil {
		t.Fatalf("empty submission: %v", err)
	}
	if note = h.entry(t, p.ID, "note"); note.Status != domain.EntryStatusComplete {
		t.Fatalf("expected note COMPLETE, got %s", note.Status)
	}

	h.orchestrate(t)
	final, _ := h.store.GetProcess(ctx, p.ID)
	if final.Status != domain.ProcessStatusComplete {
		t.Fatalf("expected process COMPLETE, got %s", final.Status)
	}
	if _, ok := final.Variables["comment"]; ok {
		t.Errorf("empty submission must not set variables: %v", final.Variables)
	}
	if final.Variables["stage"] != "done" {
		t.Errorf("expected stage=done, got %v", final.Variables["stage"])
	}
}

func TestScenario_FormCannotReassignApprover(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.publish(t, &domain.Template{
		ID: "expense",
		Nodes: []domain.TaskNode{
			{
				ID:         "details",
				TypeID:     handlers.TypeForm,
				Assignment: &domain.AssignmentRule{Kind: domain.AssignmentActor, Actors: []string{"alice"}},
				Config: map[string]any{"schema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"amount": map[string]any{"type": "number"}},
				}},
				Next: []string{"approve"},
			},
			{
				ID:         "approve",
				TypeID:     handlers.TypeApproval,
				Assignment: &domain.AssignmentRule{Kind: domain.AssignmentVariable, Expression: "approver"},
				Terminal:   true,
			},
		},
	})
	p, err := h.orch.NewProcess(ctx, "expense", StartOptions{
		Variables: map[string]any{"approver": "bob"},
		Initiator: "carol",
	})
	if err != nil {
		t.Fatalf("new process: %v", err)
	}
	h.orchestrate(t)
	details := h.entry(t, p.ID, "details")

	for _, submission := range []map[string]any{
		{"amount": 5000, "approver": "alice"},
		{"amount": 5000, "initiator": "alice"},
	} {
		err := h.orch.CompleteTask(ctx, details.ID, "alice", submission)
		if !errors.Is(err, ErrInvalidSubmission) {
			t.Fatalf("expected ErrInvalidSubmission for %v, got %v", submission, err)
		}
	}
	if got := h.entry(t, p.ID, "details"); got.Status != domain.EntryStatusActive {
		t.Fatalf("rejected submission changed entry to %s", got.Status)
	}

	if err := h.orch.CompleteTask(ctx, details.ID, "alice", map[string]any{"amount": 5000}); err != nil {
		t.Fatalf("complete details: %v", err)
	}
	h.orchestrate(t)

	process, _ := h.store.GetProcess(ctx, p.ID)
	if process.Variables["approver"] != "bob" || process.Variables["initiator"] != "carol" {
		t.Fatalf("form changed protected variables: %v", process.Variables)
	}

	approve := h.entry(t, p.ID, "approve")
	err = h.orch.CompleteTask(ctx, approve.ID, "alice", map[string]any{"decision": "approve"})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for alice, got %v", err)
	}
	if err := h.orch.CompleteTask(ctx, approve.ID, "bob", map[string]any{"decision": "approve"}); err != nil {
		t.Fatalf("bob approves: %v", err)
	}
}
