package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/domain"
)

// Memory — in-memory реализация ProcessStore и QueueStore.
//
// Все методы возвращают копии: изменения вызывающего не попадают
// в хранилище без явного Update.
type Memory struct {
	mu        sync.Mutex
	processes map[uuid.UUID]*domain.Process
	entries   []*domain.QueueEntry
	byID      map[uuid.UUID]*domain.QueueEntry
	byNode    map[nodeKey]*domain.QueueEntry
}

type nodeKey struct {
	processID uuid.UUID
	nodeID    string
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		processes: make(map[uuid.UUID]*domain.Process),
		byID:      make(map[uuid.UUID]*domain.QueueEntry),
		byNode:    make(map[nodeKey]*domain.QueueEntry),
	}
}

// CreateProcess создаёт процесс и начальные записи.
func (m *Memory) CreateProcess(ctx context.Context, p *domain.Process, seeds []domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.processes[p.ID]; exists {
		return ErrAlreadyExists
	}
	nodes := make(map[string]bool, len(seeds))
	for i := range seeds {
		if _, exists := m.byID[seeds[i].ID]; exists || nodes[seeds[i].NodeID] {
			return ErrAlreadyExists
		}
		nodes[seeds[i].NodeID] = true
	}

	m.processes[p.ID] = cloneProcess(p)
	for i := range seeds {
		m.insert(&seeds[i])
	}
	return nil
}

// GetProcess возвращает процесс по ID.
func (m *Memory) GetProcess(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.processes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProcess(p), nil
}

// UpdateProcessStatus сохраняет статус процесса, если он равен expected.
func (m *Memory) UpdateProcessStatus(ctx context.Context, p *domain.Process, expected domain.ProcessStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.processes[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrConflict
	}
	current.Status = p.Status
	current.CompletedAt = p.CompletedAt
	return nil
}

// ListProcesses возвращает процессы, новые первыми.
func (m *Memory) ListProcesses(ctx context.Context, filter ProcessFilter) ([]domain.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Process
	for _, p := range m.processes {
		if filter.TemplateID != "" && p.TemplateID != filter.TemplateID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *cloneProcess(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// NextReady возвращает самую старую исполнимую запись.
func (m *Memory) NextReady(ctx context.Context) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.IsExecutable() {
			c := *e
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// GetEntry возвращает запись по ID.
func (m *Memory) GetEntry(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

// ListByProcess возвращает записи процесса в порядке создания.
func (m *Memory) ListByProcess(ctx context.Context, processID uuid.UUID) ([]domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.QueueEntry
	for _, e := range m.entries {
		if e.ProcessID == processID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// UpdateEntryIf сохраняет запись, если её статус в хранилище равен expected.
func (m *Memory) UpdateEntryIf(ctx context.Context, e *domain.QueueEntry, expected domain.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.updateEntryIf(e, expected)
}

// CompleteEntry сохраняет запись, дописывает переменные процесса
// и создаёт записи следующих узлов.
func (m *Memory) CompleteEntry(ctx context.Context, e *domain.QueueEntry, expected domain.EntryStatus, delta map[string]any, successors []domain.QueueEntry) ([]domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.processes[e.ProcessID]
	if !ok {
		return nil, ErrNotFound
	}
	for i := range successors {
		if _, exists := m.byID[successors[i].ID]; exists {
			return nil, ErrAlreadyExists
		}
	}
	if err := m.updateEntryIf(e, expected); err != nil {
		return nil, err
	}

	if len(delta) > 0 && p.Variables == nil {
		p.Variables = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		p.Variables[k] = v
	}

	if p.Status != domain.ProcessStatusRunning {
		return nil, nil
	}
	var created []domain.QueueEntry
	for i := range successors {
		if _, exists := m.byNode[nodeKey{successors[i].ProcessID, successors[i].NodeID}]; exists {
			continue
		}
		m.insert(&successors[i])
		created = append(created, successors[i])
	}
	return created, nil
}

// UnsettledProcesses возвращает процессы, которые нужно досчитать.
func (m *Memory) UnsettledProcesses(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiting := make(map[uuid.UUID]bool)
	blocked := make(map[uuid.UUID]bool)
	for _, e := range m.entries {
		if e.Status == domain.EntryStatusWaiting {
			waiting[e.ProcessID] = true
		}
		if e.Status.BlocksCompletion() {
			blocked[e.ProcessID] = true
		}
	}

	var ids []uuid.UUID
	for id, p := range m.processes {
		if p.Status == domain.ProcessStatusRunning && (waiting[id] || !blocked[id]) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// updateEntryIf вызывается под m.mu.
func (m *Memory) updateEntryIf(e *domain.QueueEntry, expected domain.EntryStatus) error {
	current, ok := m.byID[e.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrConflict
	}
	*current = *e
	return nil
}

// insert добавляет копию записи. Вызывается под m.mu.
func (m *Memory) insert(e *domain.QueueEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	c := *e
	m.entries = append(m.entries, &c)
	m.byID[c.ID] = &c
	m.byNode[nodeKey{c.ProcessID, c.NodeID}] = &c
}

func cloneProcess(p *domain.Process) *domain.Process {
	c := *p
	c.Variables = p.CloneVariables()
	return &c
}

// MemoryTemplates — in-memory TemplateRepository.
type MemoryTemplates struct {
	mu       sync.RWMutex
	versions map[string][]domain.Template
}

// NewMemoryTemplates создаёт пустой репозиторий шаблонов.
func NewMemoryTemplates() *MemoryTemplates {
	return &MemoryTemplates{versions: make(map[string][]domain.Template)}
}

// Load возвращает версию шаблона.
func (r *MemoryTemplates) Load(ctx context.Context, id string, version int) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[id]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	t := versions[version-1]
	return &t, nil
}

// Latest возвращает последнюю активную версию.
func (r *MemoryTemplates) Latest(ctx context.Context, id string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.versions[id]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Active {
			t := versions[i]
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// Save сохраняет новую версию шаблона.
func (r *MemoryTemplates) Save(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t.Version = len(r.versions[t.ID]) + 1
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	r.versions[t.ID] = append(r.versions[t.ID], *t)
	return nil
}

// List возвращает последние версии всех шаблонов, отсортированные по ID.
func (r *MemoryTemplates) List(ctx context.Context) ([]domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Template, 0, len(r.versions))
	for _, versions := range r.versions {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
