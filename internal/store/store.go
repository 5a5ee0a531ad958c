// Package store описывает хранилище шаблонов, процессов и очереди.
//
// Движок работает только через интерфейсы этого пакета.
// Реализации:
//   - memory.go          — in-memory (тесты, STORE=memory)
//   - file_templates.go  — шаблоны из YAML-файлов каталога
//   - internal/repo      — PostgreSQL
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shaiso/Taskflow/internal/domain"
)

// Общие ошибки хранилищ.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict — условное обновление не применено: запись уже в другом статусе.
	ErrConflict = errors.New("conflicting update")

	// ErrReadOnly — хранилище не поддерживает запись.
	ErrReadOnly = errors.New("store is read-only")
)

// TemplateRepository — хранилище версий шаблонов.
type TemplateRepository interface {
	// Load возвращает версию шаблона. ErrNotFound, если её нет.
	Load(ctx context.Context, id string, version int) (*domain.Template, error)

	// Latest возвращает последнюю активную версию шаблона.
	Latest(ctx context.Context, id string) (*domain.Template, error)

	// Save сохраняет новую версию. Номер версии назначается хранилищем
	// и записывается в t.Version.
	Save(ctx context.Context, t *domain.Template) error

	// List возвращает последние версии всех шаблонов.
	List(ctx context.Context) ([]domain.Template, error)
}

// ProcessFilter — параметры фильтрации процессов.
type ProcessFilter struct {
	TemplateID string
	Status     domain.ProcessStatus
	Limit      int
	Offset     int
}

// ProcessStore — хранилище процессов.
type ProcessStore interface {
	// CreateProcess атомарно создаёт процесс вместе с начальными записями очереди.
	CreateProcess(ctx context.Context, p *domain.Process, seeds []domain.QueueEntry) error

	// GetProcess возвращает процесс по ID.
	GetProcess(ctx context.Context, id uuid.UUID) (*domain.Process, error)

	// UpdateProcessStatus сохраняет статус и время завершения процесса,
	// только если в хранилище он всё ещё в статусе expected. Переменные не трогает.
	// ErrConflict, если статус уже другой.
	UpdateProcessStatus(ctx context.Context, p *domain.Process, expected domain.ProcessStatus) error

	// ListProcesses возвращает процессы, новые первыми.
	ListProcesses(ctx context.Context, filter ProcessFilter) ([]domain.Process, error)
}

// QueueStore — хранилище записей очереди.
//
// Шаблоны ацикличны, поэтому в процессе не больше одной записи на узел.
type QueueStore interface {
	// NextReady возвращает самую старую исполнимую запись (READY, RunOnce=false)
	// по порядку создания среди всех процессов. ErrNotFound, если очередь пуста.
	NextReady(ctx context.Context) (*domain.QueueEntry, error)

	// GetEntry возвращает запись по ID.
	GetEntry(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error)

	// ListByProcess возвращает записи процесса в порядке создания.
	ListByProcess(ctx context.Context, processID uuid.UUID) ([]domain.QueueEntry, error)

	// UpdateEntryIf сохраняет запись, только если в хранилище она всё ещё в статусе expected.
	// ErrConflict, если статус уже другой.
	UpdateEntryIf(ctx context.Context, e *domain.QueueEntry, expected domain.EntryStatus) error

	// CompleteEntry атомарно делает UpdateEntryIf, дописывает delta в переменные
	// процесса и создаёт записи successors. Запись узла, у которого она уже есть,
	// не создаётся; пока процесс не RUNNING, successors не создаются вовсе.
	// Возвращает созданные записи. При ошибке не меняется ничего.
	CompleteEntry(ctx context.Context, e *domain.QueueEntry, expected domain.EntryStatus, delta map[string]any, successors []domain.QueueEntry) ([]domain.QueueEntry, error)

	// UnsettledProcesses возвращает RUNNING-процессы, у которых есть WAITING-запись
	// или нет ни одной записи в WAITING, READY, ACTIVE и ERROR.
	UnsettledProcesses(ctx context.Context) ([]uuid.UUID, error)
}

// Store объединяет хранилища процессов и очереди.
type Store interface {
	ProcessStore
	QueueStore
}
