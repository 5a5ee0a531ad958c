// Package lock содержит исключительную блокировку с TTL для оркестратора.
//
// Блокировка держится не дольше TTL: если держатель упал, следующий
// триггер получит её после истечения срока.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired — блокировка занята другим держателем.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker выдаёт блокировки по имени.
type Locker interface {
	// Acquire пытается захватить блокировку name на ttl.
	// Не ждёт: если блокировка занята, сразу возвращает ErrNotAcquired.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Lease — захваченная блокировка.
type Lease interface {
	// Name возвращает имя блокировки.
	Name() string

	// Release освобождает блокировку, если она всё ещё принадлежит этому держателю.
	Release(ctx context.Context) error
}

// Memory — Locker в пределах одного процесса.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	clock func() time.Time
}

type memoryHold struct {
	token   string
	expires time.Time
}

// NewMemory создаёт in-process Locker.
func NewMemory() *Memory {
	return &Memory{
		held:  make(map[string]memoryHold),
		clock: time.Now,
	}
}

// Acquire захватывает блокировку, если она свободна или её TTL истёк.
func (m *Memory) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if hold, ok := m.held[name]; ok && now.Before(hold.expires) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	m.held[name] = memoryHold{token: token, expires: now.Add(ttl)}
	return &memoryLease{locker: m, name: name, token: token}, nil
}

type memoryLease struct {
	locker *Memory
	name   string
	token  string
}

func (l *memoryLease) Name() string { return l.name }

func (l *memoryLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if hold, ok := l.locker.held[l.name]; ok && hold.token == l.token {
		delete(l.locker.held, l.name)
	}
	return nil
}
