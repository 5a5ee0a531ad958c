package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shaiso/Taskflow/internal/lock"
)

var _ lock.Locker = (*LeaseLocker)(nil)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LeaseLocker — lock.Locker на таблице orchestrator_locks.
//
// Используется, когда Redis не настроен: все процессы, работающие
// с одной БД, видят одну и ту же блокировку.
type LeaseLocker struct {
	db execer
}

// NewLeaseLocker создаёт LeaseLocker поверх пула.
func NewLeaseLocker(db execer) *LeaseLocker {
	return &LeaseLocker{db: db}
}

// Acquire захватывает блокировку, если строки нет или её срок истёк.
func (l *LeaseLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Lease, error) {
	query := `
		INSERT INTO orchestrator_locks (name, token, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3::double precision))
		ON CONFLICT (name) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE orchestrator_locks.expires_at <= NOW()
	`
	token := uuid.New()
	tag, err := l.db.Exec(ctx, query, name, token, ttl.Seconds())
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, lock.ErrNotAcquired
	}
	return &lease{db: l.db, name: name, token: token}, nil
}

type lease struct {
	db    execer
	name  string
	token uuid.UUID
}

func (l *lease) Name() string { return l.name }

// Release удаляет строку, только если её токен не сменился.
func (l *lease) Release(ctx context.Context) error {
	query := `DELETE FROM orchestrator_locks WHERE name = $1 AND token = $2`
	if _, err := l.db.Exec(ctx, query, l.name, l.token); err != nil {
		return fmt.Errorf("release lease %s: %w", l.name, err)
	}
	return nil
}
