package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Taskflow/internal/domain"
)

// QueueRepo — репозиторий записей очереди.
//
// Порядок FIFO задаётся столбцом seq (bigserial), а не created_at:
// записи, созданные в одной транзакции, не различаются по времени.
type QueueRepo struct {
	pool *pgxpool.Pool
}

// NewQueueRepo создаёт новый QueueRepo.
func NewQueueRepo(pool *pgxpool.Pool) *QueueRepo {
	return &QueueRepo{pool: pool}
}

const entryColumns = `id, process_id, node_id, node_type, status, assigned_to, run_once, retry_count,
		error, completed_by, created_at, started_at, completed_at`

// querier — общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NextReady возвращает самую старую исполнимую запись.
func (r *QueueRepo) NextReady(ctx context.Context) (*domain.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries
		WHERE status = 'READY' AND NOT run_once
		ORDER BY seq
		LIMIT 1
	`
	return scanEntry(r.pool.QueryRow(ctx, query))
}

// GetEntry возвращает запись по ID.
func (r *QueueRepo) GetEntry(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1`
	return scanEntry(r.pool.QueryRow(ctx, query, id))
}

// ListByProcess возвращает записи процесса в порядке создания.
func (r *QueueRepo) ListByProcess(ctx context.Context, processID uuid.UUID) ([]domain.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE process_id = $1 ORDER BY seq`
	rows, err := r.pool.Query(ctx, query, processID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// UpdateEntryIf сохраняет запись, если её статус в БД равен expected.
func (r *QueueRepo) UpdateEntryIf(ctx context.Context, e *domain.QueueEntry, expected domain.EntryStatus) error {
	return r.updateEntryIf(ctx, r.pool, e, expected)
}

// CompleteEntry в одной транзакции обновляет запись, дописывает delta
// в переменные процесса оператором jsonb || и вставляет successors.
//
// UPDATE processes блокирует строку процесса до конца транзакции, поэтому
// отмена процесса и завершение записей одного процесса не пересекаются.
func (r *QueueRepo) CompleteEntry(ctx context.Context, e *domain.QueueEntry, expected domain.EntryStatus, delta map[string]any, successors []domain.QueueEntry) ([]domain.QueueEntry, error) {
	if delta == nil {
		delta = map[string]any{}
	}
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}

	var created []domain.QueueEntry
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		created = nil

		var status domain.ProcessStatus
		err := tx.QueryRow(ctx, `
			UPDATE processes
			SET variables = COALESCE(variables, '{}'::jsonb) || $2::jsonb
			WHERE id = $1
			RETURNING status
		`, e.ProcessID, deltaJSON).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("merge variables: %w", err)
		}

		if err := r.updateEntryIf(ctx, tx, e, expected); err != nil {
			return err
		}
		if status != domain.ProcessStatusRunning {
			return nil
		}

		for i := range successors {
			ok, err := insertEntry(ctx, tx, &successors[i])
			if err != nil {
				return err
			}
			if ok {
				created = append(created, successors[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UnsettledProcesses возвращает RUNNING-процессы с WAITING-записью
// или без незавершённых записей.
func (r *QueueRepo) UnsettledProcesses(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id
		FROM processes p
		WHERE p.status = 'RUNNING'
		  AND (
		    EXISTS (SELECT 1 FROM queue_entries q WHERE q.process_id = p.id AND q.status = 'WAITING')
		    OR NOT EXISTS (
		      SELECT 1 FROM queue_entries q
		      WHERE q.process_id = p.id AND q.status IN ('WAITING', 'READY', 'ACTIVE', 'ERROR')
		    )
		  )
		ORDER BY p.started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list unsettled processes: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan process id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *QueueRepo) updateEntryIf(ctx context.Context, q querier, e *domain.QueueEntry, expected domain.EntryStatus) error {
	result, err := q.Exec(ctx, `
		UPDATE queue_entries
		SET status = $3, assigned_to = $4, run_once = $5, retry_count = $6, error = $7,
		    completed_by = $8, started_at = $9, completed_at = $10
		WHERE id = $1 AND status = $2
	`,
		e.ID,
		expected,
		e.Status,
		nullString(e.AssignedTo),
		e.RunOnce,
		e.RetryCount,
		nullString(e.Error),
		nullString(e.CompletedBy),
		e.StartedAt,
		e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_entries WHERE id = $1)`, e.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check entry: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// insertEntry вставляет запись; false, если запись узла уже есть.
func insertEntry(ctx context.Context, q querier, e *domain.QueueEntry) (bool, error) {
	result, err := q.Exec(ctx, `
		INSERT INTO queue_entries (id, process_id, node_id, node_type, status, assigned_to, run_once,
		                           retry_count, error, completed_by, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (process_id, node_id) DO NOTHING
	`,
		e.ID,
		e.ProcessID,
		e.NodeID,
		e.NodeType,
		e.Status,
		nullString(e.AssignedTo),
		e.RunOnce,
		e.RetryCount,
		nullString(e.Error),
		nullString(e.CompletedBy),
		e.CreatedAt,
		e.StartedAt,
		e.CompletedAt,
	)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("entry %s: %w", e.ID, ErrAlreadyExists)
	}
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func scanEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	var assignedTo, entryError, completedBy *string

	err := row.Scan(
		&e.ID,
		&e.ProcessID,
		&e.NodeID,
		&e.NodeType,
		&e.Status,
		&assignedTo,
		&e.RunOnce,
		&e.RetryCount,
		&entryError,
		&completedBy,
		&e.CreatedAt,
		&e.StartedAt,
		&e.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	e.AssignedTo = derefString(assignedTo)
	e.Error = derefString(entryError)
	e.CompletedBy = derefString(completedBy)
	return &e, nil
}
