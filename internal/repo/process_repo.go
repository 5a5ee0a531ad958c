package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/store"
)

// ProcessRepo — репозиторий процессов.
type ProcessRepo struct {
	pool *pgxpool.Pool
}

// NewProcessRepo создаёт новый ProcessRepo.
func NewProcessRepo(pool *pgxpool.Pool) *ProcessRepo {
	return &ProcessRepo{pool: pool}
}

const processColumns = `id, template_id, template_version, status, variables, started_at, completed_at`

// CreateProcess в одной транзакции создаёт процесс и начальные записи очереди.
func (r *ProcessRepo) CreateProcess(ctx context.Context, p *domain.Process, seeds []domain.QueueEntry) error {
	variablesJSON, err := json.Marshal(p.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO processes (id, template_id, template_version, status, variables, started_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, p.TemplateID, p.TemplateVersion, p.Status, variablesJSON, p.StartedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("process %s: %w", p.ID, ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("insert process: %w", err)
		}

		for i := range seeds {
			if _, err := insertEntry(ctx, tx, &seeds[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProcess возвращает процесс по ID.
func (r *ProcessRepo) GetProcess(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	query := `SELECT ` + processColumns + ` FROM processes WHERE id = $1`
	return scanProcess(r.pool.QueryRow(ctx, query, id))
}

// UpdateProcessStatus сохраняет статус и completed_at, если статус в БД равен expected.
func (r *ProcessRepo) UpdateProcessStatus(ctx context.Context, p *domain.Process, expected domain.ProcessStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE processes
		SET status = $3, completed_at = $4
		WHERE id = $1 AND status = $2
	`, p.ID, expected, p.Status, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missOrConflict(ctx, p.ID)
	}
	return nil
}

// ListProcesses возвращает процессы, новые первыми.
func (r *ProcessRepo) ListProcesses(ctx context.Context, filter store.ProcessFilter) ([]domain.Process, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + processColumns + `
		FROM processes
		WHERE ($1::text IS NULL OR template_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.TemplateID),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var processes []domain.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		processes = append(processes, *p)
	}
	return processes, rows.Err()
}

func (r *ProcessRepo) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check process: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func scanProcess(row pgx.Row) (*domain.Process, error) {
	var p domain.Process
	var variablesJSON []byte

	err := row.Scan(
		&p.ID,
		&p.TemplateID,
		&p.TemplateVersion,
		&p.Status,
		&variablesJSON,
		&p.StartedAt,
		&p.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan process: %w", err)
	}

	if variablesJSON != nil {
		if err := json.Unmarshal(variablesJSON, &p.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if p.Variables == nil {
		p.Variables = make(map[string]any)
	}
	return &p, nil
}
