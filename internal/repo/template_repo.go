package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Taskflow/internal/domain"
)

// TemplateRepo — версии шаблонов в таблице templates.
type TemplateRepo struct {
	pool *pgxpool.Pool
}

// NewTemplateRepo создаёт новый TemplateRepo.
func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

const templateColumns = `id, version, name, description, nodes, active, created_at`

// Load возвращает версию шаблона.
func (r *TemplateRepo) Load(ctx context.Context, id string, version int) (*domain.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1 AND version = $2`
	return scanTemplate(r.pool.QueryRow(ctx, query, id, version))
}

// Latest возвращает последнюю активную версию шаблона.
func (r *TemplateRepo) Latest(ctx context.Context, id string) (*domain.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE id = $1 AND active
		ORDER BY version DESC
		LIMIT 1
	`
	return scanTemplate(r.pool.QueryRow(ctx, query, id))
}

// Save сохраняет новую версию. Номер версии вычисляется в том же запросе;
// при гонке двух публикаций одна получит ErrAlreadyExists.
func (r *TemplateRepo) Save(ctx context.Context, t *domain.Template) error {
	nodesJSON, err := json.Marshal(t.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}

	query := `
		INSERT INTO templates (id, version, name, description, nodes, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, NOW()
		FROM templates
		WHERE id = $1
		RETURNING version, created_at
	`
	err = r.pool.QueryRow(ctx, query,
		t.ID,
		t.Name,
		nullString(t.Description),
		nodesJSON,
		t.Active,
	).Scan(&t.Version, &t.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("template %s: %w", t.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// List возвращает последние версии всех шаблонов.
func (r *TemplateRepo) List(ctx context.Context) ([]domain.Template, error) {
	query := `
		SELECT DISTINCT ON (id) ` + templateColumns + `
		FROM templates
		ORDER BY id, version DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// scanTemplate сканирует строку в Template. Подходит и для pgx.Row, и для pgx.Rows.
func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var t domain.Template
	var nodesJSON []byte
	var description *string

	err := row.Scan(
		&t.ID,
		&t.Version,
		&t.Name,
		&description,
		&nodesJSON,
		&t.Active,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &t.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	t.Description = derefString(description)
	return &t, nil
}
