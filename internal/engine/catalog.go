package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/store"
)

// Compiled — проверенная версия шаблона вместе с её графом.
type Compiled struct {
	Template *domain.Template
	Graph    *Graph
	Report   *ValidationReport
}

type catalogKey struct {
	id      string
	version int
}

// Catalog — кэш проверенных шаблонов поверх TemplateRepository.
//
// Результат валидации кэшируется по (id, version). Publish сбрасывает
// кэш всех версий шаблона через Invalidate.
type Catalog struct {
	repo      store.TemplateRepository
	validator *Validator

	mu      sync.RWMutex
	entries map[catalogKey]*Compiled
}

// NewCatalog создаёт Catalog.
func NewCatalog(repo store.TemplateRepository, validator *Validator) *Catalog {
	return &Catalog{
		repo:      repo,
		validator: validator,
		entries:   make(map[catalogKey]*Compiled),
	}
}

// Get возвращает проверенную версию шаблона.
// Шаблон с FAILURE-диагностиками возвращается без ошибки: решение за вызывающим.
func (c *Catalog) Get(ctx context.Context, id string, version int) (*Compiled, error) {
	key := catalogKey{id: id, version: version}

	c.mu.RLock()
	compiled, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	t, err := c.repo.Load(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("load template %s v%d: %w", id, version, err)
	}

	compiled = c.compile(t)

	c.mu.Lock()
	c.entries[key] = compiled
	c.mu.Unlock()

	return compiled, nil
}

// Latest возвращает последнюю активную версию шаблона.
func (c *Catalog) Latest(ctx context.Context, id string) (*Compiled, error) {
	t, err := c.repo.Latest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", id, err)
	}
	return c.Get(ctx, id, t.Version)
}

// Publish проверяет и сохраняет новую версию шаблона.
//
// Версия с FAILURE-диагностиками сохраняется неактивной.
func (c *Catalog) Publish(ctx context.Context, t *domain.Template) (*Compiled, error) {
	report := c.validator.Validate(t)
	t.Active = !report.HasFailures()

	if err := c.repo.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save template %s: %w", t.ID, err)
	}
	report.Version = t.Version

	c.Invalidate(t.ID)

	compiled := &Compiled{Template: t, Graph: BuildGraph(t), Report: report}
	c.mu.Lock()
	c.entries[catalogKey{id: t.ID, version: t.Version}] = compiled
	c.mu.Unlock()

	return compiled, nil
}

// Invalidate удаляет из кэша все версии шаблона id.
func (c *Catalog) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key.id == id {
			delete(c.entries, key)
		}
	}
}

// List возвращает последние версии шаблонов из репозитория.
func (c *Catalog) List(ctx context.Context) ([]domain.Template, error) {
	return c.repo.List(ctx)
}

func (c *Catalog) compile(t *domain.Template) *Compiled {
	return &Compiled{
		Template: t,
		Graph:    BuildGraph(t),
		Report:   c.validator.Validate(t),
	}
}
