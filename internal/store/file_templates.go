package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Taskflow/internal/domain"
	"gopkg.in/yaml.v3"
)

// templateFile — формат YAML-файла шаблона.
//
//	id: expense-approval
//	version: 2
//	nodes:
//	  - id: submit
//	    type: start
//	    next: [review]
type templateFile struct {
	domain.Template `yaml:",inline"`

	// Active — по умолчанию true.
	Active *bool `yaml:"active,omitempty"`
}

// FileTemplates — TemplateRepository поверх каталога YAML-файлов.
//
// Каждый файл *.yaml / *.yml содержит одну версию шаблона.
// Save пишет новую версию в файл <id>.v<version>.yaml.
type FileTemplates struct {
	dir string

	mu       sync.RWMutex
	versions map[string]map[int]domain.Template
}

// NewFileTemplates читает все шаблоны из каталога dir.
func NewFileTemplates(dir string) (*FileTemplates, error) {
	r := &FileTemplates{
		dir:      dir,
		versions: make(map[string]map[int]domain.Template),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		t, err := ReadTemplateFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if _, exists := r.versions[t.ID][t.Version]; exists {
			return nil, fmt.Errorf("%s: template %s v%d: %w", name, t.ID, t.Version, ErrAlreadyExists)
		}
		r.put(*t)
	}
	return r, nil
}

// ReadTemplateFile читает шаблон из YAML-файла.
// Версия по умолчанию — 1.
func ReadTemplateFile(path string) (*domain.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return ParseTemplateYAML(data)
}

// ParseTemplateYAML разбирает шаблон в формате YAML.
func ParseTemplateYAML(data []byte) (*domain.Template, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse template yaml: %w", err)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("parse template yaml: missing id")
	}

	t := f.Template
	if t.Version == 0 {
		t.Version = 1
	}
	t.Active = f.Active == nil || *f.Active
	return &t, nil
}

// Load возвращает версию шаблона.
func (r *FileTemplates) Load(ctx context.Context, id string, version int) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.versions[id][version]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// Latest возвращает активную версию с наибольшим номером.
func (r *FileTemplates) Latest(ctx context.Context, id string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Template
	for _, t := range r.versions[id] {
		if !t.Active {
			continue
		}
		if latest == nil || t.Version > latest.Version {
			c := t
			latest = &c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// Save пишет новую версию шаблона в каталог.
func (r *FileTemplates) Save(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	version := 1
	for v := range r.versions[t.ID] {
		if v >= version {
			version = v + 1
		}
	}
	t.Version = version
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	active := t.Active
	data, err := yaml.Marshal(templateFile{Template: *t, Active: &active})
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s.v%d.yaml", t.ID, t.Version))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}

	r.put(*t)
	return nil
}

// List возвращает последние версии всех шаблонов.
func (r *FileTemplates) List(ctx context.Context) ([]domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Template, 0, len(r.versions))
	for _, versions := range r.versions {
		var last domain.Template
		for _, t := range versions {
			if t.Version > last.Version {
				last = t
			}
		}
		out = append(out, last)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// put добавляет версию. Вызывается под r.mu (или до публикации r).
func (r *FileTemplates) put(t domain.Template) {
	if r.versions[t.ID] == nil {
		r.versions[t.ID] = make(map[int]domain.Template)
	}
	r.versions[t.ID][t.Version] = t
}
