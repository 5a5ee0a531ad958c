// Package assignment решает, кто может выполнить интерактивную задачу.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jmespath/go-jmespath"
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/store"
)

// Ошибки resolver'а.
var (
	// ErrUnknownPredicate — предикат не зарегистрирован.
	ErrUnknownPredicate = errors.New("unknown assignment predicate")

	// ErrUnknownRuleKind — неизвестный вид правила.
	ErrUnknownRuleKind = errors.New("unknown assignment rule kind")
)

// RoleDirectory — источник ролей пользователей.
type RoleDirectory interface {
	RolesOf(ctx context.Context, actorID string) ([]string, error)
}

// PredicateRequest — входные данные именованного предиката.
type PredicateRequest struct {
	ActorID string
	Process *domain.Process
	Entry   *domain.QueueEntry
	Params  map[string]any

	// History — записи процесса в порядке создания.
	History []domain.QueueEntry

	// Roles — роли пользователя.
	Roles []string
}

// Predicate — именованное правило назначения.
type Predicate func(ctx context.Context, req PredicateRequest) (bool, error)

// Config — конфигурация Resolver.
type Config struct {
	Processes store.ProcessStore
	Queue     store.QueueStore
	Catalog   *engine.Catalog
	Roles     RoleDirectory

	// AdminRoles — роли, которым доступна любая задача.
	AdminRoles []string

	Logger *slog.Logger
}

// Resolver реализует canExecute.
type Resolver struct {
	processes  store.ProcessStore
	queue      store.QueueStore
	catalog    *engine.Catalog
	roles      RoleDirectory
	adminRoles []string
	logger     *slog.Logger

	mu         sync.RWMutex
	predicates map[string]Predicate
}

// New создаёт Resolver со встроенными предикатами.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	roles := cfg.Roles
	if roles == nil {
		roles = NewStaticDirectory(nil)
	}

	r := &Resolver{
		processes:  cfg.Processes,
		queue:      cfg.Queue,
		catalog:    cfg.Catalog,
		roles:      roles,
		adminRoles: cfg.AdminRoles,
		logger:     logger,
		predicates: make(map[string]Predicate),
	}
	r.RegisterPredicate(PredicateFourEyes, FourEyes)
	return r
}

// RegisterPredicate регистрирует именованный предикат.
func (r *Resolver) RegisterPredicate(name string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates[name] = p
}

// HasPredicate сообщает, зарегистрирован ли предикат name.
func (r *Resolver) HasPredicate(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.predicates[name]
	return ok
}

// CanExecute проверяет, может ли actorID выполнить запись queueID.
//
// Правило вычисляется заново при каждом вызове.
func (r *Resolver) CanExecute(ctx context.Context, actorID string, queueID uuid.UUID) (bool, error) {
	entry, err := r.queue.GetEntry(ctx, queueID)
	if err != nil {
		return false, fmt.Errorf("get entry: %w", err)
	}
	process, err := r.processes.GetProcess(ctx, entry.ProcessID)
	if err != nil {
		return false, fmt.Errorf("get process: %w", err)
	}
	compiled, err := r.catalog.Get(ctx, process.TemplateID, process.TemplateVersion)
	if err != nil {
		return false, err
	}
	node, ok := compiled.Graph.Node(entry.NodeID)
	if !ok {
		return false, fmt.Errorf("node %s: %w", entry.NodeID, store.ErrNotFound)
	}
	return r.Eligible(ctx, actorID, node, process, entry)
}

// Eligible проверяет правило узла для actorID.
func (r *Resolver) Eligible(ctx context.Context, actorID string, node *domain.TaskNode, process *domain.Process, entry *domain.QueueEntry) (bool, error) {
	if actorID == "" {
		return false, nil
	}

	roles, err := r.roles.RolesOf(ctx, actorID)
	if err != nil {
		return false, fmt.Errorf("roles of %s: %w", actorID, err)
	}
	if intersects(roles, r.adminRoles) {
		return true, nil
	}

	rule := node.Assignment
	if rule == nil {
		return false, nil
	}

	switch rule.Kind {
	case domain.AssignmentActor:
		return slices.Contains(rule.Actors, actorID), nil

	case domain.AssignmentRole:
		return intersects(roles, rule.Roles), nil

	case domain.AssignmentVariable:
		actors, err := r.actorsFromVariables(rule.Expression, process)
		if err != nil {
			return false, err
		}
		return slices.Contains(actors, actorID), nil

	case domain.AssignmentPredicate:
		return r.evalPredicate(ctx, rule, PredicateRequest{
			ActorID: actorID,
			Process: process,
			Entry:   entry,
			Params:  rule.Params,
			Roles:   roles,
		})

	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownRuleKind, rule.Kind)
	}
}

// IsAdmin возвращает true, если у пользователя есть административная роль.
func (r *Resolver) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	roles, err := r.roles.RolesOf(ctx, actorID)
	if err != nil {
		return false, fmt.Errorf("roles of %s: %w", actorID, err)
	}
	return intersects(roles, r.adminRoles), nil
}

// Describe возвращает краткое описание назначения для отображения.
func (r *Resolver) Describe(rule *domain.AssignmentRule, process *domain.Process) string {
	if rule == nil {
		return ""
	}
	switch rule.Kind {
	case domain.AssignmentActor:
		return joinPrefixed("actor", rule.Actors)
	case domain.AssignmentRole:
		return joinPrefixed("role", rule.Roles)
	case domain.AssignmentVariable:
		actors, err := r.actorsFromVariables(rule.Expression, process)
		if err != nil || len(actors) == 0 {
			return "variable:" + rule.Expression
		}
		return joinPrefixed("actor", actors)
	case domain.AssignmentPredicate:
		return "predicate:" + rule.Predicate
	default:
		return ""
	}
}

// actorsFromVariables вычисляет JMESPath-выражение над переменными процесса.
// Результат — строка или список строк.
func (r *Resolver) actorsFromVariables(expression string, process *domain.Process) ([]string, error) {
	data, err := handlers.NormalizeJSON(process.Variables)
	if err != nil {
		return nil, err
	}
	result, err := jmespath.Search(expression, data)
	if err != nil {
		return nil, fmt.Errorf("assignment expression %q: %w", expression, err)
	}

	switch v := result.(type) {
	case string:
		return []string{v}, nil
	case []any:
		actors := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				actors = append(actors, s)
			}
		}
		return actors, nil
	default:
		return nil, nil
	}
}

// evalPredicate вызывает зарегистрированный предикат.
func (r *Resolver) evalPredicate(ctx context.Context, rule *domain.AssignmentRule, req PredicateRequest) (bool, error) {
	r.mu.RLock()
	p, ok := r.predicates[rule.Predicate]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPredicate, rule.Predicate)
	}

	history, err := r.queue.ListByProcess(ctx, req.Process.ID)
	if err != nil {
		return false, fmt.Errorf("list entries: %w", err)
	}
	req.History = history

	return p(ctx, req)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

func joinPrefixed(prefix string, values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += prefix + ":" + v
	}
	return out
}
