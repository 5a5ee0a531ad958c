package engine

import (
	"fmt"

	"github.com/shaiso/Taskflow/internal/domain"
)

// Severity — уровень диагностики.
type Severity string

const (
	// SeverityFailure блокирует запуск процессов по шаблону.
	SeverityFailure Severity = "FAILURE"

	// SeverityWarning — информационное сообщение.
	SeverityWarning Severity = "WARNING"
)

// Diagnostic — одна проблема, найденная при валидации.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	NodeID   string   `json:"node_id,omitempty"` // ID узла, где найдена проблема
	Field    string   `json:"field,omitempty"`   // поле, вызвавшее проблему
	Message  string   `json:"message"`
	Err      error    `json:"-"` // базовая ошибка
}

// Error возвращает диагностику в виде строки.
func (d Diagnostic) Error() string {
	if d.NodeID != "" {
		return "node " + d.NodeID + ": " + d.Message
	}
	return d.Message
}

// Unwrap возвращает базовую ошибку.
func (d Diagnostic) Unwrap() error {
	return d.Err
}

// ValidationReport — результат валидации версии шаблона.
type ValidationReport struct {
	TemplateID  string       `json:"template_id"`
	Version     int          `json:"version"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Failures возвращает FAILURE-диагностики.
func (r *ValidationReport) Failures() []Diagnostic {
	return r.filter(SeverityFailure)
}

// Warnings возвращает WARNING-диагностики.
func (r *ValidationReport) Warnings() []Diagnostic {
	return r.filter(SeverityWarning)
}

// HasFailures возвращает true, если шаблон нельзя использовать.
func (r *ValidationReport) HasFailures() bool {
	return len(r.Failures()) > 0
}

// Err возвращает *InvalidTemplateError при наличии FAILURE-диагностик.
func (r *ValidationReport) Err() error {
	if !r.HasFailures() {
		return nil
	}
	return &InvalidTemplateError{Report: r}
}

func (r *ValidationReport) filter(s Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

func (r *ValidationReport) fail(nodeID, field string, err error, format string, args ...any) {
	r.add(SeverityFailure, nodeID, field, err, format, args...)
}

func (r *ValidationReport) warn(nodeID, field string, err error, format string, args ...any) {
	r.add(SeverityWarning, nodeID, field, err, format, args...)
}

func (r *ValidationReport) add(s Severity, nodeID, field string, err error, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Severity: s,
		NodeID:   nodeID,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	})
}

// HandlerCatalog — то, что Validator должен знать о зарегистрированных handler'ах.
type HandlerCatalog interface {
	// Has проверяет, что тип зарегистрирован.
	Has(typeID string) bool

	// IsInteractive возвращает true для интерактивных типов.
	IsInteractive(typeID string) bool

	// ValidateNodeConfig возвращает проблемы конфигурации узла.
	ValidateNodeConfig(node *domain.TaskNode) []error
}

// PredicateCatalog — зарегистрированные предикаты назначения.
type PredicateCatalog interface {
	HasPredicate(name string) bool
}

// Validator выполняет статические проверки шаблона.
type Validator struct {
	handlers   HandlerCatalog
	predicates PredicateCatalog
}

// NewValidator создаёт Validator.
func NewValidator(handlers HandlerCatalog) *Validator {
	return &Validator{handlers: handlers}
}

// SetPredicates включает проверку имён предикатов в правилах назначения.
// Вызывается при сборке приложения, до первой валидации.
func (v *Validator) SetPredicates(p PredicateCatalog) {
	v.predicates = p
}

// Validate проверяет шаблон и возвращает все найденные проблемы.
//
// Проверки не останавливаются на первой ошибке.
func (v *Validator) Validate(t *domain.Template) *ValidationReport {
	report := &ValidationReport{TemplateID: t.ID, Version: t.Version}

	if len(t.Nodes) == 0 {
		report.fail("", "nodes", ErrEmptyTemplate, "template has no nodes")
		return report
	}

	ids := make(map[string]bool, len(t.Nodes))
	for i := range t.Nodes {
		node := &t.Nodes[i]
		if node.ID == "" {
			report.fail("", "id", ErrEmptyNodeID, "node #%d has empty ID", i)
			continue
		}
		if ids[node.ID] {
			report.fail(node.ID, "id", ErrDuplicateNodeID, "duplicate node ID: %s", node.ID)
		}
		ids[node.ID] = true
	}

	for i := range t.Nodes {
		node := &t.Nodes[i]
		v.validateNode(report, node, ids)
	}

	g := BuildGraph(t)
	v.validateGraph(report, t, g)

	return report
}

// validateNode проверяет отдельный узел.
func (v *Validator) validateNode(report *ValidationReport, node *domain.TaskNode, ids map[string]bool) {
	for _, next := range node.Next {
		if !ids[next] {
			report.fail(node.ID, "next", ErrUnknownEdgeTarget, "edge targets unknown node: %s", next)
		}
	}

	switch {
	case node.IsTerminal() && len(node.Next) > 0:
		report.warn(node.ID, "next", ErrTerminalWithEdges, "terminal node has outgoing edges")
	case !node.IsTerminal() && len(node.Next) == 0:
		report.fail(node.ID, "next", ErrDeadEnd, "non-terminal node has no outgoing edges")
	}

	if node.TypeID == "" {
		report.fail(node.ID, "type", ErrUnknownNodeType, "node has empty type")
		return
	}
	if v.handlers == nil || !v.handlers.Has(node.TypeID) {
		report.fail(node.ID, "type", ErrUnknownNodeType, "unknown node type: %s", node.TypeID)
		return
	}

	if v.handlers.IsInteractive(node.TypeID) && !hasAssignment(node.Assignment) {
		report.fail(node.ID, "assignment", ErrMissingAssignment, "interactive node has no assignment rule")
	}
	if rule := node.Assignment; rule != nil && rule.Kind == domain.AssignmentPredicate && rule.Predicate != "" &&
		v.predicates != nil && !v.predicates.HasPredicate(rule.Predicate) {
		report.fail(node.ID, "assignment", ErrUnknownPredicate, "unknown assignment predicate: %s", rule.Predicate)
	}

	for _, err := range v.handlers.ValidateNodeConfig(node) {
		report.warn(node.ID, "config", ErrNodeConfig, "%v", err)
	}
}

// validateGraph проверяет структуру графа.
func (v *Validator) validateGraph(report *ValidationReport, t *domain.Template, g *Graph) {
	if len(g.EntryNodes()) == 0 {
		report.fail("", "nodes", ErrNoEntryNode, "template has no entry node")
		return
	}

	reachable := g.Reachable()
	for i := range t.Nodes {
		node := &t.Nodes[i]
		if node.ID == "" {
			continue
		}
		if !reachable[node.ID] {
			report.fail(node.ID, "", ErrUnreachableNode, "node is unreachable from entry nodes")
		}
		// Join ждёт всех предшественников, поэтому цикл не может завершиться.
		if g.InCycle(node.ID) {
			report.fail(node.ID, "next", ErrCycle, "node is part of a cycle")
		}
	}
}

// hasAssignment проверяет, что правило назначения не пустое.
func hasAssignment(rule *domain.AssignmentRule) bool {
	if rule == nil {
		return false
	}
	switch rule.Kind {
	case domain.AssignmentActor:
		return len(rule.Actors) > 0
	case domain.AssignmentRole:
		return len(rule.Roles) > 0
	case domain.AssignmentVariable:
		return rule.Expression != ""
	case domain.AssignmentPredicate:
		return rule.Predicate != ""
	default:
		return false
	}
}
