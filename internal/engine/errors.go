package engine

import (
	"errors"
	"fmt"
)

// ErrValidation — шаблон не прошёл валидацию (есть FAILURE-диагностики).
var ErrValidation = errors.New("template validation failed")

// Причины диагностик валидации шаблона.
var (
	// ErrEmptyTemplate — шаблон не содержит узлов.
	ErrEmptyTemplate = errors.New("template has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownNodeType — тип узла не зарегистрирован.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUnknownEdgeTarget — ребро ведёт в несуществующий узел.
	ErrUnknownEdgeTarget = errors.New("edge targets unknown node")

	// ErrNoEntryNode — нет узла без входящих рёбер.
	ErrNoEntryNode = errors.New("template has no entry node")

	// ErrUnreachableNode — узел недостижим из точек входа.
	ErrUnreachableNode = errors.New("node is unreachable")

	// ErrDeadEnd — нетерминальный узел без исходящих рёбер.
	ErrDeadEnd = errors.New("non-terminal node has no outgoing edges")

	// ErrMissingAssignment — интерактивный узел без правила назначения.
	ErrMissingAssignment = errors.New("interactive node has no assignment rule")

	// ErrUnknownPredicate — правило назначения ссылается на незарегистрированный предикат.
	ErrUnknownPredicate = errors.New("unknown assignment predicate")

	// ErrCycle — узел лежит на цикле.
	ErrCycle = errors.New("node is part of a cycle")

	// ErrTerminalWithEdges — терминальный узел имеет исходящие рёбра.
	ErrTerminalWithEdges = errors.New("terminal node has outgoing edges")

	// ErrNodeConfig — handler отклонил конфигурацию узла.
	ErrNodeConfig = errors.New("invalid node config")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// InvalidTemplateError — шаблон содержит FAILURE-диагностики.
//
// Несёт полный отчёт, чтобы вызывающий мог показать все проблемы сразу.
type InvalidTemplateError struct {
	Report *ValidationReport
}

// Error реализует интерфейс error.
func (e *InvalidTemplateError) Error() string {
	failures := e.Report.Failures()
	if len(failures) == 0 {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("template %s v%d: %d validation failure(s), first: %s",
		e.Report.TemplateID, e.Report.Version, len(failures), failures[0].Error())
}

// Unwrap возвращает ErrValidation.
func (e *InvalidTemplateError) Unwrap() error {
	return ErrValidation
}
