package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
)

// Ошибки handler'ов.
var (
	// ErrHandlerNotFound — тип задачи не найден в реестре.
	ErrHandlerNotFound = errors.New("handler type not found")

	// ErrInvalidConfig — невалидная конфигурация узла.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrInvalidSubmission — данные, отправленные человеком, не прошли проверку.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrNotInteractive — операция доступна только интерактивным handler'ам.
	ErrNotInteractive = errors.New("handler is not interactive")
)

// VariableInitiator — переменная с пользователем, запустившим процесс.
// Её читают правила назначения, поэтому интерактивные handler'ы её не меняют.
const VariableInitiator = "initiator"

// IsReservedVariable сообщает, что переменную нельзя задать данными формы.
func IsReservedVariable(name string) bool {
	return name == VariableInitiator
}

// Outcome — результат выполнения handler'а.
type Outcome string

const (
	// OutcomeContinue — задача выполнена, процесс идёт дальше.
	OutcomeContinue Outcome = "CONTINUE"

	// OutcomeSuspend — задача ждёт действия человека.
	OutcomeSuspend Outcome = "SUSPEND"

	// OutcomeError — задача упала, ветка остановлена.
	OutcomeError Outcome = "ERROR"
)

// ExecutionResult — результат Execute.
type ExecutionResult struct {
	Outcome Outcome
	Detail  string
}

// Continue возвращает результат CONTINUE.
func Continue() ExecutionResult {
	return ExecutionResult{Outcome: OutcomeContinue}
}

// Suspend возвращает результат SUSPEND.
func Suspend() ExecutionResult {
	return ExecutionResult{Outcome: OutcomeSuspend}
}

// Fail возвращает результат ERROR с диагностикой.
func Fail(err error) ExecutionResult {
	return ExecutionResult{Outcome: OutcomeError, Detail: err.Error()}
}

// TaskHandler — исполнитель задач одного типа.
//
// Автоматические handler'ы обязаны быть идемпотентными: после сбоя
// оркестратор может вызвать Execute для той же записи повторно.
type TaskHandler interface {
	// TypeID возвращает тип задачи.
	TypeID() string

	// IsInteractive возвращает true, если задача требует действия человека.
	IsInteractive() bool

	// Execute выполняет задачу.
	// Ошибка эквивалентна результату ERROR.
	Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error)
}

// InteractiveHandler — handler задачи, которую завершает человек.
//
// Execute только переводит запись в ожидание (SUSPEND).
// Бизнес-эффект выполняется в ApplySubmission после проверки отправленных данных.
type InteractiveHandler interface {
	TaskHandler

	// BuildInteractionForm описывает форму для исполнителя.
	BuildInteractionForm(ctx context.Context, ec *ExecutionContext) (*Form, error)

	// ValidateSubmission проверяет данные. Возвращает *SubmissionError.
	ValidateSubmission(ec *ExecutionContext, input map[string]any) error

	// ApplySubmission записывает результат в переменные процесса.
	ApplySubmission(ec *ExecutionContext, input map[string]any) error
}

// ConfigValidator — handler, умеющий проверять конфигурацию узла при публикации шаблона.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) []error
}

// ExecutionContext — данные, доступные handler'у.
type ExecutionContext struct {
	// Process — процесс записи.
	Process *domain.Process

	// Entry — выполняемая запись очереди.
	Entry *domain.QueueEntry

	// Node — узел шаблона.
	Node *domain.TaskNode

	// Actor — пользователь, отправивший данные (только для completeTask).
	Actor string

	// Logger — логгер с контекстом процесса и записи.
	Logger *slog.Logger

	variables map[string]any
	changes   map[string]any
}

// NewExecutionContext создаёт контекст выполнения.
func NewExecutionContext(p *domain.Process, e *domain.QueueEntry, node *domain.TaskNode, logger *slog.Logger) *ExecutionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionContext{
		Process:   p,
		Entry:     e,
		Node:      node,
		Logger:    logger,
		variables: p.CloneVariables(),
		changes:   make(map[string]any),
	}
}

// Variables возвращает текущие переменные процесса с учётом изменений.
func (ec *ExecutionContext) Variables() map[string]any {
	return ec.variables
}

// Get возвращает переменную процесса.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	v, ok := ec.variables[key]
	return v, ok
}

// Set записывает переменную процесса.
// Изменения сохраняются оркестратором до перевода записи в COMPLETE.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.variables[key] = value
	ec.changes[key] = value
}

// Changes возвращает переменные, изменённые handler'ом.
func (ec *ExecutionContext) Changes() map[string]any {
	return ec.changes
}

// Config возвращает конфигурацию узла, отрендеренную по переменным процесса.
func (ec *ExecutionContext) Config() (map[string]any, error) {
	process := *ec.Process
	process.Variables = ec.variables
	return engine.RenderConfig(ec.Node.Config, engine.NewContext(&process, ec.Entry))
}

// Form — описание формы интерактивной задачи.
type Form struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Fields      []FormField    `json:"fields"`
	Schema      map[string]any `json:"schema,omitempty"`
	Actions     []string       `json:"actions,omitempty"`
}

// FormField — поле формы.
type FormField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
	Default  any      `json:"default,omitempty"`
}

// SubmissionError — отправленные данные не прошли проверку.
type SubmissionError struct {
	Violations []string
}

// Error реализует интерфейс error.
func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidSubmission, strings.Join(e.Violations, "; "))
}

// Unwrap возвращает ErrInvalidSubmission.
func (e *SubmissionError) Unwrap() error {
	return ErrInvalidSubmission
}

// NewSubmissionError создаёт SubmissionError.
func NewSubmissionError(violations ...string) *SubmissionError {
	return &SubmissionError{Violations: violations}
}

// Interactive — основа интерактивных handler'ов.
type Interactive struct{}

// IsInteractive возвращает true.
func (Interactive) IsInteractive() bool { return true }

// Execute переводит запись в ожидание действия человека.
func (Interactive) Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error) {
	return Suspend(), nil
}

// Automated — основа автоматических handler'ов.
type Automated struct{}

// IsInteractive возвращает false.
func (Automated) IsInteractive() bool { return false }
