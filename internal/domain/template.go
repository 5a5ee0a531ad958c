package domain

import "time"

// Template — опубликованная версия шаблона процесса.
//
// Шаблон неизменяем после публикации: каждая правка создаёт новую версию.
// Процесс всегда исполняется по той версии, с которой был запущен.
type Template struct {
	// ID — машинное имя шаблона (например, "expense-approval").
	ID string `json:"id" yaml:"id"`

	// Version — номер версии (1, 2, 3, ...). Назначается при публикации.
	Version int `json:"version" yaml:"version,omitempty"`

	// Name — человекочитаемое название.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description — описание назначения шаблона.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Nodes — узлы графа. Порядок значим: первый узел без входящих рёбер
	// становится точкой входа.
	Nodes []TaskNode `json:"nodes" yaml:"nodes"`

	// Active — разрешён ли запуск новых процессов по этой версии.
	// Версии с ошибками валидации сохраняются неактивными.
	Active bool `json:"active" yaml:"-"`

	// CreatedAt — время публикации версии.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Node возвращает узел по идентификатору.
func (t *Template) Node(id string) (*TaskNode, bool) {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i], true
		}
	}
	return nil, false
}

// TaskNode — узел графа шаблона.
type TaskNode struct {
	// ID — уникальный идентификатор узла в рамках шаблона.
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя задачи.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// TypeID — тип задачи, по нему выбирается handler ("approval", "http", ...).
	TypeID string `json:"type" yaml:"type"`

	// Config — конфигурация handler'а (зависит от типа).
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Next — исходящие рёбра: ID узлов-последователей.
	Next []string `json:"next,omitempty" yaml:"next,omitempty"`

	// Assignment — правило назначения исполнителя (для интерактивных задач).
	Assignment *AssignmentRule `json:"assignment,omitempty" yaml:"assignment,omitempty"`

	// Terminal — явная пометка конечного узла.
	Terminal bool `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// NodeTypeEnd — тип конечного узла.
const NodeTypeEnd = "end"

// IsTerminal возвращает true, если узел завершает ветку.
func (n *TaskNode) IsTerminal() bool {
	return n.Terminal || n.TypeID == NodeTypeEnd
}

// DisplayName возвращает имя узла или его ID, если имя не задано.
func (n *TaskNode) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// AssignmentKind — вид правила назначения.
type AssignmentKind string

const (
	// AssignmentActor — конкретные пользователи.
	AssignmentActor AssignmentKind = "actor"

	// AssignmentRole — любой пользователь с одной из ролей.
	AssignmentRole AssignmentKind = "role"

	// AssignmentVariable — исполнитель берётся из переменной процесса (JMESPath).
	AssignmentVariable AssignmentKind = "variable"

	// AssignmentPredicate — именованный предикат, зарегистрированный в resolver'е.
	AssignmentPredicate AssignmentKind = "predicate"
)

// AssignmentRule — правило, определяющее, кто может выполнить задачу.
type AssignmentRule struct {
	// Kind — вид правила.
	Kind AssignmentKind `json:"kind" yaml:"kind"`

	// Actors — ID пользователей (для kind=actor).
	Actors []string `json:"actors,omitempty" yaml:"actors,omitempty"`

	// Roles — роли (для kind=role).
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`

	// Expression — JMESPath-выражение над переменными процесса (для kind=variable).
	// Результат — строка или список строк с ID пользователей.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Predicate — имя предиката (для kind=predicate).
	Predicate string `json:"predicate,omitempty" yaml:"predicate,omitempty"`

	// Params — параметры предиката.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}
