package handlers

import (
	"context"
	"fmt"
)

// Типы базовых handler'ов.
const (
	TypeStart        = "start"
	TypeEnd          = "end"
	TypeSetVariables = "set_variables"
)

// StartHandler — точка входа процесса. Ничего не делает.
type StartHandler struct{ Automated }

// NewStartHandler создаёт StartHandler.
func NewStartHandler() *StartHandler { return &StartHandler{} }

// TypeID возвращает тип задачи.
func (h *StartHandler) TypeID() string { return TypeStart }

// Execute возвращает CONTINUE.
func (h *StartHandler) Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error) {
	return Continue(), nil
}

// EndHandler — конечный узел ветки.
type EndHandler struct{ Automated }

// NewEndHandler создаёт EndHandler.
func NewEndHandler() *EndHandler { return &EndHandler{} }

// TypeID возвращает тип задачи.
func (h *EndHandler) TypeID() string { return TypeEnd }

// Execute возвращает CONTINUE.
func (h *EndHandler) Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error) {
	return Continue(), nil
}

// Ключ конфигурации set_variables.
const configValues = "values"

// SetVariablesHandler — записывает значения в переменные процесса.
//
// Строковые значения рендерятся как Go templates.
// Повторное выполнение записывает те же значения.
//
// Конфигурация:
//
//	{
//	    "values": {
//	        "status": "submitted",
//	        "summary": "{{ .Variables.employee }}: {{ .Variables.amount }}"
//	    }
//	}
type SetVariablesHandler struct{ Automated }

// NewSetVariablesHandler создаёт SetVariablesHandler.
func NewSetVariablesHandler() *SetVariablesHandler { return &SetVariablesHandler{} }

// TypeID возвращает тип задачи.
func (h *SetVariablesHandler) TypeID() string { return TypeSetVariables }

// Execute записывает значения.
func (h *SetVariablesHandler) Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error) {
	config, err := ec.Config()
	if err != nil {
		return Fail(err), nil
	}

	for key, value := range Values(config).Map(configValues) {
		ec.Set(key, value)
	}
	return Continue(), nil
}

// ValidateConfig проверяет наличие values.
func (h *SetVariablesHandler) ValidateConfig(config map[string]any) []error {
	if len(Values(config).Map(configValues)) == 0 {
		return []error{fmt.Errorf("%w: %s: values is empty", ErrInvalidConfig, TypeSetVariables)}
	}
	return nil
}
