package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jmespath/go-jmespath"
)

// TypeEvaluate — тип handler'а вычислений.
const TypeEvaluate = "evaluate"

// Ключ конфигурации evaluate.
const configExpressions = "expressions"

// EvaluateHandler — вычисляет JMESPath-выражения над переменными процесса.
//
// Результат каждого выражения записывается в переменную с именем ключа.
// Выражения вычисляются по снимку переменных до выполнения, поэтому
// повторный запуск даёт тот же результат.
//
// Конфигурация:
//
//	{
//	    "expressions": {
//	        "needs_cfo": "amount > `1000`",
//	        "item_count": "length(items)"
//	    }
//	}
type EvaluateHandler struct{ Automated }

// NewEvaluateHandler создаёт EvaluateHandler.
func NewEvaluateHandler() *EvaluateHandler { return &EvaluateHandler{} }

// TypeID возвращает тип задачи.
func (h *EvaluateHandler) TypeID() string { return TypeEvaluate }

// Execute вычисляет выражения.
func (h *EvaluateHandler) Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error) {
	expressions := Values(ec.Node.Config).StringMap(configExpressions)
	if len(expressions) == 0 {
		return Fail(fmt.Errorf("%w: %s: expressions is empty", ErrInvalidConfig, TypeEvaluate)), nil
	}

	data, err := NormalizeJSON(ec.Variables())
	if err != nil {
		return Fail(err), nil
	}

	results := make(map[string]any, len(expressions))
	for _, key := range sortedKeys(expressions) {
		value, err := jmespath.Search(expressions[key], data)
		if err != nil {
			return Fail(fmt.Errorf("evaluate %s: %w", key, err)), nil
		}
		results[key] = value
	}

	for key, value := range results {
		ec.Set(key, value)
	}
	return Continue(), nil
}

// ValidateConfig компилирует выражения.
func (h *EvaluateHandler) ValidateConfig(config map[string]any) []error {
	expressions := Values(config).StringMap(configExpressions)
	if len(expressions) == 0 {
		return []error{fmt.Errorf("%w: %s: expressions is empty", ErrInvalidConfig, TypeEvaluate)}
	}

	var errs []error
	for _, key := range sortedKeys(expressions) {
		if _, err := jmespath.Compile(expressions[key]); err != nil {
			errs = append(errs, fmt.Errorf("%w: expression %s: %v", ErrInvalidConfig, key, err))
		}
	}
	return errs
}

// NormalizeJSON приводит значение к виду, который дал бы json.Unmarshal:
// map[string]any, []any, float64. JMESPath сравнивает только такие типы.
func NormalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
