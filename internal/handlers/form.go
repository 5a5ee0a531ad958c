package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// TypeForm — тип handler'а формы.
const TypeForm = "form"

// Ключи конфигурации form.
const (
	configSchema = "schema"
	configTarget = "target"
)

// FormHandler — форма, проверяемая JSON Schema.
//
// Отправленные данные записываются в переменную target целиком,
// а без target каждое поле становится переменной процесса.
// Принимаются только поля из properties схемы, переменная initiator
// формой не меняется.
//
// Конфигурация:
//
//	{
//	    "title": "Expense details",
//	    "target": "expense",
//	    "schema": {
//	        "type": "object",
//	        "required": ["amount"],
//	        "properties": {
//	            "amount": {"type": "number", "minimum": 0, "title": "Amount"},
//	            "currency": {"type": "string", "enum": ["EUR", "USD"]}
//	        }
//	    }
//	}
type FormHandler struct {
	Interactive

	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewFormHandler создаёт FormHandler.
func NewFormHandler() *FormHandler {
	return &FormHandler{cache: make(map[string]*gojsonschema.Schema)}
}

// TypeID возвращает тип задачи.
func (h *FormHandler) TypeID() string { return TypeForm }

// BuildInteractionForm строит поля по свойствам схемы.
func (h *FormHandler) BuildInteractionForm(ctx context.Context, ec *ExecutionContext) (*Form, error) {
	config, err := ec.Config()
	if err != nil {
		return nil, err
	}

	schema := Values(ec.Node.Config).Map(configSchema)
	title := Values(config).String(configTitle)
	if title == "" {
		title = ec.Node.DisplayName()
	}

	return &Form{
		Title:       title,
		Description: Values(config).String(configDescription),
		Fields:      fieldsFromSchema(schema),
		Schema:      schema,
		Actions:     []string{"submit"},
	}, nil
}

// ValidateSubmission проверяет данные по JSON Schema.
func (h *FormHandler) ValidateSubmission(ec *ExecutionContext, input map[string]any) error {
	schema, err := h.getSchema(Values(ec.Node.Config).Map(configSchema))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, TypeForm, err)
	}
	if input == nil {
		input = map[string]any{}
	}

	if undeclared := undeclaredFields(Values(ec.Node.Config).Map(configSchema), input); len(undeclared) > 0 {
		violations := make([]string, len(undeclared))
		for i, name := range undeclared {
			violations[i] = fmt.Sprintf("%s: field is not declared in the form", name)
		}
		return NewSubmissionError(violations...)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return NewSubmissionError(err.Error())
	}
	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			violations[i] = desc.String()
		}
		return NewSubmissionError(violations...)
	}
	return nil
}

// ApplySubmission записывает объявленные поля в переменные процесса.
func (h *FormHandler) ApplySubmission(ec *ExecutionContext, input map[string]any) error {
	properties := Values(Values(ec.Node.Config).Map(configSchema)).Map("properties")

	declared := make(map[string]any, len(input))
	for key, value := range input {
		if _, ok := properties[key]; ok {
			declared[key] = value
		}
	}

	if target := Values(ec.Node.Config).String(configTarget); target != "" {
		if IsReservedVariable(target) {
			return fmt.Errorf("%w: %s: target %q is reserved", ErrInvalidConfig, TypeForm, target)
		}
		ec.Set(target, declared)
		return nil
	}
	for key, value := range declared {
		if IsReservedVariable(key) {
			continue
		}
		ec.Set(key, value)
	}
	return nil
}

// undeclaredFields возвращает отсортированные поля input, которых нет в properties схемы.
func undeclaredFields(schema map[string]any, input map[string]any) []string {
	properties := Values(schema).Map("properties")
	var out []string
	for _, key := range sortedKeys(input) {
		if _, ok := properties[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}

// ValidateConfig компилирует схему.
func (h *FormHandler) ValidateConfig(config map[string]any) []error {
	schema := Values(config).Map(configSchema)
	if schema == nil {
		return []error{fmt.Errorf("%w: %s: schema is required", ErrInvalidConfig, TypeForm)}
	}
	if _, err := h.getSchema(schema); err != nil {
		return []error{fmt.Errorf("%w: %s: %v", ErrInvalidConfig, TypeForm, err)}
	}

	var errs []error
	if target := Values(config).String(configTarget); IsReservedVariable(target) {
		errs = append(errs, fmt.Errorf("%w: %s: target %q is reserved", ErrInvalidConfig, TypeForm, target))
	}
	for name := range Values(schema).Map("properties") {
		if IsReservedVariable(name) {
			errs = append(errs, fmt.Errorf("%w: %s: field %q is reserved", ErrInvalidConfig, TypeForm, name))
		}
	}
	return errs
}

// getSchema возвращает скомпилированную схему из кэша.
// Ключ кэша — JSON-представление схемы.
func (h *FormHandler) getSchema(schema map[string]any) (*gojsonschema.Schema, error) {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	h.mu.Lock()
	defer h.mu.Unlock()

	if compiled, ok := h.cache[key]; ok {
		return compiled, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(key))
	if err != nil {
		return nil, err
	}
	h.cache[key] = compiled
	return compiled, nil
}

// fieldsFromSchema строит поля формы по properties схемы.
func fieldsFromSchema(schema map[string]any) []FormField {
	v := Values(schema)
	properties := v.Map("properties")
	required := make(map[string]bool)
	for _, name := range v.Strings("required") {
		required[name] = true
	}

	fields := make([]FormField, 0, len(properties))
	for _, name := range sortedKeys(properties) {
		prop := Values(Values(properties).Map(name))
		field := FormField{
			Name:     name,
			Label:    prop.String("title"),
			Type:     prop.String("type"),
			Required: required[name],
			Options:  prop.Strings("enum"),
			Default:  prop["default"],
		}
		if field.Type == "" {
			field.Type = "string"
		}
		fields = append(fields, field)
	}
	return fields
}
