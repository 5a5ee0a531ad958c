package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseAssignments разбирает список KEY=VALUE.
//
// Значение читается как YAML-скаляр: 120 становится числом, true — bool,
// остальное остаётся строкой. Пустое значение даёт пустую строку.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	values := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid value %q, expected KEY=VALUE", kv)
		}
		values[key] = parseScalar(raw)
	}
	return values, nil
}

func parseScalar(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case string, bool, int, float64:
		return v
	default:
		// Списки и словари передаются через --data.
		return raw
	}
}

// mergeJSON добавляет к values объект из JSON-строки. KEY=VALUE имеют приоритет.
func mergeJSON(values map[string]any, data string) (map[string]any, error) {
	if data == "" {
		return values, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("invalid --data: %w", err)
	}
	if obj == nil {
		obj = make(map[string]any, len(values))
	}
	for k, v := range values {
		obj[k] = v
	}
	return obj, nil
}
