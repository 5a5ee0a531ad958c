package handlers

// Values — типизированный доступ к конфигурации узла и данным формы.
// Значение неподходящего типа читается как отсутствующее.
type Values map[string]any

// String возвращает строку или "".
func (v Values) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// Int возвращает целое. JSON и YAML дают float64 и int соответственно.
func (v Values) Int(key string) int {
	switch n := v[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Bool возвращает bool или def.
func (v Values) Bool(key string, def bool) bool {
	if b, ok := v[key].(bool); ok {
		return b
	}
	return def
}

// Map возвращает вложенный объект или nil.
func (v Values) Map(key string) map[string]any {
	m, _ := v[key].(map[string]any)
	return m
}

// StringMap возвращает объект со строковыми значениями.
// Нестроковые значения пропускаются.
func (v Values) StringMap(key string) map[string]string {
	switch m := v[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

// Strings возвращает список строк. Нестроковые элементы пропускаются.
func (v Values) Strings(key string) []string {
	switch list := v[key].(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
