package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/jmespath/go-jmespath"

	"github.com/shaiso/Taskflow/internal/domain"
)

// EnvPrefix — префикс переменных окружения, видимых в шаблонах.
// TASKFLOW_ENV_ERP_TOKEN доступна как {{ .Env.ERP_TOKEN }}.
const EnvPrefix = "TASKFLOW_ENV_"

// environ подменяется в тестах.
var environ = os.Environ

// Context — данные, доступные в конфигурации узла:
//
//	{{ .Variables.amount }}
//	{{ .Process.ID }} {{ .Entry.NodeID }}
//	{{ .Env.ERP_TOKEN }}
//	{{ path "order.items[0].sku" }}
type Context struct {
	Variables map[string]any    `json:"variables"`
	Process   ProcessContext    `json:"process"`
	Entry     EntryContext      `json:"entry"`
	Env       map[string]string `json:"-"`
}

// ProcessContext — данные процесса для шаблонов.
type ProcessContext struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Version    int    `json:"version"`
}

// EntryContext — данные записи очереди для шаблонов.
type EntryContext struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
}

// NewContext собирает Context для записи очереди. p и e могут быть nil.
func NewContext(p *domain.Process, e *domain.QueueEntry) *Context {
	c := &Context{
		Variables: map[string]any{},
		Env:       prefixedEnv(),
	}
	if p != nil {
		if p.Variables != nil {
			c.Variables = p.Variables
		}
		c.Process = ProcessContext{ID: p.ID.String(), TemplateID: p.TemplateID, Version: p.TemplateVersion}
	}
	if e != nil {
		c.Entry = EntryContext{ID: e.ID.String(), NodeID: e.NodeID}
	}
	return c
}

func prefixedEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if name, found := strings.CutPrefix(key, EnvPrefix); found && name != "" {
			env[name] = value
		}
	}
	return env
}

// isEmpty — nil или пустая строка.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// funcs возвращает функции шаблонов. path выполняет JMESPath-запрос
// к переменным процесса.
func (c *Context) funcs() template.FuncMap {
	return template.FuncMap{
		"json": toJSON,
		"fromJSON": func(s string) (any, error) {
			var v any
			err := json.Unmarshal([]byte(s), &v)
			return v, err
		},
		"path": func(expr string) (any, error) {
			return jmespath.Search(expr, c.Variables)
		},
		"default": func(def, val any) any {
			if isEmpty(val) {
				return def
			}
			return val
		},
		"coalesce": func(values ...any) any {
			for _, v := range values {
				if !isEmpty(v) {
					return v
				}
			}
			return nil
		},
		"join": func(sep string, items []string) string { return strings.Join(items, sep) },
		"split": func(sep, s string) []string { return strings.Split(s, sep) },
		"contains": strings.Contains,
		"lower":    strings.ToLower,
		"upper":    strings.ToUpper,
		"trim":     strings.TrimSpace,
		"replace":  strings.ReplaceAll,
	}
}

// Render подставляет данные c в строку. Строка без "{{" возвращается как есть.
func Render(text string, c *Context) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	t, err := template.New("config").Funcs(c.funcs()).Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return sb.String(), nil
}

// RenderValue обходит строки внутри map и slice. Остальные значения
// возвращаются без изменений.
func RenderValue(value any, c *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, c)
	case map[string]any:
		return renderMap(v, c, RenderValue)
	case map[string]string:
		return renderMap(v, c, Render)
	case []any:
		return renderSlice(v, c, RenderValue)
	case []string:
		return renderSlice(v, c, Render)
	default:
		return value, nil
	}
}

func renderMap[V any](m map[string]V, c *Context, render func(V, *Context) (V, error)) (map[string]V, error) {
	out := make(map[string]V, len(m))
	for k, v := range m {
		r, err := render(v, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

func renderSlice[V any](s []V, c *Context, render func(V, *Context) (V, error)) ([]V, error) {
	out := make([]V, len(s))
	for i, v := range s {
		r, err := render(v, c)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// RenderConfig рендерит конфигурацию узла. nil даёт пустую map.
func RenderConfig(config map[string]any, c *Context) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}
	return renderMap(config, c, RenderValue)
}
