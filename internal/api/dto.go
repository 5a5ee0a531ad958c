package api

import (
	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
)

// Template DTOs

// PublishTemplateResponse — результат публикации версии шаблона.
type PublishTemplateResponse struct {
	Template    *domain.Template    `json:"template"`
	Active      bool                `json:"active"`
	Diagnostics []engine.Diagnostic `json:"diagnostics"`
}

// TemplateSummary — строка списка шаблонов.
type TemplateSummary struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Name    string `json:"name,omitempty"`
	Active  bool   `json:"active"`
	Nodes   int    `json:"nodes"`
}

// TemplateSummaryFromDomain конвертирует domain.Template в TemplateSummary.
func TemplateSummaryFromDomain(t domain.Template) TemplateSummary {
	return TemplateSummary{
		ID:      t.ID,
		Version: t.Version,
		Name:    t.Name,
		Active:  t.Active,
		Nodes:   len(t.Nodes),
	}
}

// Process DTOs

// StartProcessRequest — запрос на запуск процесса.
type StartProcessRequest struct {
	// Version — 0 или отсутствует: последняя активная версия.
	Version   int            `json:"version,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Queue DTOs

// CompleteTaskRequest — данные, отправленные пользователем по задаче.
type CompleteTaskRequest struct {
	Submission map[string]any `json:"submission"`
}

// SetStatusRequest — операторская смена статуса записи.
type SetStatusRequest struct {
	Status domain.EntryStatus `json:"status"`
}
