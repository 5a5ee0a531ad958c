package domain

import (
	"time"

	"github.com/google/uuid"
)

// Process — экземпляр шаблона, запущенный с конкретными переменными.
type Process struct {
	// ID — уникальный идентификатор процесса.
	ID uuid.UUID `json:"id"`

	// TemplateID — шаблон, по которому запущен процесс.
	TemplateID string `json:"template_id"`

	// TemplateVersion — версия шаблона. Фиксируется при запуске.
	TemplateVersion int `json:"template_version"`

	// Status — текущий статус.
	Status ProcessStatus `json:"status"`

	// Variables — переменные процесса. Читаются и пишутся handler'ами.
	Variables map[string]any `json:"variables"`

	// StartedAt — время запуска.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения (COMPLETE или CANCELLED).
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MarkComplete переводит процесс в статус COMPLETE.
func (p *Process) MarkComplete(now time.Time) {
	p.Status = ProcessStatusComplete
	p.CompletedAt = &now
}

// MarkCancelled переводит процесс в статус CANCELLED.
func (p *Process) MarkCancelled(now time.Time) {
	p.Status = ProcessStatusCancelled
	p.CompletedAt = &now
}

// IsRunning возвращает true, пока процесс не завершён.
func (p *Process) IsRunning() bool {
	return p.Status == ProcessStatusRunning
}

// CloneVariables возвращает поверхностную копию переменных.
func (p *Process) CloneVariables() map[string]any {
	vars := make(map[string]any, len(p.Variables))
	for k, v := range p.Variables {
		vars[k] = v
	}
	return vars
}
