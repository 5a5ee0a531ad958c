package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/orchestrator"
	"github.com/shaiso/Taskflow/internal/store"
)

// maxBodyBytes — предел размера тела запроса.
const maxBodyBytes = 1 << 20

// ListTemplates возвращает последние версии всех шаблонов.
// GET /api/v1/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.engine.ListTemplates(r.Context())
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]TemplateSummary, len(templates))
	for i, t := range templates {
		result[i] = TemplateSummaryFromDomain(t)
	}
	List(w, result, len(result))
}

// PublishTemplate публикует новую версию шаблона.
// POST /api/v1/templates
//
// Тело — JSON или YAML (Content-Type application/yaml).
// Версия с ошибками валидации сохраняется неактивной, ответ 201 в обоих случаях.
func (h *Handler) PublishTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		BadRequest(w, "request body too large or unreadable")
		return
	}

	var t *domain.Template
	if isYAML(r.Header.Get("Content-Type")) {
		t, err = store.ParseTemplateYAML(body)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
	} else {
		t = &domain.Template{}
		if err := json.Unmarshal(body, t); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}
	if t.ID == "" {
		BadRequest(w, "template id is required")
		return
	}

	compiled, err := h.engine.PublishTemplate(r.Context(), t)
	if HandleError(w, h.logger, err, "") {
		return
	}

	diagnostics := compiled.Report.Diagnostics
	if diagnostics == nil {
		diagnostics = []engine.Diagnostic{}
	}
	Created(w, PublishTemplateResponse{
		Template:    compiled.Template,
		Active:      compiled.Template.Active,
		Diagnostics: diagnostics,
	})
}

// StartProcess запускает процесс по шаблону.
// POST /api/v1/templates/{id}/processes
func (h *Handler) StartProcess(w http.ResponseWriter, r *http.Request) {
	templateID := r.PathValue("id")

	var req StartProcessRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && err != io.EOF {
			BadRequest(w, "invalid request body")
			return
		}
	}
	if req.Version < 0 {
		BadRequest(w, "version must be positive")
		return
	}

	process, err := h.engine.NewProcess(r.Context(), templateID, orchestrator.StartOptions{
		Version:   req.Version,
		Variables: req.Variables,
		Initiator: r.Header.Get(ActorHeader),
	})
	if HandleError(w, h.logger, err, "template not found") {
		return
	}

	Created(w, process)
}

func isYAML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}
