package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Taskflow/internal/domain"
	"github.com/shaiso/Taskflow/internal/store"
)

// ListProcesses возвращает процессы с фильтрацией.
// GET /api/v1/processes?template_id=...&status=...&limit=...&offset=...
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ProcessFilter{
		TemplateID: q.Get("template_id"),
		Status:     domain.ProcessStatus(q.Get("status")),
		Limit:      50,
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	processes, err := h.engine.ListProcesses(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}
	if processes == nil {
		processes = []domain.Process{}
	}
	List(w, processes, len(processes))
}

// GetProcess возвращает процесс.
// GET /api/v1/processes/{id}
func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "process")
	if !ok {
		return
	}

	process, err := h.engine.GetProcess(r.Context(), id)
	if HandleError(w, h.logger, err, "process not found") {
		return
	}
	Success(w, process)
}

// GetTimeline возвращает хронологию процесса с точки зрения X-Actor-ID.
// GET /api/v1/processes/{id}/timeline
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "process")
	if !ok {
		return
	}

	timeline, err := h.reporter.GetTimeline(r.Context(), id, r.Header.Get(ActorHeader))
	if HandleError(w, h.logger, err, "process not found") {
		return
	}
	Success(w, timeline)
}

// CancelProcess отменяет процесс.
// POST /api/v1/processes/{id}/cancel
func (h *Handler) CancelProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "process")
	if !ok {
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	if err := h.engine.CancelProcess(r.Context(), id); HandleError(w, h.logger, err, "process not found") {
		return
	}

	process, err := h.engine.GetProcess(r.Context(), id)
	if HandleError(w, h.logger, err, "process not found") {
		return
	}
	Success(w, process)
}

// pathUUID разбирает {id} из пути. При ошибке отвечает 400 и возвращает false.
func pathUUID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// requireAdmin пропускает только операторов, если Admins настроен.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.admins == nil {
		return true
	}

	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		Error(w, http.StatusForbidden, ErrCodeAccessDenied, ActorHeader+" header is required")
		return false
	}

	ok, err := h.admins.IsAdmin(r.Context(), actor)
	if err != nil {
		InternalError(w, h.logger, err)
		return false
	}
	if !ok {
		Error(w, http.StatusForbidden, ErrCodeAccessDenied, actor+" is not an operator")
		return false
	}
	return true
}
