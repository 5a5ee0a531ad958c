package api

import (
	"encoding/json"
	"io"
	"net/http"
)

// GetQueueEntry возвращает запись очереди с формой интерактивной задачи.
// GET /api/v1/queue/{id}
func (h *Handler) GetQueueEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "queue entry")
	if !ok {
		return
	}

	detail, err := h.engine.GetQueueEntry(r.Context(), id, r.Header.Get(ActorHeader))
	if HandleError(w, h.logger, err, "queue entry not found") {
		return
	}
	Success(w, detail)
}

// CompleteTask завершает интерактивную задачу от имени X-Actor-ID.
// POST /api/v1/queue/{id}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "queue entry")
	if !ok {
		return
	}

	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		Error(w, http.StatusForbidden, ErrCodeAccessDenied, ActorHeader+" header is required")
		return
	}

	var req CompleteTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && err != io.EOF {
		BadRequest(w, "invalid request body")
		return
	}

	err := h.engine.CompleteTask(r.Context(), id, actor, req.Submission)
	if HandleError(w, h.logger, err, "queue entry not found") {
		return
	}

	detail, err := h.engine.GetQueueEntry(r.Context(), id, actor)
	if HandleError(w, h.logger, err, "queue entry not found") {
		return
	}
	Success(w, detail)
}

// SetTaskStatus — операторская смена статуса (повтор ERROR или отмена).
// PUT /api/v1/queue/{id}/status
func (h *Handler) SetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "queue entry")
	if !ok {
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Status == "" {
		BadRequest(w, "status is required")
		return
	}

	entry, err := h.engine.SetTaskStatus(r.Context(), id, req.Status)
	if HandleError(w, h.logger, err, "queue entry not found") {
		return
	}
	Success(w, entry)
}
