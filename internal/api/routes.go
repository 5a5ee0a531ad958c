package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Metrics(h.metrics),
		Logging(h.logger),
	)
	limited := Chain(chain, RateLimit(h.limiter))

	// Orchestrate
	mux.Handle("POST /api/v1/orchestrate", limited(http.HandlerFunc(h.Orchestrate)))

	// Templates
	mux.Handle("GET /api/v1/templates", chain(http.HandlerFunc(h.ListTemplates)))
	mux.Handle("POST /api/v1/templates", chain(http.HandlerFunc(h.PublishTemplate)))
	mux.Handle("POST /api/v1/templates/{id}/processes", chain(http.HandlerFunc(h.StartProcess)))

	// Processes
	mux.Handle("GET /api/v1/processes", chain(http.HandlerFunc(h.ListProcesses)))
	mux.Handle("GET /api/v1/processes/{id}", chain(http.HandlerFunc(h.GetProcess)))
	mux.Handle("GET /api/v1/processes/{id}/timeline", chain(http.HandlerFunc(h.GetTimeline)))
	mux.Handle("POST /api/v1/processes/{id}/cancel", chain(http.HandlerFunc(h.CancelProcess)))

	// Queue
	mux.Handle("GET /api/v1/queue/{id}", chain(http.HandlerFunc(h.GetQueueEntry)))
	mux.Handle("POST /api/v1/queue/{id}/complete", chain(http.HandlerFunc(h.CompleteTask)))
	mux.Handle("PUT /api/v1/queue/{id}/status", chain(http.HandlerFunc(h.SetTaskStatus)))
}
