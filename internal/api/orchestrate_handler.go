package api

import (
	"net/http"
	"strings"
)

// TokenHeader — заголовок с общим секретом для запуска прохода.
const TokenHeader = "X-Orchestrate-Token"

// Orchestrate запускает проход оркестратора.
// POST /api/v1/orchestrate
//
// Токен берётся из X-Orchestrate-Token или Authorization: Bearer.
// Занятая блокировка даёт 200 с acquired=false.
func (h *Handler) Orchestrate(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(TokenHeader)
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	result, err := h.engine.Trigger(r.Context(), token)
	if HandleError(w, h.logger, err, "") {
		return
	}

	Success(w, result)
}
