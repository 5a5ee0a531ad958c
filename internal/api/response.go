package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/orchestrator"
	"github.com/shaiso/Taskflow/internal/store"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	ErrCodeInvalidSubmission ErrorCode = "INVALID_SUBMISSION"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — ответ с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Details — диагностики шаблона или нарушения в отправленных данных.
	Details any `json:"details,omitempty"`
}

// DataResponse — успешный ответ.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — ответ со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет 200 с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет 201 с данными.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// List отправляет список.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ошибку.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	ErrorWithDetails(w, status, code, message, nil)
}

// ErrorWithDetails отправляет ошибку с дополнительными данными.
func ErrorWithDetails(w http.ResponseWriter, status int, code ErrorCode, message string, details any) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError логирует err и отправляет 500 без подробностей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleError отображает ошибку движка в HTTP ответ.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	var invalidTemplate *engine.InvalidTemplateError
	var submission *handlers.SubmissionError

	switch {
	case errors.As(err, &invalidTemplate):
		ErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error(), invalidTemplate.Report.Failures())
	case errors.As(err, &submission):
		ErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeInvalidSubmission, err.Error(), submission.Violations)
	case errors.Is(err, orchestrator.ErrInvalidSubmission):
		Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidSubmission, err.Error())
	case errors.Is(err, orchestrator.ErrAccessDenied):
		Error(w, http.StatusForbidden, ErrCodeAccessDenied, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidState):
		Error(w, http.StatusConflict, ErrCodeInvalidState, err.Error())
	case errors.Is(err, orchestrator.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid orchestrate token")
	case errors.Is(err, store.ErrNotFound):
		if notFoundMsg == "" {
			notFoundMsg = err.Error()
		}
		Error(w, http.StatusNotFound, ErrCodeNotFound, notFoundMsg)
	default:
		InternalError(w, logger, err)
	}
	return true
}
