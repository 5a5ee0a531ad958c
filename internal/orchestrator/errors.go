package orchestrator

import (
	"errors"

	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
)

// Ошибки оркестратора.
var (
	// ErrAccessDenied — пользователь не может выполнить задачу.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState — операция не подходит для текущего статуса записи или процесса.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthorized — неверный токен запуска.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrHandlerExecution — handler вернул ошибку или паниковал.
	ErrHandlerExecution = errors.New("handler execution failed")

	// errSettle — переход записи сохранён, но продвинуть процесс не удалось.
	errSettle = errors.New("settle process")
)

// Ошибки других пакетов, которые возвращают методы Orchestrator.
var (
	// ErrValidation — шаблон не прошёл проверку (*engine.InvalidTemplateError).
	ErrValidation = engine.ErrValidation

	// ErrInvalidSubmission — отправленные данные отклонены handler'ом (*handlers.SubmissionError).
	ErrInvalidSubmission = handlers.ErrInvalidSubmission
)
