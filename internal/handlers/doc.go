// Package handlers содержит контракт TaskHandler и встроенные handler'ы задач.
//
// # Контракт
//
// Handler определяет, что происходит с записью очереди, когда оркестратор
// до неё доходит:
//
//	type TaskHandler interface {
//	    TypeID() string
//	    IsInteractive() bool
//	    Execute(ctx context.Context, ec *ExecutionContext) (ExecutionResult, error)
//	}
//
// Execute возвращает CONTINUE (задача выполнена), SUSPEND (ждём человека)
// или ERROR (ветка остановлена).
//
// Автоматические handler'ы выполняются синхронно внутри прохода оркестратора
// и должны быть идемпотентными. Интерактивные handler'ы реализуют
// InteractiveHandler: Execute только возвращает SUSPEND, форма строится через
// BuildInteractionForm, а результат записывается в ApplySubmission после
// ValidateSubmission.
//
// # Registry
//
// Реестр заполняется явно при старте:
//
//	registry := handlers.DefaultRegistry()
//	registry.Register(myHandler)
//
// # Встроенные типы
//
//   - start, end       — пустые узлы (basic.go)
//   - set_variables    — запись значений в переменные (basic.go)
//   - evaluate         — JMESPath над переменными (evaluate.go)
//   - http             — webhook с Idempotency-Key (http.go)
//   - approval         — согласование approve/reject (approval.go)
//   - form             — форма с проверкой JSON Schema (form.go)
package handlers
