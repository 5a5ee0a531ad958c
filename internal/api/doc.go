// Package api содержит HTTP API движка.
//
// Структура:
//   - handler.go             — Handler с зависимостями
//   - routes.go              — регистрация маршрутов
//   - middleware.go          — recovery, logging, metrics, rate limit
//   - response.go            — JSON-конверт и отображение ошибок движка в HTTP
//   - dto.go                 — запросы и ответы
//   - orchestrate_handler.go — POST /orchestrate
//   - template_handler.go    — /templates
//   - process_handler.go     — /processes
//   - queue_handler.go       — /queue
//
// Пользователь передаётся заголовком X-Actor-ID: аутентификация выполняется
// перед API (gateway), движок только проверяет права на задачу.
package api
