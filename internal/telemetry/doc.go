// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики проходов, handler'ов и API
//   - tracing.go — OpenTelemetry span на каждый вызов handler'а
//
// Metrics и TracingObserver подключаются к оркестратору как observers.
package telemetry
