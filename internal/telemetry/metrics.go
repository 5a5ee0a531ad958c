package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Taskflow/internal/handlers"
)

const namespace = "taskflow"

// Metrics — Prometheus метрики движка.
//
// Реализует orchestrator.PassMetrics и orchestrator.Observer,
// поэтому один экземпляр передаётся в оба поля Config оркестратора.
type Metrics struct {
	passesTotal      *prometheus.CounterVec
	passDuration     prometheus.Histogram
	entriesProcessed prometheus.Counter

	handlerDuration *prometheus.HistogramVec
	handlerOutcomes *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// Для production передаётся prometheus.DefaultRegisterer, в тестах новый Registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrate_passes_total",
			Help:      "Orchestrate invocations by lock outcome",
		}, []string{"lock"}), // lock: acquired, contended
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "orchestrate_pass_duration_seconds",
			Help:      "Duration of orchestrate passes that held the lock",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		entriesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_entries_processed_total",
			Help:      "Queue entries processed by orchestrate passes",
		}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Task handler execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		handlerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_outcomes_total",
			Help:      "Task handler results by outcome",
		}, []string{"type", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.passesTotal,
			m.passDuration,
			m.entriesProcessed,
			m.handlerDuration,
			m.handlerOutcomes,
			m.httpRequests,
			m.httpDuration,
		)
	}
	return m
}

// ObservePass учитывает итог одного вызова Orchestrate.
func (m *Metrics) ObservePass(acquired bool, processed int, elapsed time.Duration) {
	if !acquired {
		m.passesTotal.WithLabelValues("contended").Inc()
		return
	}
	m.passesTotal.WithLabelValues("acquired").Inc()
	m.passDuration.Observe(elapsed.Seconds())
	m.entriesProcessed.Add(float64(processed))
}

// BeforeExecute ничего не делает: длительность приходит в AfterExecute.
func (m *Metrics) BeforeExecute(ctx context.Context, _ *handlers.ExecutionContext) context.Context {
	return ctx
}

// AfterExecute учитывает длительность и исход handler'а.
func (m *Metrics) AfterExecute(_ context.Context, ec *handlers.ExecutionContext, result handlers.ExecutionResult, elapsed time.Duration) {
	typeID := ec.Node.TypeID
	m.handlerDuration.WithLabelValues(typeID).Observe(elapsed.Seconds())
	m.handlerOutcomes.WithLabelValues(typeID, string(result.Outcome)).Inc()
}

// ObserveRequest учитывает HTTP запрос к API.
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
