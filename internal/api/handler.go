package api

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/shaiso/Taskflow/internal/orchestrator"
	"github.com/shaiso/Taskflow/internal/report"
)

// RequestMetrics учитывает HTTP запросы.
type RequestMetrics interface {
	ObserveRequest(route string, code int, elapsed time.Duration)
}

// Admins определяет операторов. Только они меняют статусы записей
// и отменяют процессы.
type Admins interface {
	IsAdmin(ctx context.Context, actorID string) (bool, error)
}

// Handler — обработчик API с зависимостями.
type Handler struct {
	engine   *orchestrator.Orchestrator
	reporter *report.Reporter
	admins   Admins
	metrics  RequestMetrics
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Config — конфигурация Handler.
type Config struct {
	Engine   *orchestrator.Orchestrator
	Reporter *report.Reporter

	// Admins — nil разрешает операторские действия любому пользователю.
	Admins Admins

	// Metrics — опционально.
	Metrics RequestMetrics

	// TriggerRate и TriggerBurst ограничивают POST /orchestrate.
	// Нулевой TriggerRate снимает ограничение.
	TriggerRate  float64
	TriggerBurst int

	Logger *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.TriggerRate > 0 {
		burst := cfg.TriggerBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.TriggerRate), burst)
	}

	return &Handler{
		engine:   cfg.Engine,
		reporter: cfg.Reporter,
		admins:   cfg.Admins,
		metrics:  cfg.Metrics,
		limiter:  limiter,
		logger:   logger,
	}
}
