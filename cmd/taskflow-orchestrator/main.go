// Taskflow Orchestrator — фоновый запуск проходов оркестратора.
//
// Orchestrator:
//   - Запускает проход по расписанию ORCHESTRATE_CRON
//   - Запускает проход по запросам из очереди orchestrate.requests
//   - Отдаёт /healthz и /metrics
//
// Несколько экземпляров безопасны: проходы сериализуются блокировкой в Redis.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Taskflow/internal/app"
	"github.com/shaiso/Taskflow/internal/config"
	"github.com/shaiso/Taskflow/internal/mq"
	"github.com/shaiso/Taskflow/internal/telemetry"
	"github.com/shaiso/Taskflow/internal/trigger"
)

func main() {
	logger := telemetry.SetupLogger("taskflow-orchestrator")
	logger.Info("starting taskflow-orchestrator")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, "taskflow-orchestrator", prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sched, err := trigger.New(trigger.Config{
		Spec:        cfg.CronSpec,
		Runner:      a.Engine,
		LockName:    cfg.LockName,
		MaxDuration: cfg.MaxDuration,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create trigger", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if a.MQ != nil && !a.MQ.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("rabbitmq disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.OrchAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if a.MQ != nil {
		consumer := mq.NewConsumer(a.MQ, logger, mq.ConsumerConfig{
			Queue: mq.QueueOrchestrateRequests,
			Handler: mq.OrchestrateHandler(func(ctx context.Context, reason string) error {
				result, err := a.Engine.Orchestrate(ctx, cfg.LockName, cfg.MaxDuration)
				if err != nil {
					return err
				}
				logger.Debug("requested orchestrate", "reason", reason, "processed", result.Processed, "acquired", result.Acquired)
				return nil
			}, logger),
		})
		g.Go(func() error {
			if err := consumer.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Warn("RabbitMQ is not configured, running in cron-only mode")
	}

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("orchestrator stopped with error", "error", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("taskflow-orchestrator stopped")
}
