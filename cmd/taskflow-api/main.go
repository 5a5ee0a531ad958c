// Taskflow API — HTTP-интерфейс движка процессов.
//
// API:
//   - Публикует шаблоны и запускает процессы
//   - Принимает данные по интерактивным задачам
//   - Отдаёт хронологию процессов и формы задач
//   - Запускает проход оркестратора по токену
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Taskflow/internal/api"
	"github.com/shaiso/Taskflow/internal/app"
	"github.com/shaiso/Taskflow/internal/config"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

var startTime = time.Now()

func main() {
	logger := telemetry.SetupLogger("taskflow-api")
	logger.Info("starting taskflow-api")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, "taskflow-api", prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var admins api.Admins
	if len(cfg.AdminRoles) > 0 {
		admins = a.Resolver
	}

	handler := api.NewHandler(api.Config{
		Engine:       a.Engine,
		Reporter:     a.Reporter,
		Admins:       admins,
		Metrics:      a.Metrics,
		TriggerRate:  cfg.TriggerRateLimit,
		TriggerBurst: cfg.TriggerBurst,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
