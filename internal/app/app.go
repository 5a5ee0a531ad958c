// Package app собирает компоненты Taskflow из config.Config.
//
// Используется бинарями cmd/taskflow-api и cmd/taskflow-orchestrator:
// оба работают с одним хранилищем, одной блокировкой и одной шиной.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Taskflow/internal/assignment"
	"github.com/shaiso/Taskflow/internal/config"
	"github.com/shaiso/Taskflow/internal/engine"
	"github.com/shaiso/Taskflow/internal/handlers"
	"github.com/shaiso/Taskflow/internal/lock"
	"github.com/shaiso/Taskflow/internal/mq"
	"github.com/shaiso/Taskflow/internal/orchestrator"
	"github.com/shaiso/Taskflow/internal/repo"
	"github.com/shaiso/Taskflow/internal/report"
	"github.com/shaiso/Taskflow/internal/store"
	"github.com/shaiso/Taskflow/internal/telemetry"
)

// App — собранный движок и его зависимости.
type App struct {
	Engine   *orchestrator.Orchestrator
	Reporter *report.Reporter
	Resolver *assignment.Resolver
	Metrics  *telemetry.Metrics

	// MQ — nil, если RABBITMQ_URL не задан или брокер недоступен.
	MQ        *mq.Connection
	Publisher *mq.Publisher

	// pool — nil при STORE=memory.
	pool    *pgxpool.Pool
	closers []func() error
	logger  *slog.Logger
}

// Build создаёт App. name попадает в имя AMQP-соединения.
//
// Брокер необязателен: при ошибке подключения движок работает без событий,
// а проходы запускаются по cron и через API. Ошибки хранилища и блокировки
// возвращаются: без них движок работать не может.
func Build(ctx context.Context, cfg config.Config, name string, reg prometheus.Registerer, logger *slog.Logger) (_ *App, err error) {
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	st, templates, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := handlers.DefaultRegistry()
	validator := engine.NewValidator(registry)
	catalog := engine.NewCatalog(templates, validator)

	roles := assignment.NewStaticDirectory(nil)
	if cfg.RolesFile != "" {
		roles, err = assignment.LoadStaticDirectory(cfg.RolesFile)
		if err != nil {
			return nil, err
		}
	}
	a.Resolver = assignment.New(assignment.Config{
		Processes:  st,
		Queue:      st,
		Catalog:    catalog,
		Roles:      roles,
		AdminRoles: cfg.AdminRoles,
		Logger:     logger,
	})
	validator.SetPredicates(a.Resolver)

	locker, err := a.openLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.openMQ(ctx, cfg, name)

	a.Metrics = telemetry.NewMetrics(reg)

	ocfg := orchestrator.Config{
		Catalog:               catalog,
		Store:                 st,
		Registry:              registry,
		Authorizer:            a.Resolver,
		Locker:                locker,
		Observers:             []orchestrator.Observer{a.Metrics, telemetry.NewTracingObserver(nil)},
		Metrics:               a.Metrics,
		LockName:              cfg.LockName,
		LockTTL:               cfg.LockTTL,
		MaxDuration:           cfg.MaxDuration,
		Token:                 cfg.OrchestrateToken,
		PostActionOrchestrate: cfg.PostActionOrchestrate,
		Logger:                logger,
	}
	if a.Publisher != nil {
		ocfg.Events = a.Publisher
		ocfg.Triggers = a.Publisher
	}
	a.Engine = orchestrator.New(ocfg)

	a.Reporter = report.New(report.Config{
		Processes:   st,
		Queue:       st,
		Catalog:     catalog,
		Eligibility: a.Resolver,
		Logger:      logger,
	})

	return a, nil
}

// openStore выбирает хранилище процессов и шаблонов.
// TEMPLATES_DIR имеет приоритет над таблицей templates.
func (a *App) openStore(ctx context.Context, cfg config.Config) (store.Store, store.TemplateRepository, error) {
	var templates store.TemplateRepository
	if cfg.TemplatesDir != "" {
		files, err := store.NewFileTemplates(cfg.TemplatesDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load templates: %w", err)
		}
		a.logger.Info("templates loaded from directory", "dir", cfg.TemplatesDir)
		templates = files
	}

	if cfg.Store == config.StoreMemory {
		a.logger.Warn("using in-memory store, state is lost on restart")
		if templates == nil {
			templates = store.NewMemoryTemplates()
		}
		return store.NewMemory(), templates, nil
	}

	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.logger.Info("database connected")
	a.pool = pool

	if templates == nil {
		templates = repo.NewTemplateRepo(pool)
	}
	return repo.NewStore(pool), templates, nil
}

// openLocker возвращает Redis-блокировку, если задан REDIS_URL.
// Без Redis блокировка хранится в PostgreSQL, а при STORE=memory
// действует только внутри процесса, как и само хранилище.
func (a *App) openLocker(ctx context.Context, cfg config.Config) (lock.Locker, error) {
	if cfg.RedisURL == "" {
		if a.pool != nil {
			a.logger.Info("REDIS_URL is not set, using database lease lock")
			return repo.NewLeaseLocker(a.pool), nil
		}
		a.logger.Warn("REDIS_URL is not set, orchestrator lock is process-local")
		return lock.NewMemory(), nil
	}

	locker, err := lock.NewRedisFromURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, locker.Close)

	if err := locker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.logger.Info("redis connected")
	return locker, nil
}

func (a *App) openMQ(ctx context.Context, cfg config.Config, name string) {
	if cfg.RabbitMQURL == "" {
		return
	}

	conn, err := mq.Dial(cfg.RabbitMQURL, name, a.logger)
	if err != nil {
		a.logger.Warn("RabbitMQ not available, running without events", "error", err)
		return
	}
	a.closers = append(a.closers, conn.Close)
	a.logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, conn); err != nil {
		a.logger.Warn("failed to setup topology", "error", err)
	}

	a.MQ = conn
	a.Publisher = mq.NewPublisher(conn, a.logger)
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
