package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Taskflow/internal/orchestrator"
)

// Runner выполняет проход оркестратора.
type Runner interface {
	Orchestrate(ctx context.Context, lockName string, maxDuration time.Duration) (orchestrator.Result, error)
}

// Config — конфигурация Trigger.
type Config struct {
	Spec   string // расписание (default: @every 30s)
	Runner Runner

	// LockName и MaxDuration передаются в Orchestrate; пустые значения
	// означают настройки самого оркестратора.
	LockName    string
	MaxDuration time.Duration

	Location *time.Location // default: UTC
	Logger   *slog.Logger
}

// Trigger вызывает Runner по расписанию.
type Trigger struct {
	spec        string
	runner      Runner
	lockName    string
	maxDuration time.Duration
	location    *time.Location
	logger      *slog.Logger

	ticks   atomic.Int64
	skipped atomic.Int64
}

// New проверяет расписание и создаёт Trigger.
func New(cfg Config) (*Trigger, error) {
	if cfg.Runner == nil {
		return nil, errors.New("trigger: runner is required")
	}

	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := ParseSpec(spec); err != nil {
		return nil, err
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Trigger{
		spec:        spec,
		runner:      cfg.Runner,
		lockName:    cfg.LockName,
		maxDuration: cfg.MaxDuration,
		location:    loc,
		logger:      logger.With("component", "trigger"),
	}, nil
}

// Run запускает расписание и блокируется до отмены ctx.
// Незавершённый проход дожидается окончания перед возвратом.
func (t *Trigger) Run(ctx context.Context) error {
	clog := cronLogger{logger: t.logger}
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(t.location),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	if _, err := c.AddFunc(t.spec, func() {
		if err := t.Tick(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("scheduled orchestrate failed", "error", err)
		}
	}); err != nil {
		return err
	}

	t.logger.Info("trigger started", "spec", t.spec)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	t.logger.Info("trigger stopped", "ticks", t.ticks.Load(), "skipped", t.skipped.Load())
	return nil
}

// Tick выполняет один проход.
func (t *Trigger) Tick(ctx context.Context) error {
	t.ticks.Add(1)

	result, err := t.runner.Orchestrate(ctx, t.lockName, t.maxDuration)
	if err != nil {
		return err
	}
	if !result.Acquired {
		t.skipped.Add(1)
		t.logger.Debug("scheduled orchestrate skipped, another pass is running")
		return nil
	}

	t.logger.Debug("scheduled orchestrate finished", "processed", result.Processed, "yielded", result.Yielded)
	return nil
}

// Stats возвращает число тиков и пропусков из-за занятой блокировки.
func (t *Trigger) Stats() (ticks, skipped int64) {
	return t.ticks.Load(), t.skipped.Load()
}
