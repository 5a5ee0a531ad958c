// Package config читает настройки сервисов Taskflow из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Taskflow/internal/orchestrator"
	"github.com/shaiso/Taskflow/internal/trigger"
)

// Виды хранилища.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config — настройки всех бинарников. Каждый читает только нужные ему поля.
type Config struct {
	// Storage
	DBURL        string // DB_URL
	Store        string // STORE: postgres | memory (default: postgres)
	TemplatesDir string // TEMPLATES_DIR: YAML-шаблоны вместо таблицы templates

	// Infrastructure
	RedisURL    string // REDIS_URL: пусто — блокировка в таблице orchestrator_locks
	RabbitMQURL string // RABBITMQ_URL: пусто — без событий и AMQP-триггера

	// Orchestrate
	OrchestrateToken      string        // ORCHESTRATE_TOKEN
	LockName              string        // ORCHESTRATE_LOCK_NAME
	LockTTL               time.Duration // ORCHESTRATE_LOCK_TTL
	MaxDuration           time.Duration // ORCHESTRATE_MAX_DURATION
	CronSpec              string        // ORCHESTRATE_CRON
	PostActionOrchestrate bool          // ORCHESTRATE_POST_ACTION (default: true)

	// HTTP
	APIPort          string  // API_PORT (default: 8080)
	OrchPort         string  // ORCH_PORT (default: 8083)
	TriggerRateLimit float64 // TRIGGER_RATE_LIMIT, запросов в секунду (default: 1)
	TriggerBurst     int     // TRIGGER_BURST (default: 5)

	// Assignment
	RolesFile  string   // ROLES_FILE: YAML actor → roles
	AdminRoles []string // ADMIN_ROLES: через запятую
}

// FromEnv читает конфигурацию из окружения процесса.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load читает конфигурацию через getenv. Ошибки разбора всех переменных
// собираются в одну.
func Load(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		DBURL:        getenv("DB_URL"),
		Store:        p.str("STORE", StorePostgres),
		TemplatesDir: getenv("TEMPLATES_DIR"),

		RedisURL:    getenv("REDIS_URL"),
		RabbitMQURL: getenv("RABBITMQ_URL"),

		OrchestrateToken:      getenv("ORCHESTRATE_TOKEN"),
		LockName:              p.str("ORCHESTRATE_LOCK_NAME", orchestrator.DefaultLockName),
		LockTTL:               p.duration("ORCHESTRATE_LOCK_TTL", orchestrator.DefaultLockTTL),
		MaxDuration:           p.duration("ORCHESTRATE_MAX_DURATION", orchestrator.DefaultMaxDuration),
		CronSpec:              p.str("ORCHESTRATE_CRON", trigger.DefaultSpec),
		PostActionOrchestrate: p.boolean("ORCHESTRATE_POST_ACTION", true),

		APIPort:          p.str("API_PORT", "8080"),
		OrchPort:         p.str("ORCH_PORT", "8083"),
		TriggerRateLimit: p.float("TRIGGER_RATE_LIMIT", 1),
		TriggerBurst:     p.integer("TRIGGER_BURST", 5),

		RolesFile:  getenv("ROLES_FILE"),
		AdminRoles: splitList(getenv("ADMIN_ROLES")),
	}

	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		p.errs = append(p.errs, fmt.Errorf("STORE: unknown store %q (want %s or %s)", cfg.Store, StorePostgres, StoreMemory))
	}
	if cfg.LockTTL < cfg.MaxDuration {
		p.errs = append(p.errs, fmt.Errorf("ORCHESTRATE_LOCK_TTL (%s) must not be shorter than ORCHESTRATE_MAX_DURATION (%s)", cfg.LockTTL, cfg.MaxDuration))
	}
	if _, err := trigger.ParseSpec(cfg.CronSpec); err != nil {
		p.errs = append(p.errs, fmt.Errorf("ORCHESTRATE_CRON: %w", err))
	}

	return cfg, errors.Join(p.errs...)
}

// APIAddr возвращает адрес HTTP API.
func (c Config) APIAddr() string { return ":" + c.APIPort }

// OrchAddr возвращает адрес служебного HTTP демона оркестратора.
func (c Config) OrchAddr() string { return ":" + c.OrchPort }

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid bool %q", key, v))
		return def
	}
	return b
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid positive number %q", key, v))
		return def
	}
	return f
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid positive integer %q", key, v))
		return def
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
