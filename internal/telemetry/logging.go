package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel разбирает LOG_LEVEL без учёта регистра: debug, info, warn, error.
// Пустое или неизвестное значение даёт INFO.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger создаёт логгер по LOG_LEVEL и LOG_FORMAT (json по умолчанию, text).
// На уровне DEBUG в записи добавляется source.
func NewLogger(w io.Writer, getenv func(string) string, service string) *slog.Logger {
	level := ParseLevel(getenv("LOG_LEVEL"))
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(getenv("LOG_FORMAT"), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// SetupLogger создаёт логгер бинаря в stdout и делает его глобальным.
func SetupLogger(service string) *slog.Logger {
	logger := NewLogger(os.Stdout, os.Getenv, service)
	slog.SetDefault(logger)
	return logger
}

// WithProcessID возвращает логгер с process_id.
func WithProcessID(logger *slog.Logger, processID string) *slog.Logger {
	return logger.With("process_id", processID)
}

// WithEntryID возвращает логгер с entry_id.
func WithEntryID(logger *slog.Logger, entryID string) *slog.Logger {
	return logger.With("entry_id", entryID)
}

// WithTemplateID возвращает логгер с template_id.
func WithTemplateID(logger *slog.Logger, templateID string) *slog.Logger {
	return logger.With("template_id", templateID)
}
