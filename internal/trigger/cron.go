package trigger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec — расписание по умолчанию.
const DefaultSpec = "@every 30s"

// specParser принимает пятипольные выражения и дескрипторы (@every, @hourly, ...).
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec разбирает расписание.
func ParseSpec(spec string) (cron.Schedule, error) {
	schedule, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// NextRuns возвращает n ближайших срабатываний после from.
// CLI и лог старта показывают их оператору.
func NextRuns(spec string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, 0, n)
	next := from
	for range n {
		next = schedule.Next(next)
		runs = append(runs, next)
	}
	return runs, nil
}

// cronLogger пишет сообщения cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
