package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/theme"
)

// StyledLogger wraps a slog.Logger with theme-aware convenience methods;
// everything below a worker's wiring code logs through one of these.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger pairs a slog.Logger with a theme.
func NewStyledLogger(logger *slog.Logger, t *theme.Theme) *StyledLogger {
	return &StyledLogger{logger: logger, theme: t}
}

// NewPlainStyledLogger is the test-friendly constructor: default theme,
// no colour decisions to assert around.
func NewPlainStyledLogger(logger *slog.Logger) *StyledLogger {
	return &StyledLogger{logger: logger, theme: theme.GetTheme("")}
}

func (sl *StyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *StyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *StyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *StyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

// With returns a StyledLogger carrying extra context attrs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}

// Underlying exposes the wrapped slog.Logger for APIs that want one.
func (sl *StyledLogger) Underlying() *slog.Logger { return sl.logger }

func (sl *StyledLogger) paint(c pterm.Color, v any) string {
	return pterm.Style{c}.Sprint(v)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.paint(sl.theme.Counts, fmt.Sprintf("(%d)", count))), args...)
}

func (sl *StyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, sl.paint(sl.theme.Endpoint, endpoint)), args...)
}

func (sl *StyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, sl.paint(sl.theme.Endpoint, endpoint)), args...)
}

func (sl *StyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, sl.paint(sl.theme.Endpoint, endpoint)), args...)
}

// InfoHealthStatus renders a health transition with the status painted
// in its semantic colour.
func (sl *StyledLogger) InfoHealthStatus(msg string, name string, status domain.EndpointStatus, args ...any) {
	var c pterm.Color
	switch status {
	case domain.StatusHealthy:
		c = sl.theme.HealthHealthy
	case domain.StatusDegraded, domain.StatusDraining:
		c = sl.theme.HealthDegraded
	case domain.StatusUnhealthy, domain.StatusOffline:
		c = sl.theme.HealthUnhealthy
	default:
		c = sl.theme.HealthUnknown
	}
	sl.logger.Info(fmt.Sprintf("%s %s is %s", msg,
		sl.paint(sl.theme.Endpoint, name), sl.paint(c, status.String())), args...)
}
