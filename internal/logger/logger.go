// Package logger builds the process's slog.Logger: JSON or pterm-styled
// console output, optional lumberjack-rotated file output, and the
// StyledLogger wrapper the rest of the tree logs through.
package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/emberproxy/ember/internal/util"
	"github.com/emberproxy/ember/theme"
)

type Config struct {
	Level      string
	LogDir     string
	Theme      string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
	PrettyLogs bool
}

const DefaultLogFileName = "emberd.log"

var (
	rotatorMu sync.Mutex
	rotators  []*lumberjack.Logger
)

// New builds a slog.Logger per cfg. The returned cleanup closes any file
// sink; callers defer it for the process lifetime.
func New(cfg *Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)
	t := theme.GetTheme(cfg.Theme)

	var handlers []slog.Handler
	if cfg.PrettyLogs || util.ShouldUseColors() {
		handlers = append(handlers, newPrettyHandler(os.Stdout, level, t))
	} else {
		handlers = append(handlers, slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	var cleanup func()
	if cfg.FileOutput {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, DefaultLogFileName),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}
		rotatorMu.Lock()
		rotators = append(rotators, rotator)
		rotatorMu.Unlock()

		handlers = append(handlers, slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level}))
		cleanup = func() { _ = rotator.Close() }
	} else {
		cleanup = func() {}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), cleanup, nil
	}
	return slog.New(&fanoutHandler{handlers: handlers}), cleanup, nil
}

// NewWithTheme is New plus the themed StyledLogger most call sites want.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	log, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return log, NewStyledLogger(log, theme.GetTheme(cfg.Theme)), cleanup, nil
}

// Rotate closes every lumberjack-backed log file and reopens it on next
// write; this is the whole implementation of the reopen-logs signal.
func Rotate() error {
	rotatorMu.Lock()
	defer rotatorMu.Unlock()
	var firstErr error
	for _, r := range rotators {
		if err := r.Rotate(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal", "panic":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanoutHandler duplicates records across sinks (console plus file).
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h.handlers {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, sub := range h.handlers {
		if sub.Enabled(ctx, rec.Level) {
			if err := sub.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		out[i] = sub.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: out}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		out[i] = sub.WithGroup(name)
	}
	return &fanoutHandler{handlers: out}
}
