package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/emberproxy/ember/theme"
)

// prettyHandler renders records as single themed console lines:
//
//	15:04:05.000 INFO  message key=value key=value
type prettyHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Level
	theme *theme.Theme
	attrs []slog.Attr
	group string
}

func newPrettyHandler(out io.Writer, level slog.Level, t *theme.Theme) *prettyHandler {
	return &prettyHandler{mu: &sync.Mutex{}, out: out, level: level, theme: t}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *prettyHandler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder

	b.WriteString(pterm.Style{h.theme.Timestamp}.Sprint(rec.Time.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(h.levelTag(rec.Level))
	b.WriteByte(' ')
	b.WriteString(pterm.Style{h.theme.Message}.Sprint(rec.Message))

	writeAttr := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		b.WriteByte(' ')
		b.WriteString(pterm.Style{h.theme.AttrKey}.Sprint(key, "="))
		b.WriteString(pterm.Style{h.theme.AttrValue}.Sprint(a.Value.String()))
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return pterm.Style{h.theme.LevelError}.Sprint("ERROR")
	case level >= slog.LevelWarn:
		return pterm.Style{h.theme.LevelWarn}.Sprint("WARN ")
	case level >= slog.LevelInfo:
		return pterm.Style{h.theme.LevelInfo}.Sprint("INFO ")
	default:
		return pterm.Style{h.theme.LevelDebug}.Sprint("DEBUG")
	}
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// FormatDuration renders a duration the way the console handler likes
// them: millisecond precision below a second, second precision above.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}
