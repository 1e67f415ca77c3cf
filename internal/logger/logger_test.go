package logger

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/theme"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("fatal"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything-else"))
}

func TestPrettyHandlerRendersAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newPrettyHandler(&buf, slog.LevelDebug, theme.GetTheme(""))
	log := slog.New(h)

	log.Info("request complete", "status", 204, "path", "/healthz")

	out := buf.String()
	assert.Contains(t, out, "request complete")
	assert.Contains(t, out, "status=")
	assert.Contains(t, out, "204")
	assert.Contains(t, out, "/healthz")
}

func TestPrettyHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	h := newPrettyHandler(&buf, slog.LevelWarn, theme.GetTheme(""))
	log := slog.New(h)

	log.Info("quiet")
	require.Empty(t, buf.String())

	log.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestStyledLoggerHealthStatus(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStyledLogger(slog.New(newPrettyHandler(&buf, slog.LevelDebug, theme.GetTheme(""))), theme.GetTheme(""))

	sl.InfoHealthStatus("endpoint", "backend-0", domain.StatusHealthy)
	assert.Contains(t, buf.String(), "backend-0")
	assert.Contains(t, buf.String(), "healthy")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
}
