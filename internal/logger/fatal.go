package logger

import (
	"log/slog"
	"os"
)

// FatalWithLogger logs at error level and exits 1. Reserved for startup
// failures and invariant violations; request handling never calls it.
func FatalWithLogger(log *slog.Logger, msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
