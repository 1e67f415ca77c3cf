package util

import (
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether stdout is attached to a TTY.
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// ShouldUseColors honours NO_COLOR and FORCE_COLOR (https://no-color.org)
// before falling back to TTY detection.
func ShouldUseColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force := os.Getenv("FORCE_COLOR"); force != "" {
		return force != "0"
	}
	return IsTerminal()
}
