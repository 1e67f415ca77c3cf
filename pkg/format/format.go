// Package format renders byte counts, durations and ratios for log lines
// and the shutdown diagnostics report.
package format

import (
	"fmt"
	"time"
)

// Bytes renders b with a binary-unit suffix.
func Bytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %s", float64(b)/float64(div), []string{"KB", "MB", "GB", "TB", "PB"}[exp])
}

// Duration renders d in h/m/s granularity past one second.
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Percentage renders a 0-100 value with one decimal unless it is exact.
func Percentage(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%%", int64(v))
	}
	return fmt.Sprintf("%.1f%%", v)
}

// Ratio renders "healthy/total" style counters.
func Ratio(part, total int) string {
	return fmt.Sprintf("%d/%d", part, total)
}
