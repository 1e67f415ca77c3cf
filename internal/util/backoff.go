// Package util holds the small shared helpers: backoff arithmetic,
// client-IP extraction, URL joining and terminal detection.
package util

import (
	"math"
	"time"

	"github.com/emberproxy/ember/internal/core/constants"
)

// ExponentialBackoff returns baseDelay * 2^(attempt-1), capped at
// maxDelay, with optional jitter spread around the midpoint.
func ExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration, jitterPercent float64) time.Duration {
	if attempt <= 0 {
		return 0
	}
	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	if jitterPercent > 0 {
		// time-derived pseudo-randomness, good enough for spreading probes
		r := float64(time.Now().UnixNano()%1000) / 1000.0
		backoff += backoff * jitterPercent * (r - 0.5)
	}
	return time.Duration(backoff)
}

// EndpointBackoff stretches a health-check interval by the endpoint's
// accumulated multiplier (1, 2, 4, ...), capped at the global maximum so
// a long-dead backend is still probed once a minute.
func EndpointBackoff(checkInterval time.Duration, multiplier int) time.Duration {
	if multiplier <= 0 {
		return checkInterval
	}
	d := checkInterval * time.Duration(multiplier)
	if d > constants.DefaultMaxBackoff {
		d = constants.DefaultMaxBackoff
	}
	return d
}

// ConnectionRetryBackoff grows linearly with consecutive failures; the
// connect path wants a gentler curve than the probe path.
func ConnectionRetryBackoff(consecutiveFailures int) time.Duration {
	d := time.Duration(consecutiveFailures) * 2 * time.Second
	if d > constants.DefaultMaxBackoff {
		d = constants.DefaultMaxBackoff
	}
	return d
}
