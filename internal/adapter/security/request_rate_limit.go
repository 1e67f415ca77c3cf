// Package security implements the PREACCESS validators: per-client and
// global rate limiting on golang.org/x/time/rate token buckets, and
// request size limits. Validators are composed into a ports.SecurityChain
// and consulted before any content handler runs.
package security

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles per-client-IP and globally. Buckets for idle
// clients are swept on a timer so the map stays bounded.
type RateLimiter struct {
	global  *rate.Limiter
	clients *xsync.Map[string, *clientBucket]

	perClientRate rate.Limit
	burst         int

	metrics ports.SecurityMetricsService
	log     *logger.StyledLogger

	cleanupEvery time.Duration
	done         chan struct{}
}

type RateLimiterConfig struct {
	GlobalPerMinute    int
	PerClientPerMinute int
	Burst              int
	CleanupInterval    time.Duration
}

func NewRateLimiter(cfg RateLimiterConfig, metrics ports.SecurityMetricsService, log *logger.StyledLogger) *RateLimiter {
	perMinuteToRate := func(n int) rate.Limit {
		if n <= 0 {
			return rate.Inf
		}
		return rate.Limit(float64(n) / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}

	rl := &RateLimiter{
		global:        rate.NewLimiter(perMinuteToRate(cfg.GlobalPerMinute), burst*4),
		clients:       xsync.NewMap[string, *clientBucket](),
		perClientRate: perMinuteToRate(cfg.PerClientPerMinute),
		burst:         burst,
		metrics:       metrics,
		log:           log,
		cleanupEvery:  cleanup,
		done:          make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) Name() string { return "rate-limit" }

func (rl *RateLimiter) Validate(ctx context.Context, req ports.SecurityRequest) (ports.SecurityResult, error) {
	if !rl.global.Allow() {
		return rl.deny(ctx, req, "global request rate exceeded"), nil
	}

	bucket, _ := rl.clients.LoadOrCompute(req.ClientID, func() (*clientBucket, bool) {
		return &clientBucket{limiter: rate.NewLimiter(rl.perClientRate, rl.burst)}, false
	})
	bucket.lastSeen = time.Now()

	if !bucket.limiter.Allow() {
		return rl.deny(ctx, req, "client request rate exceeded"), nil
	}
	return ports.SecurityResult{Allowed: true}, nil
}

func (rl *RateLimiter) deny(ctx context.Context, req ports.SecurityRequest, reason string) ports.SecurityResult {
	if rl.metrics != nil {
		_ = rl.metrics.RecordViolation(ctx, ports.SecurityViolation{
			ClientID:      req.ClientID,
			ViolationType: constants.ViolationRateLimit,
			Endpoint:      req.Endpoint,
			Timestamp:     time.Now(),
		})
	}
	rl.log.Debug("rate limit exceeded", "client", req.ClientID, "endpoint", req.Endpoint)
	return ports.SecurityResult{
		Allowed:       false,
		Reason:        reason,
		ViolationType: constants.ViolationRateLimit,
		RetryAfter:    60,
		ResetTime:     time.Now().Add(time.Minute),
	}
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.cleanupEvery)
			rl.clients.Range(func(id string, b *clientBucket) bool {
				if b.lastSeen.Before(cutoff) {
					rl.clients.Delete(id)
				}
				return true
			})
		}
	}
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	select {
	case <-rl.done:
	default:
		close(rl.done)
	}
}

var _ ports.SecurityValidator = (*RateLimiter)(nil)
