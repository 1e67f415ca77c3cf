package security

import (
	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

// Services is the assembled validator chain handed to the PREACCESS
// phase.
type Services struct {
	Chain   *ports.SecurityChain
	Metrics ports.SecurityMetricsService
}

// Adapters owns the background goroutines behind the chain.
type Adapters struct {
	rateLimiter *RateLimiter
}

func (a *Adapters) Stop() {
	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
}

// NewSecurityServices assembles the size and rate validators from
// configuration. Size runs first: rejecting an oversized request should
// not consume rate budget.
func NewSecurityServices(cfg *config.Config, stats ports.StatsCollector, log *logger.StyledLogger) (*Services, *Adapters) {
	metrics := NewMetricsService(stats)

	sizeLimiter := NewSizeLimiter(
		cfg.Server.RequestLimits.MaxBodySize,
		cfg.Server.RequestLimits.MaxHeaderSize,
		metrics, log,
	)
	rateLimiter := NewRateLimiter(RateLimiterConfig{
		GlobalPerMinute:    cfg.Server.RateLimits.GlobalRequestsPerMinute,
		PerClientPerMinute: cfg.Server.RateLimits.PerIPRequestsPerMinute,
		Burst:              cfg.Server.RateLimits.BurstSize,
		CleanupInterval:    cfg.Server.RateLimits.CleanupInterval,
	}, metrics, log)

	services := &Services{
		Chain:   ports.NewSecurityChain(sizeLimiter, rateLimiter),
		Metrics: metrics,
	}
	return services, &Adapters{rateLimiter: rateLimiter}
}
