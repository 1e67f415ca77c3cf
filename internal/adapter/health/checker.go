// Package health watches the backend set two ways: an active HTTP prober
// that drives EndpointStatus transitions in the repository, and a
// passive circuit breaker fed by relay failures that takes a peer out of
// selection after max_fails failures inside one fail_timeout window.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/logger"
	"github.com/emberproxy/ember/internal/util"
)

const (
	defaultCheckInterval = 5 * time.Second
	defaultCheckTimeout  = 2 * time.Second

	// Responses slower than this mark an otherwise-healthy endpoint
	// degraded so the balancer shifts load away before it fails outright.
	degradedLatency = 1 * time.Second
)

// HTTPHealthChecker probes every endpoint in the repository on its own
// interval, stretching the interval by an exponential multiplier while
// an endpoint stays down.
type HTTPHealthChecker struct {
	repo   domain.EndpointRepository
	client *http.Client
	log    *logger.StyledLogger

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	running bool
}

func NewHTTPHealthChecker(repo domain.EndpointRepository, log *logger.StyledLogger) *HTTPHealthChecker {
	return &HTTPHealthChecker{
		repo: repo,
		log:  log,
		client: &http.Client{
			Timeout: defaultCheckTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// StartChecking launches the probe loop. The tick is fine-grained; each
// endpoint carries its own NextCheckTime so differing intervals and
// backoffs coexist on one ticker.
func (c *HTTPHealthChecker) StartChecking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.ticker = time.NewTicker(time.Second)
	c.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-c.ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()
	return nil
}

func (c *HTTPHealthChecker) StopChecking(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.ticker.Stop()
	close(c.done)
	return nil
}

// RunOnce probes every endpoint whose NextCheckTime has arrived.
func (c *HTTPHealthChecker) RunOnce(ctx context.Context) {
	endpoints, err := c.repo.GetAll(ctx)
	if err != nil {
		c.log.Error("health: failed to list endpoints", "error", err)
		return
	}
	now := time.Now()
	for _, ep := range endpoints {
		if ep.NextCheckTime.After(now) {
			continue
		}
		c.probe(ctx, ep)
	}
}

func (c *HTTPHealthChecker) probe(ctx context.Context, ep *domain.Endpoint) {
	target := ep.GetHealthCheckURLString()
	if target == "" {
		target = ep.GetURLString()
	}
	timeout := ep.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	result := c.doProbe(reqCtx, target)
	result.Latency = time.Since(started)

	c.transition(ctx, ep, result)
}

func (c *HTTPHealthChecker) doProbe(ctx context.Context, target string) domain.HealthCheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.HealthCheckResult{Status: domain.StatusOffline, Error: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.HealthCheckResult{Status: domain.StatusOffline, Error: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return domain.HealthCheckResult{Status: domain.StatusHealthy, StatusCode: resp.StatusCode}
	}
	return domain.HealthCheckResult{
		Status:     domain.StatusUnhealthy,
		StatusCode: resp.StatusCode,
		Error:      fmt.Errorf("unexpected status %d", resp.StatusCode),
	}
}

// transition folds one probe result into the endpoint's state and writes
// it back. Failures stretch the probe interval exponentially; a success
// resets it.
func (c *HTTPHealthChecker) transition(ctx context.Context, ep *domain.Endpoint, result domain.HealthCheckResult) {
	interval := ep.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	prev := ep.Status
	now := time.Now()
	ep.LastChecked = now
	ep.LastLatency = result.Latency

	if result.Error == nil {
		ep.ConsecutiveFailures = 0
		ep.BackoffMultiplier = 1
		ep.NextCheckTime = now.Add(interval)
		if result.Latency > degradedLatency {
			ep.Status = domain.StatusDegraded
		} else {
			ep.Status = domain.StatusHealthy
		}
	} else {
		ep.ConsecutiveFailures++
		if ep.BackoffMultiplier < 1 {
			ep.BackoffMultiplier = 1
		} else if ep.BackoffMultiplier < 64 {
			ep.BackoffMultiplier *= 2
		}
		ep.NextCheckTime = now.Add(util.EndpointBackoff(interval, ep.BackoffMultiplier))
		if ep.ConsecutiveFailures >= 3 {
			ep.Status = domain.StatusOffline
		} else {
			ep.Status = domain.StatusUnhealthy
		}
	}

	if err := c.repo.UpdateEndpoint(ctx, ep); err != nil {
		c.log.Error("health: failed to persist endpoint state", "endpoint", ep.Name, "error", err)
		return
	}
	if prev != ep.Status {
		c.log.InfoHealthStatus("health:", ep.Name, ep.Status,
			"latency", result.Latency.String(), "failures", ep.ConsecutiveFailures)
	}
}

var _ domain.HealthChecker = (*HTTPHealthChecker)(nil)
