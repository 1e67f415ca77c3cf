package core

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emberproxy/ember/internal/adapter/health"
	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
	"github.com/emberproxy/ember/internal/util"
)

// Base carries everything both engines need: peer resolution through
// discovery and the selector, the shared transport, the circuit breaker
// fed by relay outcomes, and the aggregate counters behind GetStats.
type Base struct {
	Discovery ports.DiscoveryService
	Selector  domain.EndpointSelector
	Breaker   *health.CircuitBreaker
	Stats     ports.StatsCollector
	Transport *http.Transport
	Log       logger.StyledLogger

	// Policy is the default next-upstream behaviour; GroupPolicies
	// overrides it per upstream block (the next_upstream directives).
	Policy        RetryPolicy
	GroupPolicies map[string]RetryPolicy

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	latencySumMs       atomic.Int64
}

// NewBase builds the shared half of an engine.
func NewBase(discovery ports.DiscoveryService, selector domain.EndpointSelector,
	stats ports.StatsCollector, log logger.StyledLogger,
	connectTimeout, responseTimeout time.Duration, maxRetries int) *Base {
	return &Base{
		Discovery: discovery,
		Selector:  selector,
		Breaker:   health.NewCircuitBreaker(maxRetries, 10*time.Second),
		Stats:     stats,
		Log:       log,
		Policy:    DefaultRetryPolicy(maxRetries),
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: responseTimeout,
			MaxIdleConns:          128,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true, // relay bytes untouched
		},
	}
}

// PolicyFor resolves the retry policy for the request's upstream group.
func (b *Base) PolicyFor(ctx context.Context) RetryPolicy {
	if group, ok := ctx.Value(constants.ContextUpstreamKey).(string); ok && group != "" {
		if p, found := b.GroupPolicies[group]; found {
			return p
		}
	}
	return b.Policy
}

// Candidates resolves the peer set for a request: the upstream group the
// matched location named (carried in the request context), else every
// routable endpoint. Peers with an open circuit breaker are filtered out
// unless that would empty the set, in which case they are all allowed
// through as a last resort.
func (b *Base) Candidates(ctx context.Context, r *http.Request) ([]*domain.Endpoint, error) {
	var (
		eps []*domain.Endpoint
		err error
	)
	if group, ok := ctx.Value(constants.ContextUpstreamKey).(string); ok && group != "" {
		eps, err = b.Discovery.GetGroupEndpoints(ctx, group)
		if err == nil && len(eps) == 0 {
			// group name unknown to discovery: fall through to all
			eps, err = b.Discovery.GetHealthyEndpoints(ctx)
		}
	} else {
		eps, err = b.Discovery.GetHealthyEndpoints(ctx)
	}
	if err != nil {
		return nil, err
	}

	open := make([]*domain.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if !b.Breaker.IsOpen(ep.URLString) {
			open = append(open, ep)
		}
	}
	if len(open) == 0 {
		return eps, nil
	}
	return open, nil
}

// Hop-by-hop headers stripped from both directions (RFC 7230 §6.1).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// BuildUpstreamRequest is the engine's create_request: clone the inbound
// request, point it at the peer, strip hop-by-hop headers and stamp the
// forwarding headers. The clone is cheap to rebuild for a retry on a
// different peer.
func (b *Base) BuildUpstreamRequest(ctx context.Context, r *http.Request, ep *domain.Endpoint) (*http.Request, error) {
	target := util.JoinURLPath(util.NormaliseBaseURL(ep.URLString), r.URL.RequestURI())

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.Host = r.Host

	clientIP := r.RemoteAddr
	if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		clientIP = host
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		out.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	return out, nil
}

// CopyResponseHeaders writes the upstream's headers through to the
// client, minus hop-by-hop ones.
func CopyResponseHeaders(dst http.Header, src http.Header) {
	for k, vv := range src {
		skip := false
		for _, h := range hopHeaders {
			if strings.EqualFold(k, h) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// RecordOutcome folds one finished relay into the breaker, the stats
// collector and the aggregate counters.
func (b *Base) RecordOutcome(ep *domain.Endpoint, err error, latency time.Duration, bytes int64) {
	b.totalRequests.Add(1)
	b.latencySumMs.Add(latency.Milliseconds())
	status := "success"
	if err != nil {
		status = "error"
		b.failedRequests.Add(1)
		b.Breaker.RecordFailure(ep.URLString)
	} else {
		b.successfulRequests.Add(1)
		b.Breaker.RecordSuccess(ep.URLString)
	}
	b.Stats.RecordRequest(ep, status, latency, bytes)
}

// AggregateStats implements the GetStats half of ports.ProxyService.
func (b *Base) AggregateStats() ports.ProxyStats {
	total := b.totalRequests.Load()
	var avg int64
	if total > 0 {
		avg = b.latencySumMs.Load() / total
	}
	return ports.ProxyStats{
		TotalRequests:      total,
		SuccessfulRequests: b.successfulRequests.Load(),
		FailedRequests:     b.failedRequests.Load(),
		AverageLatency:     avg,
	}
}
