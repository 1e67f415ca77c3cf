package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/emberproxy/ember/internal/logger"
)

// ProxyService relays one client request to a backend. Implementations
// own peer selection, the next-upstream retry loop and the response
// relay; the caller hands in the RequestStats it wants populated plus a
// request-scoped logger, then reads the stats back after ProxyRequest
// returns.
type ProxyService interface {
	ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, stats *RequestStats, rlog logger.StyledLogger) error
	GetStats(ctx context.Context) (ProxyStats, error)
}

// ProxyStats is the service-wide aggregate view.
type ProxyStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatency     int64 // milliseconds
}

// RequestStats is the per-request trace the relay fills in as it goes;
// the access log and the stats collector both read from it.
type RequestStats struct {
	RequestID    string
	StartTime    time.Time
	EndTime      time.Time
	UpstreamName string // upstream group the location named
	EndpointName string // peer the balancer picked
	TargetURL    string
	StatusCode   int
	TotalBytes   int64
	Attempts     int  // peers tried, including the one that answered
	CacheHit     bool // served from the response cache, no peer contacted

	Latency           int64 // end-to-end, milliseconds
	SelectionMs       int64 // peer selection
	BackendResponseMs int64 // connect until response headers
	FirstDataMs       int64 // start until first byte reached the client
	StreamingMs       int64 // body relay
}
