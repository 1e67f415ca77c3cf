package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/httpcore"
	"github.com/emberproxy/ember/internal/logger"
	"github.com/emberproxy/ember/internal/util"
)

// ProxyDispatcher bridges the phase engine's CONTENT-phase proxy_pass
// handling to the ports.ProxyService. httpcore/modules only knows a
// location names an upstream; peer selection, next-upstream retry and
// the relay itself live behind the wrapped service.
type ProxyDispatcher struct {
	svc ports.ProxyService
	log logger.StyledLogger
}

// NewProxyDispatcher builds the modules.ProxyDispatcher a worker.Runtime
// wires into its CONTENT phase.
func NewProxyDispatcher(svc ports.ProxyService, log logger.StyledLogger) *ProxyDispatcher {
	return &ProxyDispatcher{svc: svc, log: log}
}

// Dispatch implements modules.ProxyDispatcher: relay r to the upstream
// its matched location names, honouring the location's buffering and
// cache directives.
func (d *ProxyDispatcher) Dispatch(ctx context.Context, r *httpcore.Request, loc *config.LocationBlock) {
	req := r.HTTPReq
	if req == nil || r.Writer == nil {
		r.Finalize(http.StatusInternalServerError)
		return
	}

	r.SetVar("upstream_pass", loc.ProxyPass)
	ctx = context.WithValue(ctx, constants.ContextUpstreamKey, loc.ProxyPass)
	if loc.ProxyCache {
		ctx = context.WithValue(ctx, constants.ContextCacheKey, true)
	}
	if !loc.IgnoreClientAbort {
		ctx = context.WithValue(ctx, constants.ContextAbortKey, true)
	}

	stats := &ports.RequestStats{
		RequestID: util.GenerateRequestID(),
		StartTime: time.Now(),
	}
	err := d.svc.ProxyRequest(ctx, r.Writer, req.WithContext(ctx), stats, d.log)
	// ProxyRequest already wrote status/headers/body to r.Writer as it
	// streamed the backend's response; Finalize must not write again.
	r.MarkWritten()
	if err != nil {
		r.SetVar("upstream_error", err.Error())
		r.Finalize(http.StatusBadGateway)
		return
	}
	r.SetVar("upstream_addr", stats.TargetURL)
	status := stats.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	r.SetVar("upstream_status", http.StatusText(status))
	r.Finalize(status)
}
