package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

// RelayFunc is one engine attempt against one peer. It must not write
// anything to w before the peer's response headers have been validated,
// so a failed attempt stays retriable.
type RelayFunc func(ctx context.Context, w *TrackingWriter, r *http.Request, ep *domain.Endpoint, stats *ports.RequestStats) error

// TrackingWriter wraps the client-side ResponseWriter so the failover
// loop knows whether headers have reached the wire: once they have, the
// request cannot move to another peer.
type TrackingWriter struct {
	http.ResponseWriter
	headerSent bool
	status     int
	bytes      int64
}

func NewTrackingWriter(w http.ResponseWriter) *TrackingWriter {
	return &TrackingWriter{ResponseWriter: w}
}

func (tw *TrackingWriter) WriteHeader(status int) {
	if tw.headerSent {
		return
	}
	tw.headerSent = true
	tw.status = status
	tw.ResponseWriter.WriteHeader(status)
}

func (tw *TrackingWriter) Write(p []byte) (int, error) {
	if !tw.headerSent {
		tw.WriteHeader(http.StatusOK)
	}
	n, err := tw.ResponseWriter.Write(p)
	tw.bytes += int64(n)
	return n, err
}

func (tw *TrackingWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *TrackingWriter) HeaderSent() bool { return tw.headerSent }
func (tw *TrackingWriter) Status() int      { return tw.status }
func (tw *TrackingWriter) Bytes() int64     { return tw.bytes }

// ErrStatusRetry signals that the peer answered with a status the retry
// policy treats as a failure; the response was not relayed.
type ErrStatusRetry struct {
	Code int
}

func (e *ErrStatusRetry) Error() string {
	return fmt.Sprintf("upstream returned retriable status %d", e.Code)
}

// ExecuteWithFailover runs the next-upstream loop: select a peer, try
// the relay, and on a retriable failure move to another peer until the
// policy's tries or timeout budget runs out. An error after headers have
// reached the client is terminal regardless of policy.
func (b *Base) ExecuteWithFailover(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	stats *ports.RequestStats,
	rlog logger.StyledLogger,
	relay RelayFunc,
) error {
	candidates, err := b.Candidates(ctx, r)
	if err != nil {
		return fmt.Errorf("resolving peers: %w", err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no endpoints available")
	}

	policy := b.PolicyFor(ctx)
	tries := policy.Tries
	if tries <= 0 || tries > len(candidates) {
		tries = len(candidates)
	}
	if !policy.MethodAllowed(r.Method) {
		tries = 1
	}

	deadline := time.Time{}
	if policy.Timeout > 0 {
		deadline = time.Now().Add(policy.Timeout)
	}

	// Buffer the body once so a retry can replay it. PREACCESS size
	// limits have already bounded it.
	var bodyBytes []byte
	if r.Body != nil && r.Body != http.NoBody {
		bodyBytes, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return fmt.Errorf("reading request body: %w", err)
		}
	}

	tw := NewTrackingWriter(w)
	remaining := append([]*domain.Endpoint(nil), candidates...)
	var lastErr error

	for attempt := 0; attempt < tries && len(remaining) > 0; attempt++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		if bodyBytes != nil {
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		selectStart := time.Now()
		ep, selErr := b.Selector.Select(ctx, remaining)
		if selErr != nil {
			if lastErr != nil {
				return lastErr
			}
			return selErr
		}
		stats.SelectionMs += time.Since(selectStart).Milliseconds()
		stats.Attempts++
		stats.EndpointName = ep.Name
		stats.TargetURL = ep.URLString

		b.Selector.IncrementConnections(ep)
		attemptStart := time.Now()
		err = relay(ctx, tw, r, ep, stats)
		b.Selector.DecrementConnections(ep)
		b.RecordOutcome(ep, err, time.Since(attemptStart), tw.Bytes())

		if err == nil {
			return nil
		}
		lastErr = err

		if tw.HeaderSent() {
			// cannot rewind what the client has already seen
			rlog.Warn("upstream failed after headers were sent", "endpoint", ep.Name, "error", err)
			return err
		}
		if IsClientAbort(ctx, err) {
			return err
		}

		var statusErr *ErrStatusRetry
		retriable := false
		switch {
		case AsStatusRetry(err, &statusErr):
			retriable = policy.RetriableStatus(statusErr.Code)
		default:
			retriable = policy.RetriableError(err)
		}
		if !retriable {
			return err
		}

		rlog.Warn("retrying on another peer", "endpoint", ep.Name,
			"attempt", attempt+1, "error", err)
		remaining = removeEndpoint(remaining, ep)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no upstream attempt succeeded")
	}
	return fmt.Errorf("all upstream peers failed: %w", lastErr)
}

// AsStatusRetry is errors.As specialised for *ErrStatusRetry.
func AsStatusRetry(err error, target **ErrStatusRetry) bool {
	for err != nil {
		if e, ok := err.(*ErrStatusRetry); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func removeEndpoint(eps []*domain.Endpoint, drop *domain.Endpoint) []*domain.Endpoint {
	for i, ep := range eps {
		if ep.URLString == drop.URLString {
			copy(eps[i:], eps[i+1:])
			return eps[:len(eps)-1]
		}
	}
	return eps
}
