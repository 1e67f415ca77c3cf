// Package direct is the unbuffered relay engine: one fixed buffer
// shuttles bytes from the peer to the client, so per-request memory is
// bounded at the buffer size and the client sees bytes as soon as the
// peer produces them. Reads pause whenever the client write blocks,
// coupling the two speeds.
package direct

import (
	"context"
	"net/http"
	"time"

	"github.com/emberproxy/ember/internal/adapter/proxy/core"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
	"github.com/emberproxy/ember/pkg/pool"
)

type Service struct {
	base        *core.Base
	readTimeout time.Duration
	buffers     *pool.Pool[*[]byte]
	log         logger.StyledLogger
}

func NewService(base *core.Base, bufferSize int, readTimeout time.Duration, log logger.StyledLogger) *Service {
	return &Service{
		base:        base,
		readTimeout: readTimeout,
		log:         log,
		buffers: pool.NewLitePool(func() *[]byte {
			b := make([]byte, bufferSize)
			return &b
		}),
	}
}

func (s *Service) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, stats *ports.RequestStats, rlog logger.StyledLogger) error {
	if stats.StartTime.IsZero() {
		stats.StartTime = time.Now()
	}
	err := s.base.ExecuteWithFailover(ctx, w, r, stats, rlog, s.relayOnce)
	stats.EndTime = time.Now()
	stats.Latency = stats.EndTime.Sub(stats.StartTime).Milliseconds()
	return err
}

// relayOnce is one attempt: send, await headers, validate, stream.
func (s *Service) relayOnce(ctx context.Context, w *core.TrackingWriter, r *http.Request, ep *domain.Endpoint, stats *ports.RequestStats) error {
	upstreamReq, err := s.base.BuildUpstreamRequest(ctx, r, ep)
	if err != nil {
		return err
	}

	sendStart := time.Now()
	resp, err := s.base.Transport.RoundTrip(upstreamReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	stats.BackendResponseMs = time.Since(sendStart).Milliseconds()

	if s.base.PolicyFor(ctx).RetriableStatus(resp.StatusCode) {
		return &core.ErrStatusRetry{Code: resp.StatusCode}
	}
	stats.StatusCode = resp.StatusCode

	core.CopyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	bufPtr := s.buffers.Get()
	defer s.buffers.Put(bufPtr)

	streamStart := time.Now()
	reader := core.NewTimedReader(resp.Body, s.readTimeout)
	n, err := core.CopyWithFlush(ctx, w, reader, *bufPtr, w)
	stats.TotalBytes += n
	stats.StreamingMs = time.Since(streamStart).Milliseconds()
	if stats.FirstDataMs == 0 && n > 0 {
		stats.FirstDataMs = time.Since(stats.StartTime).Milliseconds()
	}
	return err
}

func (s *Service) GetStats(context.Context) (ports.ProxyStats, error) {
	return s.base.AggregateStats(), nil
}

var _ ports.ProxyService = (*Service)(nil)
