package spooled

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emberproxy/ember/internal/adapter/proxy/cache"
	"github.com/emberproxy/ember/internal/adapter/proxy/core"
	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

// Service is the buffered relay engine: responses are pumped through a
// Pipe (memory buffers plus temp-file spill), optionally teeing into the
// response cache. A backend can set `X-Accel-Buffering: no` to force the
// unbuffered path for one response.
type Service struct {
	base        *core.Base
	pipeCfg     PipeConfig
	readTimeout time.Duration
	store       *cache.Store // nil when caching is disabled
	log         logger.StyledLogger
}

func NewService(base *core.Base, pipeCfg PipeConfig, readTimeout time.Duration, store *cache.Store, log logger.StyledLogger) *Service {
	return &Service{
		base:        base,
		pipeCfg:     pipeCfg,
		readTimeout: readTimeout,
		store:       store,
		log:         log,
	}
}

// cacheable reports whether this request may be served from / written to
// the cache: the matched location opted in (context flag) and the method
// is safe.
func (s *Service) cacheable(ctx context.Context, r *http.Request) bool {
	if s.store == nil {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	on, _ := ctx.Value(constants.ContextCacheKey).(bool)
	return on
}

func (s *Service) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, stats *ports.RequestStats, rlog logger.StyledLogger) error {
	if stats.StartTime.IsZero() {
		stats.StartTime = time.Now()
	}
	defer func() {
		stats.EndTime = time.Now()
		stats.Latency = stats.EndTime.Sub(stats.StartTime).Milliseconds()
	}()

	if !s.cacheable(ctx, r) {
		return s.base.ExecuteWithFailover(ctx, w, r, stats, rlog, s.relayFactory(nil))
	}

	key := cache.Key(r)
	if err := s.store.Serve(w, r); err == nil {
		stats.CacheHit = true
		stats.StatusCode = http.StatusOK
		return nil
	}

	// Miss: one request fills while concurrent misses wait, then re-read
	// the fresh entry. A lock timeout falls through to origin uncached.
	var filled bool
	err := s.store.WithFillLock(key, func() error {
		filled = true
		return s.base.ExecuteWithFailover(ctx, w, r, stats, rlog, s.relayFactory(s.store))
	})
	if err == nil && !filled {
		if serveErr := s.store.Serve(w, r); serveErr == nil {
			stats.CacheHit = true
			stats.StatusCode = http.StatusOK
			return nil
		}
		// filler succeeded but the entry is already gone: go to origin
		return s.base.ExecuteWithFailover(ctx, w, r, stats, rlog, s.relayFactory(nil))
	}
	if err == cache.ErrLockTimeout {
		return s.base.ExecuteWithFailover(ctx, w, r, stats, rlog, s.relayFactory(nil))
	}
	return err
}

// relayFactory builds the per-attempt relay, capturing whether this
// attempt should tee into the cache.
func (s *Service) relayFactory(store *cache.Store) core.RelayFunc {
	return func(ctx context.Context, w *core.TrackingWriter, r *http.Request, ep *domain.Endpoint, stats *ports.RequestStats) error {
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

		var fill *cache.Fill
		if store != nil && resp.StatusCode == http.StatusOK {
			fill, err = store.StartFill(cache.Key(r), resp.StatusCode, w.Header(), 0)
			if err != nil {
				s.log.Warn("cache: fill unavailable, relaying uncached", "error", err)
				fill = nil
			}
		}

		w.Header().Set("X-Cache", "MISS")
		w.WriteHeader(resp.StatusCode)

		// ignore_client_abort off: a dead client kills the upstream
		// fetch (and any fill) instead of draining to completion.
		abortWithClient, _ := ctx.Value(constants.ContextAbortKey).(bool)

		dst := io.Writer(w)
		var sink *teeSink
		if fill != nil {
			sink = &teeSink{client: w, fill: fill, abortWithClient: abortWithClient}
			dst = sink
		}

		body := io.Reader(core.NewTimedReader(resp.Body, s.readTimeout))

		streamStart := time.Now()
		var n int64
		if strings.EqualFold(resp.Header.Get("X-Accel-Buffering"), "no") {
			buf := make([]byte, s.pipeCfg.ReadSize)
			n, err = core.CopyWithFlush(ctx, dst, body, buf, w)
		} else {
			pipe := NewPipe(s.pipeCfg)
			n, err = pipe.Run(ctx, body, dst, w)
		}
		stats.TotalBytes += n
		stats.StreamingMs = time.Since(streamStart).Milliseconds()
		if stats.FirstDataMs == 0 && n > 0 {
			stats.FirstDataMs = time.Since(stats.StartTime).Milliseconds()
		}

		if fill != nil {
			// By default a dead client does not abort the fill: the
			// upstream bytes already pumped are worth keeping for the
			// next requester. With ignore_client_abort off the fill dies
			// with the client.
			completed := err == nil ||
				(!abortWithClient && sink != nil && sink.clientDead && sink.fillErr == nil)
			if completed {
				if commitErr := fill.Commit(); commitErr != nil {
					s.log.Warn("cache: commit failed", "error", commitErr)
				}
			} else {
				fill.Discard()
			}
		}
		if sink != nil && sink.clientDead {
			return sink.clientErr
		}
		return err
	}
}

// teeSink fans the body out to the client and the cache fill. A client
// write failure normally stops client delivery but keeps the fill alive
// so the entry still completes; with abortWithClient set the failure
// propagates and kills the whole relay.
type teeSink struct {
	client          io.Writer
	fill            *cache.Fill
	abortWithClient bool
	clientDead      bool
	clientErr       error
	fillErr         error
}

func (t *teeSink) Write(p []byte) (int, error) {
	if !t.clientDead {
		if _, err := t.client.Write(p); err != nil {
			t.clientDead = true
			t.clientErr = err
		}
	}
	if t.clientDead && t.abortWithClient {
		return 0, t.clientErr
	}
	n, err := t.fill.Write(p)
	if err != nil {
		t.fillErr = err
		return n, err
	}
	return len(p), nil
}

func (s *Service) GetStats(context.Context) (ports.ProxyStats, error) {
	return s.base.AggregateStats(), nil
}

var _ ports.ProxyService = (*Service)(nil)
