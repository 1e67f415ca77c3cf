package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberproxy/ember/internal/adapter/balancer"
	"github.com/emberproxy/ember/internal/adapter/proxy/cache"
	"github.com/emberproxy/ember/internal/adapter/stats"
	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

// stubDiscovery serves a fixed endpoint set.
type stubDiscovery struct {
	endpoints []*domain.Endpoint
}

func (s *stubDiscovery) GetEndpoints(context.Context) ([]*domain.Endpoint, error) {
	return s.endpoints, nil
}
func (s *stubDiscovery) GetHealthyEndpoints(context.Context) ([]*domain.Endpoint, error) {
	return s.endpoints, nil
}
func (s *stubDiscovery) GetGroupEndpoints(_ context.Context, group string) ([]*domain.Endpoint, error) {
	var out []*domain.Endpoint
	for _, ep := range s.endpoints {
		if ep.Group == group {
			out = append(out, ep)
		}
	}
	return out, nil
}
func (s *stubDiscovery) RefreshEndpoints(context.Context) error { return nil }
func (s *stubDiscovery) Start(context.Context) error            { return nil }
func (s *stubDiscovery) Stop(context.Context) error             { return nil }

func endpointFor(raw string) *domain.Endpoint {
	u, _ := url.Parse(raw)
	return &domain.Endpoint{Name: raw, URL: u, URLString: raw, Status: domain.StatusHealthy, Weight: 1}
}

func testLogger() logger.StyledLogger {
	return *logger.NewPlainStyledLogger(slog.Default())
}

func buildService(t *testing.T, engine string, store *cache.Store, backends ...string) ports.ProxyService {
	t.Helper()
	collector := stats.NewCollector(testLogger())
	sel, err := balancer.NewFactory(collector).Create("round-robin")
	require.NoError(t, err)

	eps := make([]*domain.Endpoint, 0, len(backends))
	for _, b := range backends {
		eps = append(eps, endpointFor(b))
	}

	f := NewFactory(collector, testLogger())
	if store != nil {
		f = f.WithCache(store)
	}
	svc, err := f.Create(engine, &stubDiscovery{endpoints: eps}, sel, &Configuration{
		ConnectionTimeout: time.Second,
		ResponseTimeout:   2 * time.Second,
		ReadTimeout:       2 * time.Second,
		StreamBufferSize:  1024,
		SpoolDir:          t.TempDir(),
		MaxRetries:        3,
	})
	require.NoError(t, err)
	return svc
}

func doProxy(t *testing.T, svc ports.ProxyService, ctx context.Context, method, target string, body io.Reader) (*httptest.ResponseRecorder, *ports.RequestStats, error) {
	t.Helper()
	r := httptest.NewRequest(method, target, body).WithContext(ctx)
	w := httptest.NewRecorder()
	st := &ports.RequestStats{StartTime: time.Now()}
	err := svc.ProxyRequest(ctx, w, r, st, testLogger())
	return w, st, err
}

func TestDirectEngineRelaysResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/thing", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Forwarded-For"))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "hello")
	}))
	defer backend.Close()

	svc := buildService(t, EngineDirect, nil, backend.URL)
	w, st, err := doProxy(t, svc, context.Background(), http.MethodGet, "http://a/api/thing", nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, int64(5), st.TotalBytes)
	assert.Equal(t, 1, st.Attempts)
}

func TestSpooledEngineRelaysLargeResponse(t *testing.T) {
	payload := make([]byte, 512*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer backend.Close()

	svc := buildService(t, EngineSpooled, nil, backend.URL)
	w, st, err := doProxy(t, svc, context.Background(), http.MethodGet, "http://a/big", nil)

	require.NoError(t, err)
	assert.Equal(t, len(payload), w.Body.Len())
	assert.Equal(t, payload[:64], w.Body.Bytes()[:64])
	assert.Equal(t, int64(len(payload)), st.TotalBytes)
}

func TestFailoverToSecondPeer(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close() // connection refused from now on

	var hits atomic.Int64
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "ok")
	}))
	defer alive.Close()

	svc := buildService(t, EngineDirect, nil, deadURL, alive.URL)

	// Round-robin may pick either first; run twice so the dead peer is
	// definitely attempted once.
	for i := 0; i < 2; i++ {
		w, _, err := doProxy(t, svc, context.Background(), http.MethodGet, "http://a/", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", w.Body.String())
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestPostIsNotRetriedAcrossPeers(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer alive.Close()

	svc := buildService(t, EngineDirect, nil, deadURL, alive.URL)

	sawFailure := false
	for i := 0; i < 4; i++ {
		_, _, err := doProxy(t, svc, context.Background(), http.MethodPost, "http://a/submit", nil)
		if err != nil {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure, "a POST landing on the dead peer fails rather than replaying")
}

func TestUnknownEngineRejected(t *testing.T) {
	collector := stats.NewCollector(testLogger())
	sel, err := balancer.NewFactory(collector).Create("round-robin")
	require.NoError(t, err)

	_, err = NewFactory(collector, testLogger()).Create("warp-drive", &stubDiscovery{}, sel, &Configuration{})
	require.Error(t, err)
}

func TestSpooledEngineCacheMissThenHit(t *testing.T) {
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"n":1}`)
	}))
	defer backend.Close()

	store, err := cache.New(cache.Config{Dir: t.TempDir(), DefaultTTL: time.Minute, LockTimeout: time.Second},
		logger.NewPlainStyledLogger(slog.Default()))
	require.NoError(t, err)

	svc := buildService(t, EngineSpooled, store, backend.URL)
	ctx := context.WithValue(context.Background(), constants.ContextCacheKey, true)

	w, st, err := doProxy(t, svc, ctx, http.MethodGet, "http://a/data", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, w.Body.String())
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.False(t, st.CacheHit)

	w, st, err = doProxy(t, svc, ctx, http.MethodGet, "http://a/data", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, w.Body.String())
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.True(t, st.CacheHit)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	assert.Equal(t, int64(1), hits.Load(), "second request served from cache")
}

func TestCacheSkippedForUncacheableContext(t *testing.T) {
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "fresh")
	}))
	defer backend.Close()

	store, err := cache.New(cache.Config{Dir: t.TempDir()}, logger.NewPlainStyledLogger(slog.Default()))
	require.NoError(t, err)

	svc := buildService(t, EngineSpooled, store, backend.URL)

	for i := 0; i < 2; i++ {
		w, _, err := doProxy(t, svc, context.Background(), http.MethodGet, "http://a/live", nil)
		require.NoError(t, err)
		assert.Equal(t, "fresh", w.Body.String())
	}
	assert.Equal(t, int64(2), hits.Load(), "no cache without the location opting in")
}

func TestUpstreamGroupScopesPeers(t *testing.T) {
	inGroup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "grouped")
	}))
	defer inGroup.Close()
	outGroup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "wrong")
	}))
	defer outGroup.Close()

	collector := stats.NewCollector(testLogger())
	sel, err := balancer.NewFactory(collector).Create("round-robin")
	require.NoError(t, err)

	epIn := endpointFor(inGroup.URL)
	epIn.Group = "backend"
	epOut := endpointFor(outGroup.URL)
	epOut.Group = "other"

	svc, err := NewFactory(collector, testLogger()).Create(EngineDirect,
		&stubDiscovery{endpoints: []*domain.Endpoint{epIn, epOut}}, sel, &Configuration{SpoolDir: t.TempDir()})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), constants.ContextUpstreamKey, "backend")
	for i := 0; i < 4; i++ {
		w, _, err := doProxy(t, svc, ctx, http.MethodGet, "http://a/", nil)
		require.NoError(t, err)
		assert.Equal(t, "grouped", w.Body.String())
	}
}
