package modules

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/httpcore"
)

type allowValidator struct{ allowed bool }

func (v allowValidator) Name() string { return "test" }
func (v allowValidator) Validate(ctx context.Context, req ports.SecurityRequest) (ports.SecurityResult, error) {
	if v.allowed {
		return ports.SecurityResult{Allowed: true}, nil
	}
	return ports.SecurityResult{Allowed: false, RetryAfter: 5}, nil
}

type recordingDispatcher struct {
	called   bool
	upstream string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, r *httpcore.Request, loc *config.LocationBlock) {
	d.called = true
	d.upstream = loc.ProxyPass
	r.Finalize(http.StatusOK)
}

func newEngineWithLocation(t *testing.T, opts Options, loc *config.LocationBlock) *httpcore.Engine {
	t.Helper()
	e := httpcore.NewEngine()
	Register(e, opts)
	e.Register(httpcore.PhaseFindConfig, func(r *httpcore.Request) (httpcore.Result, int) {
		r.Location = &httpcore.Location{Block: loc}
		return httpcore.ResultOK, 0
	})
	return e
}

func TestPreAccess_DeniesOverLimit(t *testing.T) {
	e := newEngineWithLocation(t, Options{Security: allowValidator{allowed: false}}, &config.LocationBlock{Return: "200 ok"})
	r := httpcore.New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, http.StatusTooManyRequests, r.Status)
}

func TestContent_ReturnDirective(t *testing.T) {
	e := newEngineWithLocation(t, Options{}, &config.LocationBlock{Return: "204"})
	r := httpcore.New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, 204, r.Status)
}

func TestContent_ProxyPassDispatches(t *testing.T) {
	disp := &recordingDispatcher{}
	e := newEngineWithLocation(t, Options{Proxy: disp}, &config.LocationBlock{ProxyPass: "backend"})
	r := httpcore.New("GET", "/", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	require.True(t, disp.called)
	assert.Equal(t, "backend", disp.upstream)
	assert.Equal(t, http.StatusOK, r.Status)
}

type sizeLimitValidator struct{ max int64 }

func (v sizeLimitValidator) Name() string { return "size" }
func (v sizeLimitValidator) Validate(ctx context.Context, req ports.SecurityRequest) (ports.SecurityResult, error) {
	if req.BodySize > v.max {
		return ports.SecurityResult{Allowed: false, ViolationType: constants.ViolationSizeLimit}, nil
	}
	return ports.SecurityResult{Allowed: true}, nil
}

func TestPreAccess_OversizedBodyIs413(t *testing.T) {
	e := newEngineWithLocation(t, Options{Security: sizeLimitValidator{max: 524288}}, &config.LocationBlock{Return: "200 ok"})

	header := make(http.Header)
	header.Set("Content-Length", "1048576")
	r := httpcore.New("POST", "/big", "HTTP/1.1", "127.0.0.1:1", header)
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, http.StatusRequestEntityTooLarge, r.Status)
}

func TestPreAccess_LocationBodyCapIs413(t *testing.T) {
	loc := &config.LocationBlock{Return: "200 ok", ClientMaxBodySize: 1024}
	e := newEngineWithLocation(t, Options{Security: allowValidator{allowed: true}}, loc)

	header := make(http.Header)
	header.Set("Content-Length", "2048")
	r := httpcore.New("POST", "/big", "HTTP/1.1", "127.0.0.1:1", header)
	e.Run(r)

	require.True(t, r.Finalized())
	assert.Equal(t, http.StatusRequestEntityTooLarge, r.Status)

	// under the cap sails through
	header = make(http.Header)
	header.Set("Content-Length", "512")
	r = httpcore.New("POST", "/small", "HTTP/1.1", "127.0.0.1:1", header)
	e.Run(r)
	assert.Equal(t, http.StatusOK, r.Status)
}

func TestContent_NoMatchedLocationIs404(t *testing.T) {
	e := httpcore.NewEngine()
	Register(e, Options{})
	r := httpcore.New("GET", "/missing", "HTTP/1.1", "127.0.0.1:1", make(http.Header))
	e.Run(r)

	assert.Equal(t, http.StatusNotFound, r.Status)
}
