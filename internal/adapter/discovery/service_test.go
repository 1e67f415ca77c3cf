package discovery

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/logger"
)

type nopChecker struct {
	started, stopped bool
}

func (n *nopChecker) StartChecking(context.Context) error { n.started = true; return nil }
func (n *nopChecker) StopChecking(context.Context) error  { n.stopped = true; return nil }
func (n *nopChecker) RunOnce(context.Context)             {}

func newService(t *testing.T, eps []config.EndpointConfig) (*Service, *nopChecker) {
	t.Helper()
	log := logger.NewPlainStyledLogger(slog.Default())
	repo := NewStaticEndpointRepository(*log)
	checker := &nopChecker{}
	cfg := config.DefaultConfig()
	cfg.Discovery.Static.Endpoints = eps
	cfg.Discovery.RefreshInterval = 0 // no background loop in tests
	return NewStaticDiscoveryService(repo, checker, cfg, log, nil), checker
}

func TestStartSeedsRepositoryAndChecker(t *testing.T) {
	svc, checker := newService(t, []config.EndpointConfig{
		{Name: "a", Group: "backend", URL: "http://10.0.0.1:9000"},
		{Name: "b", Group: "backend", URL: "http://10.0.0.2:9000"},
	})

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(context.Background()) }()

	eps, err := svc.GetEndpoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, eps, 2)
	assert.True(t, checker.started)
}

func TestGetGroupEndpoints(t *testing.T) {
	svc, _ := newService(t, []config.EndpointConfig{
		{Name: "a", Group: "backend", URL: "http://10.0.0.1:9000"},
		{Name: "c", Group: "other", URL: "http://10.0.0.3:9000"},
	})
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(context.Background()) }()

	eps, err := svc.GetGroupEndpoints(context.Background(), "backend")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "a", eps[0].Name)
}

func TestRefreshDropsRemovedEndpoints(t *testing.T) {
	current := []config.EndpointConfig{
		{Name: "a", URL: "http://10.0.0.1:9000"},
		{Name: "b", URL: "http://10.0.0.2:9000"},
	}
	log := logger.NewPlainStyledLogger(slog.Default())
	repo := NewStaticEndpointRepository(*log)
	cfg := config.DefaultConfig()
	cfg.Discovery.RefreshInterval = 0

	svc := NewStaticDiscoveryService(repo, &nopChecker{}, cfg, log, func() []config.EndpointConfig {
		return current
	})
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(context.Background()) }()

	current = current[:1] // drop b
	require.NoError(t, svc.RefreshEndpoints(context.Background()))

	eps, err := svc.GetEndpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "a", eps[0].Name)
}

func TestHealthyEndpointsFilterByStatus(t *testing.T) {
	svc, _ := newService(t, []config.EndpointConfig{
		{Name: "a", URL: "http://10.0.0.1:9000"},
	})
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(context.Background()) }()

	eps, err := svc.GetHealthyEndpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, eps, "unknown status is not routable")

	all, _ := svc.GetEndpoints(context.Background())
	all[0].Status = domain.StatusHealthy

	eps, err = svc.GetHealthyEndpoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, eps, 1)
}

func TestStopIsIdempotent(t *testing.T) {
	svc, checker := newService(t, nil)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	assert.True(t, checker.stopped)

	// restart after stop works
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
}
