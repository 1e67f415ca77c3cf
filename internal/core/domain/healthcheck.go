package domain

import (
	"context"
	"time"
)

// HealthCheckResult is one probe outcome, produced by the active checker
// and consumed by the repository's status transition logic.
type HealthCheckResult struct {
	Status     EndpointStatus
	StatusCode int
	Latency    time.Duration
	Error      error
}

// HealthChecker runs the active probe schedule against every endpoint in
// a repository.
type HealthChecker interface {
	StartChecking(ctx context.Context) error
	StopChecking(ctx context.Context) error
	RunOnce(ctx context.Context) // probe everything due now; tests and the reload path
}
