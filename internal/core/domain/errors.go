package domain

import (
	"fmt"
	"time"
)

// ErrEndpointNotFound reports a repository lookup for an unknown backend.
type ErrEndpointNotFound struct {
	URL string
}

func (e *ErrEndpointNotFound) Error() string {
	return fmt.Sprintf("endpoint not found: %s", e.URL)
}

// EndpointError wraps a failed repository or selector operation with the
// endpoint it concerned.
type EndpointError struct {
	Err       error
	Operation string
	URL       string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s failed for endpoint %s: %v", e.Operation, e.URL, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

func NewEndpointError(operation, url string, err error) *EndpointError {
	return &EndpointError{Operation: operation, URL: url, Err: err}
}

// HealthCheckError carries enough of the probe outcome that the log line
// alone tells an operator what the checker saw.
type HealthCheckError struct {
	Err                 error
	EndpointURL         string
	EndpointName        string
	StatusCode          int
	Latency             time.Duration
	ConsecutiveFailures int
}

func (e *HealthCheckError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("health check failed for %s (%s): HTTP %d after %v (failures: %d): %v",
			e.EndpointName, e.EndpointURL, e.StatusCode, e.Latency, e.ConsecutiveFailures, e.Err)
	}
	return fmt.Sprintf("health check failed for %s (%s): %v after %v (failures: %d)",
		e.EndpointName, e.EndpointURL, e.Err, e.Latency, e.ConsecutiveFailures)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }

func NewHealthCheckError(endpoint *Endpoint, statusCode int, latency time.Duration, err error) *HealthCheckError {
	return &HealthCheckError{
		EndpointURL:         endpoint.GetURLString(),
		EndpointName:        endpoint.Name,
		StatusCode:          statusCode,
		Latency:             latency,
		ConsecutiveFailures: endpoint.ConsecutiveFailures,
		Err:                 err,
	}
}

// UpstreamError is a failed proxied exchange: which peer, how far the
// relay got, and whether a retry on another peer is still possible.
type UpstreamError struct {
	Err        error
	RequestID  string
	TargetURL  string
	Method     string
	Path       string
	StatusCode int
	Latency    time.Duration
	BytesSent  int64
	Retriable  bool
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream request failed [%s] %s %s -> %s: HTTP %d after %v (%d bytes sent): %v",
			e.RequestID, e.Method, e.Path, e.TargetURL, e.StatusCode, e.Latency, e.BytesSent, e.Err)
	}
	return fmt.Sprintf("upstream request failed [%s] %s %s -> %s: %v after %v (%d bytes sent)",
		e.RequestID, e.Method, e.Path, e.TargetURL, e.Err, e.Latency, e.BytesSent)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// LoadBalancerError reports a selection failure, usually "no routable
// endpoints" after health checks emptied the candidate set.
type LoadBalancerError struct {
	Err           error
	Strategy      string
	EndpointCount int
}

func (e *LoadBalancerError) Error() string {
	return fmt.Sprintf("load balancer %s failed with %d endpoints: %v", e.Strategy, e.EndpointCount, e.Err)
}

func (e *LoadBalancerError) Unwrap() error { return e.Err }
