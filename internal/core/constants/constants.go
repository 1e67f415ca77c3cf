// Package constants centralises the handful of wire and context literals
// shared across the request path.
package constants

import "time"

const (
	ContentTypeHeader = "Content-Type"
	ContentTypeJSON   = "application/json"
	ContentTypeText   = "text/plain"
)

// Context keys carried alongside a proxied request.
const (
	ContextRequestIDKey    = "request_id"
	ContextRequestTimeKey  = "request_time"
	ContextOriginalPathKey = "original_path" // URI before internal rewrites, for the access log
	ContextUpstreamKey     = "upstream"      // upstream group named by the matched location
	ContextCacheKey        = "cacheable"     // matched location enabled proxy_cache
	ContextAbortKey        = "abort_on_client_close" // ignore_client_abort off: stop the upstream fetch with the client
)

// Backoff bounds shared by the health checker and connection retry.
const (
	DefaultMaxBackoffMultiplier = 12
	DefaultMaxBackoff           = 60 * time.Second
	DefaultRetryInterval        = 2 * time.Second
)

// Security violation kinds recorded by the stats collector.
const (
	ViolationRateLimit = "rate_limit"
	ViolationSizeLimit = "size_limit"
)
