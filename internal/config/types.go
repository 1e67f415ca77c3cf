package config

import "time"

// Config is the operational configuration layer: the knobs that tune the
// process rather than describe virtual hosts. Virtual hosts, locations
// and upstream blocks live in the directive file (see directives.go);
// everything here can also be overridden through EMBERD_* environment
// variables.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Cache       CacheConfig       `yaml:"cache"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Logging     LoggingConfig     `yaml:"logging"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// ServerConfig tunes the listener side of a worker.
type ServerConfig struct {
	Host            string              `yaml:"host"`
	Port            int                 `yaml:"port"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RequestLimits   ServerRequestLimits `yaml:"request_limits"`
	RateLimits      ServerRateLimits    `yaml:"rate_limits"`
}

type ServerRequestLimits struct {
	MaxBodySize   int64 `yaml:"max_body_size"`
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

type ServerRateLimits struct {
	GlobalRequestsPerMinute int           `yaml:"global_requests_per_minute"`
	PerIPRequestsPerMinute  int           `yaml:"per_ip_requests_per_minute"`
	BurstSize               int           `yaml:"burst_size"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	TrustProxyHeaders       bool          `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs       []string      `yaml:"trusted_proxy_cidrs"`
}

// ProxyConfig tunes the upstream engine.
type ProxyConfig struct {
	Engine            string        `yaml:"engine"` // "direct" or "spooled"
	LoadBalancer      string        `yaml:"load_balancer"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	StreamBufferSize  int           `yaml:"stream_buffer_size"`
	BusyBufferLimit   int           `yaml:"busy_buffer_limit"`
	MaxSpoolFileSize  int64         `yaml:"max_spool_file_size"`
	SpoolDir          string        `yaml:"spool_dir"`
}

// CacheConfig tunes the on-disk response cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Dir         string        `yaml:"dir"`
	MaxSize     int64         `yaml:"max_size"`
	DefaultTTL  time.Duration `yaml:"default_ttl"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// DiscoveryConfig names where the backend set comes from. Only static
// (config-declared) discovery is implemented.
type DiscoveryConfig struct {
	Type            string                `yaml:"type"`
	Static          StaticDiscoveryConfig `yaml:"static"`
	RefreshInterval time.Duration         `yaml:"refresh_interval"`
}

type StaticDiscoveryConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig declares one backend server, the operational mirror of
// a `server` line inside an `upstream` block.
type EndpointConfig struct {
	Name           string        `yaml:"name"`
	Group          string        `yaml:"group"`
	URL            string        `yaml:"url"`
	HealthCheckURL string        `yaml:"health_check_url"`
	Weight         int           `yaml:"weight"`
	Priority       int           `yaml:"priority"`
	MaxFails       int           `yaml:"max_fails"`
	FailTimeout    time.Duration `yaml:"fail_timeout"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development and debugging toggles.
type EngineeringConfig struct {
	ShowNerdStats    bool `yaml:"show_nerdstats"`
	PanicOnAssertion bool `yaml:"panic_on_assertion"`
}
