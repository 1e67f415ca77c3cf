// Package config carries both configuration layers: the directive file
// that describes servers, locations and upstreams (directives.go,
// parsed by internal/config/directive) and the viper-backed operational
// Config in this file, which layers EMBERD_* environment variables over
// an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort = 8080
	DefaultHost = "0.0.0.0"

	// Watched config files fire their write event before the bytes are
	// all on disk on some platforms; reloads wait this long first.
	fileSettleDelay = 150 * time.Millisecond

	reloadDebounce = 500 * time.Millisecond
)

var (
	lastReload   time.Time
	lastReloadMu sync.Mutex
)

// DefaultConfig is the zero-file configuration: one worker-friendly
// listener, the spooled relay engine, and no backends until the
// directive file declares some.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestLimits: ServerRequestLimits{
				MaxBodySize:   1 << 20, // client_max_body_size 1m
				MaxHeaderSize: 8 << 10,
			},
			RateLimits: ServerRateLimits{
				CleanupInterval: 5 * time.Minute,
			},
		},
		Proxy: ProxyConfig{
			Engine:            "spooled",
			LoadBalancer:      "round-robin",
			ConnectionTimeout: 30 * time.Second,
			ResponseTimeout:   60 * time.Second,
			ReadTimeout:       60 * time.Second,
			MaxRetries:        3,
			RetryBackoff:      500 * time.Millisecond,
			StreamBufferSize:  64 * 1024,
			BusyBufferLimit:   8,
			MaxSpoolFileSize:  1 << 30,
			SpoolDir:          os.TempDir(),
		},
		Cache: CacheConfig{
			Dir:         "cache",
			MaxSize:     10 << 30,
			DefaultTTL:  10 * time.Minute,
			LockTimeout: 5 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Type:            "static",
			RefreshInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the operational Config: defaults, then the YAML file when
// one exists, then EMBERD_* environment variables on top. When
// onConfigChange is non-nil the file is watched and changes trigger a
// debounced callback, the fsnotify counterpart of the HUP reload path.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("emberd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./conf")

	viper.SetEnvPrefix("EMBERD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if file := os.Getenv("EMBERD_CONFIG_FILE"); file != "" {
			viper.SetConfigFile(file)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", file, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if onConfigChange != nil {
		viper.OnConfigChange(func(fsnotify.Event) {
			lastReloadMu.Lock()
			defer lastReloadMu.Unlock()
			now := time.Now()
			if now.Sub(lastReload) < reloadDebounce {
				return
			}
			lastReload = now
			time.Sleep(fileSettleDelay)
			onConfigChange()
		})
		viper.WatchConfig()
	}
	return cfg, nil
}
