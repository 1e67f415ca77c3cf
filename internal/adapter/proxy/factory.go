package proxy

import (
	"fmt"

	"github.com/emberproxy/ember/internal/adapter/proxy/cache"
	"github.com/emberproxy/ember/internal/adapter/proxy/core"
	"github.com/emberproxy/ember/internal/adapter/proxy/direct"
	"github.com/emberproxy/ember/internal/adapter/proxy/spooled"
	"github.com/emberproxy/ember/internal/core/domain"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/logger"
)

// Factory assembles a relay engine by name.
type Factory struct {
	stats ports.StatsCollector
	log   logger.StyledLogger
	store *cache.Store
}

func NewFactory(stats ports.StatsCollector, log logger.StyledLogger) *Factory {
	return &Factory{stats: stats, log: log}
}

// WithCache attaches the response cache; only the spooled engine uses
// it (unbuffered relay cannot tee into a file without decoupling the
// speeds it exists to couple).
func (f *Factory) WithCache(store *cache.Store) *Factory {
	f.store = store
	return f
}

// Create builds the named engine over the given peer source and
// selector.
func (f *Factory) Create(engine string, discovery ports.DiscoveryService,
	selector domain.EndpointSelector, cfg *Configuration) (ports.ProxyService, error) {

	conf := cfg.withDefaults()
	base := core.NewBase(discovery, selector, f.stats, f.log,
		conf.ConnectionTimeout, conf.ResponseTimeout, conf.MaxRetries)

	switch engine {
	case EngineDirect:
		return direct.NewService(base, conf.StreamBufferSize, conf.ReadTimeout, f.log), nil
	case EngineSpooled, "":
		pipeCfg := spooled.PipeConfig{
			ReadSize:     conf.StreamBufferSize,
			BusyBuffers:  conf.BusyBufferLimit,
			MaxSpoolSize: conf.MaxSpoolFileSize,
			SpoolDir:     conf.SpoolDir,
		}
		return spooled.NewService(base, pipeCfg, conf.ReadTimeout, f.store, f.log), nil
	}
	return nil, fmt.Errorf("unknown proxy engine %q (want %s or %s)", engine, EngineDirect, EngineSpooled)
}
