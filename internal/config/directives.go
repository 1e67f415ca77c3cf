package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/emberproxy/ember/internal/config/directive"
)

// HTTPConfig is the typed tree produced by dispatching the directive
// grammar's `http { ... }` block: virtual servers, their locations, and
// named upstream backends.
type HTTPConfig struct {
	WorkerProcesses int
	WorkerRlimitNofile int
	Servers         []*ServerBlock
	Upstreams       map[string]*UpstreamBlock
}

// ServerBlock is one `server { listen ...; server_name ...; location ...
// }` virtual host.
type ServerBlock struct {
	Listen     []string
	ServerName []string
	Locations  []*LocationBlock
}

// LocationBlock is one `location PATH { ... }`, matched in the FIND_CONFIG
// phase.
type LocationBlock struct {
	Path             string
	ProxyPass        string // upstream name or raw URL
	Return           string // "CODE [body]" for a static `return` content handler
	ClientMaxBodySize int64
	TryFiles         []string

	// ProxyBuffering selects the relay mode for proxied responses:
	// buffered (spooled) when true, the single-buffer shuttle when false.
	ProxyBuffering bool

	// ProxyCache enables the on-disk response cache for this location.
	ProxyCache bool

	// IgnoreClientAbort keeps draining the upstream response (into the
	// cache, when filling) after the client disconnects; off aborts the
	// upstream fetch as soon as the client goes away.
	IgnoreClientAbort bool
}

// UpstreamBlock is one named `upstream NAME { server ...; }` backend pool.
type UpstreamBlock struct {
	Name            string
	LoadBalancer    string // round_robin | least_conn | priority (top tier, health-weighted)
	Servers         []UpstreamServer
	NextUpstream    []string
	NextUpstreamTries   int
	NextUpstreamTimeout time.Duration
}

// UpstreamServer is one `server HOST:PORT [weight=N];` line inside an
// upstream block.
type UpstreamServer struct {
	Address string
	Weight  int
}

// LoadHTTPConfig parses path (the directive-grammar config file, whose
// base directory resolves relative `include` globs) into an HTTPConfig.
func LoadHTTPConfig(path, baseDir string) (*HTTPConfig, *directive.Node, error) {
	root, err := directive.NewParser(baseDir).ParseFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg := &HTTPConfig{
		WorkerProcesses: 1,
		Upstreams:       make(map[string]*UpstreamBlock),
	}

	d := directive.NewDispatcher()
	d.Register("worker_processes", func(n *directive.Node) error {
		if len(n.Args) != 1 {
			return fmt.Errorf("worker_processes takes one argument")
		}
		if n.Args[0] == "auto" {
			cfg.WorkerProcesses = 0 // resolved to NumCPU by the caller
			return nil
		}
		v, err := strconv.Atoi(n.Args[0])
		if err != nil {
			return err
		}
		cfg.WorkerProcesses = v
		return nil
	})
	d.Register("worker_rlimit_nofile", func(n *directive.Node) error {
		v, err := strconv.Atoi(n.Args[0])
		if err != nil {
			return err
		}
		cfg.WorkerRlimitNofile = v
		return nil
	})
	d.Register("http", func(n *directive.Node) error {
		return dispatchHTTPBlock(n, cfg)
	})

	if err := d.Dispatch(root); err != nil {
		return nil, nil, err
	}
	return cfg, root, nil
}

func dispatchHTTPBlock(httpNode *directive.Node, cfg *HTTPConfig) error {
	for _, child := range httpNode.Children {
		switch child.Name {
		case "server":
			sb, err := parseServerBlock(child)
			if err != nil {
				return err
			}
			cfg.Servers = append(cfg.Servers, sb)
		case "upstream":
			ub, err := parseUpstreamBlock(child)
			if err != nil {
				return err
			}
			cfg.Upstreams[ub.Name] = ub
		default:
			return fmt.Errorf("%s:%d: unknown http-level directive %q", child.File, child.Line, child.Name)
		}
	}
	return nil
}

func parseServerBlock(n *directive.Node) (*ServerBlock, error) {
	sb := &ServerBlock{}
	for _, child := range n.Children {
		switch child.Name {
		case "listen":
			sb.Listen = append(sb.Listen, child.Args...)
		case "server_name":
			sb.ServerName = append(sb.ServerName, child.Args...)
		case "location":
			loc, err := parseLocationBlock(child)
			if err != nil {
				return nil, err
			}
			sb.Locations = append(sb.Locations, loc)
		default:
			return nil, fmt.Errorf("%s:%d: unknown server-level directive %q", child.File, child.Line, child.Name)
		}
	}
	return sb, nil
}

func parseLocationBlock(n *directive.Node) (*LocationBlock, error) {
	if len(n.Args) != 1 {
		return nil, fmt.Errorf("%s:%d: location requires exactly one path argument", n.File, n.Line)
	}
	loc := &LocationBlock{Path: n.Args[0], ClientMaxBodySize: 1 << 20, ProxyBuffering: true, IgnoreClientAbort: true}
	for _, child := range n.Children {
		switch child.Name {
		case "ignore_client_abort":
			on, err := parseOnOff(child)
			if err != nil {
				return nil, err
			}
			loc.IgnoreClientAbort = on
		case "proxy_buffering":
			on, err := parseOnOff(child)
			if err != nil {
				return nil, err
			}
			loc.ProxyBuffering = on
		case "proxy_cache":
			on, err := parseOnOff(child)
			if err != nil {
				return nil, err
			}
			loc.ProxyCache = on
		case "proxy_pass":
			if len(child.Args) != 1 {
				return nil, fmt.Errorf("%s:%d: proxy_pass requires one argument", child.File, child.Line)
			}
			loc.ProxyPass = child.Args[0]
		case "return":
			loc.Return = joinArgs(child.Args)
		case "client_max_body_size":
			size, err := units.FromHumanSize(child.Args[0])
			if err != nil {
				return nil, err
			}
			loc.ClientMaxBodySize = size
		case "try_files":
			loc.TryFiles = child.Args
		default:
			return nil, fmt.Errorf("%s:%d: unknown location-level directive %q", child.File, child.Line, child.Name)
		}
	}
	return loc, nil
}

func parseUpstreamBlock(n *directive.Node) (*UpstreamBlock, error) {
	if len(n.Args) != 1 {
		return nil, fmt.Errorf("%s:%d: upstream requires exactly one name argument", n.File, n.Line)
	}
	ub := &UpstreamBlock{Name: n.Args[0], LoadBalancer: "round_robin", NextUpstreamTries: 3, NextUpstreamTimeout: 0}
	for _, child := range n.Children {
		switch child.Name {
		case "server":
			if len(child.Args) == 0 {
				return nil, fmt.Errorf("%s:%d: server requires an address", child.File, child.Line)
			}
			weight := 1
			for _, arg := range child.Args[1:] {
				if v, ok := parseWeightArg(arg); ok {
					weight = v
				}
			}
			ub.Servers = append(ub.Servers, UpstreamServer{Address: child.Args[0], Weight: weight})
		case "load_balancer":
			ub.LoadBalancer = child.Args[0]
		case "next_upstream":
			ub.NextUpstream = child.Args
		case "next_upstream_tries":
			v, err := strconv.Atoi(child.Args[0])
			if err != nil {
				return nil, err
			}
			ub.NextUpstreamTries = v
		case "next_upstream_timeout":
			d, err := time.ParseDuration(child.Args[0])
			if err != nil {
				return nil, err
			}
			ub.NextUpstreamTimeout = d
		default:
			return nil, fmt.Errorf("%s:%d: unknown upstream-level directive %q", child.File, child.Line, child.Name)
		}
	}
	return ub, nil
}

func parseOnOff(n *directive.Node) (bool, error) {
	if len(n.Args) != 1 {
		return false, fmt.Errorf("%s:%d: %s takes on or off", n.File, n.Line, n.Name)
	}
	switch n.Args[0] {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("%s:%d: %s takes on or off, got %q", n.File, n.Line, n.Name, n.Args[0])
}

// EndpointConfigs flattens every upstream block's server lines into the
// operational EndpointConfig shape the discovery adapter consumes, so
// directive-declared backends and YAML-declared ones share one path into
// the repository. A proxy_pass naming a raw URL rather than an upstream
// block becomes a single-member group keyed by that URL.
func (c *HTTPConfig) EndpointConfigs() []EndpointConfig {
	var out []EndpointConfig
	for name, ub := range c.Upstreams {
		for i, srv := range ub.Servers {
			out = append(out, EndpointConfig{
				Name:        fmt.Sprintf("%s-%d", name, i),
				Group:       name,
				URL:         ensureScheme(srv.Address),
				Weight:      srv.Weight,
				MaxFails:    ub.NextUpstreamTries,
				FailTimeout: ub.NextUpstreamTimeout,
			})
		}
	}

	seen := make(map[string]bool)
	for _, sb := range c.Servers {
		for _, loc := range sb.Locations {
			pass := loc.ProxyPass
			if pass == "" || c.Upstreams[pass] != nil || seen[pass] {
				continue
			}
			if !strings.Contains(pass, "://") {
				continue // neither a known upstream nor a URL: a config error caught at dispatch
			}
			seen[pass] = true
			out = append(out, EndpointConfig{
				Name:  pass,
				Group: pass,
				URL:   pass,
			})
		}
	}
	return out
}

func ensureScheme(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}

func parseWeightArg(arg string) (int, bool) {
	const prefix = "weight="
	if len(arg) <= len(prefix) || arg[:len(prefix)] != prefix {
		return 0, false
	}
	v, err := strconv.Atoi(arg[len(prefix):])
	if err != nil {
		return 0, false
	}
	return v, true
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
