package config

import "strings"

// FindServer resolves the virtual host for an inbound Host header against
// the parsed `server { server_name ...; }` blocks. An exact
// server_name match wins; failing that, a block declaring "_" or no
// server_name at all serves as the catch-all default, mirroring nginx's
// default_server fallback; failing that, the first configured server
// block is used.
func FindServer(cfg *HTTPConfig, host string) *ServerBlock {
	if cfg == nil {
		return nil
	}
	host = stripPort(host)

	var catchAll *ServerBlock
	for _, sb := range cfg.Servers {
		if len(sb.ServerName) == 0 {
			if catchAll == nil {
				catchAll = sb
			}
			continue
		}
		for _, name := range sb.ServerName {
			if name == host {
				return sb
			}
			if name == "_" && catchAll == nil {
				catchAll = sb
			}
		}
	}
	if catchAll != nil {
		return catchAll
	}
	if len(cfg.Servers) > 0 {
		return cfg.Servers[0]
	}
	return nil
}

// FindLocation picks the longest-prefix-matching `location PATH { ... }`
// within sb for uri's path component, the simple-prefix subset of
// nginx's location matching (regex and exact-match `location =` forms
// are not supported).
func FindLocation(sb *ServerBlock, uri string) *LocationBlock {
	if sb == nil {
		return nil
	}
	path := uri
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	var best *LocationBlock
	bestLen := -1
	for _, loc := range sb.Locations {
		if strings.HasPrefix(path, loc.Path) && len(loc.Path) > bestLen {
			best = loc
			bestLen = len(loc.Path)
		}
	}
	return best
}

func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
