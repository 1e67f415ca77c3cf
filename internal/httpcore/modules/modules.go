// Package modules wires the default phase handlers into an
// httpcore.Engine: security checks in PREACCESS, a permissive ACCESS
// stub, and the CONTENT dispatch for `return`, `try_files` and
// `proxy_pass`. It mirrors the way the security chain
// (internal/adapter/security) and the upstream proxy service
// (internal/adapter/proxy) are composed at startup, just driven by the
// phase engine instead of an http.Handler chain.
package modules

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/constants"
	"github.com/emberproxy/ember/internal/core/ports"
	"github.com/emberproxy/ember/internal/httpcore"
)

// ProxyDispatcher is the seam into the upstream engine: httpcore/modules
// knows only that a location can be proxied, not how peers are selected,
// retried or streamed back (internal/adapter/proxy owns all of that).
type ProxyDispatcher interface {
	// Dispatch proxies r per the matched location (upstream name,
	// buffering mode, cache opt-in) and finalizes r with the relayed
	// status once the response is written.
	Dispatch(ctx context.Context, r *httpcore.Request, loc *config.LocationBlock)
}

// Options configures the default module set.
type Options struct {
	Security     ports.SecurityValidator
	Proxy        ProxyDispatcher
	DocumentRoot string

	// HTTPConfig is the parsed `server { location { ... } } }` tree
	// (internal/config.LoadHTTPConfig). When set, Register installs the
	// FIND_CONFIG handler that matches a request's Host header and URI
	// against it, populating r.Location the same way nginx's
	// ngx_http_find_config_phase does.
	HTTPConfig *config.HTTPConfig
}

// Register installs the FIND_CONFIG/PREACCESS/ACCESS/CONTENT handlers
// described above onto e, plus the default response filters: the Server
// header stamp and the Content-Type fallback for engine-framed bodies.
func Register(e *httpcore.Engine, opts Options) {
	if opts.HTTPConfig != nil {
		e.Register(httpcore.PhaseFindConfig, findConfigHandler(opts.HTTPConfig))
	}
	if opts.Security != nil {
		e.Register(httpcore.PhasePreAccess, preAccessHandler(opts.Security))
	}
	e.Register(httpcore.PhaseAccess, accessHandler())
	e.SetContentHandler(contentHandler(opts))

	e.Filters().RegisterHeaderFilter(contentTypeHeaderFilter)
	e.Filters().RegisterHeaderFilter(serverHeaderFilter)
}

// serverHeaderFilter stamps the Server header on every engine-framed
// response. Registered last so it runs first.
func serverHeaderFilter(r *httpcore.Request) error {
	if r.RespHeader.Get("Server") == "" {
		r.RespHeader.Set("Server", "emberd")
	}
	return nil
}

// contentTypeHeaderFilter defaults the Content-Type of `return`-style
// bodies the engine frames itself; handlers that wrote their own
// response bypass Finalize's framing and this filter with it.
func contentTypeHeaderFilter(r *httpcore.Request) error {
	if r.Var("return_body") != "" && r.RespHeader.Get(constants.ContentTypeHeader) == "" {
		r.RespHeader.Set(constants.ContentTypeHeader, constants.ContentTypeText)
	}
	return nil
}

// findConfigHandler matches the request's Host header against the parsed
// server blocks (exact server_name, else the first server carrying "_" or
// no server_name as the default, else the first server block at all), then
// the longest-prefix-matching location within it, mirroring nginx's
// virtual-host + location resolution.
func findConfigHandler(cfg *config.HTTPConfig) httpcore.Handler {
	return func(r *httpcore.Request) (httpcore.Result, int) {
		sb := config.FindServer(cfg, r.Header.Get("Host"))
		if sb == nil {
			return httpcore.ResultDone, http.StatusNotFound
		}
		loc := config.FindLocation(sb, r.URI)
		if loc == nil {
			return httpcore.ResultDone, http.StatusNotFound
		}
		r.Location = &httpcore.Location{Block: loc}
		return httpcore.ResultOK, 0
	}
}

// preAccessHandler runs the security validator chain (rate and size
// limits) and short-circuits the request when it denies. The declared
// body size (Content-Length) and the on-wire header size are measured
// here so the size limiter sees real numbers, and the matched location's
// client_max_body_size tightens the global body cap.
func preAccessHandler(sec ports.SecurityValidator) httpcore.Handler {
	return func(r *httpcore.Request) (httpcore.Result, int) {
		bodySize := declaredBodySize(r)
		req := ports.SecurityRequest{
			ClientID:   r.RemoteAddr,
			Endpoint:   r.URI,
			Method:     r.Method,
			BodySize:   bodySize,
			HeaderSize: headerBytes(r.Header),
		}
		result, err := sec.Validate(context.Background(), req)
		if err != nil {
			return httpcore.ResultDone, http.StatusInternalServerError
		}
		if !result.Allowed {
			if result.ViolationType == constants.ViolationSizeLimit {
				return httpcore.ResultDone, http.StatusRequestEntityTooLarge
			}
			r.RespHeader.Set("Retry-After", strconv.Itoa(result.RetryAfter))
			return httpcore.ResultDone, http.StatusTooManyRequests
		}

		if r.Location != nil && r.Location.Block != nil {
			if limit := r.Location.Block.ClientMaxBodySize; limit > 0 && bodySize > limit {
				return httpcore.ResultDone, http.StatusRequestEntityTooLarge
			}
		}
		return httpcore.ResultOK, 0
	}
}

// declaredBodySize reads the request's Content-Length header; absent or
// malformed lengths count as zero (chunked bodies are bounded later by
// the body reader's own cap).
func declaredBodySize(r *httpcore.Request) int64 {
	cl := r.Header.Get("Content-Length")
	if cl == "" {
		return 0
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// headerBytes approximates the on-wire size of the header block:
// "Name: value\r\n" per field.
func headerBytes(h http.Header) int64 {
	var total int64
	for name, values := range h {
		for _, v := range values {
			total += int64(len(name) + len(v) + 4)
		}
	}
	return total
}

// accessHandler is the default ACCESS phase: allow, matching nginx's
// "satisfy all" default when no access-control directive is configured.
func accessHandler() httpcore.Handler {
	return func(r *httpcore.Request) (httpcore.Result, int) {
		return httpcore.ResultOK, 0
	}
}

// contentHandler implements the CONTENT phase dispatch: `return`,
// `proxy_pass` to a named upstream, and static files via `try_files`, in
// that precedence order, each resolved against the matched Location.
// contentHandler matches the signature Engine.SetContentHandler expects,
// but like every content handler it finalizes r itself: Engine.runContent
// discards the (Result, int) return, driving LOG unconditionally once
// CONTENT returns: CONTENT is the terminal production phase, distinct
// from the earlier gatekeeping phases.
func contentHandler(opts Options) func(r *httpcore.Request) (httpcore.Result, int) {
	return func(r *httpcore.Request) (httpcore.Result, int) {
		if r.Location == nil || r.Location.Block == nil {
			r.Finalize(http.StatusNotFound)
			return httpcore.ResultDone, 0
		}
		block := r.Location.Block

		switch {
		case block.Return != "":
			serveReturn(r, block.Return)
		case block.ProxyPass != "":
			if opts.Proxy == nil {
				r.Finalize(http.StatusBadGateway)
				break
			}
			opts.Proxy.Dispatch(context.Background(), r, block)
		case len(block.TryFiles) > 0:
			serveTryFiles(r, opts.DocumentRoot, block.TryFiles)
		default:
			r.Finalize(http.StatusNotFound)
		}
		return httpcore.ResultDone, 0
	}
}

// serveReturn implements `return CODE [body];`: body may reference
// request variables ($uri, $host, ...), interpolated the same way
// proxy_pass targets are.
func serveReturn(r *httpcore.Request, spec string) {
	fields := strings.SplitN(spec, " ", 2)
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		r.Finalize(http.StatusInternalServerError)
		return
	}
	if len(fields) == 2 {
		body := r.Interpolate(fields[1])
		r.SetVar("return_body", body)
	}
	r.Finalize(code)
}

// serveTryFiles walks candidates in order, serving the first that exists
// under root; the last candidate is conventionally a fallback such as
// `/index.html` or `=404`.
func serveTryFiles(r *httpcore.Request, root string, candidates []string) {
	for _, cand := range candidates {
		if strings.HasPrefix(cand, "=") {
			code, err := strconv.Atoi(cand[1:])
			if err == nil {
				r.Finalize(code)
				return
			}
			continue
		}
		path := root + r.Interpolate(cand)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			r.SetVar("served_file", path)
			if r.Writer != nil && r.HTTPReq != nil {
				http.ServeFile(r.Writer, r.HTTPReq, path)
				r.MarkWritten()
			}
			r.Finalize(http.StatusOK)
			return
		}
	}
	r.Finalize(http.StatusNotFound)
}
