package httpcore

import (
	"strconv"

	"github.com/emberproxy/ember/internal/httpcore/variables"
)

// upstreamVarSource is satisfied by an upstream context that wants its
// peer address/status surfaced as $upstream_addr / $upstream_status; kept
// as a narrow interface here because the packages that set r.Upstream
// (internal/httpcore/modules, for one) import httpcore, so importing them
// back would form an import cycle.
type upstreamVarSource interface {
	VarAddr() string
	VarStatus() string
}

// reqVarSource adapts a Request to variables.Source. It can't live as
// methods directly on Request because Request already has fields named
// URI, RemoteAddr and Status.
type reqVarSource struct{ r *Request }

func (s reqVarSource) Host() string       { return s.r.Header.Get("Host") }
func (s reqVarSource) URI() string        { return s.r.URI }
func (s reqVarSource) RemoteAddr() string { return s.r.RemoteAddr }
func (s reqVarSource) Status() string     { return strconv.Itoa(s.r.Status) }

func (s reqVarSource) UpstreamAddr() string {
	if u, ok := s.r.Upstream.(upstreamVarSource); ok {
		return u.VarAddr()
	}
	return ""
}

func (s reqVarSource) UpstreamStatus() string {
	if u, ok := s.r.Upstream.(upstreamVarSource); ok {
		return u.VarStatus()
	}
	return ""
}

// VarSource exposes r as a variables.Source, for logging and for
// interpolating $name references in directive values (proxy_pass, return).
func (r *Request) VarSource() variables.Source { return reqVarSource{r} }

// Interpolate is a convenience wrapper around variables.Interpolate bound
// to this request's variable set.
func (r *Request) Interpolate(value string) string {
	if !variables.HasReference(value) {
		return value
	}
	return variables.Interpolate(value, r.VarSource())
}
