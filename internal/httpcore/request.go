package httpcore

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	"github.com/emberproxy/ember/internal/config"
	"github.com/emberproxy/ember/internal/core/pool"
)

// ValidateHeader rejects malformed header fields before any phase
// handler sees them; a failure maps to 400 per the protocol-error rule.
func ValidateHeader(h http.Header) error {
	for name, values := range h {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid header field name %q", name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("invalid value for header field %q", name)
			}
		}
	}
	return nil
}

// Location is the matched location-block view the phase engine and
// content handlers consult (FIND_CONFIG's output).
type Location struct {
	Block   *config.LocationBlock
	Content func(r *Request)
}

// BodyState tracks lazy body reading: handlers that need the body call a
// reader that either returns it immediately or schedules the read and
// returns AGAIN.
type BodyState struct {
	Buffered   bool
	Body       []byte
	TempFile   string
	MaxBytes   int64
	ReadCalled bool
	done       atomic.Bool
}

// Request is one HTTP request's complete lifecycle state.
// Lifetime: created when the request line is recognized, destroyed when
// the final filter drains the response and all subrequests complete.
type Request struct {
	ID string

	Method, URI, Proto string
	Header             http.Header
	RemoteAddr         string

	Pool *pool.Pool

	Location *Location
	Body     BodyState

	// Writer is the live client connection's response sink, set by the
	// adapter that bridges an inbound net/http request into the phase
	// engine. Content handlers write through it directly (e.g. streaming
	// a proxied response); Finalize falls back to writing RespHeader plus
	// any "return_body" var itself when nothing has been written yet.
	Writer  http.ResponseWriter
	HTTPReq *http.Request
	written bool

	phase      Phase
	handlerIdx int

	redirectCount int
	subDepth      int

	Status       int
	RespHeader   http.Header
	errored      bool
	finalized    bool
	finalizeOnce sync.Once

	Parent   *Request
	Children []*Request

	Upstream any // per-request upstream state, e.g. the websocket upgrade's connection holder

	cleanups    []func()
	logHandlers []func(r *Request)
	filters     *FilterChain // set by Engine.Run; nil outside an engine

	vars map[string]string

	StartedAt time.Time
}

// New creates a fresh top-level Request owning its own arena Pool.
func New(method, uri, proto, remoteAddr string, header http.Header) *Request {
	return &Request{
		ID:         uuid.NewString(),
		Method:     method,
		URI:        uri,
		Proto:      proto,
		RemoteAddr: remoteAddr,
		Header:     header,
		Pool:       pool.New(pool.DefaultChunkSize),
		RespHeader: make(http.Header),
		vars:       make(map[string]string),
		StartedAt:  time.Now(),
	}
}

// AddCleanup registers a cleanup callback; Finalize runs them in LIFO
// order.
func (r *Request) AddCleanup(fn func()) {
	r.cleanups = append(r.cleanups, fn)
}

// OnLog registers a handler to run in the LOG phase.
func (r *Request) OnLog(fn func(r *Request)) {
	r.logHandlers = append(r.logHandlers, fn)
}

// SetVar caches a variable value for this request's lifetime.
func (r *Request) SetVar(name, value string) { r.vars[name] = value }

// Var returns a cached variable value, or "" if unset.
func (r *Request) Var(name string) string { return r.vars[name] }

// Errored reports whether the request carries the error bit.
func (r *Request) Errored() bool { return r.errored }

// MarkWritten records that a content handler (e.g. the upstream dispatcher)
// has already written status/headers/body directly to Writer, so Finalize
// must not write a second, conflicting response.
func (r *Request) MarkWritten() { r.written = true }

// Finalize drains the filter chain with the chosen status; it is
// idempotent. Cleanups fire LIFO, then the Pool is destroyed, freeing
// every allocation made during the request's lifetime.
//
// If nothing has written to Writer yet (a phase short-circuited before
// CONTENT, or `return` just recorded a body var), Finalize writes the
// framed response itself — this is the one place that always runs no
// matter which phase terminates the request.
func (r *Request) Finalize(status int) {
	r.finalizeOnce.Do(func() {
		r.Status = status
		if status >= 400 {
			r.errored = true
		}
		if r.Writer != nil && !r.written {
			r.written = true
			if r.filters != nil {
				if err := r.filters.RunHeaders(r); err != nil {
					r.Status = http.StatusInternalServerError
					status = r.Status
					r.errored = true
				}
			}
			body := []byte(r.vars["return_body"])
			if r.filters != nil {
				if out, err := r.filters.RunBody(r, body, true); err == nil {
					body = out
				} else {
					r.Status = http.StatusInternalServerError
					status = r.Status
					r.errored = true
					body = nil
				}
			}
			h := r.Writer.Header()
			for k, vv := range r.RespHeader {
				for _, v := range vv {
					h.Add(k, v)
				}
			}
			r.Writer.WriteHeader(status)
			if len(body) > 0 {
				_, _ = r.Writer.Write(body)
			}
		}
		r.finalized = true
		for i := len(r.cleanups) - 1; i >= 0; i-- {
			r.cleanups[i]()
		}
		r.Pool.Destroy()
	})
}

// Finalized reports whether Finalize has already run.
func (r *Request) Finalized() bool { return r.finalized }

// Phase exposes the current phase, primarily for logging/tests.
func (r *Request) Phase() Phase { return r.phase }
