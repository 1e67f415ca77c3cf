// Package worker assembles one worker process's HTTP surface: the
// accept-balancing gate around its listeners, the
// preallocated connection pool backing that gate's throttle ratio,
// and the phase engine (internal/httpcore) that now drives every accepted
// connection's requests to completion. internal/worker/loop, timer and
// connpool remain the from-scratch epoll primitives; this package is the
// pragmatic Go seam between them and net/http's own connection handling,
// where the per-handler flow maps naturally onto goroutines.
package worker

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/emberproxy/ember/internal/core/cycle"
	"github.com/emberproxy/ember/internal/core/pool"
	"github.com/emberproxy/ember/internal/httpcore"
	"github.com/emberproxy/ember/internal/httpcore/modules"
	"github.com/emberproxy/ember/internal/worker/acceptmutex"
	"github.com/emberproxy/ember/internal/worker/connpool"
)

// WorkerConnections is the worker_connections slot count; no directive
// overrides it.
const WorkerConnections = 1024

// AcceptMutexTickInterval stands in for the event loop's per-tick mutex
// contest at the interval net/http's model can observe.
const AcceptMutexTickInterval = 50 * time.Millisecond

// Runtime is one worker process's HTTP surface.
type Runtime struct {
	Cycle  *cycle.Cycle
	Conns  *connpool.Set
	Mutex  *acceptmutex.Mutex
	Engine *httpcore.Engine
	Log    *slog.Logger

	listeners []*gatedListener
	servers   []*http.Server
	stop      chan struct{}
	fast      atomic.Bool
}

// New builds a worker Runtime driving engineOpts.HTTPConfig's server/location tree
// through engineOpts' module set, serving on every listener in lns. mutex
// may be nil when accept-balancing is disabled (a single worker);
// middleware (the access log) may be nil in tests.
func New(cyc *cycle.Cycle, engineOpts modules.Options, mutex *acceptmutex.Mutex, lns []net.Listener, log *slog.Logger, middleware func(http.Handler) http.Handler) *Runtime {
	rt := &Runtime{
		Cycle:  cyc,
		Conns:  connpool.New(WorkerConnections, pool.DefaultChunkSize),
		Mutex:  mutex,
		Engine: httpcore.NewEngine(),
		Log:    log,
		stop:   make(chan struct{}),
	}
	modules.Register(rt.Engine, engineOpts)

	handler := http.Handler(http.HandlerFunc(rt.serveHTTP))
	if middleware != nil {
		handler = middleware(handler)
	}
	for _, ln := range lns {
		gl := newGatedListener(ln)
		rt.listeners = append(rt.listeners, gl)
		rt.servers = append(rt.servers, &http.Server{Handler: handler})
	}
	return rt
}

// Terminate flags the next shutdown as fast: listeners close and
// in-flight connections are abandoned instead of drained. Callers invoke
// it before cancelling Serve's context when the master sent terminate
// rather than quit.
func (rt *Runtime) Terminate() { rt.fast.Store(true) }

// Serve starts every listener's http.Server behind the connection-pool
// counting wrapper and, when an accept mutex is configured, the tick loop
// that contests it and gates listeners accordingly. It blocks until ctx is
// done, then stops every server: a graceful stop drains in-flight
// requests for up to drain, a fast stop (Terminate) abandons them.
func (rt *Runtime) Serve(ctx context.Context, drain time.Duration) error {
	errCh := make(chan error, len(rt.servers))
	for i, srv := range rt.servers {
		pl := &poolListener{gatedListener: rt.listeners[i], conns: rt.Conns}
		go func(srv *http.Server, pl *poolListener) {
			if err := srv.Serve(pl); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}(srv, pl)
	}

	if rt.Mutex != nil {
		go rt.runMutexTick(ctx)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if rt.Log != nil {
			rt.Log.Error("listener failed", "error", err)
		}
	}

	close(rt.stop)
	if rt.fast.Load() {
		for _, srv := range rt.servers {
			_ = srv.Close()
		}
		return nil
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	for _, srv := range rt.servers {
		_ = srv.Shutdown(shutCtx)
	}
	return nil
}

// runMutexTick is the accept-balancing tick: contest
// the mutex if this worker's active-connection ratio is below the
// throttle, then enable or disable every listener according to
// whether the mutex was won, releasing immediately afterward so siblings
// get a turn.
func (rt *Runtime) runMutexTick(ctx context.Context) {
	ticker := time.NewTicker(AcceptMutexTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.stop:
			return
		case <-ticker.C:
			rt.Mutex.Tick()
			ratio := 0.0
			if cap := rt.Conns.Cap(); cap > 0 {
				ratio = float64(rt.Conns.Active()) / float64(cap)
			}
			holding := false
			if rt.Mutex.ShouldContest(ratio) {
				ok, err := rt.Mutex.Trylock()
				if err != nil {
					if rt.Log != nil {
						rt.Log.Error("accept mutex trylock failed", "error", err)
					}
				} else {
					holding = ok
				}
			}
			for _, gl := range rt.listeners {
				gl.setEnabled(holding)
			}
			if holding {
				_ = rt.Mutex.Unlock()
			}
		}
	}
}

// serveHTTP adapts one inbound net/http request into an httpcore.Request
// and drives it through the phase engine.
func (rt *Runtime) serveHTTP(w http.ResponseWriter, req *http.Request) {
	if err := httpcore.ValidateHeader(req.Header); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	header := req.Header.Clone()
	header.Set("Host", req.Host)

	r := httpcore.New(req.Method, req.URL.RequestURI(), req.Proto, req.RemoteAddr, header)
	r.Writer = w
	r.HTTPReq = req
	defer func() {
		if !r.Finalized() {
			r.Finalize(http.StatusInternalServerError)
		}
	}()
	rt.Engine.Run(r)
}

// poolListener wraps a gatedListener so every accepted connection occupies
// one connpool.Set slot for its lifetime, feeding the throttle ratio
// runMutexTick reads.
type poolListener struct {
	*gatedListener
	conns *connpool.Set
}

func (p *poolListener) Accept() (net.Conn, error) {
	conn, err := p.gatedListener.Accept()
	if err != nil {
		return nil, err
	}
	slot, ok := p.conns.Get()
	if !ok {
		// worker_connections exhausted: refuse rather than exceed the
		// preallocated pool.
		_ = conn.Close()
		return nil, errConnPoolExhausted
	}
	slot.Socket = conn
	return &pooledConn{Conn: conn, slot: slot, conns: p.conns}, nil
}

var errConnPoolExhausted net.Error = errExhausted{}

type errExhausted struct{}

func (errExhausted) Error() string   { return "worker: connection pool exhausted" }
func (errExhausted) Timeout() bool   { return true }
func (errExhausted) Temporary() bool { return true }

// pooledConn returns its slot to the pool's free list on Close; the slot
// is reset for reuse, not freed.
type pooledConn struct {
	net.Conn
	slot  *connpool.Conn
	conns *connpool.Set
}

func (c *pooledConn) Close() error {
	c.conns.Put(c.slot)
	return c.Conn.Close()
}
