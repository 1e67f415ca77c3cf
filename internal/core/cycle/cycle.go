// Package cycle implements the immutable-after-init snapshot of a worker's
// configured world (ngx_cycle_t), replaced atomically on reload: a new
// Cycle is built from the previous one and swapped in; the old Cycle stays
// live until its last reference drains (ref-counted below). What nginx
// keeps as ngx_cycle/ngx_process globals becomes a per-worker context
// explicitly threaded through the event loop.
package cycle

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/emberproxy/ember/internal/core/pool"
)

// SharedZone is a named, size-bounded, cross-worker memory region. The core
// only guarantees every zone is mapped before handlers run; locking
// discipline within a zone is the owning module's business.
type SharedZone struct {
	Name string
	Size int
	Data []byte
}

// Listener is one inherited or freshly bound listening socket.
type Listener struct {
	Addr     string
	Listener net.Listener
	// FD is the raw descriptor, needed to serialise the inherited-socket
	// list across a binary upgrade.
	FD uintptr
}

// ModuleConfig is an opaque, per-module configuration value. The
// ModuleRegistry (see registry.go) knows how to type-assert it back to a
// concrete shape; Cycle only carries it around.
type ModuleConfig any

// Cycle is the immutable snapshot of one generation of a worker's world.
type Cycle struct {
	Hostname    string
	Prefix      string
	ConfPath    string
	Listeners   []*Listener
	SharedZones map[string]*SharedZone
	ModuleConfs map[string]ModuleConfig // keyed by module id

	Pool *pool.Pool

	refs    atomic.Int32
	closers []func()
	once    sync.Once
}

// New constructs a fresh Cycle with its own arena Pool.
func New(prefix, confPath, hostname string) *Cycle {
	c := &Cycle{
		Prefix:      prefix,
		ConfPath:    confPath,
		Hostname:    hostname,
		SharedZones: make(map[string]*SharedZone),
		ModuleConfs: make(map[string]ModuleConfig),
		Pool:        pool.New(pool.DefaultChunkSize),
	}
	c.refs.Store(1)
	return c
}

// FromPrevious builds a new Cycle that shares the previous generation's
// shared zones (the same *SharedZone values). Listeners and module
// configurations are not carried over; the new Cycle starts with none.
func FromPrevious(prev *Cycle) *Cycle {
	next := New(prev.Prefix, prev.ConfPath, prev.Hostname)
	for k, v := range prev.SharedZones {
		next.SharedZones[k] = v
	}
	return next
}

// Acquire increments the reference count; callers must pair with Release.
func (c *Cycle) Acquire() *Cycle {
	c.refs.Add(1)
	return c
}

// Release drops a reference. When the last reference drops, every
// closer registered via AddCloser runs and the arena is
// destroyed. This is how a superseded Cycle "remains live until its last
// reference drains".
func (c *Cycle) Release() {
	if c.refs.Add(-1) > 0 {
		return
	}
	c.once.Do(func() {
		for i := len(c.closers) - 1; i >= 0; i-- {
			c.closers[i]()
		}
		c.Pool.Destroy()
	})
}

// AddCloser registers fn to run once, in LIFO order, when the Cycle's last
// reference drops (e.g. closing listeners that belong only to this
// generation).
func (c *Cycle) AddCloser(fn func()) {
	c.closers = append(c.closers, fn)
}

// Holder atomically swaps the live Cycle pointer so readers never
// observe a half-constructed generation: the replace-on-reload
// mechanism.
type Holder struct {
	v atomic.Pointer[Cycle]
}

// NewHolder wraps an initial Cycle.
func NewHolder(initial *Cycle) *Holder {
	h := &Holder{}
	h.v.Store(initial)
	return h
}

// Load returns the current live Cycle with an extra reference the caller
// must Release when done (safe even if a reload swaps the pointer mid-use).
func (h *Holder) Load() *Cycle {
	c := h.v.Load()
	if c == nil {
		return nil
	}
	return c.Acquire()
}

// Swap installs next as the live Cycle and releases the holder's own
// reference to the previous one (the previous Cycle may still be kept
// alive by in-flight Load() callers holding their own reference).
func (h *Holder) Swap(next *Cycle) *Cycle {
	prev := h.v.Swap(next)
	if prev != nil {
		prev.Release()
	}
	return prev
}
