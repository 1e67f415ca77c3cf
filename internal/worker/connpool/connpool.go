// Package connpool implements the preallocated connection/event slots
// and the reusable-keepalive LRU: a fixed-size vector with O(1)
// free-list allocation plus an xsync-backed keepalive index, scanned in
// O(k) over the k idle connections to harvest the oldest one when the
// free list runs dry.
package connpool

import (
	"net"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/emberproxy/ember/internal/core/pool"
)

// ProtoKind distinguishes what a Connection's protocol-level context is.
type ProtoKind int

const (
	ProtoNone ProtoKind = iota
	ProtoHTTPServer
	ProtoHTTPUpstream
	ProtoRaw
)

// Conn is one pooled connection slot.
type Conn struct {
	Socket    net.Conn
	Peer      net.Addr
	Local     net.Addr
	Pool      *pool.Pool
	Proto     ProtoKind
	SentBytes int64

	idx      int // slot index, for O(1) free-list return
	inUse    bool
	lastIdle time.Time

	// free-list link
	nextFree int
}

const noNext = -1

// Set is the fixed-size vector of Conn slots plus the reusable-keepalive
// LRU, sized once at worker start from worker_connections.
type Set struct {
	slots     []Conn
	freeHead  int
	reusable  *xsync.Map[int, time.Time] // slot idx -> went-idle time, for LRU harvest
	chunkSize int
}

// New preallocates n connection slots with per-connection arenas of
// chunkSize bytes.
func New(n, chunkSize int) *Set {
	s := &Set{
		slots:     make([]Conn, n),
		reusable:  xsync.NewMap[int, time.Time](),
		chunkSize: chunkSize,
		freeHead:  noNext,
	}
	for i := range s.slots {
		s.slots[i].idx = i
	}
	for i := len(s.slots) - 1; i >= 0; i-- {
		s.slots[i].nextFree = s.freeHead
		s.freeHead = i
	}
	if len(s.slots) == 0 {
		s.freeHead = noNext
	}
	return s
}

// Cap returns worker_connections, the fixed slot count.
func (s *Set) Cap() int { return len(s.slots) }

// Active returns the number of currently in-use slots (O(n); only used for
// the accept-mutex throttle ratio, computed once per tick).
func (s *Set) Active() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].inUse {
			n++
		}
	}
	return n
}

// Get allocates a connection slot in O(1) from the free list, harvesting
// the oldest reusable (idle keep-alive) connection if the free list is
// empty.
func (s *Set) Get() (*Conn, bool) {
	if idx, ok := s.popFree(); ok {
		c := &s.slots[idx]
		c.inUse = true
		if c.Pool == nil {
			c.Pool = pool.New(s.chunkSize)
		} else {
			c.Pool.Reset()
		}
		return c, true
	}
	if idx, ok := s.harvestOldestReusable(); ok {
		c := &s.slots[idx]
		c.Pool.Reset()
		c.inUse = true
		return c, true
	}
	return nil, false
}

func (s *Set) popFree() (int, bool) {
	if s.freeHead == noNext {
		return 0, false
	}
	idx := s.freeHead
	s.freeHead = s.slots[idx].nextFree
	return idx, true
}

// Put returns a slot to the free list in O(1). It is also removed from the
// reusable index if present.
func (s *Set) Put(c *Conn) {
	c.inUse = false
	c.Socket = nil
	s.reusable.Delete(c.idx)
	c.nextFree = s.freeHead
	s.freeHead = c.idx
}

// MarkReusable records an in-use keep-alive connection as idle-and-reusable
// (the ready-to-reuse queue, here an xsync map from slot index to
// went-idle time so the oldest can be found in O(k) over current idle count
// rather than O(n) over all slots).
func (s *Set) MarkReusable(c *Conn) {
	c.lastIdle = time.Now()
	s.reusable.Store(c.idx, c.lastIdle)
}

// UnmarkReusable removes a connection from the reusable queue when it picks
// up a new request and is no longer idle.
func (s *Set) UnmarkReusable(c *Conn) {
	s.reusable.Delete(c.idx)
}

func (s *Set) harvestOldestReusable() (int, bool) {
	oldestIdx := -1
	var oldestAt time.Time
	s.reusable.Range(func(idx int, at time.Time) bool {
		if oldestIdx == -1 || at.Before(oldestAt) {
			oldestIdx, oldestAt = idx, at
		}
		return true
	})
	if oldestIdx == -1 {
		return 0, false
	}
	s.reusable.Delete(oldestIdx)
	s.slots[oldestIdx].Socket = nil
	return oldestIdx, true
}
