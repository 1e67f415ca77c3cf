// Package acceptmutex implements the process-shared mutex that
// serialises accept() across sibling workers, in the style of nginx's
// ngx_accept_mutex. Go has no portable cross-process atomic CAS
// primitive without cgo, so unlike nginx's native-atomic fast path we
// always take the portable fallback: an flock(2)-backed file lock via
// golang.org/x/sys/unix, transparent to everything above it.
package acceptmutex

import (
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ThrottleRatio is the active/capacity fraction above which a worker yields
// the mutex contest instead of contending for it ("exceeds 7/8 of
// capacity").
const ThrottleRatio = 7.0 / 8.0

// Mutex serialises accept() across workers via flock on a well-known lock
// file. Held is local to this process: only the worker that last
// successfully Trylock'd believes it holds the mutex.
type Mutex struct {
	file    *os.File
	held    atomic.Bool
	disable atomic.Int32 // ticks remaining before this worker re-contests
}

// Open opens (creating if necessary) the lock file used for the flock
// fallback.
func Open(path string) (*Mutex, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &Mutex{file: f}, nil
}

// ShouldContest reports whether this worker should attempt the mutex this
// tick, given its current connection ratio. A worker above ThrottleRatio
// sets an internal disable counter that must tick down to zero (one
// decrement per Tick call) before it contests again.
func (m *Mutex) ShouldContest(activeRatio float64) bool {
	if m.disable.Load() > 0 {
		return false
	}
	if activeRatio > ThrottleRatio {
		m.disable.Store(1)
		return false
	}
	return true
}

// Tick decrements the disable counter once per event-loop tick.
func (m *Mutex) Tick() {
	for {
		v := m.disable.Load()
		if v <= 0 {
			return
		}
		if m.disable.CompareAndSwap(v, v-1) {
			return
		}
	}
}

// Trylock attempts to take the mutex without blocking. Returns true if this
// worker now holds it.
func (m *Mutex) Trylock() (bool, error) {
	if m.held.Load() {
		return true, nil
	}
	err := unix.Flock(int(m.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}
	m.held.Store(true)
	return true, nil
}

// Unlock releases the mutex if this worker holds it (step 6: "Release
// the accept mutex" after draining the accept queue).
func (m *Mutex) Unlock() error {
	if !m.held.CompareAndSwap(true, false) {
		return nil
	}
	return unix.Flock(int(m.file.Fd()), unix.LOCK_UN)
}

// Held reports whether this worker currently believes it holds the mutex.
func (m *Mutex) Held() bool { return m.held.Load() }

// Close releases the underlying lock file descriptor.
func (m *Mutex) Close() error {
	_ = m.Unlock()
	return m.file.Close()
}
