// Package loop implements the per-worker single-threaded, non-blocking
// readiness loop: the epoll wait, the timer wheel, the two posted-event
// queues, and the accept-mutex discipline. One Loop exists
// per worker process; it is never shared across goroutines performing
// concurrent ticks — that would violate "no intra-worker shared mutable
// state requiring locks".
package loop

import (
	"time"

	"github.com/emberproxy/ember/internal/worker/acceptmutex"
	"github.com/emberproxy/ember/internal/worker/timer"
)

// MaxWaitDefault bounds how long a single tick's readiness wait may block
// when no timer is armed, so the loop still notices shutdown signals
// promptly.
const MaxWaitDefault = time.Second

// Loop owns the readiness primitive, the timer wheel and both posted-event
// queues for one worker.
type Loop struct {
	poller  *poller
	timers  *timer.Wheel
	accept  postedQueue
	regular postedQueue

	mutex           *acceptmutex.Mutex
	mutexEnabled    bool
	listenerFDs     map[int]*Conn
	connByTag       map[uint64]*Conn
	nextTag         uint64
	maxWait         time.Duration
	acceptMutexWait time.Duration

	activeConns func() int // reports current active-connection count
	capacity    int        // worker_connections
}

// New builds a Loop. mutex may be nil when accept-balancing is disabled
// (single listener, no sibling workers).
func New(maxEvents int, mutex *acceptmutex.Mutex, capacity int, activeConns func() int) (*Loop, error) {
	p, err := newPoller(maxEvents)
	if err != nil {
		return nil, err
	}
	return &Loop{
		poller:          p,
		timers:          timer.New(),
		mutex:           mutex,
		mutexEnabled:    mutex != nil,
		listenerFDs:     make(map[int]*Conn),
		connByTag:       make(map[uint64]*Conn),
		maxWait:         MaxWaitDefault,
		acceptMutexWait: 500 * time.Millisecond,
		activeConns:     activeConns,
		capacity:        capacity,
	}, nil
}

// Register adds c's fd to the poller and remembers it under a fresh tag.
// isListener marks fds whose ready events belong on the accept queue
// rather than the regular queue.
func (l *Loop) Register(c *Conn, isListener bool) error {
	l.nextTag++
	tag := l.nextTag
	l.connByTag[tag] = c
	c.tag = tag
	if isListener {
		l.listenerFDs[c.FD] = c
	}
	return l.poller.add(c.FD, c.Read.Active, c.Write.Active, tag)
}

// Unregister removes c from the poller and this Loop's bookkeeping.
func (l *Loop) Unregister(c *Conn) error {
	delete(l.connByTag, c.tag)
	delete(l.listenerFDs, c.FD)
	return l.poller.remove(c.FD)
}

// SetInterest re-arms epoll for c's fd after a handler changes which
// direction(s) it wants notified (e.g. re-arming read after EAGAIN).
func (l *Loop) SetInterest(c *Conn) error {
	return l.poller.modify(c.FD, c.Read.Active, c.Write.Active, c.tag)
}

// Close releases the poller's fd.
func (l *Loop) Close() error { return l.poller.close() }

// Tick runs exactly one pass of the loop: contest the accept mutex,
// wait for readiness, drain the accept then regular posted queues, fire
// expired timers.
func (l *Loop) Tick() error {
	timeout := l.timers.NextTimeout(time.Now(), l.maxWait)

	holdingMutex := false
	if l.mutexEnabled {
		l.mutex.Tick()
		ratio := 0.0
		if l.capacity > 0 && l.activeConns != nil {
			ratio = float64(l.activeConns()) / float64(l.capacity)
		}
		if l.mutex.ShouldContest(ratio) {
			ok, err := l.mutex.Trylock()
			if err != nil {
				return err
			}
			holdingMutex = ok
		}
		l.enableListeners(holdingMutex)
		if holdingMutex && timeout > l.acceptMutexWait {
			timeout = l.acceptMutexWait
		}
	}

	ready, _, err := l.poller.wait(timeout)
	if err != nil {
		return err
	}

	for _, r := range ready {
		c, ok := l.connByTag[r.tag]
		if !ok || c.Closed {
			continue // stale: connection already torn down
		}
		if r.read || r.errOrHup {
			l.dispatch(c, c.Read, r.errOrHup)
		}
		if r.write || r.errOrHup {
			l.dispatch(c, c.Write, r.errOrHup)
		}
	}

	l.accept.drain(l.run)

	if l.mutexEnabled && holdingMutex {
		if err := l.mutex.Unlock(); err != nil {
			return err
		}
	}

	l.regular.drain(l.run)

	for _, tev := range l.timers.ExpireAll(time.Now()) {
		ev, ok := tev.Owner.(*Event)
		if !ok {
			continue
		}
		ev.TimedOut = true
		ev.timerEv = nil
		l.run(ev)
	}

	return nil
}

func (l *Loop) dispatch(c *Conn, ev *Event, errored bool) {
	if errored {
		ev.Error = true
	}
	ev.Ready = true
	if _, isListener := l.listenerFDs[c.FD]; isListener {
		l.accept.push(ev)
	} else {
		l.regular.push(ev)
	}
}

func (l *Loop) run(ev *Event) {
	if ev.Handler == nil {
		return
	}
	ev.Handler(ev)
}

func (l *Loop) enableListeners(enabled bool) {
	for fd, c := range l.listenerFDs {
		c.Read.Active = enabled
		_ = l.poller.modify(fd, enabled, c.Write.Active, c.tag)
	}
}
