package loop

import "github.com/emberproxy/ember/internal/worker/timer"

// Event mirrors ngx_event_t: a connection's read or write
// readiness slot, the timer-tree node it may be armed in, and the posted-
// queue link it may be waiting on.
type Event struct {
	Conn  *Conn
	Write bool // false: read event, true: write event

	Ready    bool
	Active   bool
	TimedOut bool
	Posted   bool
	Error    bool
	EOF      bool

	// Instance flips across epoll re-arms so a handler running for an
	// earlier generation of the fd can detect staleness.
	Instance bool

	Handler func(*Event)

	timerEv *timer.Event
	next    *Event // posted-queue link; nil when not queued
}

// Conn is the minimal connection shape the loop needs: an fd to poll and
// the read/write Events that belong to it. It is separate from
// internal/worker/connpool.Conn, which does not embed it.
type Conn struct {
	FD    int
	Read  *Event
	Write *Event

	// Closed marks a connection whose events must be tolerated as stale if
	// a posted event still references it.
	Closed bool

	tag uint64 // Loop registration tag, recovers this Conn from a readyFD
}

// NewConnEvents allocates the paired read/write Events for a connection.
func NewConnEvents(fd int) *Conn {
	c := &Conn{FD: fd}
	c.Read = &Event{Conn: c, Write: false}
	c.Write = &Event{Conn: c, Write: true}
	return c
}

// ArmTimer inserts ev into the timer wheel at the absolute deadline (Unix
// milliseconds), detaching any prior
// armed timer first (re-arming is legal; double-insert without removal is
// not, per timer.Wheel.Insert's invariant).
func (l *Loop) ArmTimer(ev *Event, deadline int64) {
	if ev.timerEv != nil {
		l.timers.Remove(ev.timerEv)
	}
	ev.timerEv = &timer.Event{Deadline: deadline, Owner: ev}
	l.timers.Insert(ev.timerEv)
}

// DisarmTimer removes ev's timer if armed.
func (l *Loop) DisarmTimer(ev *Event) {
	if ev.timerEv == nil {
		return
	}
	l.timers.Remove(ev.timerEv)
	ev.timerEv = nil
}

// CloseConn cancels both of c's events: clears Active, removes any armed
// timer, and leaves posted-queue membership to drain naturally (a stale
// posted event must tolerate a closed connection).
func (l *Loop) CloseConn(c *Conn) {
	c.Closed = true
	for _, ev := range []*Event{c.Read, c.Write} {
		ev.Active = false
		ev.Ready = false
		l.DisarmTimer(ev)
	}
}
