//go:build linux

package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New(64, nil, 1024, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func pipePair(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestTickDispatchesReadReadiness(t *testing.T) {
	l := newTestLoop(t)
	rfd, wfd := pipePair(t)

	c := NewConnEvents(rfd)
	c.Read.Active = true

	fired := 0
	c.Read.Handler = func(ev *Event) {
		fired++
		assert.True(t, ev.Ready)
		var buf [8]byte
		_, _ = unix.Read(rfd, buf[:])
	}
	require.NoError(t, l.Register(c, false))

	_, err := unix.Write(wfd, []byte("x"))
	require.NoError(t, err)

	l.maxWait = 100 * time.Millisecond
	require.NoError(t, l.Tick())
	assert.Equal(t, 1, fired)
}

func TestListenerEventsRunBeforeRegularEvents(t *testing.T) {
	l := newTestLoop(t)
	lr, lw := pipePair(t)
	rr, rw := pipePair(t)

	var order []string

	listener := NewConnEvents(lr)
	listener.Read.Active = true
	listener.Read.Handler = func(*Event) {
		order = append(order, "accept")
		var buf [8]byte
		_, _ = unix.Read(lr, buf[:])
	}
	regular := NewConnEvents(rr)
	regular.Read.Active = true
	regular.Read.Handler = func(*Event) {
		order = append(order, "regular")
		var buf [8]byte
		_, _ = unix.Read(rr, buf[:])
	}

	// register the regular connection first so any accidental ordering
	// by registration would put it ahead
	require.NoError(t, l.Register(regular, false))
	require.NoError(t, l.Register(listener, true))

	_, _ = unix.Write(rw, []byte("x"))
	_, _ = unix.Write(lw, []byte("x"))

	l.maxWait = 100 * time.Millisecond
	require.NoError(t, l.Tick())

	require.Equal(t, []string{"accept", "regular"}, order)
}

func TestExpiredTimerFiresWithTimedOut(t *testing.T) {
	l := newTestLoop(t)
	rfd, _ := pipePair(t)

	c := NewConnEvents(rfd)
	var timedOut bool
	c.Read.Handler = func(ev *Event) { timedOut = ev.TimedOut }
	require.NoError(t, l.Register(c, false))

	l.ArmTimer(c.Read, time.Now().UnixMilli()-1) // already expired
	l.maxWait = 10 * time.Millisecond
	require.NoError(t, l.Tick())

	assert.True(t, timedOut)
}

func TestEqualDeadlinesFireInArmingOrder(t *testing.T) {
	l := newTestLoop(t)
	rfd, _ := pipePair(t)
	rfd2, _ := pipePair(t)

	var order []string
	a := NewConnEvents(rfd)
	a.Read.Handler = func(*Event) { order = append(order, "a") }
	b := NewConnEvents(rfd2)
	b.Read.Handler = func(*Event) { order = append(order, "b") }
	require.NoError(t, l.Register(a, false))
	require.NoError(t, l.Register(b, false))

	deadline := time.Now().UnixMilli() - 5
	l.ArmTimer(a.Read, deadline)
	l.ArmTimer(b.Read, deadline)

	l.maxWait = 10 * time.Millisecond
	require.NoError(t, l.Tick())

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestCloseConnCancelsTimerAndEvents(t *testing.T) {
	l := newTestLoop(t)
	rfd, wfd := pipePair(t)

	c := NewConnEvents(rfd)
	c.Read.Active = true
	fired := false
	c.Read.Handler = func(*Event) { fired = true }
	require.NoError(t, l.Register(c, false))

	l.ArmTimer(c.Read, time.Now().UnixMilli()-1)
	l.CloseConn(c)
	require.NoError(t, l.Unregister(c))

	_, _ = unix.Write(wfd, []byte("x"))
	l.maxWait = 10 * time.Millisecond
	require.NoError(t, l.Tick())

	assert.False(t, fired, "closed connection's events are stale, not dispatched")
}

func TestRearmTimerReplacesDeadline(t *testing.T) {
	l := newTestLoop(t)
	rfd, _ := pipePair(t)

	c := NewConnEvents(rfd)
	fired := 0
	c.Read.Handler = func(*Event) { fired++ }
	require.NoError(t, l.Register(c, false))

	l.ArmTimer(c.Read, time.Now().UnixMilli()+60_000)
	l.ArmTimer(c.Read, time.Now().UnixMilli()-1) // re-arm closer: legal

	l.maxWait = 10 * time.Millisecond
	require.NoError(t, l.Tick())
	assert.Equal(t, 1, fired, "only the re-armed deadline fires")
}
