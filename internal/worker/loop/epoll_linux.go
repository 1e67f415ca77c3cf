//go:build linux

package loop

import (
	"time"

	"golang.org/x/sys/unix"
)

// poller wraps epoll_create1/epoll_wait/epoll_ctl, the readiness
// primitive. It is the event loop's single suspension point.
type poller struct {
	epfd   int
	events []unix.EpollEvent
}

func newPoller(maxEvents int) (*poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &poller{epfd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *poller) add(fd int, readEnabled, writeEnabled bool, tag uint64) error {
	var ev unix.EpollEvent
	ev.Events = flagsFor(readEnabled, writeEnabled)
	ev.Fd = int32(fd)
	setTag(&ev, tag)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) modify(fd int, readEnabled, writeEnabled bool, tag uint64) error {
	var ev unix.EpollEvent
	ev.Events = flagsFor(readEnabled, writeEnabled)
	ev.Fd = int32(fd)
	setTag(&ev, tag)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func flagsFor(read, write bool) uint32 {
	var f uint32
	if read {
		f |= unix.EPOLLIN
	}
	if write {
		f |= unix.EPOLLOUT
	}
	return f
}

// readyFD is one readiness notification: which fd, whether it became
// readable/writable/errored, and the tag stashed at registration time (used
// to recover the Conn pointer without a map lookup).
type readyFD struct {
	tag            uint64
	read, write    bool
	errOrHup       bool
}

// wait blocks for up to timeout for readiness, returning the ready set and
// the current time observed right after waking — "it returns with a set of
// ready events and an updated monotonic time".
func (p *poller) wait(timeout time.Duration) ([]readyFD, time.Time, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, p.events, ms)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return nil, now, nil
		}
		return nil, now, err
	}
	out := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		out = append(out, readyFD{
			tag:      tagOf(e),
			read:     e.Events&unix.EPOLLIN != 0,
			write:    e.Events&unix.EPOLLOUT != 0,
			errOrHup: e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return out, now, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

// epoll_event.data is a union; unix.EpollEvent stores it as Fd (int32) plus
// Pad (int32) on amd64/arm64. The loop stashes its registration tag in the
// Fd half only (Pad is not used), so a tag round-trips through the kernel
// without a side table but is truncated to its low 32 bits.
func setTag(ev *unix.EpollEvent, tag uint64) { ev.Fd = int32(tag) }
func tagOf(ev unix.EpollEvent) uint64        { return uint64(uint32(ev.Fd)) }
