// Package timer implements the event loop's timer wheel: a red-black
// tree keyed by absolute Unix-millisecond deadline, nginx's
// ngx_event_timer_rbtree shape. No ecosystem red-black tree library is an
// unambiguous choice for this exact keyed-deadline structure, so it is
// hand-written.
package timer

import "time"

// Event is anything that can sit in the timer tree. Handlers live on the
// owner (a worker connection/event); the tree only needs a comparable key
// and a place to stash its own node pointer so Remove is O(log n) instead
// of O(n).
type Event struct {
	Deadline int64 // absolute Unix milliseconds
	seq      uint64
	node     *node
	TimedOut bool

	// Owner points back at whatever armed this timer (the loop's own
	// event struct), recovered by the expiry loop without the tree
	// needing to know its type.
	Owner any
}

type color bool

const (
	red   color = true
	black color = false
)

type node struct {
	event       *Event
	left, right *node
	parent      *node
	color       color
}

// Wheel is a red-black tree of Events ordered by (Deadline, insertion
// sequence) so that equal deadlines resolve FIFO by insertion order.
type Wheel struct {
	root *node
	size int
	seq  uint64
}

func New() *Wheel { return &Wheel{} }

func less(a, b *Event) bool {
	if a.Deadline != b.Deadline {
		return a.Deadline < b.Deadline
	}
	return a.seq < b.seq
}

// Insert adds ev to the tree. Inserting an Event already present (its node
// is non-nil) is an invariant violation
func (w *Wheel) Insert(ev *Event) {
	if ev.node != nil {
		panic("timer: event already inserted")
	}
	w.seq++
	ev.seq = w.seq
	n := &node{event: ev, color: red}
	ev.node = n

	if w.root == nil {
		n.color = black
		w.root = n
		w.size++
		return
	}
	cur := w.root
	for {
		if less(ev, cur.event) {
			if cur.left == nil {
				cur.left = n
				n.parent = cur
				break
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.right = n
				n.parent = cur
				break
			}
			cur = cur.right
		}
	}
	w.size++
	w.fixInsert(n)
}

// Remove detaches ev from the tree; a no-op if ev is not currently in it.
func (w *Wheel) Remove(ev *Event) {
	n := ev.node
	if n == nil {
		return
	}
	w.deleteNode(n)
	ev.node = nil
	w.size--
}

// Leftmost returns the event with the smallest (Deadline, seq) key, or nil
// if the tree is empty. O(log n): a descent down the left spine, no
// rebalancing.
func (w *Wheel) Leftmost() *Event {
	n := w.root
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n.event
}

// Len reports the number of timers currently armed.
func (w *Wheel) Len() int { return w.size }

// NextTimeout returns how long until the earliest timer fires, clamped to
// [0, max]. If no timer is armed it returns max.
func (w *Wheel) NextTimeout(now time.Time, max time.Duration) time.Duration {
	ev := w.Leftmost()
	if ev == nil {
		return max
	}
	nowMs := now.UnixMilli()
	if ev.Deadline <= nowMs {
		return 0
	}
	d := time.Duration(ev.Deadline-nowMs) * time.Millisecond
	if d > max {
		return max
	}
	return d
}

// ExpireAll removes and returns every Event whose deadline is <= now, in
// ascending (Deadline, seq) order — "fire all expired timers in monotonic
// order; ties broken by insertion order". Each
// returned Event has TimedOut set and is no longer in the tree.
func (w *Wheel) ExpireAll(now time.Time) []*Event {
	nowMs := now.UnixMilli()
	var expired []*Event
	for {
		ev := w.Leftmost()
		if ev == nil || ev.Deadline > nowMs {
			break
		}
		w.Remove(ev)
		ev.TimedOut = true
		expired = append(expired, ev)
	}
	return expired
}

// --- red-black tree maintenance (CLRS-style, left/right symmetric) ---

func (w *Wheel) rotateLeft(x *node) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		w.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (w *Wheel) rotateRight(x *node) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		w.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func colorOf(n *node) color {
	if n == nil {
		return black
	}
	return n.color
}

func (w *Wheel) fixInsert(z *node) {
	for colorOf(z.parent) == red {
		gp := z.parent.parent
		if gp == nil {
			break
		}
		if z.parent == gp.left {
			y := gp.right
			if colorOf(y) == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
			} else {
				if z == z.parent.right {
					z = z.parent
					w.rotateLeft(z)
				}
				z.parent.color = black
				gp.color = red
				w.rotateRight(gp)
			}
		} else {
			y := gp.left
			if colorOf(y) == red {
				z.parent.color = black
				y.color = black
				gp.color = red
				z = gp
			} else {
				if z == z.parent.left {
					z = z.parent
					w.rotateRight(z)
				}
				z.parent.color = black
				gp.color = red
				w.rotateLeft(gp)
			}
		}
	}
	w.root.color = black
}

func (w *Wheel) transplant(u, v *node) {
	if u.parent == nil {
		w.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func minimum(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

func (w *Wheel) deleteNode(z *node) {
	y := z
	yOriginalColor := colorOf(y)
	var x *node
	var xParent *node

	switch {
	case z.left == nil:
		x = z.right
		xParent = z.parent
		w.transplant(z, z.right)
	case z.right == nil:
		x = z.left
		xParent = z.parent
		w.transplant(z, z.left)
	default:
		y = minimum(z.right)
		yOriginalColor = colorOf(y)
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			w.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		w.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}
	if yOriginalColor == black {
		w.fixDelete(x, xParent)
	}
}

func (w *Wheel) fixDelete(x, parent *node) {
	for x != w.root && colorOf(x) == black && parent != nil {
		if x == parent.left {
			sib := parent.right
			if colorOf(sib) == red {
				sib.color = black
				parent.color = red
				w.rotateLeft(parent)
				sib = parent.right
			}
			if sib == nil {
				break
			}
			if colorOf(sib.left) == black && colorOf(sib.right) == black {
				sib.color = red
				x = parent
				parent = x.parent
				continue
			}
			if colorOf(sib.right) == black {
				if sib.left != nil {
					sib.left.color = black
				}
				sib.color = red
				w.rotateRight(sib)
				sib = parent.right
			}
			sib.color = parent.color
			parent.color = black
			if sib.right != nil {
				sib.right.color = black
			}
			w.rotateLeft(parent)
			x = w.root
		} else {
			sib := parent.left
			if colorOf(sib) == red {
				sib.color = black
				parent.color = red
				w.rotateRight(parent)
				sib = parent.left
			}
			if sib == nil {
				break
			}
			if colorOf(sib.right) == black && colorOf(sib.left) == black {
				sib.color = red
				x = parent
				parent = x.parent
				continue
			}
			if colorOf(sib.left) == black {
				if sib.right != nil {
					sib.right.color = black
				}
				sib.color = red
				w.rotateLeft(sib)
				sib = parent.left
			}
			sib.color = parent.color
			parent.color = black
			if sib.left != nil {
				sib.left.color = black
			}
			w.rotateRight(parent)
			x = w.root
		}
	}
	if x != nil {
		x.color = black
	}
}
