package buf

import "sync/atomic"

// View is a reference-counted window over a shared backing store, resolving
// the "shadow buffer" open question as distinct views over one
// backing array instead of aliased Buffer pointers: the pump that streams
// bytes to the client and the one that spools them to a temp file each hold
// their own View over the same bytes; the backing store is released when
// the last View drops.
type View struct {
	backing *backing
	off     int
	n       int
}

type backing struct {
	data []byte
	refs atomic.Int32
	free func([]byte)
}

// NewBacking wraps data as a shared backing store with an optional release
// callback invoked once every derived View has been dropped.
func NewBacking(data []byte, free func([]byte)) *backing { //nolint:revive // internal handle type
	b := &backing{data: data}
	b.free = free
	return b
}

// View returns a new reference-counted window [off, off+n) over data.
func (b *backing) View(off, n int) *View {
	b.refs.Add(1)
	return &View{backing: b, off: off, n: n}
}

// Bytes returns the window's bytes.
func (v *View) Bytes() []byte { return v.backing.data[v.off : v.off+v.n] }

// Clone produces a second, independently released View over the same
// window (the two-readers case: client write pump and cache-file spool).
func (v *View) Clone() *View {
	v.backing.refs.Add(1)
	return &View{backing: v.backing, off: v.off, n: v.n}
}

// Release drops this View's reference; when the last reference drops, the
// backing store's free callback runs.
func (v *View) Release() {
	if v.backing == nil {
		return
	}
	if v.backing.refs.Add(-1) == 0 && v.backing.free != nil {
		v.backing.free(v.backing.data)
	}
	v.backing = nil
}
