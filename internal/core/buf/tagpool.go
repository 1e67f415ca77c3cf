package buf

import "github.com/emberproxy/ember/pkg/pool"

// TagPool hands out fixed-size Buffers keyed by the producing module's
// Tag, generalizing pkg/pool.LitePool (a single-type sync.Pool wrapper)
// into a set of pools so a drained buffer is only ever returned to its
// own producer's free list.
type TagPool struct {
	size  int
	pools map[Tag]*pool.Pool[*Buffer]
}

// NewTagPool creates a TagPool whose buffers are each sized bufSize bytes.
func NewTagPool(bufSize int) *TagPool {
	return &TagPool{size: bufSize, pools: make(map[Tag]*pool.Pool[*Buffer])}
}

func (tp *TagPool) poolFor(tag Tag) *pool.Pool[*Buffer] {
	if p, ok := tp.pools[tag]; ok {
		return p
	}
	size := tp.size
	p := pool.NewLitePool(func() *Buffer {
		return NewSized(tag, size)
	})
	tp.pools[tag] = p
	return p
}

// Get returns a reset Buffer tagged for tag, reusing a drained one if the
// producer's free list has one available.
func (tp *TagPool) Get(tag Tag) *Buffer {
	return tp.poolFor(tag).Get()
}

// Put returns a drained Buffer to its producer's free list. Buffers marked
// LastOverall are never recycled: the request that produced them is done.
func (tp *TagPool) Put(b *Buffer) {
	if b == nil || b.Flags&LastOverall != 0 {
		return
	}
	tp.poolFor(b.Tag).Put(b)
}
