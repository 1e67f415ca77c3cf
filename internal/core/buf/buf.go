// Package buf implements owned and borrowed byte windows and the singly
// linked chains that compose writev/sendfile-friendly payloads, in the
// shape of nginx's ngx_buf_t / ngx_chain_t.
package buf

import "os"

// Tag identifies the module that produced a Buffer, so a drained buffer is
// only ever recycled to the pool of the module that allocated it.
type Tag string

// Flags mirror the bitfield on ngx_buf_t.
type Flags uint16

const (
	Temporary Flags = 1 << iota
	MemoryReadonly
	Mmapped
	Recyclable
	InFile
	Flush
	Sync
	LastInChain
	LastOverall
	FromTempFile
)

// Buffer is a window over a contiguous byte region. Invariant:
// start <= read <= write <= end; if InFile is set, filePos <= fileLast.
type Buffer struct {
	data  []byte
	start int
	read  int
	write int
	end   int

	File     *os.File
	FilePos  int64
	FileLast int64

	Tag   Tag
	Flags Flags
}

// New wraps data as a Buffer whose writable region already spans all of it
// (as if fully written, read cursor at the start).
func New(tag Tag, data []byte) *Buffer {
	return &Buffer{data: data, start: 0, read: 0, write: len(data), end: len(data), Tag: tag}
}

// NewSized allocates an empty Buffer of capacity n with nothing written yet.
func NewSized(tag Tag, n int) *Buffer {
	return &Buffer{data: make([]byte, n), start: 0, read: 0, write: 0, end: n, Tag: tag}
}

func (b *Buffer) has(flag Flags) bool { return b.Flags&flag != 0 }

func (b *Buffer) Set(flag Flags)   { b.Flags |= flag }
func (b *Buffer) Clear(flag Flags) { b.Flags &^= flag }

// Readable returns the unread bytes between the read cursor and the write
// cursor.
func (b *Buffer) Readable() []byte { return b.data[b.read:b.write] }

// Writable returns the free capacity between the write cursor and the end
// of the region.
func (b *Buffer) Writable() []byte { return b.data[b.write:b.end] }

// Len reports the number of unread bytes.
func (b *Buffer) Len() int { return b.write - b.read }

// Cap reports the total free capacity remaining for writes.
func (b *Buffer) Cap() int { return b.end - b.write }

// Advance moves the write cursor forward after bytes have been copied into
// Writable(); it never exceeds end.
func (b *Buffer) Advance(n int) {
	b.write += n
	if b.write > b.end {
		b.write = b.end
	}
}

// Consume moves the read cursor forward after bytes have been sent
// downstream; it never exceeds write.
func (b *Buffer) Consume(n int) {
	b.read += n
	if b.read > b.write {
		b.read = b.write
	}
}

// Drained reports whether every byte has been read.
func (b *Buffer) Drained() bool { return b.read >= b.write }

// Reset rewinds all cursors so the backing array can be reused; it does not
// release the backing array itself. Satisfies pool.Resettable.
func (b *Buffer) Reset() {
	b.read = 0
	b.write = 0
	b.start = 0
	b.File = nil
	b.FilePos = 0
	b.FileLast = 0
	b.Flags = 0
	if cap(b.data) > 0 {
		b.end = cap(b.data)
	}
}

// Link is a non-owning reference to a Buffer plus a forward pointer. Chains
// are built, split and re-linked without copying the underlying buffers.
type Link struct {
	Buf  *Buffer
	Next *Link
}

// Chain is a singly linked list of Links.
type Chain struct {
	Head *Link
	Tail *Link
}

// Append adds buf to the end of the chain, returning the new link.
func (c *Chain) Append(b *Buffer) *Link {
	l := &Link{Buf: b}
	if c.Tail == nil {
		c.Head, c.Tail = l, l
		return l
	}
	c.Tail.Next = l
	c.Tail = l
	return l
}

// AppendChain splices another chain's links onto the end of this one,
// without copying any buffer.
func (c *Chain) AppendChain(other *Chain) {
	if other == nil || other.Head == nil {
		return
	}
	if c.Tail == nil {
		c.Head, c.Tail = other.Head, other.Tail
		return
	}
	c.Tail.Next = other.Head
	c.Tail = other.Tail
}

// Empty reports whether the chain has no links.
func (c *Chain) Empty() bool { return c.Head == nil }

// DropDrained removes leading links whose buffer is fully drained, returning
// the (possibly recycled) links to fn if non-nil. Used after a partial
// write advances several buffers to completion in one pass.
func (c *Chain) DropDrained(fn func(*Buffer)) {
	for c.Head != nil && c.Head.Buf.Drained() && !c.Head.Buf.has(LastOverall) {
		b := c.Head.Buf
		c.Head = c.Head.Next
		if fn != nil {
			fn(b)
		}
	}
	if c.Head == nil {
		c.Tail = nil
	}
}

// Split detaches and returns a new Chain holding the first n links,
// leaving the remainder as the receiver.
func (c *Chain) Split(n int) *Chain {
	if n <= 0 || c.Head == nil {
		return &Chain{}
	}
	head := c.Head
	cur := head
	count := 1
	for count < n && cur.Next != nil {
		cur = cur.Next
		count++
	}
	rest := cur.Next
	cur.Next = nil
	out := &Chain{Head: head, Tail: cur}
	if rest == nil {
		c.Head, c.Tail = nil, nil
	} else {
		c.Head = rest
	}
	return out
}
