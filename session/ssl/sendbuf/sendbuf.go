// Package sendbuf is the ring arena encrypted records wait in until the
// socket layer reports them sent.
//
// The live region starts at Start and spans Len bytes, wrapping around the
// end of the arena. Bytes skipped at the end of the arena because a record
// didn't fit there are counted in Len until the record before them is freed.
package sendbuf

// Align is the granularity record slots are rounded up to.
const Align = 8

type Record struct {
	// Token identifies the caller's send.
	Token    any
	PlainLen int
	Flags    uint
	// Internal records carry handshake or alert output nobody waits for.
	Internal bool

	ring       *Ring
	buf        []byte
	off, size  int
	n          int
	prev, next *Record
}

// Bytes returns the record's slot.
func (r *Record) Bytes() []byte {
	return r.buf[r.off : r.off+r.n : r.off+r.size]
}

// Detached wraps data in a record living outside any arena, for output too
// large for it. Freeing it is a no-op.
func Detached(data []byte) *Record {
	return &Record{buf: data, size: len(data), n: len(data)}
}

// SetLen shrinks the used part of the slot. It panics when n exceeds the
// allocation.
func (r *Record) SetLen(n int) {
	if n < 0 || n > r.size {
		panic("sendbuf: length out of slot")
	}
	r.n = n
}

func (r *Record) Offset() int { return r.off }

// Size is the slot size including alignment padding.
func (r *Record) Size() int { return r.size }

type Ring struct {
	buf   []byte
	start int
	len   int

	head, tail *Record
	live       int
}

func New(capacity int) *Ring {
	capacity = alignUp(capacity)
	return &Ring{buf: make([]byte, capacity)}
}

func (r *Ring) Cap() int   { return len(r.buf) }
func (r *Ring) Start() int { return r.start }
func (r *Ring) Len() int   { return r.len }
func (r *Ring) Live() int  { return r.live }

// Alloc reserves a contiguous slot of n bytes. It fails when neither free
// region can hold it; the caller is expected to queue and retry once
// records are freed.
func (r *Ring) Alloc(n int) (*Record, bool) {
	size := alignUp(n)
	capacity := len(r.buf)
	if n <= 0 || size > capacity {
		return nil, false
	}

	if r.live == 0 {
		r.start, r.len = 0, 0
	}

	reg1 := (r.start + r.len) % capacity
	reg1Len := capacity - r.len
	reg2Len := 0
	if reg1+reg1Len > capacity {
		reg1Len = capacity - reg1
		reg2Len = r.start
	}

	var off int
	switch {
	case reg1Len >= size:
		off = reg1
	case reg2Len >= size:
		off = 0
		// The tail of the arena is skipped until the previous record goes.
		r.len += reg1Len
	default:
		return nil, false
	}
	r.len += size

	rec := &Record{ring: r, buf: r.buf, off: off, size: size, n: n}
	r.link(rec)

	return rec, true
}

func (r *Ring) link(rec *Record) {
	rec.prev = r.tail
	if r.tail != nil {
		r.tail.next = rec
	} else {
		r.head = rec
	}
	r.tail = rec
	r.live++
}

func (r *Ring) unlink(rec *Record) {
	if rec.prev != nil {
		rec.prev.next = rec.next
	} else {
		r.head = rec.next
	}
	if rec.next != nil {
		rec.next.prev = rec.prev
	} else {
		r.tail = rec.prev
	}
	rec.prev, rec.next = nil, nil
	rec.ring = nil
	r.live--
}

// Free releases rec. Space of a record freed out of order is reclaimed once
// its neighbors at the head or the tail go.
func (r *Ring) Free(rec *Record) {
	if rec == nil || rec.ring != r {
		return
	}
	capacity := len(r.buf)

	switch {
	case r.head == rec && r.tail == rec:
		r.start, r.len = 0, 0

	case r.head == rec:
		next := rec.next
		if next.off > rec.off {
			r.len -= next.off - rec.off
		} else {
			r.len -= capacity - rec.off + next.off
		}
		r.start = next.off

	case r.tail == rec:
		prevEnd := rec.prev.off + rec.prev.size
		if rec.off >= prevEnd {
			r.len -= rec.off - prevEnd + rec.size
		} else {
			r.len -= capacity - prevEnd + rec.off + rec.size
		}
	}

	r.unlink(rec)
}

// Reset drops every record.
func (r *Ring) Reset() {
	for rec := r.head; rec != nil; {
		next := rec.next
		rec.prev, rec.next, rec.ring = nil, nil, nil
		rec = next
	}
	r.head, r.tail = nil, nil
	r.start, r.len, r.live = 0, 0, 0
}

func alignUp(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}
