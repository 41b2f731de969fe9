// Package shmring is a single-producer, single-consumer byte ring with
// coalesced readiness edges for select loops.
package shmring

import "sync/atomic"

// Ring indices are monotonic; the buffer position is index & mask.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index
	wr   atomic.Uint32 // producer index

	readable chan struct{} // empty -> non-empty
	writable chan struct{} // full -> non-full
}

// New returns a ring of size bytes. size must be a power of two >= 2.
func New(size int) *Ring {
	if size < 2 || size&(size-1) != 0 {
		panic("shmring: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) Cap() int { return len(r.buf) }

func (r *Ring) Available() int { return int(r.wr.Load() - r.rd.Load()) }

func (r *Ring) Space() int { return len(r.buf) - r.Available() }

// TryWriteFrom copies as much of src as fits and returns the count.
func (r *Ring) TryWriteFrom(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	used := wr - rd
	n := len(r.buf) - int(used)
	if n <= 0 {
		return 0
	}
	if len(src) < n {
		n = len(src)
	}
	at := int(wr & r.mask)
	first := copy(r.buf[at:], src[:n])
	copy(r.buf, src[first:n])
	r.wr.Store(wr + uint32(n))

	if used == 0 {
		signal(r.readable)
	}
	return n
}

// TryReadInto copies up to len(dst) buffered bytes and returns the count.
func (r *Ring) TryReadInto(dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	avail := int(wr - rd)
	if avail == 0 {
		return 0
	}
	n := avail
	if len(dst) < n {
		n = len(dst)
	}
	at := int(rd & r.mask)
	end := at + n
	if end > len(r.buf) {
		end = len(r.buf)
	}
	first := copy(dst[:n], r.buf[at:end])
	copy(dst[first:n], r.buf)
	r.rd.Store(rd + uint32(n))

	if avail == len(r.buf) {
		signal(r.writable)
	}
	return n
}

func (r *Ring) Readable() <-chan struct{} { return r.readable }
func (r *Ring) Writable() <-chan struct{} { return r.writable }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
