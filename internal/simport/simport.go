// Package simport provides an in-memory full-duplex serial wire. Each end
// looks like a UART: blocking Write, non-blocking Read, context-bounded
// receive and a coalesced readiness channel.
package simport

import (
	"context"
	"sync"

	"vcpbridge-go/errcode"
	"vcpbridge-go/x/mathx"
	"vcpbridge-go/x/shmring"
)

// DefaultSize is the per-direction buffering of a wire.
const DefaultSize = 1024

type wire struct {
	once   sync.Once
	closed chan struct{}
}

// Port is one end of a wire.
type Port struct {
	name string
	tx   *shmring.Ring
	rx   *shmring.Ring
	w    *wire

	mu       sync.Mutex
	baud     uint32
	dataBits uint8
	stopBits uint8
	parity   string
}

// Pair returns the two ends of a wire with size bytes of buffering per
// direction, rounded down to a power of two (DefaultSize if <= 0).
func Pair(size int) (*Port, *Port) {
	if size <= 0 {
		size = DefaultSize
	}
	if !mathx.IsPow2(size) {
		size = mathx.FloorPow2(size)
	}
	size = mathx.Max(size, 2)
	ab := shmring.New(size)
	ba := shmring.New(size)
	w := &wire{closed: make(chan struct{})}
	a := &Port{name: "a", tx: ab, rx: ba, w: w}
	b := &Port{name: "b", tx: ba, rx: ab, w: w}
	return a, b
}

func (p *Port) String() string { return "sim:" + p.name }

// Write blocks until all of b is queued or the wire is closed.
func (p *Port) Write(b []byte) (int, error) {
	return p.WriteContext(context.Background(), b)
}

// WriteContext is Write that also gives up when ctx is done, returning the
// number of bytes already queued.
func (p *Port) WriteContext(ctx context.Context, b []byte) (int, error) {
	sent := 0
	for sent < len(b) {
		select {
		case <-p.w.closed:
			return sent, errcode.Closed
		default:
		}
		if n := p.tx.TryWriteFrom(b[sent:]); n > 0 {
			sent += n
			continue
		}
		select {
		case <-p.tx.Writable():
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-p.w.closed:
			return sent, errcode.Closed
		}
	}
	return sent, nil
}

// Read returns buffered bytes without blocking.
func (p *Port) Read(b []byte) (int, error) { return p.rx.TryReadInto(b), nil }

func (p *Port) Buffered() int { return p.rx.Available() }

func (p *Port) Readable() <-chan struct{} { return p.rx.Readable() }

// RecvSomeContext blocks until at least one byte is read, ctx is done, or the
// wire is closed.
func (p *Port) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		if n := p.rx.TryReadInto(b); n > 0 {
			return n, nil
		}
		select {
		case <-p.rx.Readable():
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.w.closed:
			return 0, errcode.Closed
		}
	}
}

func (p *Port) SetBaudRate(br uint32) error {
	p.mu.Lock()
	p.baud = br
	p.mu.Unlock()
	return nil
}

func (p *Port) SetFormat(databits, stopbits uint8, parity string) error {
	p.mu.Lock()
	p.dataBits, p.stopBits, p.parity = databits, stopbits, parity
	p.mu.Unlock()
	return nil
}

// Format reports the last applied baud and framing.
func (p *Port) Format() (baud uint32, databits, stopbits uint8, parity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud, p.dataBits, p.stopBits, p.parity
}

// Close closes the wire for both ends.
func (p *Port) Close() error {
	p.w.once.Do(func() { close(p.w.closed) })
	return nil
}

// Loopback echoes everything received on p back to its peer until ctx is done
// or the wire closes. It stands in for a device wired TX to RX.
func Loopback(ctx context.Context, p *Port) {
	var buf [64]byte
	for {
		n, err := p.RecvSomeContext(ctx, buf[:])
		if err != nil {
			return
		}
		if _, err := p.Write(buf[:n]); err != nil {
			return
		}
	}
}
