// Package cdcstream is a vcp.HostTransport over a byte stream such as a USB
// CDC ACM serial device (machine.Serial on TinyGo, /dev/ttyGS0 on a Linux
// gadget).
//
// Inbound chunks are read by one goroutine into the page the bridge primed
// with AcceptNext. Outbound segments are copied into an endpoint buffer and
// written asynchronously; Forward reports errcode.Busy while a write is in
// flight.
//
// Abort waits for a read in progress. Ports with RecvSomeContext or Buffered
// give it up at once; a plain blocking Read holds Abort until it returns.
package cdcstream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"vcpbridge-go/errcode"
	"vcpbridge-go/vcp"
)

// Options tune a Transport. Zero values select defaults.
type Options struct {
	// MaxPacket caps one inbound chunk (64 for a full-speed bulk endpoint).
	// 0 reads up to the primed page size.
	MaxPacket int
	// EndpointSize is the initial size of the outbound copy buffer.
	EndpointSize int
	// PollInterval is used for ports that only offer Buffered/Read.
	PollInterval time.Duration
}

const (
	defaultEndpointSize = 128
	defaultPoll         = 2 * time.Millisecond
	retryDelay          = 10 * time.Millisecond
)

type contextReceiver interface {
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

type request struct {
	buf     []byte
	ctx     context.Context
	session uint32
}

type Transport struct {
	port io.ReadWriter
	sink vcp.Sink
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	arm    chan request

	mu          sync.Mutex
	session     atomic.Uint32
	sessCtx     context.Context
	sessCancel  context.CancelFunc
	filling     chan struct{} // closed when the current fill returns
	out         []byte
	writing     bool
	chunks      atomic.Uint32
	writes      atomic.Uint32
	writeErrors atomic.Uint32
}

// New starts the reader goroutine. Close stops it.
func New(ctx context.Context, port io.ReadWriter, sink vcp.Sink, opts Options) *Transport {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.EndpointSize <= 0 {
		opts.EndpointSize = defaultEndpointSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	t := &Transport{
		port: port,
		sink: sink,
		opts: opts,
		done: make(chan struct{}),
		arm:  make(chan request, 1),
		out:  make([]byte, opts.EndpointSize),
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.sessCtx, t.sessCancel = context.WithCancel(t.ctx)
	t.session.Store(1)
	go t.run()
	return t
}

// Session identifies the current run between two Aborts.
func (t *Transport) Session() uint32 { return t.session.Load() }

// AcceptNext primes the reader with buf. A previously primed buffer that was
// not yet picked up is replaced.
func (t *Transport) AcceptNext(buf []byte) {
	if t.opts.MaxPacket > 0 && len(buf) > t.opts.MaxPacket {
		buf = buf[:t.opts.MaxPacket]
	}
	t.mu.Lock()
	req := request{buf: buf, ctx: t.sessCtx, session: t.session.Load()}
	t.mu.Unlock()

	select {
	case <-t.arm:
	default:
	}
	select {
	case t.arm <- req:
	default:
	}
}

// Abort drops the primed buffer and cancels a read in progress. When it
// returns the reader no longer touches any buffer primed before the call.
// Chunks still reported afterwards carry the old session.
func (t *Transport) Abort() {
	t.mu.Lock()
	t.session.Add(1)
	t.sessCancel()
	t.sessCtx, t.sessCancel = context.WithCancel(t.ctx)
	filling := t.filling
	t.mu.Unlock()

	select {
	case <-t.arm:
	default:
	}
	if filling != nil {
		<-filling
	}
}

// Forward copies p and writes it on a goroutine. It returns errcode.Busy
// while the previous write is in flight and errcode.Closed after Close.
func (t *Transport) Forward(p []byte) error {
	if t.ctx.Err() != nil {
		return errcode.Closed
	}
	t.mu.Lock()
	if t.writing {
		t.mu.Unlock()
		return errcode.Busy
	}
	if len(p) > cap(t.out) {
		t.out = make([]byte, len(p))
	}
	n := copy(t.out[:cap(t.out)], p)
	out := t.out[:n]
	t.writing = true
	sess := t.session.Load()
	t.mu.Unlock()

	go t.write(out, sess)
	return nil
}

func (t *Transport) write(out []byte, sess uint32) {
	_, err := t.port.Write(out)
	t.writes.Add(1)
	if err != nil {
		t.writeErrors.Add(1)
	}
	t.mu.Lock()
	t.writing = false
	t.mu.Unlock()

	ev := vcp.HostTransmitted()
	ev.Session = sess
	t.sink.Post(ev)
}

// Close stops the reader. The port itself is left open.
func (t *Transport) Close() {
	t.cancel()
	<-t.done
}

// Done is closed once the reader has exited, after Close or when the port
// reported end of stream.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Counters reports inbound chunks, outbound writes and failed writes.
func (t *Transport) Counters() (chunks, writes, writeErrors uint32) {
	return t.chunks.Load(), t.writes.Load(), t.writeErrors.Load()
}

func (t *Transport) run() {
	defer close(t.done)
	for {
		var req request
		select {
		case <-t.ctx.Done():
			return
		case req = <-t.arm:
		}
		t.mu.Lock()
		if req.session != t.session.Load() {
			t.mu.Unlock()
			continue
		}
		filling := make(chan struct{})
		t.filling = filling
		t.mu.Unlock()

		n, ok := t.fill(req)

		t.mu.Lock()
		t.filling = nil
		t.mu.Unlock()
		close(filling)
		if !ok {
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		t.chunks.Add(1)
		ev := vcp.ChunkArrived(n)
		ev.Session = req.session
		t.sink.Post(ev)
	}
}

// fill reads at least one byte into req.buf. It reports false when the request
// was aborted or the transport is shutting down.
func (t *Transport) fill(req request) (int, bool) {
	for {
		n, err := t.recv(req.ctx, req.buf)
		if n > 0 {
			return n, true
		}
		if req.ctx.Err() != nil {
			return 0, false
		}
		if err == nil {
			if !sleep(req.ctx, t.opts.PollInterval) {
				return 0, false
			}
			continue
		}
		if errors.Is(err, io.EOF) || errcode.Of(err) == errcode.Closed {
			t.cancel()
			return 0, false
		}
		if !sleep(req.ctx, retryDelay) {
			return 0, false
		}
	}
}

func (t *Transport) recv(ctx context.Context, p []byte) (int, error) {
	switch port := t.port.(type) {
	case contextReceiver:
		return port.RecvSomeContext(ctx, p)
	case drivers.UART:
		for port.Buffered() == 0 {
			if !sleep(ctx, t.opts.PollInterval) {
				return 0, ctx.Err()
			}
		}
		return port.Read(p)
	default:
		return t.port.Read(p)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tm.C:
		return true
	}
}
