// Package uartdma emulates a UART with DMA transmit and circular DMA receive
// on top of a byte stream port. It implements vcp.UART.
//
// Transmit runs on a goroutine in short slices and reports completion through
// a vcp.Sink. Stop abandons the slice loop and waits for it, so a buffer
// handed to StartTransmit is never read after Stop returns.
// Receive runs a reader goroutine that fills the circular buffer in place and
// publishes its write position atomically, which RemainingCount exposes the
// way a DMA transfer counter would.
package uartdma

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
	"vcpbridge-go/vcp"
	"vcpbridge-go/x/mathx"
)

// Port is the stream the emulator drives.
type Port interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Optional configurators, applied by Configure when the port has them.
type (
	BaudSetter interface {
		SetBaudRate(br uint32) error
	}
	FormatSetter interface {
		SetFormat(databits, stopbits uint8, parity string) error
	}
	FlowSetter interface {
		SetFlowControl(rtscts bool) error
	}
	// ContextWriter lets Stop interrupt a write that is waiting for room.
	ContextWriter interface {
		WriteContext(ctx context.Context, p []byte) (int, error)
	}
)

const (
	// retryDelay bounds the reader's back-off after a transient port error.
	retryDelay = 10 * time.Millisecond
	// txSlice is the most a transmit writes before checking for Stop.
	txSlice = 8
)

type Driver struct {
	port Port
	sink vcp.Sink
	ctx  context.Context

	mu         sync.Mutex
	session    atomic.Uint32
	sessCtx    context.Context
	sessCancel context.CancelFunc
	cancel     context.CancelFunc
	rxDone     chan struct{}
	txDone     chan struct{}

	// The write position is (received-start) mod size, so position and total
	// always come from a single atomic value.
	size     atomic.Int64
	start    atomic.Uint64
	received atomic.Uint64
	txErrs   atomic.Uint32
}

// New returns a stopped driver. ctx bounds every goroutine it starts.
func New(ctx context.Context, port Port, sink vcp.Sink) *Driver {
	if ctx == nil {
		ctx = context.Background()
	}
	d := &Driver{port: port, sink: sink, ctx: ctx}
	d.sessCtx, d.sessCancel = context.WithCancel(ctx)
	d.session.Store(1)
	return d
}

// Configure applies cfg through whichever configurators the port supports.
// Flow control on a port without a FlowSetter is unsupported.
func (d *Driver) Configure(cfg types.LineConfig) error {
	if bs, ok := d.port.(BaudSetter); ok {
		if err := bs.SetBaudRate(cfg.Baud); err != nil {
			return errcode.Wrap(errcode.Error, "set_baud", err)
		}
	}
	if fs, ok := d.port.(FormatSetter); ok {
		if err := fs.SetFormat(cfg.DataBits, cfg.StopBits.Count(), cfg.Parity.String()); err != nil {
			return errcode.Wrap(errcode.InvalidParams, "set_format", err)
		}
	}
	if fl, ok := d.port.(FlowSetter); ok {
		if err := fl.SetFlowControl(cfg.Flow == types.FlowRTSCTS); err != nil {
			return errcode.Wrap(errcode.Unsupported, "set_flow", err)
		}
	} else if cfg.Flow != types.FlowNone {
		return &errcode.E{C: errcode.Unsupported, Op: "set_flow", Msg: "port has no flow control"}
	}
	return nil
}

// Stop ends the current session. When it returns the reader has exited and a
// transmit in progress has been abandoned; its completion is never posted.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.session.Add(1)
	d.sessCancel()
	d.sessCtx, d.sessCancel = context.WithCancel(d.ctx)
	cancel, rxDone, txDone := d.cancel, d.rxDone, d.txDone
	d.cancel, d.rxDone, d.txDone = nil, nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-rxDone
	}
	if txDone != nil {
		<-txDone
	}
}

// Session identifies the current run between two Stops.
func (d *Driver) Session() uint32 { return d.session.Load() }

// StartTransmit writes p on a goroutine and posts TransmitComplete when done.
// p must stay untouched until then or until Stop returns.
func (d *Driver) StartTransmit(p []byte) {
	d.mu.Lock()
	sess := d.session.Load()
	ctx := d.sessCtx
	prev := d.txDone
	done := make(chan struct{})
	d.txDone = done
	d.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		err := d.transmit(ctx, sess, p)
		close(done)
		if err != nil && (ctx.Err() != nil || d.session.Load() != sess) {
			return // abandoned by Stop
		}
		if err != nil {
			d.txErrs.Add(1)
		}
		ev := vcp.TransmitComplete()
		ev.Session = sess
		d.sink.Post(ev)
	}()
}

func (d *Driver) transmit(ctx context.Context, sess uint32, p []byte) error {
	cw, interruptible := d.port.(ContextWriter)
	for off := 0; off < len(p); {
		if ctx.Err() != nil || d.session.Load() != sess {
			return context.Canceled
		}
		end := mathx.Min(off+txSlice, len(p))
		var n int
		var err error
		if interruptible {
			n, err = cw.WriteContext(ctx, p[off:end])
		} else {
			n, err = d.port.Write(p[off:end])
		}
		off += n
		if err != nil {
			return err
		}
	}
	return nil
}

// StartCircularReceive starts filling buf from position 0, wrapping at the
// end, until Stop.
func (d *Driver) StartCircularReceive(buf []byte) {
	if len(buf) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	d.size.Store(int64(len(buf)))
	d.start.Store(d.received.Load())
	ctx, cancel := context.WithCancel(d.ctx)
	done := make(chan struct{})
	d.cancel, d.rxDone = cancel, done
	go d.receive(ctx, buf, done)
}

func (d *Driver) receive(ctx context.Context, buf []byte, done chan struct{}) {
	defer close(done)
	size := len(buf)
	pos := 0
	for {
		n, err := d.port.RecvSomeContext(ctx, buf[pos:])
		if n > 0 {
			pos += n
			if pos >= size {
				pos = 0
			}
			d.received.Add(uint64(n))
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errcode.Of(err) == errcode.Closed || errors.Is(err, context.Canceled) {
			return
		}
		t := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// RemainingCount is the space left before the receive position wraps.
func (d *Driver) RemainingCount() int {
	size := uint64(d.size.Load())
	if size == 0 {
		return 0
	}
	pos := (d.received.Load() - d.start.Load()) % size
	return int(size - pos)
}

// Received is the total number of bytes written into receive buffers.
func (d *Driver) Received() uint64 { return d.received.Load() }

// TransmitErrors counts port writes that failed.
func (d *Driver) TransmitErrors() uint32 { return d.txErrs.Load() }
