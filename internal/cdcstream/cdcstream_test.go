package cdcstream

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vcpbridge-go/errcode"
	"vcpbridge-go/internal/simport"
	"vcpbridge-go/vcp"
)

func newTransport(t *testing.T, wire int, opts Options) (*Transport, *simport.Port, chan vcp.Event) {
	t.Helper()
	a, b := simport.Pair(wire)
	evs := make(chan vcp.Event, 8)
	tr := New(context.Background(), a, vcp.SinkFunc(func(ev vcp.Event) { evs <- ev }), opts)
	t.Cleanup(func() {
		tr.Close()
		a.Close()
	})
	return tr, b, evs
}

func nextEvent(t *testing.T, evs <-chan vcp.Event) vcp.Event {
	t.Helper()
	select {
	case ev := <-evs:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return vcp.Event{}
	}
}

func noEvent(t *testing.T, evs <-chan vcp.Event) {
	t.Helper()
	select {
	case ev := <-evs:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func drain(t *testing.T, p *simport.Port, n int) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got []byte
	buf := make([]byte, 16)
	for len(got) < n {
		k, err := p.RecvSomeContext(ctx, buf)
		require.NoError(t, err)
		got = append(got, buf[:k]...)
	}
	return got
}

func TestChunkLandsInPrimedBuffer(t *testing.T) {
	tr, host, evs := newTransport(t, 64, Options{})

	page := make([]byte, 8)
	tr.AcceptNext(page)
	host.Write([]byte("abc"))

	ev := nextEvent(t, evs)
	require.Equal(t, vcp.EvChunkArrived, ev.Kind)
	require.Equal(t, 3, ev.Len)
	require.Equal(t, tr.Session(), ev.Session)
	require.Equal(t, "abc", string(page[:3]))
}

func TestMaxPacketCapsChunk(t *testing.T) {
	tr, host, evs := newTransport(t, 64, Options{MaxPacket: 4})

	page := make([]byte, 16)
	host.Write([]byte("0123456789"))
	tr.AcceptNext(page)

	ev := nextEvent(t, evs)
	require.Equal(t, 4, ev.Len)
	require.Equal(t, "0123", string(page[:4]))
}

func TestForwardBusyWhileWriting(t *testing.T) {
	tr, host, evs := newTransport(t, 4, Options{})

	require.NoError(t, tr.Forward([]byte("0123456789")))
	require.Equal(t, errcode.Busy, tr.Forward([]byte("x")))

	require.Equal(t, "0123456789", string(drain(t, host, 10)))
	ev := nextEvent(t, evs)
	require.Equal(t, vcp.EvHostTransmitted, ev.Kind)

	require.NoError(t, tr.Forward([]byte("y")))
	require.Equal(t, "y", string(drain(t, host, 1)))
}

func TestForwardCopiesSegment(t *testing.T) {
	tr, host, evs := newTransport(t, 64, Options{EndpointSize: 2})

	seg := []byte("hello")
	require.NoError(t, tr.Forward(seg))
	copy(seg, "XXXXX")

	require.Equal(t, "hello", string(drain(t, host, 5)))
	nextEvent(t, evs)
}

func TestAbortCancelsPrimedRead(t *testing.T) {
	tr, host, evs := newTransport(t, 64, Options{})

	old := tr.Session()
	tr.AcceptNext(make([]byte, 8))
	tr.Abort()
	require.NotEqual(t, old, tr.Session())

	host.Write([]byte("z"))
	noEvent(t, evs)

	page := make([]byte, 8)
	tr.AcceptNext(page)
	ev := nextEvent(t, evs)
	require.Equal(t, tr.Session(), ev.Session)
	require.Equal(t, byte('z'), page[0])
}

func TestForwardAfterCloseIsClosed(t *testing.T) {
	a, _ := simport.Pair(16)
	defer a.Close()
	tr := New(context.Background(), a, vcp.SinkFunc(func(vcp.Event) {}), Options{})
	tr.Close()
	require.Equal(t, errcode.Closed, tr.Forward([]byte("x")))
}

// pollPort offers only Buffered/Read/Write, like machine.Serial.
type pollPort struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func (p *pollPort) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Len()
}

func (p *pollPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in.Len() == 0 {
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *pollPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *pollPort) inject(b []byte) {
	p.mu.Lock()
	p.in.Write(b)
	p.mu.Unlock()
}

func TestPollingPort(t *testing.T) {
	port := &pollPort{}
	evs := make(chan vcp.Event, 4)
	tr := New(context.Background(), port, vcp.SinkFunc(func(ev vcp.Event) { evs <- ev }), Options{PollInterval: time.Millisecond})
	defer tr.Close()

	page := make([]byte, 8)
	tr.AcceptNext(page)
	noEvent(t, evs)

	port.inject([]byte("hi"))
	ev := nextEvent(t, evs)
	require.Equal(t, 2, ev.Len)
	require.Equal(t, "hi", string(page[:2]))

	require.NoError(t, tr.Forward([]byte("ok")))
	nextEvent(t, evs)
	port.mu.Lock()
	require.Equal(t, "ok", port.out.String())
	port.mu.Unlock()

	chunks, writes, errs := tr.Counters()
	require.Equal(t, uint32(1), chunks)
	require.Equal(t, uint32(1), writes)
	require.Zero(t, errs)
}

// gateReader blocks each Read until released, then fills one byte.
type gateReader struct {
	entered chan struct{}
	gate    chan struct{}
}

func (g *gateReader) Read(b []byte) (int, error) {
	g.entered <- struct{}{}
	<-g.gate
	b[0] = 'x'
	return 1, nil
}

func (g *gateReader) Write(b []byte) (int, error) { return len(b), nil }

func TestAbortWaitsForReadIntoPrimedPage(t *testing.T) {
	port := &gateReader{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	evs := make(chan vcp.Event, 4)
	tr := New(context.Background(), port, vcp.SinkFunc(func(ev vcp.Event) { evs <- ev }), Options{})

	old := make([]byte, 4)
	tr.AcceptNext(old)
	<-port.entered

	aborted := make(chan struct{})
	go func() {
		tr.Abort()
		close(aborted)
	}()
	select {
	case <-aborted:
		t.Fatal("Abort returned while a read into the old page was pending")
	case <-time.After(20 * time.Millisecond):
	}

	port.gate <- struct{}{}
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("Abort did not return")
	}
	ev := nextEvent(t, evs)
	require.NotEqual(t, tr.Session(), ev.Session)

	close(port.gate)
	tr.Close()
}
