package vcp

import (
	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
)

// fakeHost records transport calls. armed is the buffer of the latest
// AcceptNext that has not been delivered yet.
type fakeHost struct {
	accepts  [][]byte
	armed    []byte
	forwards [][]byte
	busy     bool
	aborts   int

	onAccept  func(buf []byte)
	onForward func(p []byte)
}

func (h *fakeHost) AcceptNext(buf []byte) {
	h.accepts = append(h.accepts, buf)
	h.armed = buf
	if h.onAccept != nil {
		h.onAccept(buf)
	}
}

func (h *fakeHost) Forward(p []byte) error {
	if h.onForward != nil {
		h.onForward(p)
	}
	if h.busy {
		return errcode.Busy
	}
	h.forwards = append(h.forwards, append([]byte(nil), p...))
	return nil
}

func (h *fakeHost) Abort() {
	h.aborts++
	h.armed = nil
}

// deliver copies data into the armed page and reports it to b.
func (h *fakeHost) deliver(b *Bridge, data []byte) {
	buf := h.armed
	h.armed = nil
	copy(buf, data)
	b.OnHostChunk(len(data))
}

func (h *fakeHost) forwarded() []byte {
	var out []byte
	for _, f := range h.forwards {
		out = append(out, f...)
	}
	return out
}

// fakeUART models a transmit DMA and a circular receive DMA.
type fakeUART struct {
	configs []types.LineConfig
	cfgErr  error
	stops   int

	tx       [][]byte // every StartTransmit slice, in order
	inflight []byte

	rx        []byte
	remaining int
	received  uint64
}

func (u *fakeUART) Configure(cfg types.LineConfig) error {
	if u.cfgErr != nil {
		return u.cfgErr
	}
	u.configs = append(u.configs, cfg)
	return nil
}

// Stop abandons the in-flight transmit without completing it, as
// uartdma.Driver.Stop does.
func (u *fakeUART) Stop() {
	u.stops++
	u.inflight = nil
}

func (u *fakeUART) StartTransmit(p []byte) {
	u.tx = append(u.tx, p)
	u.inflight = p
}

func (u *fakeUART) StartCircularReceive(buf []byte) {
	u.rx = buf
	u.remaining = len(buf)
}

func (u *fakeUART) RemainingCount() int { return u.remaining }

// complete finishes the in-flight transmit and returns a copy of what was sent.
func (u *fakeUART) complete(b *Bridge) []byte {
	sent := append([]byte(nil), u.inflight...)
	u.inflight = nil
	b.OnUARTTransmitComplete()
	return sent
}

// write emulates the receive DMA storing data at its write position.
func (u *fakeUART) write(data []byte) {
	size := len(u.rx)
	for _, c := range data {
		pos := size - u.remaining
		u.rx[pos] = c
		u.remaining--
		if u.remaining == 0 {
			u.remaining = size
		}
		u.received++
	}
}

// countingUART adds ReceiveCounter.
type countingUART struct{ fakeUART }

func (u *countingUART) Received() uint64 { return u.received }

// pageOf maps a slice handed out by the bridge back to its page index.
func pageOf(b *Bridge, p []byte) int {
	if cap(p) == 0 {
		return -1
	}
	q := p[:1]
	for i := range b.pages {
		if &b.pages[i][0] == &q[0] {
			return i
		}
	}
	return -1
}

func seq(start, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(start + i)
	}
	return out
}
