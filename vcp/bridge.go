package vcp

import (
	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
)

// Bridge owns the buffers and bookkeeping of one bridge channel.
// It is created once, starts inactive, and is driven only through its handlers.
type Bridge struct {
	cs critical

	host HostTransport
	uart UART

	// Downlink
	pages      [2][]byte
	status     [2]PageStatus
	pendingLen int

	// Uplink
	uplink   []byte
	cursor   int
	scanning bool
	consumed uint64 // ReceiveCounter total accounted for (forwarded or lapped)

	line   types.LineConfig
	active bool

	stats Stats
}

// New allocates the page and circular buffers. No handler allocates afterwards.
func New(cfg Config, host HostTransport, uart UART) *Bridge {
	cfg = cfg.withDefaults()
	half := cfg.DownlinkSize / 2
	down := make([]byte, 2*half)
	b := &Bridge{
		host:   host,
		uart:   uart,
		uplink: make([]byte, cfg.UplinkSize),
		line:   types.DefaultLineConfig,
	}
	b.pages[0] = down[:half:half]
	b.pages[1] = down[half:]
	return b
}

// PageSize is the capacity of one downlink page.
func (b *Bridge) PageSize() int { return len(b.pages[0]) }

// UplinkSize is the capacity of the circular receive buffer.
func (b *Bridge) UplinkSize() int { return len(b.uplink) }

// ---- Lifecycle ----

// Open configures the UART and restarts both pipelines from their initial
// state. Hardware transfers are stopped before the state is reset and started
// only once the new state is written, so late completions from a previous
// session cannot observe a torn state.
func (b *Bridge) Open(cfg types.LineConfig) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "open", Err: err}
	}

	b.halt()
	if err := b.uart.Configure(cfg); err != nil {
		return errcode.Wrap(errcode.Of(err), "configure", err)
	}

	b.cs.lock()
	b.status = [2]PageStatus{PageReceiving, PageEmpty}
	b.pendingLen = 0
	b.cursor = 0
	b.scanning = false
	if rc, ok := b.uart.(ReceiveCounter); ok {
		b.consumed = rc.Received()
	}
	b.line = cfg
	b.active = true
	b.stats.Opens++
	first := b.pages[0]
	b.cs.unlock()

	b.host.AcceptNext(first)
	b.uart.StartCircularReceive(b.uplink)
	return nil
}

// Close stops the hardware and discards buffered data. It is idempotent.
func (b *Bridge) Close() {
	b.halt()
}

// Reconfigure is a full restart with new line parameters; in-flight transfers
// are dropped.
func (b *Bridge) Reconfigure(cfg types.LineConfig) error {
	b.Close()
	return b.Open(cfg)
}

func (b *Bridge) halt() {
	b.cs.lock()
	b.active = false
	b.cs.unlock()

	b.uart.Stop()
	if a, ok := b.host.(Aborter); ok {
		a.Abort()
	}
}

// Tick runs the uplink scan while the channel is open.
func (b *Bridge) Tick() {
	b.ScanAndForward()
}

// OnHostTransmitted is called when the host transport finished a Forward.
func (b *Bridge) OnHostTransmitted() {
	b.ScanAndForward()
}

// Dispatch routes a tagged event to its handler. Completions carrying a
// session tag that no longer matches their adapter are dropped.
func (b *Bridge) Dispatch(ev Event) error {
	switch ev.Kind {
	case EvChunkArrived:
		if stale(b.host, ev) {
			return nil
		}
		b.OnHostChunk(ev.Len)
	case EvTransmitComplete:
		if stale(b.uart, ev) {
			return nil
		}
		b.OnUARTTransmitComplete()
	case EvTick:
		b.Tick()
	case EvHostTransmitted:
		b.OnHostTransmitted()
	case EvLineConfig:
		return b.Reconfigure(ev.Line)
	case EvOpen:
		return b.Open(ev.Line)
	case EvClose:
		b.Close()
	default:
		return errcode.Unsupported
	}
	return nil
}

func stale(adapter any, ev Event) bool {
	if ev.Session == 0 {
		return false
	}
	st, ok := adapter.(SessionTagger)
	return ok && st.Session() != ev.Session
}

// ---- Introspection ----

func (b *Bridge) Active() bool {
	b.cs.lock()
	defer b.cs.unlock()
	return b.active
}

// LineConfig is the active line configuration (CDC GET_LINE_CODING).
func (b *Bridge) LineConfig() types.LineConfig {
	b.cs.lock()
	defer b.cs.unlock()
	return b.line
}

func (b *Bridge) Snapshot() State {
	b.cs.lock()
	defer b.cs.unlock()
	return State{
		Active:     b.active,
		Pages:      b.status,
		PendingLen: b.pendingLen,
		Cursor:     b.cursor,
		Line:       b.line,
	}
}

func (b *Bridge) Stats() Stats {
	b.cs.lock()
	defer b.cs.unlock()
	return b.stats
}
