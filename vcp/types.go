// Package vcp is the data pump of a USB CDC to UART bridge.
//
// Host to UART ("downlink") traffic goes through two ping-pong pages: one is
// always receiving from the host transport while the other is drained by the
// UART transmitter. UART to host ("uplink") traffic is written by the receiver
// into a circular buffer and forwarded by a cursor scan run from a periodic tick
// and from host transmit completions.
//
// Every entry point is non-blocking bookkeeping. The handlers may be called from
// interrupt context on TinyGo targets or from a single dispatch goroutine.
package vcp

import "vcpbridge-go/types"

// PageStatus tags one downlink page.
type PageStatus uint8

const (
	PageEmpty PageStatus = iota
	PageReceiving
	PageFull
	PageTransmitting
)

func (s PageStatus) String() string {
	switch s {
	case PageReceiving:
		return "receiving"
	case PageFull:
		return "full"
	case PageTransmitting:
		return "transmitting"
	default:
		return "empty"
	}
}

// Defaults match the original 128-byte OUT/IN buffers.
const (
	DefaultDownlinkSize = 128
	DefaultUplinkSize   = 128
)

// Config sizes the bridge buffers. Both are fixed for the bridge's lifetime.
type Config struct {
	// DownlinkSize is split into two pages of DownlinkSize/2.
	DownlinkSize int
	UplinkSize   int
}

func (c Config) withDefaults() Config {
	if c.DownlinkSize < 2 {
		c.DownlinkSize = DefaultDownlinkSize
	}
	if c.UplinkSize < 1 {
		c.UplinkSize = DefaultUplinkSize
	}
	return c
}

// ---- Collaborators ----

// HostTransport is the host-facing CDC data channel.
//
// AcceptNext primes delivery of the next inbound chunk into buf; the transport
// reports completion with OnHostChunk (or a ChunkArrived event). Forward sends
// p to the host without blocking and returns errcode.Busy when it cannot.
type HostTransport interface {
	AcceptNext(buf []byte)
	Forward(p []byte) error
}

// Aborter is implemented by transports that can drop a primed AcceptNext.
type Aborter interface {
	Abort()
}

// UART is the UART/DMA driver.
//
// StartTransmit completes with OnUARTTransmitComplete. StartCircularReceive
// runs until Stop; RemainingCount mirrors a DMA down-counter, so the write
// position is len(buf)-RemainingCount().
type UART interface {
	Configure(cfg types.LineConfig) error
	Stop()
	StartTransmit(p []byte)
	StartCircularReceive(buf []byte)
	RemainingCount() int
}

// SessionTagger is implemented by adapters that tag their completion events
// with a session number (Event.Session). The number changes whenever the
// adapter is stopped or aborted, so Dispatch can drop completions that belong
// to a session that no longer exists.
type SessionTagger interface {
	Session() uint32
}

// ReceiveCounter is an optional UART extension reporting the total number of
// bytes ever written into the circular buffer. It only feeds Stats.Overrun.
type ReceiveCounter interface {
	Received() uint64
}

// ---- Events ----

type EventKind uint8

const (
	EvNone EventKind = iota
	EvChunkArrived
	EvTransmitComplete
	EvTick
	EvHostTransmitted
	EvLineConfig
	EvOpen
	EvClose
)

func (k EventKind) String() string {
	switch k {
	case EvChunkArrived:
		return "chunk_arrived"
	case EvTransmitComplete:
		return "transmit_complete"
	case EvTick:
		return "tick"
	case EvHostTransmitted:
		return "host_transmitted"
	case EvLineConfig:
		return "line_config"
	case EvOpen:
		return "open"
	case EvClose:
		return "close"
	default:
		return "none"
	}
}

// Event is a tagged notification consumed by Bridge.Dispatch.
type Event struct {
	Kind    EventKind
	Len     int              // EvChunkArrived
	Line    types.LineConfig // EvLineConfig, EvOpen
	Session uint32           // adapter session; 0 means untagged
}

func ChunkArrived(n int) Event             { return Event{Kind: EvChunkArrived, Len: n} }
func TransmitComplete() Event              { return Event{Kind: EvTransmitComplete} }
func Tick() Event                          { return Event{Kind: EvTick} }
func HostTransmitted() Event               { return Event{Kind: EvHostTransmitted} }
func LineChanged(c types.LineConfig) Event { return Event{Kind: EvLineConfig, Line: c} }
func OpenWith(c types.LineConfig) Event    { return Event{Kind: EvOpen, Line: c} }
func CloseEvent() Event                    { return Event{Kind: EvClose} }

// Sink receives events from adapters (transport and UART completions).
type Sink interface {
	Post(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Post(ev Event) { f(ev) }

// ---- Snapshots ----

// State is a consistent copy of the bridge bookkeeping.
type State struct {
	Active     bool
	Pages      [2]PageStatus
	PendingLen int
	Cursor     int
	Line       types.LineConfig
}

// Stats are cumulative counters since the bridge was constructed.
type Stats struct {
	Opens       uint32
	ChunksDown  uint32
	BytesDown   uint64
	Queued      uint32 // chunks parked Full behind a transmission
	Truncated   uint32 // chunks longer than a page
	ForwardsUp  uint32
	BytesUp     uint64
	BusyRetries uint32
	Wraps       uint32
	Overrun     uint64 // uplink bytes lapped before being scanned
}
