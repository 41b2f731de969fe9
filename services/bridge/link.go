package bridge

import (
	"context"
	"errors"
	"io"

	"vcpbridge-go/internal/cdcstream"
	"vcpbridge-go/internal/uartdma"
	"vcpbridge-go/vcp"
)

// Ports are the two streams one bridge runs over: the host-facing CDC data
// channel and the device UART.
type Ports struct {
	Host  io.ReadWriter
	UART  uartdma.Port
	Close func() error
}

// Dialer opens the ports for a bridge session.
type Dialer func(ctx context.Context) (Ports, error)

// Dial is injected by platform code and used when Options.Dial is nil.
var Dial Dialer

var errNoDial = errors.New("bridge dialer not configured")

// link is one attached bridge: adapters, core and the ports under them.
type link struct {
	gen    uint64
	cancel context.CancelFunc
	ports  Ports
	host   *cdcstream.Transport
	uart   *uartdma.Driver
	br     *vcp.Bridge
	cfg    Config
}

type linkEvent struct {
	gen uint64
	ev  vcp.Event
}

func (s *Service) dialer() Dialer {
	if s.opts.Dial != nil {
		return s.opts.Dial
	}
	return Dial
}

// attach dials the ports and builds a bridge over them. The bridge is not
// opened.
func (s *Service) attach(ctx context.Context, cfg Config) (*link, error) {
	dial := s.dialer()
	if dial == nil {
		return nil, errNoDial
	}
	ports, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	s.gen++
	gen := s.gen
	lctx, cancel := context.WithCancel(ctx)
	sink := vcp.SinkFunc(func(ev vcp.Event) {
		select {
		case s.events <- linkEvent{gen: gen, ev: ev}:
		case <-lctx.Done():
		}
	})

	l := &link{gen: gen, cancel: cancel, ports: ports, cfg: cfg}
	l.host = cdcstream.New(lctx, ports.Host, sink, cdcstream.Options{
		MaxPacket:    cfg.MaxPacket,
		EndpointSize: cfg.UplinkSize,
	})
	l.uart = uartdma.New(lctx, ports.UART, sink)
	l.br = vcp.New(vcp.Config{DownlinkSize: cfg.DownlinkSize, UplinkSize: cfg.UplinkSize}, l.host, l.uart)
	return l, nil
}

// teardown stops the bridge, releases the adapters and closes the ports.
func (l *link) teardown() {
	l.br.Close()
	l.cancel()
	l.host.Close()
	if l.ports.Close != nil {
		_ = l.ports.Close()
	}
}
