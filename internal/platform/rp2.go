//go:build rp2040 || rp2350

package platform

import (
	"context"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"vcpbridge-go/errcode"
	"vcpbridge-go/services/bridge"
	"vcpbridge-go/types"
)

// Board names the UART instance and pins the bridge drives.
type Board struct {
	UART string // "uart0" or "uart1"
	TX   machine.Pin
	RX   machine.Pin
}

// PicoDefault is UART0 on GP0 (TX) and GP1 (RX).
var PicoDefault = Board{UART: "uart0", TX: machine.GP0, RX: machine.GP1}

// Dialer returns the native USB CDC serial as host port and the board UART.
// The hardware is configured once; later sessions reuse it.
func Dialer(b Board) bridge.Dialer {
	var port *serialPort
	return func(ctx context.Context) (bridge.Ports, error) {
		if port == nil {
			var hw *uartx.UART
			switch b.UART {
			case "uart0":
				hw = uartx.UART0
			case "uart1":
				hw = uartx.UART1
			default:
				return bridge.Ports{}, &errcode.E{C: errcode.InvalidParams, Op: "dial", Msg: "unknown uart " + b.UART}
			}
			if err := hw.Configure(uartx.UARTConfig{
				BaudRate: types.DefaultLineConfig.Baud,
				TX:       b.TX,
				RX:       b.RX,
			}); err != nil {
				return bridge.Ports{}, errcode.Wrap(errcode.NotAttached, "configure "+b.UART, err)
			}
			port = &serialPort{u: hw}
		}
		return bridge.Ports{Host: machine.Serial, UART: port}, nil
	}
}

// serialPort adapts uartx to uartdma.Port and its configurators.
type serialPort struct{ u *uartx.UART }

func (p *serialPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *serialPort) RecvSomeContext(ctx context.Context, buf []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, buf)
}
func (p *serialPort) SetBaudRate(br uint32) error { p.u.SetBaudRate(br); return nil }

// Mark and space parity are not available on the RP2 UART.
func (p *serialPort) SetFormat(databits, stopbits uint8, parity string) error {
	par, err := parityOf(parity)
	if err != nil {
		return err
	}
	var hw uartx.UARTParity
	switch par {
	case types.ParityNone:
		hw = uartx.ParityNone
	case types.ParityEven:
		hw = uartx.ParityEven
	case types.ParityOdd:
		hw = uartx.ParityOdd
	default:
		return &errcode.E{C: errcode.Unsupported, Op: "set_format", Msg: "parity " + parity}
	}
	return p.u.SetFormat(databits, stopbits, hw)
}
