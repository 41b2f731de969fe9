//go:build !tinygo

package platform

import (
	"context"

	"vcpbridge-go/services/bridge"
)

// GadgetDialer opens the gadget's CDC tty (hostPath, e.g. /dev/ttyGS0) and the
// UART device for each bridge session. baud is only the opening rate; the
// bridge applies its line config right after.
func GadgetDialer(hostPath, uartPath string, baud int) bridge.Dialer {
	return func(ctx context.Context) (bridge.Ports, error) {
		host, err := OpenDevice(hostPath, baud)
		if err != nil {
			return bridge.Ports{}, err
		}
		uart, err := OpenDevice(uartPath, baud)
		if err != nil {
			host.Close()
			return bridge.Ports{}, err
		}
		return bridge.Ports{
			Host: host,
			UART: uart,
			Close: func() error {
				herr := host.Close()
				if err := uart.Close(); err != nil {
					return err
				}
				return herr
			},
		}, nil
	}
}
