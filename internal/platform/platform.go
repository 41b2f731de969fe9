// Package platform opens the two ports a bridge runs over on each target:
// uartx plus the native USB CDC serial on RP2, tarm/serial devices on a Linux
// USB gadget host.
package platform

import (
	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
)

// parityOf maps the parity names used by uartdma.FormatSetter.
func parityOf(name string) (types.Parity, error) {
	var p types.Parity
	if err := p.UnmarshalText([]byte(name)); err != nil {
		return types.ParityNone, errcode.Wrap(errcode.InvalidParams, "parity", err)
	}
	return p, nil
}
