//go:build rp2040 || rp2350

// Firmware: bridges the Pico's native USB CDC serial to UART0.
//
// The runtime console is that same USB serial, so service logs are discarded
// and nothing here prints.
package main

import (
	"context"
	"time"

	"vcpbridge-go/bus"
	"vcpbridge-go/internal/platform"
	"vcpbridge-go/services/bridge"
	"vcpbridge-go/services/config"
	"vcpbridge-go/services/heartbeat"
	"vcpbridge-go/x/logx"
)

func main() {
	logx.SetOutput(logx.Discard)

	// Allow USB CDC to enumerate before the bridge claims it.
	time.Sleep(2 * time.Second)

	ctx := context.Background()
	b := bus.NewBus(4)

	config.NewConfigService().Start(config.WithDevice(ctx, device), b.NewConnection("config"))
	(&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat"))

	bridge.Start(ctx, b.NewConnection("bridge"), bridge.Options{
		Dial: platform.Dialer(platform.PicoDefault),
	})
}
