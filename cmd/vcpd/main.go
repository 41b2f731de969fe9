// Command vcpd runs the bridge on a Linux USB gadget: the CDC ACM function's
// tty on one side and a local UART on the other. With -mqtt it also mirrors
// state and counters to a broker and takes config and control from it.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"vcpbridge-go/bus"
	"vcpbridge-go/internal/platform"
	"vcpbridge-go/internal/telemetry"
	"vcpbridge-go/services/bridge"
	"vcpbridge-go/services/config"
	"vcpbridge-go/services/heartbeat"
	"vcpbridge-go/x/logx"
)

var (
	hostPath = flag.String("host", "/dev/ttyGS0", "CDC ACM gadget tty")
	uartPath = flag.String("uart", "/dev/ttyS1", "UART device")
	baud     = flag.Int("baud", 115200, "opening baud rate")
	device   = flag.String("device", "gadget", "embedded config to publish")
	mqttURL  = "" // mqtt://[user:pass@]host:port/prefix
)

func init() {
	if val := os.Getenv("VCP_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL, empty to disable")
}

func main() {
	flag.Parse()
	defer glog.Flush()
	logx.SetOutput(func(line string) { glog.Info(line) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(16)

	if err := config.NewConfigService().Publish(config.WithDevice(ctx, *device), b.NewConnection("config")); err != nil {
		glog.Exitf("config: %v", err)
	}

	(&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat"))

	if mqttURL != "" {
		mirror, client, err := telemetry.Dial(b.NewConnection("telemetry"), mqttURL)
		if err != nil {
			glog.Exitf("mqtt: %v", err)
		}
		defer client.Disconnect(250)
		go func() {
			if err := mirror.Run(ctx); err != nil {
				glog.Errorf("telemetry: %v", err)
			}
		}()
	}

	glog.Infof("bridging %s <-> %s", *hostPath, *uartPath)
	bridge.Start(ctx, b.NewConnection("bridge"), bridge.Options{
		Dial: platform.GadgetDialer(*hostPath, *uartPath, *baud),
	})
	glog.Info("stopped")
}
