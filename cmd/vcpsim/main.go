// Command vcpsim runs the bridge service over in-memory wires and drives it
// from an interactive shell or a script.
//
//	vcpsim                      interactive
//	vcpsim -script steps.txt    one shell command per line
//	vcpsim -loopback            device side echoes everything it receives
package main

import (
	"context"
	"flag"
	"os"
	"sync"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"vcpbridge-go/bus"
	"vcpbridge-go/internal/simport"
	"vcpbridge-go/services/bridge"
	"vcpbridge-go/services/config"
	"vcpbridge-go/x/logx"
)

var (
	device   = flag.String("device", "sim", "embedded config to publish")
	script   = flag.String("script", "", "run commands from file instead of a shell")
	loopback = flag.Bool("loopback", false, "echo device-side traffic back to the host")
	wireSize = flag.Int("wire", 256, "bytes of buffering per wire direction")
)

// Sim owns the bus and the far ends of the simulated wires.
type Sim struct {
	ctx  context.Context
	conn *bus.Connection

	mu   sync.Mutex
	host *simport.Port // what the PC sees
	dev  *simport.Port // what the serial device sees
}

func (s *Sim) dial(ctx context.Context) (bridge.Ports, error) {
	hostA, hostB := simport.Pair(*wireSize)
	uartA, uartB := simport.Pair(*wireSize)
	s.mu.Lock()
	s.host, s.dev = hostB, uartB
	s.mu.Unlock()
	if *loopback {
		go simport.Loopback(ctx, uartB)
	}
	glog.V(1).Infof("dialled new wires (%d bytes)", *wireSize)
	return bridge.Ports{
		Host: hostA,
		UART: uartA,
		Close: func() error {
			hostA.Close()
			uartA.Close()
			return nil
		},
	}, nil
}

func (s *Sim) ends() (host, dev *simport.Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.dev
}

func main() {
	flag.Parse()
	defer glog.Flush()
	logx.SetOutput(func(line string) { glog.V(1).Info(line) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(16)
	sim := &Sim{ctx: ctx, conn: b.NewConnection("vcpsim")}

	go bridge.Start(ctx, b.NewConnection("bridge"), bridge.Options{Dial: sim.dial})
	if err := config.NewConfigService().Publish(config.WithDevice(ctx, *device), b.NewConnection("config")); err != nil {
		glog.Exitf("config: %v", err)
	}

	shell := ishell.New()
	shell.Set(simKey, sim)
	shell.SetPrompt("vcp > ")
	for _, cmd := range commands {
		shell.AddCmd(cmd)
	}

	if *script != "" {
		f, err := os.Open(*script)
		if err != nil {
			glog.Exitf("script: %v", err)
		}
		steps, err := parseScript(f)
		f.Close()
		if err != nil {
			glog.Exitf("script: %v", err)
		}
		// Let the bridge attach before the first step.
		time.Sleep(50 * time.Millisecond)
		for _, args := range steps {
			if err := shell.Process(args...); err != nil {
				glog.Exitf("%v: %v", args, err)
			}
		}
		return
	}
	shell.Run()
}
