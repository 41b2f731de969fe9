// Package heartbeat publishes a liveness beat on "bridge/heartbeat" so remote
// observers can tell a quiet bridge from a dead one.
package heartbeat

import (
	"context"
	"time"

	"vcpbridge-go/bus"
	"vcpbridge-go/types"
	"vcpbridge-go/x/logx"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("bridge", "heartbeat")
)

const defaultInterval = 10 * time.Second

type Service struct {
	// Interval overrides the default period until config says otherwise.
	Interval time.Duration
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	start := time.Now()
	var seq uint32

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			logx.Println("Info: heartbeat service stopping")
			return
		case t := <-tick.C:
			seq++
			conn.Publish(conn.NewMessage(topicHeartbeat, types.Heartbeat{
				Seq:      seq,
				UptimeMS: t.Sub(start).Milliseconds(),
				TS:       t.UnixMilli(),
			}, false))
		case msg := <-cfgSub.Channel():
			if d, ok := intervalOf(msg.Payload); ok {
				tick.Reset(d)
				logx.Println("Info:", "heartbeat interval set to", d.String())
			}
		}
	}
}

// intervalOf reads {"interval_s": n} as decoded from JSON config.
func intervalOf(p any) (time.Duration, bool) {
	m, ok := p.(map[string]any)
	if !ok {
		return 0, false
	}
	iv, ok := m["interval_s"].(float64)
	if !ok || iv <= 0 {
		return 0, false
	}
	return time.Duration(iv * float64(time.Second)), true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
