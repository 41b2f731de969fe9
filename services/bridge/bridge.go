// Package bridge supervises one USB CDC to UART bridge on the bus.
//
// It waits for JSON config on "config/bridge", dials the two ports through an
// injected Dialer, and runs the vcp core on a single dispatch goroutine:
// adapter completions, the periodic tick and control requests are all
// serialised through Service.run. State is published retained on
// "bridge/state" and counters periodically on "bridge/stats".
package bridge

import (
	"context"
	"fmt"
	"time"

	"vcpbridge-go/bus"
	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
	"vcpbridge-go/vcp"
	"vcpbridge-go/x/logx"
)

var (
	topicConfig = bus.T("config", "bridge")
	topicCtl    = bus.T("bridge", "ctl")
	topicState  = bus.T("bridge", "state")
	topicStats  = bus.T("bridge", "stats")
)

// Options configure the service. Zero values select defaults.
type Options struct {
	Dial Dialer
	// Events is the depth of the adapter event queue.
	Events int
	// Backoff bounds between attach retries.
	MinBackoff, MaxBackoff time.Duration
}

// Start runs the bridge service. It blocks until ctx is cancelled.
func Start(ctx context.Context, conn *bus.Connection, opts Options) {
	newService(conn, opts).run(ctx)
}

type Service struct {
	conn   *bus.Connection
	opts   Options
	events chan linkEvent
	gen    uint64

	cfg     Config
	haveCfg bool
	link    *link
	backoff func() time.Duration

	ticker *time.Ticker
	stats  *time.Ticker
	retry  *time.Timer
}

func newService(conn *bus.Connection, opts Options) *Service {
	if opts.Events <= 0 {
		opts.Events = 16
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}
	s := &Service{
		conn:   conn,
		opts:   opts,
		events: make(chan linkEvent, opts.Events),
	}
	s.resetBackoff()
	return s
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	defer s.conn.Unsubscribe(cfgSub)
	ctlSub := s.conn.Subscribe(topicCtl)
	defer s.conn.Unsubscribe(ctlSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.detach()
			s.cancelRetry()
			s.publishState("stopped", "service_stopped", nil)
			return

		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				s.detach()
				return
			}
			s.onConfig(ctx, msg)

		case msg, ok := <-ctlSub.Channel():
			if !ok {
				ctlSub = nil
				continue
			}
			s.onCtl(msg)

		case le := <-s.events:
			if s.link == nil || le.gen != s.link.gen {
				continue
			}
			if err := s.link.br.Dispatch(le.ev); err != nil {
				logx.Println("[bridge] dispatch", le.ev.Kind.String(), "failed:", err.Error())
			}

		case <-tickerC(s.ticker):
			if s.link != nil {
				s.link.br.Tick()
			}

		case <-tickerC(s.stats):
			if s.link != nil {
				s.publishStats()
			}

		case <-s.linkDone():
			s.detach()
			s.scheduleRetry("link_lost_retrying", errcode.Closed)

		case <-timerC(s.retry):
			s.retry = nil
			s.connect(ctx)
		}
	}
}

// ---- Configuration ----

func (s *Service) onConfig(ctx context.Context, msg *bus.Message) {
	cfg, err := decodePayload[Config](msg.Payload)
	if err != nil {
		s.publishState("error", "config_decode_failed", err)
		return
	}
	if cfg, err = cfg.normalise(); err != nil {
		s.publishState("error", "config_invalid", err)
		return
	}

	prev := s.cfg
	s.cfg, s.haveCfg = cfg, true

	if !cfg.enabled() {
		s.detach()
		s.cancelRetry()
		s.publishState("idle", "disabled", nil)
		return
	}

	if s.link != nil && prev.sameBuffers(cfg) {
		s.link.cfg = cfg
		s.startTickers()
		if prev.Line == cfg.Line && s.link.br.Active() {
			return
		}
		if err := s.link.br.Dispatch(vcp.LineChanged(cfg.Line)); err != nil {
			s.publishState("error", "reconfigure_failed", err)
			return
		}
		s.publishState("up", "reconfigured", nil)
		return
	}

	s.detach()
	s.cancelRetry()
	s.resetBackoff()
	s.connect(ctx)
}

// ---- Link supervision ----

func (s *Service) connect(ctx context.Context) {
	if !s.haveCfg || !s.cfg.enabled() {
		return
	}
	l, err := s.attach(ctx, s.cfg)
	if err != nil {
		s.scheduleRetry("dial_failed_retrying", err)
		return
	}
	if err := l.br.Open(s.cfg.Line); err != nil {
		l.teardown()
		switch errcode.Of(err) {
		case errcode.InvalidParams, errcode.Unsupported, errcode.InvalidLineCoding:
			s.publishState("error", "open_failed", err)
		default:
			s.scheduleRetry("open_failed_retrying", err)
		}
		return
	}
	s.link = l
	s.resetBackoff()
	s.startTickers()
	s.publishState("up", "link_established", nil)
}

func (s *Service) detach() {
	s.stopTickers()
	if s.link == nil {
		return
	}
	l := s.link
	s.link = nil
	l.teardown()
}

func (s *Service) scheduleRetry(status string, err error) {
	delay := s.backoff()
	s.publishState("degraded", status, fmt.Errorf("%v (retry in %s)", err, delay))
	s.cancelRetry()
	s.retry = time.NewTimer(delay)
}

func (s *Service) cancelRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Service) resetBackoff() {
	s.backoff = backoffSeq(s.opts.MinBackoff, s.opts.MaxBackoff)
}

func (s *Service) linkDone() <-chan struct{} {
	if s.link == nil {
		return nil
	}
	return s.link.host.Done()
}

func (s *Service) startTickers() {
	s.stopTickers()
	s.ticker = time.NewTicker(s.cfg.tick())
	if d := s.cfg.statsEvery(); d > 0 {
		s.stats = time.NewTicker(d)
	}
}

func (s *Service) stopTickers() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.stats != nil {
		s.stats.Stop()
		s.stats = nil
	}
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// ---- Publishing ----

func (s *Service) publishState(level, status string, err error) {
	st := types.BridgeState{Level: level, Status: status, TS: time.Now().UnixMilli()}
	if err != nil {
		st.Error = err.Error()
		logx.Println("[bridge]", level, status, "err:", st.Error)
	} else {
		logx.Println("[bridge]", level, status)
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func (s *Service) publishStats() {
	s.conn.Publish(s.conn.NewMessage(topicStats, s.snapshotStats(), false))
}

func (s *Service) snapshotStats() types.BridgeStats {
	br := s.link.br
	st, c := br.Snapshot(), br.Stats()
	return types.BridgeStats{
		Active:      st.Active,
		Line:        st.Line,
		Pages:       [2]string{st.Pages[0].String(), st.Pages[1].String()},
		Cursor:      st.Cursor,
		Opens:       c.Opens,
		ChunksDown:  c.ChunksDown,
		BytesDown:   c.BytesDown,
		Queued:      c.Queued,
		Truncated:   c.Truncated,
		ForwardsUp:  c.ForwardsUp,
		BytesUp:     c.BytesUp,
		BusyRetries: c.BusyRetries,
		Wraps:       c.Wraps,
		Overrun:     c.Overrun,
		TS:          time.Now().UnixMilli(),
	}
}

// ---- Utilities ----

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}
