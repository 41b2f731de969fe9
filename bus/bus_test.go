package bus

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("bridge", "stats"))
	conn.Publish(conn.NewMessage(T("bridge", "stats"), "s1", false))

	expectOneOf(t, sub, "s1")
}

func TestRetainedReplayAndClear(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("bridge", "state"), "up", true))
	s1 := conn.Subscribe(T("bridge", "state"))
	expectOneOf(t, s1, "up")

	conn.Publish(conn.NewMessage(T("bridge", "state"), nil, true))
	expectNoMessage(t, s1)

	s2 := conn.Subscribe(T("bridge", "state"))
	expectNoMessage(t, s2)
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")
	sub := conn.Subscribe(T("bridge", "stats"))

	for _, p := range []string{"a", "b", "c"} {
		conn.Publish(conn.NewMessage(T("bridge", "stats"), p, false))
	}
	got := drainPayloads(t, sub, 2)
	if got[0] != "b" || got[1] != "c" {
		t.Fatalf("want [b c], got %v", got)
	}
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("bridge", "+", "open"))
	s2 := c.Subscribe(T("bridge", "+", "+"))
	sNo := c.Subscribe(T("bridge", "+", "close"))

	c.Publish(b.NewMessage(T("bridge", "ctl", "open"), "m1", false))
	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(T("bridge", "ctl"), "m2", false))
	expectNoMessage(t, s1)
	expectNoMessage(t, s2)
	expectNoMessage(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sBridge := c.Subscribe(T("bridge", "#"))
	sAll := c.Subscribe(T("#"))
	sExact := c.Subscribe(T("bridge"))

	c.Publish(b.NewMessage(T("bridge"), "p1", false))
	expectOneOf(t, sBridge, "p1")
	expectOneOf(t, sAll, "p1")
	expectOneOf(t, sExact, "p1")

	c.Publish(b.NewMessage(T("bridge", "state"), "p2", false))
	expectOneOf(t, sBridge, "p2")
	expectOneOf(t, sAll, "p2")
	expectNoMessage(t, sExact)

	c.Publish(b.NewMessage(T("config", "bridge"), "p3", false))
	expectOneOf(t, sAll, "p3")
	expectNoMessage(t, sBridge)
}

func TestWildcard_RetainedDelivery(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("bridge"), "r0", true))
	c.Publish(b.NewMessage(T("bridge", "state"), "r1", true))
	c.Publish(b.NewMessage(T("bridge", "state", "uart"), "r2", true))
	c.Publish(b.NewMessage(T("bridge", "stats"), "r3", true))

	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("bridge", "#")), 4), []string{"r0", "r1", "r2", "r3"})
	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("bridge", "+", "#")), 3), []string{"r1", "r2", "r3"})
	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("bridge", "+")), 2), []string{"r1", "r3"})
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	sub := c.Subscribe(T("bridge", "state"))

	c.Unsubscribe(sub)
	sub.Unsubscribe()
	if _, ok := <-sub.Channel(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	c.Publish(b.NewMessage(T("bridge", "state"), "late", false))
}

func TestDisconnectClosesAll(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s1 := c.Subscribe(T("a"))
	s2 := c.Subscribe(T("b", "#"))
	c.Disconnect()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatal("expected closed channel")
		}
	}
}

func TestTopicHelpers(t *testing.T) {
	tp := T("bridge", "ctl")
	if got := tp.Join("/"); got != "bridge/ctl" {
		t.Fatalf("Join=%q", got)
	}
	ext := tp.Append("reply")
	if ext.Join("/") != "bridge/ctl/reply" || len(tp) != 2 {
		t.Fatalf("Append mutated or wrong: %v %v", tp, ext)
	}
}

// -----------------------------------------------------------------------------
// Request–Reply
// -----------------------------------------------------------------------------

func TestRequestReply_RequestWait(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")
	respConn := b.NewConnection("responder")

	reqTopic := T("bridge", "ctl")
	respSub := respConn.Subscribe(reqTopic)
	defer respConn.Unsubscribe(respSub)

	go func() {
		if msg, ok := <-respSub.Channel(); ok {
			respConn.Reply(msg, "OK", false)
		}
	}()

	req := b.NewMessage(reqTopic, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := reqConn.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error waiting for reply: %v", err)
	}
	if got, ok := reply.Payload.(string); !ok || got != "OK" {
		t.Fatalf("unexpected reply payload: %#v", reply.Payload)
	}
	if reply.Topic.Join("/") != req.ReplyTo.Join("/") {
		t.Fatalf("reply topic %v != request ReplyTo %v", reply.Topic, req.ReplyTo)
	}
}

func TestRequestReply_Timeout(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")

	req := b.NewMessage(T("bridge", "noop"), nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := reqConn.RequestWait(ctx, req); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			t.Fatalf("unexpected payload: %v (want %q)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			s, ok := m.Payload.(string)
			if !ok {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
			out = append(out, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
