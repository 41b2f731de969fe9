package config

import (
	"context"
	"testing"
	"time"

	"vcpbridge-go/bus"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "pico" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"bridge": {"tick_ms": 5}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	svc.Start(WithDevice(context.Background(), "pico"), conn)

	// Retained messages arrive even if the subscription is late.
	sub := conn.Subscribe(bus.T(configPrefix, "#"))

	wantCount := 3
	got := map[string]any{}

	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < wantCount && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) != 2 || m.Topic[0] != configPrefix {
				t.Fatalf("unexpected topic: %v", m.Topic)
			}
			if !m.Retained {
				t.Fatalf("%v not retained", m.Topic)
			}
			got[m.Topic[1]] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != wantCount {
		t.Fatalf("expected %d retained messages, got %d (%v)", wantCount, len(got), got)
	}

	if s, ok := got["mode"].(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v, want \"dev\"", got["mode"])
	}
	if v, ok := got["debug"].(bool); !ok || !v {
		t.Fatalf("debug payload = %#v, want true", got["debug"])
	}
	m, ok := got["bridge"].(map[string]any)
	if !ok {
		t.Fatalf("bridge payload type = %T, want map[string]any", got["bridge"])
	}
	if tick, ok := m["tick_ms"].(float64); !ok || tick != 5 {
		t.Fatalf("bridge.tick_ms = %#v, want 5", m["tick_ms"])
	}
}

func TestConfig_Publish_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")

	if err := NewConfigService().Publish(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_Publish_NoConfigFound(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")

	ctx := WithDevice(context.Background(), "unknown-device")
	if err := NewConfigService().Publish(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}

func TestConfig_EmbeddedDefaultsParse(t *testing.T) {
	for _, dev := range Devices() {
		b := bus.NewBus(4)
		conn := b.NewConnection("test-" + dev)
		if err := NewConfigService().Publish(WithDevice(context.Background(), dev), conn); err != nil {
			t.Fatalf("%s: %v", dev, err)
		}
	}
}
