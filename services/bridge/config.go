package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"vcpbridge-go/types"
	"vcpbridge-go/vcp"
	"vcpbridge-go/x/mathx"
)

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Line types.LineConfig `json:"line"`

	// Buffer sizes. Changing either rebuilds the bridge.
	DownlinkSize int `json:"downlink_size,omitempty"`
	UplinkSize   int `json:"uplink_size,omitempty"`

	// MaxPacket caps one host chunk (64 for a full-speed bulk endpoint).
	MaxPacket int `json:"max_packet,omitempty"`

	TickMS  int `json:"tick_ms,omitempty"`
	StatsMS int `json:"stats_ms,omitempty"` // <0 disables stats publishing

	Enabled *bool `json:"enabled,omitempty"` // default true
}

const (
	defaultTick  = 5 * time.Millisecond
	defaultStats = time.Second
	maxBuffer    = 4096
)

func (c Config) enabled() bool { return c.Enabled == nil || *c.Enabled }

// normalise fills defaults, clamps ranges and validates the line.
func (c Config) normalise() (Config, error) {
	if c.DownlinkSize == 0 {
		c.DownlinkSize = vcp.DefaultDownlinkSize
	}
	if c.UplinkSize == 0 {
		c.UplinkSize = vcp.DefaultUplinkSize
	}
	c.DownlinkSize = mathx.Clamp(c.DownlinkSize, 2, maxBuffer) &^ 1
	c.UplinkSize = mathx.Clamp(c.UplinkSize, 1, maxBuffer)
	c.MaxPacket = mathx.Clamp(c.MaxPacket, 0, c.DownlinkSize/2)

	if c.TickMS <= 0 {
		c.TickMS = int(defaultTick / time.Millisecond)
	}
	c.TickMS = mathx.Clamp(c.TickMS, 1, 1000)
	if c.StatsMS == 0 {
		c.StatsMS = int(defaultStats / time.Millisecond)
	}
	if c.StatsMS > 0 {
		c.StatsMS = mathx.Clamp(c.StatsMS, 100, 60000)
	}

	c.Line = c.Line.WithDefaults()
	if err := c.Line.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) tick() time.Duration { return time.Duration(c.TickMS) * time.Millisecond }

func (c Config) statsEvery() time.Duration {
	if c.StatsMS < 0 {
		return 0
	}
	return time.Duration(c.StatsMS) * time.Millisecond
}

func (c Config) sameBuffers(o Config) bool {
	return c.DownlinkSize == o.DownlinkSize && c.UplinkSize == o.UplinkSize && c.MaxPacket == o.MaxPacket
}

// decodePayload accepts the payload shapes seen on the bus: raw JSON, a JSON
// string, an already decoded object, or the target type itself.
func decodePayload[T any](p any) (T, error) {
	var out T
	switch v := p.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return out, fmt.Errorf("nil %T payload", v)
		}
		return *v, nil
	case []byte:
		err := json.Unmarshal(v, &out)
		return out, err
	case string:
		err := json.Unmarshal([]byte(v), &out)
		return out, err
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return out, err
		}
		err = json.Unmarshal(b, &out)
		return out, err
	default:
		return out, fmt.Errorf("unsupported payload type: %T", p)
	}
}
