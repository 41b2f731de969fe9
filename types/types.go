package types

// ---- Bridge state (retained on "bridge/state") ----

type BridgeState struct {
	Level  string `json:"level"`  // "idle", "up", "degraded", "error", "stopped"
	Status string `json:"status"` // short machine string
	TS     int64  `json:"ts_ms"`
	Error  string `json:"error,omitempty"`
}

// BridgeStats is published periodically on "bridge/stats".
type BridgeStats struct {
	Active      bool       `json:"active"`
	Line        LineConfig `json:"line"`
	Pages       [2]string  `json:"pages"`
	Cursor      int        `json:"cursor"`
	Opens       uint32     `json:"opens"`
	ChunksDown  uint32     `json:"chunks_down"`
	BytesDown   uint64     `json:"bytes_down"`
	Queued      uint32     `json:"queued"`
	Truncated   uint32     `json:"truncated"`
	ForwardsUp  uint32     `json:"forwards_up"`
	BytesUp     uint64     `json:"bytes_up"`
	BusyRetries uint32     `json:"busy_retries"`
	Wraps       uint32     `json:"wraps"`
	Overrun     uint64     `json:"overrun_bytes"`
	TS          int64      `json:"ts_ms"`
}

// ---- Control plane ("bridge/ctl") ----

// BridgeCtl is a control request. Op is one of "open", "close", "set_line",
// "set_line_coding", "get_line_coding", "stats".
type BridgeCtl struct {
	Op         string      `json:"op"`
	Line       *LineConfig `json:"line,omitempty"`
	LineCoding string      `json:"line_coding,omitempty"` // hex, 7 bytes
}

// BridgeReply answers a BridgeCtl sent with a ReplyTo topic.
type BridgeReply struct {
	OK         bool         `json:"ok"`
	Error      string       `json:"error,omitempty"`
	Line       *LineConfig  `json:"line,omitempty"`
	LineCoding string       `json:"line_coding,omitempty"`
	Stats      *BridgeStats `json:"stats,omitempty"`
}

// Heartbeat is published periodically on "bridge/heartbeat".
type Heartbeat struct {
	Seq      uint32 `json:"seq"`
	UptimeMS int64  `json:"uptime_ms"`
	TS       int64  `json:"ts_ms"`
}
