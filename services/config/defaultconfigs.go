package config

// Embedded per-device defaults.
// Key: device ID (the value placed in ctx under CtxDeviceKey)
// Val: raw JSON object; each top-level key becomes config/<key>.

// Pico: USB CDC on the native port, UART0 on GP0/GP1, original 128-byte buffers.
const cfgPico = `{
  "bridge": {
    "line": {"baud": 115200, "data_bits": 8, "stop_bits": "1", "parity": "none", "flow": "none"},
    "downlink_size": 128,
    "uplink_size": 128,
    "max_packet": 64,
    "tick_ms": 5,
    "stats_ms": 5000
  },
  "heartbeat": {"interval_s": 30}
}`

// Linux USB gadget: larger buffers, the gadget driver has no packet cap.
const cfgGadget = `{
  "bridge": {
    "line": {"baud": 115200, "data_bits": 8, "stop_bits": "1", "parity": "none", "flow": "none"},
    "downlink_size": 1024,
    "uplink_size": 2048,
    "tick_ms": 5,
    "stats_ms": 1000
  },
  "heartbeat": {"interval_s": 10}
}`

// Simulator: small buffers so page swaps and wraps are easy to watch.
const cfgSim = `{
  "bridge": {
    "line": {"baud": 9600, "data_bits": 8, "stop_bits": "1", "parity": "none", "flow": "none"},
    "downlink_size": 16,
    "uplink_size": 16,
    "tick_ms": 10,
    "stats_ms": -1
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico":   []byte(cfgPico),
	"pico2":  []byte(cfgPico),
	"gadget": []byte(cfgGadget),
	"sim":    []byte(cfgSim),
}
