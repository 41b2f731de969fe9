package types

import "errors"

// ------------------------
// Serial line parameters
// ------------------------

type Parity uint8

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return "none"
	}
}

func (p Parity) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Parity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "none", "n", "N":
		*p = ParityNone
	case "odd", "o", "O":
		*p = ParityOdd
	case "even", "e", "E":
		*p = ParityEven
	case "mark", "m", "M":
		*p = ParityMark
	case "space", "s", "S":
		*p = ParitySpace
	default:
		return errors.New("invalid parity: " + string(b))
	}
	return nil
}

// StopBits uses the CDC bCharFormat numbering.
type StopBits uint8

const (
	StopBits1 StopBits = iota
	StopBits1_5
	StopBits2
)

func (s StopBits) String() string {
	switch s {
	case StopBits1_5:
		return "1.5"
	case StopBits2:
		return "2"
	default:
		return "1"
	}
}

// Count returns the whole number of stop bits a UART should be programmed with.
// 1.5 is rounded up; most UARTs only support 1 or 2.
func (s StopBits) Count() uint8 {
	if s == StopBits1 {
		return 1
	}
	return 2
}

func (s StopBits) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *StopBits) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "1":
		*s = StopBits1
	case "1.5":
		*s = StopBits1_5
	case "2":
		*s = StopBits2
	default:
		return errors.New("invalid stop bits: " + string(b))
	}
	return nil
}

type FlowControl uint8

const (
	FlowNone FlowControl = iota
	FlowRTSCTS
)

func (f FlowControl) String() string {
	if f == FlowRTSCTS {
		return "rtscts"
	}
	return "none"
}

func (f FlowControl) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FlowControl) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "none":
		*f = FlowNone
	case "rtscts", "hw":
		*f = FlowRTSCTS
	default:
		return errors.New("invalid flow control: " + string(b))
	}
	return nil
}

// LineConfig is the UART framing requested by the host.
type LineConfig struct {
	Baud     uint32      `json:"baud"`
	DataBits uint8       `json:"data_bits"`
	StopBits StopBits    `json:"stop_bits"`
	Parity   Parity      `json:"parity"`
	Flow     FlowControl `json:"flow"`
}

// DefaultLineConfig is 115200 8N1 without flow control.
var DefaultLineConfig = LineConfig{
	Baud:     115200,
	DataBits: 8,
	StopBits: StopBits1,
	Parity:   ParityNone,
	Flow:     FlowNone,
}

var (
	ErrBadBaud     = errors.New("baud rate must be non-zero")
	ErrBadDataBits = errors.New("data bits must be 5..8")
	ErrBadStopBits = errors.New("unknown stop bits")
	ErrBadParity   = errors.New("unknown parity")
)

func (c LineConfig) Validate() error {
	if c.Baud == 0 {
		return ErrBadBaud
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return ErrBadDataBits
	}
	if c.StopBits > StopBits2 {
		return ErrBadStopBits
	}
	if c.Parity > ParitySpace {
		return ErrBadParity
	}
	return nil
}

// WithDefaults fills zero fields from DefaultLineConfig.
func (c LineConfig) WithDefaults() LineConfig {
	if c.Baud == 0 {
		c.Baud = DefaultLineConfig.Baud
	}
	if c.DataBits == 0 {
		c.DataBits = DefaultLineConfig.DataBits
	}
	return c
}
