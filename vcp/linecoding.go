package vcp

import (
	"encoding/binary"

	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
)

// CDC class requests carrying line coding.
const (
	ReqSetLineCoding = 0x20
	ReqGetLineCoding = 0x21
)

// LineCodingSize is the length of the CDC line coding structure.
const LineCodingSize = 7

// DecodeLineCoding parses a SET_LINE_CODING payload:
// dwDTERate (LE32), bCharFormat, bParityType, bDataBits.
func DecodeLineCoding(p []byte) (types.LineConfig, error) {
	if len(p) < LineCodingSize {
		return types.LineConfig{}, &errcode.E{C: errcode.InvalidLineCoding, Op: "decode", Msg: "short payload"}
	}
	cfg := types.LineConfig{
		Baud:     binary.LittleEndian.Uint32(p[0:4]),
		DataBits: p[6],
	}
	switch p[4] {
	case 1:
		cfg.StopBits = types.StopBits1_5
	case 2:
		cfg.StopBits = types.StopBits2
	default:
		cfg.StopBits = types.StopBits1
	}
	switch p[5] {
	case 1:
		cfg.Parity = types.ParityOdd
	case 2:
		cfg.Parity = types.ParityEven
	case 3:
		cfg.Parity = types.ParityMark
	case 4:
		cfg.Parity = types.ParitySpace
	default:
		cfg.Parity = types.ParityNone
	}
	if err := cfg.Validate(); err != nil {
		return cfg, &errcode.E{C: errcode.InvalidLineCoding, Op: "decode", Err: err}
	}
	return cfg, nil
}

// EncodeLineCoding writes the GET_LINE_CODING answer for cfg into dst and
// returns the number of bytes written (0 if dst is too short).
func EncodeLineCoding(cfg types.LineConfig, dst []byte) int {
	if len(dst) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(dst[0:4], cfg.Baud)
	dst[4] = byte(cfg.StopBits)
	dst[5] = byte(cfg.Parity)
	dst[6] = cfg.DataBits
	return LineCodingSize
}

// HandleLineCoding serves the two line coding class requests. SET restarts the
// bridge with the new parameters, keeping the active flow control; GET fills
// buf with the active ones.
func (b *Bridge) HandleLineCoding(req uint8, buf []byte) (int, error) {
	switch req {
	case ReqSetLineCoding:
		cfg, err := DecodeLineCoding(buf)
		if err != nil {
			return 0, err
		}
		// Line coding has no flow control field.
		cfg.Flow = b.LineConfig().Flow
		return 0, b.Reconfigure(cfg)
	case ReqGetLineCoding:
		n := EncodeLineCoding(b.LineConfig(), buf)
		if n == 0 {
			return 0, &errcode.E{C: errcode.InvalidLineCoding, Op: "encode", Msg: "short buffer"}
		}
		return n, nil
	}
	return 0, errcode.Unsupported
}
