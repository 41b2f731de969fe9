package vcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
)

func TestDecodeLineCoding(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want types.LineConfig
	}{
		{"115200 8N1", []byte{0x00, 0xC2, 0x01, 0x00, 0, 0, 8},
			types.LineConfig{Baud: 115200, DataBits: 8}},
		{"9600 7E2", []byte{0x80, 0x25, 0x00, 0x00, 2, 2, 7},
			types.LineConfig{Baud: 9600, DataBits: 7, StopBits: types.StopBits2, Parity: types.ParityEven}},
		{"19200 8O1.5", []byte{0x00, 0x4B, 0x00, 0x00, 1, 1, 8},
			types.LineConfig{Baud: 19200, DataBits: 8, StopBits: types.StopBits1_5, Parity: types.ParityOdd}},
		{"unknown parity is none", []byte{0x80, 0x25, 0x00, 0x00, 0, 9, 8},
			types.LineConfig{Baud: 9600, DataBits: 8}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := DecodeLineCoding(c.in)
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestDecodeLineCodingRejects(t *testing.T) {
	_, err := DecodeLineCoding([]byte{1, 2, 3})
	require.Equal(t, errcode.InvalidLineCoding, errcode.Of(err))

	_, err = DecodeLineCoding([]byte{0x80, 0x25, 0, 0, 0, 0, 16})
	require.Equal(t, errcode.InvalidLineCoding, errcode.Of(err))

	_, err = DecodeLineCoding([]byte{0, 0, 0, 0, 0, 0, 8})
	require.Equal(t, errcode.InvalidLineCoding, errcode.Of(err))
}

func TestEncodeLineCoding(t *testing.T) {
	var buf [LineCodingSize]byte
	n := EncodeLineCoding(types.LineConfig{Baud: 9600, DataBits: 7, StopBits: types.StopBits2, Parity: types.ParityOdd}, buf[:])
	require.Equal(t, LineCodingSize, n)
	require.Equal(t, [LineCodingSize]byte{0x80, 0x25, 0, 0, 2, 1, 7}, buf)

	require.Zero(t, EncodeLineCoding(types.DefaultLineConfig, buf[:3]))
}

func TestHandleLineCodingRestartsBridge(t *testing.T) {
	b, h, u := openBridge(t, Config{})
	h.deliver(b, seq(0, 10))

	n, err := b.HandleLineCoding(ReqSetLineCoding, []byte{0x80, 0x25, 0, 0, 0, 2, 8})
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, [2]PageStatus{PageReceiving, PageEmpty}, b.Snapshot().Pages)
	require.Equal(t, types.ParityEven, u.configs[len(u.configs)-1].Parity)

	var out [LineCodingSize]byte
	n, err = b.HandleLineCoding(ReqGetLineCoding, out[:])
	require.NoError(t, err)
	require.Equal(t, LineCodingSize, n)
	require.Equal(t, [LineCodingSize]byte{0x80, 0x25, 0, 0, 0, 2, 8}, out)

	_, err = b.HandleLineCoding(0x22, nil)
	require.Equal(t, errcode.Unsupported, errcode.Of(err))
}

func TestSetLineCodingKeepsFlowControl(t *testing.T) {
	h, u := &fakeHost{}, &fakeUART{}
	b := New(Config{}, h, u)
	rtscts := types.DefaultLineConfig
	rtscts.Flow = types.FlowRTSCTS
	require.NoError(t, b.Open(rtscts))

	_, err := b.HandleLineCoding(ReqSetLineCoding, []byte{0x00, 0x4b, 0, 0, 0, 1, 8})
	require.NoError(t, err)

	got := u.configs[len(u.configs)-1]
	require.Equal(t, uint32(19200), got.Baud)
	require.Equal(t, types.ParityOdd, got.Parity)
	require.Equal(t, types.FlowRTSCTS, got.Flow)
	require.Equal(t, types.FlowRTSCTS, b.LineConfig().Flow)
}
