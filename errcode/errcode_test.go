package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", Busy, Busy},
		{"wrapped code", fmt.Errorf("forward: %w", Closed), Closed},
		{"E", &E{C: InvalidParams, Op: "open"}, InvalidParams},
		{"E over other code", Wrap(Unsupported, "configure", Closed), Unsupported},
		{"E under fmt", fmt.Errorf("ctl: %w", &E{C: InvalidLineCoding}), InvalidLineCoding},
		{"plain", errors.New("boom"), Error},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Errorf("%s: Of = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Busy, "x", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}

func TestEError(t *testing.T) {
	e := &E{C: InvalidParams, Op: "open", Msg: "bad baud", Err: errors.New("zero")}
	if got := e.Error(); got != "open: invalid_params: bad baud: zero" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(e, e.Err) {
		t.Fatal("Unwrap lost the cause")
	}
}
