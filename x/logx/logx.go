// Package logx routes service log lines to a replaceable output.
//
// Services log with Println instead of the println builtin. On boards where
// the console is the bridged USB serial the firmware sets Discard, so log
// text never mixes with bridged bytes.
package logx

import (
	"strings"
	"sync"
)

// Output receives one formatted line, without a trailing newline.
type Output func(line string)

// Discard drops every line.
func Discard(string) {}

// Console writes to the runtime console.
func Console(line string) { println(line) }

var (
	mu  sync.RWMutex
	out Output = Console
)

// SetOutput replaces the output. nil selects Discard.
func SetOutput(o Output) {
	if o == nil {
		o = Discard
	}
	mu.Lock()
	out = o
	mu.Unlock()
}

// Println joins parts with spaces and emits them as one line.
func Println(parts ...string) {
	mu.RLock()
	o := out
	mu.RUnlock()
	o(strings.Join(parts, " "))
}
