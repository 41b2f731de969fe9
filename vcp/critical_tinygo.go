//go:build tinygo

package vcp

import "runtime/interrupt"

// critical masks interrupts around handler bookkeeping so a completion
// interrupt cannot preempt a page-status update half way through.
type critical struct{ state interrupt.State }

func (c *critical) lock()   { c.state = interrupt.Disable() }
func (c *critical) unlock() { interrupt.Restore(c.state) }
