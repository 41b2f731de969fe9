//go:build !tinygo

package vcp

import "sync"

// critical serialises handler bookkeeping on host builds, where completions
// arrive from adapter goroutines.
type critical struct{ mu sync.Mutex }

func (c *critical) lock()   { c.mu.Lock() }
func (c *critical) unlock() { c.mu.Unlock() }
