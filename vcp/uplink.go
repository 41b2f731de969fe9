package vcp

// ScanAndForward forwards bytes the receiver wrote since the last successful
// scan. After a wrap only the tail [cursor, cap) is sent; the head is picked up
// by the next call. A Busy transport leaves the cursor in place.
//
// Loss is possible: if the receiver laps the cursor between scans, the lapped
// bytes are overwritten and never forwarded. Nothing reports this except
// Stats.Overrun, and only when the UART implements ReceiveCounter.
//
// A call that arrives while another scan is forwarding returns immediately.
func (b *Bridge) ScanAndForward() {
	b.cs.lock()
	if !b.active || b.scanning {
		b.cs.unlock()
		return
	}
	size := len(b.uplink)
	rc, counting := b.uart.(ReceiveCounter)
	var total uint64
	if counting {
		// Sampled before the write position so a concurrent receiver can
		// only make us late to notice a lap, never report a false one.
		total = rc.Received()
	}
	w := b.writePos()
	c := b.cursor
	if counting {
		b.accountLaps(total, w, c)
	}
	if w == c {
		b.cs.unlock()
		return
	}
	end := w
	wrapped := w < c
	if wrapped {
		end = size
	}
	seg := b.uplink[c:end]
	opens := b.stats.Opens
	b.scanning = true
	b.cs.unlock()

	err := b.host.Forward(seg)

	b.cs.lock()
	b.scanning = false
	switch {
	case !b.active || b.stats.Opens != opens:
		// Closed or reopened while forwarding.
	case err != nil:
		// Busy is flow control; anything else is retried the same way.
		b.stats.BusyRetries++
	default:
		b.cursor = end % size
		b.consumed += uint64(len(seg))
		b.stats.ForwardsUp++
		b.stats.BytesUp += uint64(len(seg))
		if wrapped {
			b.stats.Wraps++
		}
	}
	b.cs.unlock()
}

// writePos derives the receiver's write position from its remaining count.
// Caller holds cs.
func (b *Bridge) writePos() int {
	size := len(b.uplink)
	rem := b.uart.RemainingCount()
	if rem < 0 {
		rem = 0
	}
	if rem > size {
		rem = size
	}
	return (size - rem) % size
}

// accountLaps moves bytes the cursor scan can no longer reach into
// Stats.Overrun. total is the receiver's byte count. Caller holds cs.
func (b *Bridge) accountLaps(total uint64, w, c int) {
	if total <= b.consumed {
		return
	}
	size := len(b.uplink)
	pending := total - b.consumed
	reachable := uint64((w - c + size) % size)
	if pending > reachable {
		lost := pending - reachable
		b.stats.Overrun += lost
		b.consumed += lost
	}
}
