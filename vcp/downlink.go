package vcp

// OnHostChunk handles n bytes delivered by the host transport into the page
// that is currently receiving.
//
// If the other page is still being transmitted the chunk is parked as Full and
// the host is not re-armed until that page is promoted. Otherwise the pages
// swap: the filled page goes to the UART and the other page is handed to the
// host. A zero-length chunk never reaches the UART; it only re-arms reception.
// Chunks longer than a page are truncated and counted.
func (b *Bridge) OnHostChunk(n int) {
	var tx, rx []byte

	b.cs.lock()
	if !b.active {
		b.cs.unlock()
		return
	}
	r := b.pageIn(PageReceiving)
	if r < 0 {
		b.cs.unlock()
		return
	}
	o := 1 - r
	if n < 0 {
		n = 0
	}
	if n > len(b.pages[r]) {
		n = len(b.pages[r])
		b.stats.Truncated++
	}
	b.stats.ChunksDown++
	b.stats.BytesDown += uint64(n)

	switch {
	case n == 0 && b.status[o] == PageTransmitting:
		// Nothing to park: keep this page receiving instead of marking it Full.
		rx = b.pages[r]
	case n == 0:
		b.status[r] = PageEmpty
		b.status[o] = PageReceiving
		rx = b.pages[o]
	case b.status[o] == PageTransmitting:
		b.status[r] = PageFull
		b.pendingLen = n
		b.stats.Queued++
	default:
		b.status[r] = PageTransmitting
		b.status[o] = PageReceiving
		tx = b.pages[r][:n]
		rx = b.pages[o]
	}
	b.cs.unlock()

	if tx != nil {
		b.uart.StartTransmit(tx)
	}
	if rx != nil {
		b.host.AcceptNext(rx)
	}
}

// OnUARTTransmitComplete handles completion of the page being transmitted.
// A Full page is promoted to the UART and the freed page goes back to the host.
func (b *Bridge) OnUARTTransmitComplete() {
	var tx, rx []byte

	b.cs.lock()
	if !b.active {
		b.cs.unlock()
		return
	}
	t := b.pageIn(PageTransmitting)
	if t < 0 {
		b.cs.unlock()
		return
	}
	o := 1 - t
	b.status[t] = PageEmpty
	if b.status[o] == PageFull {
		b.status[o] = PageTransmitting
		tx = b.pages[o][:b.pendingLen]
		b.pendingLen = 0
		b.status[t] = PageReceiving
		rx = b.pages[t]
	}
	b.cs.unlock()

	if tx != nil {
		b.uart.StartTransmit(tx)
		b.host.AcceptNext(rx)
	}
}

// pageIn returns the index of the page with status s, or -1. Caller holds cs.
func (b *Bridge) pageIn(s PageStatus) int {
	switch {
	case b.status[0] == s:
		return 0
	case b.status[1] == s:
		return 1
	}
	return -1
}
