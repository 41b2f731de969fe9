//go:build !tinygo

package platform

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"vcpbridge-go/errcode"
	"vcpbridge-go/types"
)

// readTimeout bounds each device read so RecvSomeContext can observe ctx.
const readTimeout = 100 * time.Millisecond

// Device is a tarm/serial port that reopens itself when the line parameters
// change. It satisfies uartdma.Port and its configurator interfaces.
type Device struct {
	mu     sync.Mutex
	cfg    serial.Config
	port   io.ReadWriteCloser
	gen    uint64
	closed bool
}

var openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OpenDevice opens name at baud, 8N1.
func OpenDevice(name string, baud int) (*Device, error) {
	d := &Device{cfg: serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}}
	p, err := openPort(&d.cfg)
	if err != nil {
		return nil, errcode.Wrap(errcode.NotAttached, "open "+name, err)
	}
	d.port = p
	return d, nil
}

func (d *Device) String() string { return d.cfg.Name }

func (d *Device) current() (io.ReadWriteCloser, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, 0, errcode.Closed
	}
	return d.port, d.gen, nil
}

func (d *Device) generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

func (d *Device) Write(p []byte) (int, error) {
	port, _, err := d.current()
	if err != nil {
		return 0, err
	}
	return port.Write(p)
}

// Read returns what one bounded device read produced; a read timeout is
// reported as 0, nil.
func (d *Device) Read(p []byte) (int, error) {
	port, _, err := d.current()
	if err != nil {
		return 0, err
	}
	n, err := port.Read(p)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// RecvSomeContext blocks until at least one byte is read, ctx is done, or the
// device fails. A reopen in progress is retried on the new port.
func (d *Device) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		port, gen, err := d.current()
		if err != nil {
			return 0, err
		}
		n, err := port.Read(p)
		if n > 0 {
			return n, nil
		}
		// Timeouts surface as io.EOF from the tty.
		if err == nil || errors.Is(err, io.EOF) || d.generation() != gen {
			continue
		}
		return 0, err
	}
}

func (d *Device) SetBaudRate(br uint32) error {
	return d.reopen(func(c *serial.Config) { c.Baud = int(br) })
}

func (d *Device) SetFormat(databits, stopbits uint8, parity string) error {
	par, err := parityOf(parity)
	if err != nil {
		return err
	}
	return d.reopen(func(c *serial.Config) {
		c.Size = databits
		c.Parity = tarmParity(par)
		c.StopBits = tarmStopBits(stopbits)
	})
}

func (d *Device) reopen(edit func(*serial.Config)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errcode.Closed
	}
	next := d.cfg
	edit(&next)
	if next == d.cfg {
		return nil
	}
	_ = d.port.Close()
	p, err := openPort(&next)
	if err != nil {
		// Keep the device usable at the old parameters.
		if old, oerr := openPort(&d.cfg); oerr == nil {
			d.port = old
			d.gen++
		} else {
			d.closed = true
		}
		return errcode.Wrap(errcode.Error, "reopen "+next.Name, err)
	}
	d.cfg, d.port = next, p
	d.gen++
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.port.Close()
}

func tarmParity(p types.Parity) serial.Parity {
	switch p {
	case types.ParityOdd:
		return serial.ParityOdd
	case types.ParityEven:
		return serial.ParityEven
	case types.ParityMark:
		return serial.ParityMark
	case types.ParitySpace:
		return serial.ParitySpace
	default:
		return serial.ParityNone
	}
}

func tarmStopBits(n uint8) serial.StopBits {
	if n >= 2 {
		return serial.Stop2
	}
	return serial.Stop1
}
