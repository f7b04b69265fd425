package mate

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/tarm/serial"
)

// Mate serial line is 19200 8N1.
const DefaultBaud = 19200

// Single read waits at most this long, so Close never waits on silent line.
const serialReadTimeout = 100 * time.Millisecond

// Empty reads returning much faster than timeout in a row mean hangup.
const serialHangupReads = 100

// OpenSerial opens Mate serial port. Output is enabled only with commands=true.
func OpenSerial(path string, baud int, commands bool) (Transport, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: serialReadTimeout,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "mate open serial path=%s baud=%d", path, baud)
	}
	return NewTransport(&serialPort{port: port, timeout: serialReadTimeout}, commands), nil
}

// serialPort turns read timeouts into waiting until data or Close.
type serialPort struct {
	port    io.ReadWriteCloser
	timeout time.Duration
	closed  uint32
}

func (self *serialPort) Read(p []byte) (int, error) {
	fast := 0
	for {
		tbegin := time.Now()
		n, err := self.port.Read(p)
		if atomic.LoadUint32(&self.closed) == 1 {
			return 0, ErrClosed
		}
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, errors.Annotate(err, "mate serial read")
		}
		// zero read is timeout
		if time.Since(tbegin) < self.timeout/2 {
			fast++
			if fast >= serialHangupReads {
				return 0, errors.Annotate(io.ErrUnexpectedEOF, "mate serial hangup")
			}
		} else {
			fast = 0
		}
	}
}

func (self *serialPort) Write(p []byte) (int, error) { return self.port.Write(p) }

// Close returns after pending Read observes timeout.
func (self *serialPort) Close() error {
	atomic.StoreUint32(&self.closed, 1)
	return self.port.Close()
}
