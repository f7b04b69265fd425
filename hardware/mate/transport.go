package mate

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
)

var (
	ErrOutputDisabled = errors.New("mate: output is not accessible while commands are disabled")
	ErrClosed         = errors.New("mate: transport closed")
)

// Transport is half-duplex link to the Mate.
// Input is always readable. Output is usable only when commands are enabled,
// otherwise every write fails with ErrOutputDisabled.
// Close unblocks pending Read with an error.
type Transport interface {
	io.Reader
	Output() io.Writer
	CommandsEnabled() bool
	Close() error
}

type transport struct {
	rwc      io.ReadWriteCloser
	out      io.Writer
	commands bool
	closeMu  sync.Mutex
	closed   uint32 // atomic bool
}

func NewTransport(rwc io.ReadWriteCloser, commands bool) Transport {
	self := &transport{rwc: rwc, commands: commands}
	if commands {
		self.out = rwc
	} else {
		self.out = disabledWriter{}
	}
	return self
}

func (self *transport) Output() io.Writer     { return self.out }
func (self *transport) CommandsEnabled() bool { return self.commands }

func (self *transport) Read(p []byte) (int, error) {
	if atomic.LoadUint32(&self.closed) == 1 {
		return 0, ErrClosed
	}
	return self.rwc.Read(p)
}

func (self *transport) Close() error {
	self.closeMu.Lock()
	defer self.closeMu.Unlock()
	if atomic.LoadUint32(&self.closed) == 1 {
		return nil
	}
	atomic.StoreUint32(&self.closed, 1)
	return self.rwc.Close()
}

type disabledWriter struct{}

func (disabledWriter) Write([]byte) (int, error) { return 0, ErrOutputDisabled }
