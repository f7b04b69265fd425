package mate

import (
	"bufio"
	"bytes"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/internal/types"
)

// Reporter receives diagnostics for every frame candidate.
// Called on decoding goroutine, must not block.
type Reporter interface {
	FrameAccepted(f *Frame, p types.Packet)
	FrameRejected(f *Frame, err error)
}

type nopReporter struct{}

func (nopReporter) FrameAccepted(*Frame, types.Packet) {}
func (nopReporter) FrameRejected(*Frame, error)        {}

// Decoder turns byte stream into packets.
// Corrupt input is skipped: window advances one byte on delimiter, checksum
// or field failure, so decoding resynchronizes on the next frame start.
// Frame of unsupported device is consumed whole.
// Next returns error only when underlying reader fails, such error is terminal.
type Decoder struct {
	r              *bufio.Reader
	buf            [FrameLength]byte
	n              int
	ignoreChecksum bool
	report         Reporter
}

func NewDecoder(r io.Reader, ignoreChecksum bool, report Reporter) *Decoder {
	if report == nil {
		report = nopReporter{}
	}
	return &Decoder{
		r:              bufio.NewReaderSize(r, FrameLength*4),
		ignoreChecksum: ignoreChecksum,
		report:         report,
	}
}

func (self *Decoder) Next() (types.Packet, error) {
	for {
		if err := self.fill(); err != nil {
			return nil, err
		}
		// sync search is silent, only windows starting at frame start are candidates
		if self.buf[0] != FrameStart {
			self.skipToStart()
			continue
		}

		f := Frame(self.buf)
		if err := f.Validate(self.ignoreChecksum); err != nil {
			self.report.FrameRejected(&f, err)
			self.shift(1)
			continue
		}
		p, err := Decode(&f)
		if err != nil {
			self.report.FrameRejected(&f, err)
			if errors.Cause(err) == ErrUnsupportedAddress {
				// well formed frame of device we do not decode
				self.n = 0
			} else {
				self.shift(1)
			}
			continue
		}
		self.n = 0
		self.report.FrameAccepted(&f, p)
		return p, nil
	}
}

func (self *Decoder) fill() error {
	for self.n < FrameLength {
		b, err := self.r.ReadByte()
		if err != nil {
			return errors.Trace(err)
		}
		self.buf[self.n] = b
		self.n++
	}
	return nil
}

func (self *Decoder) skipToStart() {
	i := bytes.IndexByte(self.buf[1:self.n], FrameStart)
	if i < 0 {
		self.n = 0
		return
	}
	self.shift(i + 1)
}

func (self *Decoder) shift(k int) {
	copy(self.buf[:], self.buf[k:self.n])
	self.n -= k
}
