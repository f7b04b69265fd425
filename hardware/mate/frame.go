// Package mate speaks Outback Mate serial protocol: fixed 49 byte ASCII status
// frames from the device and short command frames to the device.
package mate

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	FrameLength = 49
	FrameStart  = '\n'
	FrameEnd    = '\r'

	// bytes [1:posChecksumSep] are summed, [posChecksum:posChecksum+3] hold decimal checksum
	posChecksumSep = FrameLength - 5
	posChecksum    = FrameLength - 4
)

type Frame [FrameLength]byte

func FrameFromString(s string) (Frame, error) {
	var f Frame
	if len(s) != FrameLength {
		return f, fmt.Errorf("mate: frame length=%d expected=%d", len(s), FrameLength)
	}
	copy(f[:], s)
	return f, nil
}

func MustFrameFromString(s string) Frame {
	f, err := FrameFromString(s)
	if err != nil {
		panic(err)
	}
	return f
}

type InvalidChecksum struct {
	Received int
	Actual   int
}

func (self InvalidChecksum) Error() string {
	return fmt.Sprintf("mate: invalid checksum received=%03d actual=%03d", self.Received, self.Actual)
}

type InvalidFrame string

func (self InvalidFrame) Error() string { return "mate: invalid frame: " + string(self) }

// checksum sums digit values of everything except commas.
// Address letters count as their offset from '0', like digits.
func checksum(bs []byte) int {
	sum := 0
	for _, b := range bs {
		if b == ',' {
			continue
		}
		sum += int(b) - '0'
	}
	return sum % 1000
}

func (self *Frame) Address() byte { return self[1] }

func (self *Frame) Body() []byte { return self[1:posChecksumSep] }

func (self *Frame) Checksum() (int, error) {
	s := string(self[posChecksum : posChecksum+3])
	n := 0
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return 0, InvalidFrame("checksum field=" + strconv.Quote(s))
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// Validate checks delimiters and, unless ignoreChecksum, the trailing checksum.
func (self *Frame) Validate(ignoreChecksum bool) error {
	if self[0] != FrameStart || self[FrameLength-1] != FrameEnd {
		return InvalidFrame("delimiters")
	}
	if self[posChecksumSep] != ',' {
		return InvalidFrame("checksum separator")
	}
	if ignoreChecksum {
		return nil
	}
	received, err := self.Checksum()
	if err != nil {
		return err
	}
	if actual := checksum(self.Body()); actual != received {
		return InvalidChecksum{Received: received, Actual: actual}
	}
	return nil
}

// Fields returns comma separated values after address, checksum excluded.
func (self *Frame) Fields() []string {
	parts := strings.Split(string(self.Body()), ",")
	// parts[0] is address
	if len(parts) < 2 {
		return nil
	}
	return parts[1:]
}

func (self *Frame) String() string {
	return strconv.Quote(string(self[:]))
}

// BuildFrame fills delimiters and checksum around address and fields.
// Used by device simulators and tests.
func BuildFrame(address byte, fields ...string) (Frame, error) {
	var f Frame
	body := string(address) + "," + strings.Join(fields, ",") + ","
	if len(body) != posChecksumSep {
		return f, fmt.Errorf("mate: frame body length=%d expected=%d", len(body), posChecksumSep)
	}
	f[0] = FrameStart
	copy(f[1:], body)
	copy(f[posChecksum:], fmt.Sprintf("%03d", checksum([]byte(body[:len(body)-1]))))
	f[FrameLength-1] = FrameEnd
	return f, nil
}

func MustBuildFrame(address byte, fields ...string) Frame {
	f, err := BuildFrame(address, fields...)
	if err != nil {
		panic(err)
	}
	return f
}
