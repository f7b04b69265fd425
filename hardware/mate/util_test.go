package mate

import (
	"fmt"

	"github.com/temoto/solarmate/internal/types"
)

func testFX(address byte, batteryTenths int) Frame {
	return MustBuildFrame(address, "02", "00", "03", "118", "120", "00", "02", "000", "00",
		fmt.Sprintf("%03d", batteryTenths), "008", "000")
}

func testMX(address byte, chargerMode int) Frame {
	return MustBuildFrame(address, "00", "12", "08", "067", "021", "05", "02", "000",
		fmt.Sprintf("%02d", chargerMode), "262", "0045", "00")
}

type recordReporter struct {
	accepted []types.Packet
	rejected []error
}

func (self *recordReporter) FrameAccepted(f *Frame, p types.Packet) {
	self.accepted = append(self.accepted, p)
}
func (self *recordReporter) FrameRejected(f *Frame, err error) {
	self.rejected = append(self.rejected, err)
}

func corrupt(f Frame) Frame {
	// change a digit so checksum no longer matches
	if f[3] == '9' {
		f[3] = '8'
	} else {
		f[3]++
	}
	return f
}
