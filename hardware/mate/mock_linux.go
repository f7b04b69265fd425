package mate

import (
	"os"
	"strconv"
	"testing"

	"golang.org/x/sys/unix"
)

// NewTestPty opens pseudo terminal pair and returns master side with slave path.
// OpenSerial on slave path reads what is written into master,
// so tests exercise real serial port code without hardware.
func NewTestPty(t testing.TB) (*os.File, string) {
	t.Helper()
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		t.Skipf("pty is not available err=%v", err)
	}
	t.Cleanup(func() { master.Close() })
	fd := int(master.Fd())
	if err = unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		t.Fatalf("pty unlock err=%v", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		t.Fatalf("pty number err=%v", err)
	}
	return master, "/dev/pts/" + strconv.Itoa(n)
}
