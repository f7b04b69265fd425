// Package decode prints packets from captured Mate serial stream, for offline troubleshooting.
package decode

import (
	"context"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/cmd/solarmate/subcmd"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/state"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

var Mod = subcmd.Mod{Name: "decode", Usage: "decode captured stream FILE (- for stdin)", Main: Main}

type Stats struct {
	Accepted int
	Rejected int
}

func (self *Stats) FrameAccepted(*mate.Frame, types.Packet) { self.Accepted++ }
func (self *Stats) FrameRejected(f *mate.Frame, err error)  { self.Rejected++ }

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	if len(args) != 1 {
		return errors.NotValidf("decode expected single FILE argument, got %d", len(args))
	}
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		r = f
	}
	stats, err := Decode(r, config.Mate.IgnoreChecksum, g.Log)
	g.Log.Infof("frames accepted=%d rejected=%d", stats.Accepted, stats.Rejected)
	return err
}

// Decode logs every packet until EOF.
func Decode(r io.Reader, ignoreChecksum bool, log *log2.Log) (Stats, error) {
	stats := Stats{}
	d := mate.NewDecoder(r, ignoreChecksum, &stats)
	for {
		p, err := d.Next()
		if err != nil {
			if errors.Cause(err) == io.EOF {
				return stats, nil
			}
			return stats, err
		}
		log.Infof("%s", types.FormatPacket(p))
	}
}
