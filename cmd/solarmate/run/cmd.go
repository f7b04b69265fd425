// Package run is the telemetry service: read Mate, dispatch collections, send commands.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/solarmate/cmd/solarmate/subcmd"
	"github.com/temoto/solarmate/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Usage: "run telemetry service (default)", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(config); err != nil {
		return errors.Annotate(err, "init")
	}
	g.Log.Debugf("config=%+v", g.Config.Redacted())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		g.Log.Infof("signal=%v stopping", s)
		_, _ = subcmd.SdNotify(daemon.SdNotifyStopping)
		g.Stop()
	}()

	if _, err := subcmd.SdNotify(daemon.SdNotifyReady); err != nil {
		g.Log.Error(err)
	}
	g.Log.Infof("solarmate init complete, running")
	return errors.Annotate(g.Run(), "run")
}
