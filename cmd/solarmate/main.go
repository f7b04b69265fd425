package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mattn/go-isatty"
	"github.com/temoto/solarmate/cmd/solarmate/cli"
	"github.com/temoto/solarmate/cmd/solarmate/decode"
	"github.com/temoto/solarmate/cmd/solarmate/run"
	"github.com/temoto/solarmate/cmd/solarmate/subcmd"
	"github.com/temoto/solarmate/internal/state"
	"github.com/temoto/solarmate/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	cli.Mod,
	decode.Mod,
}

func main() {
	log := log2.NewStderr(log2.LDebug)
	log.SetFlags(log2.LInteractiveFlags)

	flagset := flag.NewFlagSet("solarmate", flag.ContinueOnError)
	flagConfig := flagset.String("config", "solarmate.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: solarmate [-config FILE] COMMAND [ARGS]\n\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		flagset.PrintDefaults()
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	command := flagset.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if mod.Name == run.Mod.Name {
		// we're under systemd, assume systemd journal logging, remove timestamp
		if ok, _ := subcmd.SdNotify("start"); ok || !isatty.IsTerminal(os.Stderr.Fd()) {
			log.SetFlags(log2.LServiceFlags)
		}
	}
	mqttLog := log.Clone(log2.LDebug)
	mqttLog.SetPrefix("mqtt: ")
	mqtt.ERROR = mqttLog
	mqtt.CRITICAL = mqttLog
	mqtt.WARN = mqttLog
	//	mqtt.DEBUG = mqttLog

	log.Debugf("solarmate version=%s command=%s", BuildVersion, mod.Name)
	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)

	var args []string
	if flagset.NArg() > 1 {
		args = flagset.Args()[1:]
	}
	if err := mod.Main(ctx, config, args); err != nil {
		g.Fatal(err)
	}
	g.StopWait(5 * time.Second)
}
