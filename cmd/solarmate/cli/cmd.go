// Package cli is operator prompt, submits commands into running service input file.
package cli

import (
	"context"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/solarmate/cmd/solarmate/subcmd"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/helpers/cli"
	"github.com/temoto/solarmate/internal/command"
	"github.com/temoto/solarmate/internal/state"
	"github.com/temoto/solarmate/log2"
)

const modName = "cli"

const usage = `syntax: one command per line
- NAME     submit Mate command, e.g. AUX_ON
- list     show allowed commands
- help     this message
`

var Mod = subcmd.Mod{Name: modName, Usage: "submit commands to running service", Main: Main}

type session struct {
	path  string
	allow command.AllowList
}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	s, err := newSession(config)
	if err != nil {
		return err
	}
	g.Log.Debugf("cli input=%s allowed=%s", s.path, s.allow.String())

	exec := func(line string) { s.run(g.Log, line) }
	// non-interactive: solarmate cli AUX_ON
	if len(args) != 0 {
		for _, a := range args {
			exec(a)
		}
		return nil
	}
	return cli.MainLoop("solarmate", exec, s.completer())
}

// run logs result of exec, operator input is never used as format.
func (self *session) run(log *log2.Log, line string) {
	out, err := self.exec(line)
	if err != nil {
		log.Errorf("%s", errors.ErrorStack(err))
		return
	}
	if out != "" {
		log.Infof("%s", out)
	}
}

func newSession(config *state.Config) (*session, error) {
	if !config.Command.Enable || config.Command.InputPath == "" {
		return nil, errors.NotValidf("config command.enable=false or command.input_path=empty")
	}
	allow, err := command.ParseAllowList(config.Command.Allowed)
	if err != nil {
		return nil, errors.Annotate(err, "config command.allowed")
	}
	return &session{path: config.Command.InputPath, allow: allow}, nil
}

func (self *session) exec(line string) (string, error) {
	word := strings.TrimSpace(line)
	switch strings.ToLower(word) {
	case "":
		return "", nil
	case "help", "/help":
		return usage, nil
	case "list":
		return "allowed: " + self.allow.String(), nil
	}
	c, err := mate.ParseCommand(word)
	if err != nil {
		return "", err
	}
	if !self.allow.Allowed(c) {
		return "", errors.Annotatef(command.ErrNotAllowed, "command=%s", c)
	}
	if err = command.AppendCommand(self.path, c); err != nil {
		return "", err
	}
	return "submitted " + c.String(), nil
}

func (self *session) completer() func(d prompt.Document) []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, 16)
	for _, c := range mate.AllCommands() {
		if self.allow.Allowed(c) {
			suggests = append(suggests, prompt.Suggest{Text: c.String()})
		}
	}
	suggests = append(suggests,
		prompt.Suggest{Text: "list", Description: "show allowed commands"},
		prompt.Suggest{Text: "help"},
	)
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}
