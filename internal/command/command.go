// Package command holds the outbound path: providers of pending commands,
// allow-list, sender and rules that decide on commands from latest status.
package command

import (
	"github.com/temoto/solarmate/hardware/mate"
)

const (
	SourceManual = "manual"
	SourceRemote = "remote"
	SourceRule   = "rule"
)

// SourcedCommand is consumed exactly once.
type SourcedCommand struct {
	Command mate.Command
	Source  string
}

func (self SourcedCommand) String() string { return self.Command.String() + "@" + self.Source }

// Provider returns at most one pending command per call.
type Provider interface {
	Poll() (SourcedCommand, bool)
}

// Multiplexer polls providers in order, first pending command wins.
type Multiplexer struct {
	providers []Provider
}

func NewMultiplexer(providers ...Provider) *Multiplexer {
	self := &Multiplexer{}
	for _, p := range providers {
		self.Add(p)
	}
	return self
}

func (self *Multiplexer) Add(p Provider) {
	if p == nil {
		panic("code error command multiplexer add provider=nil")
	}
	self.providers = append(self.providers, p)
}

func (self *Multiplexer) Len() int { return len(self.providers) }

func (self *Multiplexer) Poll() (SourcedCommand, bool) {
	for _, p := range self.providers {
		if sc, ok := p.Poll(); ok {
			return sc, true
		}
	}
	return SourcedCommand{}, false
}
