package mate

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type Command uint8

const (
	CommandInvalid Command = iota
	CommandAuxOff
	CommandAuxOn
	CommandUse
	CommandDrop
	CommandOff
	CommandSearch
	CommandOn
	CommandEqualize
)

const CommandFrameLength = 8

type commandInfo struct {
	name   string
	opcode string
}

var commandTable = map[Command]commandInfo{
	CommandAuxOff:   {"AUX_OFF", "A0"},
	CommandAuxOn:    {"AUX_ON", "A1"},
	CommandUse:      {"USE", "U1"},
	CommandDrop:     {"DROP", "D1"},
	CommandOff:      {"OFF", "I0"},
	CommandSearch:   {"SEARCH", "I2"},
	CommandOn:       {"ON", "I1"},
	CommandEqualize: {"EQUALIZE", "E1"},
}

// DefaultAllowed is set of commands safe to send unattended.
var DefaultAllowed = []Command{CommandAuxOff, CommandAuxOn, CommandUse, CommandDrop}

func AllCommands() []Command {
	out := make([]Command, 0, len(commandTable))
	for c := CommandAuxOff; c <= CommandEqualize; c++ {
		out = append(out, c)
	}
	return out
}

func (self Command) String() string {
	if info, ok := commandTable[self]; ok {
		return info.name
	}
	return fmt.Sprintf("Command(%d)", uint8(self))
}

func (self Command) Valid() bool {
	_, ok := commandTable[self]
	return ok
}

// ParseCommand accepts names like AUX_ON, case and surrounding space insensitive.
func ParseCommand(s string) (Command, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for c, info := range commandTable {
		if info.name == norm {
			return c, nil
		}
	}
	return CommandInvalid, errors.NotValidf("mate command=%q", s)
}

// Wire is command frame: '\n' opcode(2) ',' checksum(3) '\r'
func (self Command) Wire() ([]byte, error) {
	info, ok := commandTable[self]
	if !ok {
		return nil, errors.NotValidf("mate command=%d", uint8(self))
	}
	w := make([]byte, 0, CommandFrameLength)
	w = append(w, FrameStart)
	w = append(w, info.opcode...)
	w = append(w, ',')
	w = append(w, fmt.Sprintf("%03d", checksum([]byte(info.opcode)))...)
	w = append(w, FrameEnd)
	return w, nil
}
