package command

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/helpers"
	"github.com/temoto/solarmate/internal/metrics"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

const (
	TypeCommandSent       = "command_sent"
	TypeAvailableCommands = "available_commands"
)

var ErrNotAllowed = errors.New("command is not in allow list")

type AllowList map[mate.Command]struct{}

func NewAllowList(cs ...mate.Command) AllowList {
	self := make(AllowList, len(cs))
	for _, c := range cs {
		self[c] = struct{}{}
	}
	return self
}

// ParseAllowList with empty names returns mate.DefaultAllowed.
func ParseAllowList(names []string) (AllowList, error) {
	if len(names) == 0 {
		return NewAllowList(mate.DefaultAllowed...), nil
	}
	self := make(AllowList, len(names))
	errs := make([]error, 0)
	for _, name := range names {
		c, err := mate.ParseCommand(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		self[c] = struct{}{}
	}
	return self, helpers.FoldErrors(errs)
}

func (self AllowList) Allowed(c mate.Command) bool {
	_, ok := self[c]
	return ok && c.Valid()
}

func (self AllowList) String() string {
	names := make([]string, 0, len(self))
	for c := range self {
		names = append(names, c.String())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// AvailableCommands is status record of commands the sender accepts,
// so downstream consumers know what they may request.
type AvailableCommands struct {
	Commands string
	Count    int
}

func NewAvailableCommands(allow AllowList) AvailableCommands {
	return AvailableCommands{Commands: allow.String(), Count: len(allow)}
}

func (AvailableCommands) Kind() types.Kind { return types.KindStatus }
func (AvailableCommands) Type() string     { return TypeAvailableCommands }
func (AvailableCommands) Source() string   { return "command" }
func (self AvailableCommands) Fields() map[string]interface{} {
	return map[string]interface{}{
		"commands": self.Commands,
		"count":    self.Count,
	}
}

// SentPacket is event record of transmitted command.
// Seq makes every record distinct so repeated commands are never deduplicated.
type SentPacket struct {
	Command   mate.Command
	Requester string
	Seq       uint64
	Time      time.Time
}

func (SentPacket) Kind() types.Kind    { return types.KindEvent }
func (SentPacket) Type() string        { return TypeCommandSent }
func (self SentPacket) Source() string { return "command/" + self.Requester }
func (self SentPacket) Fields() map[string]interface{} {
	return map[string]interface{}{
		"command":   self.Command.String(),
		"requester": self.Requester,
		"seq":       int(self.Seq),
		"time_ms":   int(self.Time.UnixNano() / int64(time.Millisecond)),
	}
}

// Sender runs command phase: poll, check allow list, write, echo.
// At most one command per cycle. No retry: failed command is dropped.
type Sender struct {
	log      *log2.Log
	metrics  *metrics.Metrics
	provider Provider
	allow    AllowList
	ingest   types.Ingester
	seq      uint64
}

func NewSender(p Provider, allow AllowList, ingest types.Ingester, log *log2.Log, m *metrics.Metrics) *Sender {
	if p == nil || ingest == nil {
		panic("code error command sender requires provider and ingest")
	}
	return &Sender{
		log:      log,
		metrics:  m,
		provider: p,
		allow:    allow,
		ingest:   ingest,
	}
}

func (self *Sender) Cycle(w io.Writer, now time.Time) error {
	sc, ok := self.provider.Poll()
	if !ok {
		return nil
	}
	if !self.allow.Allowed(sc.Command) {
		self.metrics.Command("rejected", sc.Source)
		return errors.Annotatef(ErrNotAllowed, "command=%s allowed=%s", sc, self.allow)
	}
	wire, err := sc.Command.Wire()
	if err != nil {
		self.metrics.Command("rejected", sc.Source)
		return errors.Trace(err)
	}
	if err = helpers.WriteAll(w, wire); err != nil {
		self.metrics.Command("failed", sc.Source)
		return errors.Annotatef(err, "command=%s write", sc)
	}
	self.seq++
	self.metrics.Command("sent", sc.Source)
	self.log.Infof("command sent %s wire=%q", sc, wire)
	self.ingest.Accept(SentPacket{
		Command:   sc.Command,
		Requester: sc.Source,
		Seq:       self.seq,
		Time:      now,
	})
	return nil
}
