package pipeline

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/solarmate/internal/ident"
	"github.com/temoto/solarmate/internal/metrics"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

// Channel stamps batches of one kind with identifier, time and origin,
// then calls sinks in registration order.
type Channel struct {
	Kind     types.Kind
	Location *time.Location
	SourceID string
	Fragment int

	log      *log2.Log
	metrics  *metrics.Metrics
	ids      ident.Generator
	sinks    []types.Sink
	attached []types.Packet
}

func NewChannel(kind types.Kind, ids ident.Generator, loc *time.Location, log *log2.Log, m *metrics.Metrics) *Channel {
	if ids == nil {
		panic("code error channel without id generator")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Channel{
		Kind:     kind,
		Location: loc,
		log:      log,
		metrics:  m,
		ids:      ids,
	}
}

func (self *Channel) Register(sinks ...types.Sink) {
	for _, s := range sinks {
		if s == nil {
			panic("code error channel register sink=nil")
		}
		self.sinks = append(self.sinks, s)
	}
}

// Attach appends packets to every dispatched batch.
// Batch with only attached packets is never dispatched.
func (self *Channel) Attach(packets ...types.Packet) {
	self.attached = append(self.attached, packets...)
}

func (self *Channel) Sinks() []string {
	names := make([]string, len(self.sinks))
	for i, s := range self.sinks {
		names[i] = s.Name()
	}
	return names
}

// Dispatch returns nil for empty batch, no identifier is consumed.
// Sink failure is logged and counted, remaining sinks still receive collection.
func (self *Channel) Dispatch(packets []types.Packet, now time.Time) *types.Collection {
	if len(packets) == 0 {
		return nil
	}
	if len(self.attached) != 0 {
		packets = append(packets, self.attached...)
	}
	c := &types.Collection{
		ID:       self.ids.Next(now),
		Channel:  self.Kind,
		Time:     now,
		Location: self.Location,
		SourceID: self.SourceID,
		Fragment: self.Fragment,
		Packets:  packets,
	}
	self.metrics.Collection(c)
	for _, s := range self.sinks {
		if err := handleSafe(s, c); err != nil {
			self.metrics.SinkError(self.Kind, s.Name())
			self.log.Errorf("%s sink=%s collection=%s err=%v", self.Kind, s.Name(), c.ID, errors.ErrorStack(err))
		}
	}
	return c
}

func handleSafe(s types.Sink, c *types.Collection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sink panic: %v", r)
		}
	}()
	return errors.Trace(s.Handle(c))
}
