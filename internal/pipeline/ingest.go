package pipeline

import (
	"github.com/temoto/solarmate/internal/metrics"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

// Detector observes status packets and derives event packets.
type Detector interface {
	Observe(p types.Packet) []types.Packet
}

// Ingest classifies packets by kind into status and event batches.
// Status packets are never deduplicated, events are checked against Dedup.
type Ingest struct {
	log       *log2.Log
	metrics   *metrics.Metrics
	dedup     *Dedup
	detectors []Detector
	status    []types.Packet
	events    []types.Packet
}

var _ types.Ingester = &Ingest{}

func NewIngest(log *log2.Log, m *metrics.Metrics, detectors ...Detector) *Ingest {
	return &Ingest{
		log:       log,
		metrics:   m,
		dedup:     NewDedup(),
		detectors: detectors,
	}
}

func (self *Ingest) Accept(p types.Packet) {
	if p == nil {
		self.log.Errorf("code error ingest packet=nil")
		return
	}
	switch p.Kind() {
	case types.KindStatus:
		self.status = append(self.status, p)
		self.metrics.Packet(p)
		for _, d := range self.detectors {
			for _, e := range d.Observe(p) {
				self.Accept(e)
			}
		}

	case types.KindEvent:
		if !self.dedup.Fresh(p) {
			self.metrics.Duplicate()
			self.log.Debugf("ingest duplicate %s", types.FormatPacket(p))
			return
		}
		self.events = append(self.events, p)
		self.metrics.Packet(p)

	default:
		self.log.Errorf("code error ingest packet kind=%s type=%s", p.Kind(), p.Type())
	}
}

// Pending returns sizes of current batches.
func (self *Ingest) Pending() (status, events int) { return len(self.status), len(self.events) }

// TakeStatus returns accumulated status batch and starts a new one.
func (self *Ingest) TakeStatus() []types.Packet {
	b := self.status
	self.status = nil
	return b
}

func (self *Ingest) TakeEvents() []types.Packet {
	b := self.events
	self.events = nil
	return b
}
