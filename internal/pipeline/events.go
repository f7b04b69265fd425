package pipeline

import (
	"strings"

	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/internal/types"
)

// ChangeEvent records a mode field of one device changing between
// consecutive status packets.
type ChangeEvent struct {
	EventType string
	Device    string
	Field     string
	Previous  int
	Current   int
}

func (ChangeEvent) Kind() types.Kind    { return types.KindEvent }
func (self ChangeEvent) Type() string   { return self.EventType }
func (self ChangeEvent) Source() string { return self.Device }
func (self ChangeEvent) Fields() map[string]interface{} {
	return map[string]interface{}{
		"field":    self.Field,
		"previous": self.Previous,
		"current":  self.Current,
	}
}

// DefaultWatch lists mode fields whose change is an event.
var DefaultWatch = map[string][]string{
	mate.TypeFXStatus: {"operating_mode", "error_mode", "warning_mode", "ac_mode"},
	mate.TypeMXStatus: {"charger_mode", "aux_mode", "error_mode"},
}

// ChangeDetector compares each status packet with previous packet of the
// same source. First packet of a source only sets baseline.
type ChangeDetector struct {
	watch map[string][]string
	masks map[string]map[string]int // field -> source -> ignored bits
	last  map[string]map[string]interface{}
}

var _ Detector = &ChangeDetector{}

type ChangeOption func(*ChangeDetector)

// WithIgnoreMask clears bits of field before comparison, per source.
// Change only in ignored bits is not an event.
func WithIgnoreMask(field string, bySource map[string]int) ChangeOption {
	return func(self *ChangeDetector) {
		if len(bySource) == 0 {
			return
		}
		if self.masks == nil {
			self.masks = make(map[string]map[string]int)
		}
		self.masks[field] = bySource
	}
}

// WithFXWarningIgnore maps FX address to ignored warning_mode bits.
func WithFXWarningIgnore(byAddress map[int]int) ChangeOption {
	bySource := make(map[string]int, len(byAddress))
	for addr, mask := range byAddress {
		bySource[mate.FXStatus{Address: addr}.Source()] = mask
	}
	return WithIgnoreMask("warning_mode", bySource)
}

func NewChangeDetector(watch map[string][]string, opts ...ChangeOption) *ChangeDetector {
	if watch == nil {
		watch = DefaultWatch
	}
	self := &ChangeDetector{
		watch: watch,
		last:  make(map[string]map[string]interface{}),
	}
	for _, opt := range opts {
		opt(self)
	}
	return self
}

func (self *ChangeDetector) Observe(p types.Packet) []types.Packet {
	names, ok := self.watch[p.Type()]
	if !ok {
		return nil
	}
	current := p.Fields()
	prev, seen := self.last[p.Source()]
	self.last[p.Source()] = current
	if !seen {
		return nil
	}

	var out []types.Packet
	for _, name := range names {
		c, okc := current[name].(int)
		v, okp := prev[name].(int)
		if !okc || !okp {
			continue
		}
		mask := self.masks[name][p.Source()]
		if c&^mask == v&^mask {
			continue
		}
		out = append(out, ChangeEvent{
			EventType: EventType(p.Type(), name),
			Device:    p.Source(),
			Field:     name,
			Previous:  v,
			Current:   c,
		})
	}
	return out
}

// EventType is "fx_operating_mode_change" for fx_status field operating_mode.
func EventType(statusType, field string) string {
	return strings.TrimSuffix(statusType, "_status") + "_" + field + "_change"
}
