package pipeline

import (
	"reflect"

	"github.com/temoto/solarmate/internal/types"
)

// Dedup remembers last emitted event per type and source.
// Owned by Ingest, single goroutine.
type Dedup struct {
	last map[dedupKey]types.Packet
}

type dedupKey struct{ typ, source string }

func NewDedup() *Dedup {
	return &Dedup{last: make(map[dedupKey]types.Packet)}
}

// Fresh reports whether p differs from last emitted packet of the same
// type and source, and if so records p as last emitted.
func (self *Dedup) Fresh(p types.Packet) bool {
	k := dedupKey{p.Type(), p.Source()}
	if prev, ok := self.last[k]; ok && reflect.DeepEqual(prev, p) {
		return false
	}
	self.last[k] = p
	return true
}
