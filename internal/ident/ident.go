// Package ident issues collection identifiers.
// Generators never fail or block: storage uses IDs as natural keys,
// a stalled generator would stall the whole channel.
// Generators are not safe for concurrent use, each channel owns one.
package ident

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Generator interface {
	Next(now time.Time) string
}

// Counter is monotonic, always unique within process, not time derived.
type Counter struct {
	Prefix string
	n      uint64
}

func (self *Counter) Next(time.Time) string {
	self.n++
	return self.Prefix + strconv.FormatUint(self.n, 10)
}

// UUID is random, unique without any state.
type UUID struct{}

func (UUID) Next(time.Time) string { return uuid.New().String() }

const (
	DefaultRecency     = time.Hour
	DefaultSlotsInHour = 3600
	DefaultProbeBudget = 16
)

// Timed derives ID from hour and slot within the hour: "<unix hour>-<slot>".
// Hour is split into SlotsInHour slots. When the slot was already issued
// within Recency, following slots are probed up to ProbeBudget times,
// then a random suffix is appended.
type Timed struct {
	SlotsInHour int
	ProbeBudget int
	Recency     time.Duration

	issued map[string]time.Time
	pruned time.Time
}

func NewTimed(slotsInHour int) *Timed {
	return &Timed{SlotsInHour: slotsInHour}
}

func (self *Timed) Next(now time.Time) string {
	slots := self.SlotsInHour
	if slots <= 0 {
		slots = DefaultSlotsInHour
	}
	budget := self.ProbeBudget
	if budget <= 0 {
		budget = DefaultProbeBudget
	}
	if self.issued == nil {
		self.issued = make(map[string]time.Time)
	}
	self.prune(now)

	hour := now.Unix() / 3600
	sinceHour := now.Sub(time.Unix(hour*3600, 0))
	slot := int(int64(sinceHour) * int64(slots) / int64(time.Hour))
	for i := 0; i <= budget; i++ {
		h, s := hour, slot+i
		h += int64(s / slots)
		s %= slots
		id := fmt.Sprintf("%d-%d", h, s)
		if _, seen := self.issued[id]; !seen {
			self.issued[id] = now
			return id
		}
	}
	id := fmt.Sprintf("%d-%d-%s", hour, slot, uuid.New().String())
	self.issued[id] = now
	return id
}

// Issued is count of remembered recent identifiers.
func (self *Timed) Issued() int { return len(self.issued) }

func (self *Timed) recency() time.Duration {
	if self.Recency <= 0 {
		return DefaultRecency
	}
	return self.Recency
}

func (self *Timed) prune(now time.Time) {
	r := self.recency()
	// amortized, once per tenth of recency
	if now.Sub(self.pruned) < r/10 {
		return
	}
	self.pruned = now
	for id, t := range self.issued {
		if now.Sub(t) > r {
			delete(self.issued, id)
		}
	}
}
