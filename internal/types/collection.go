package types

import (
	"encoding/json"
	"time"
)

// Collection is uniquely identified batch of packets captured within one cadence window.
// Owned by channel fan-out for the duration of dispatch; sinks that retain it must Copy.
// SourceID and Fragment tell downstream consumers which installation produced it,
// Fragment zero means not set.
type Collection struct {
	ID       string
	Channel  Kind
	Time     time.Time
	Location *time.Location
	SourceID string
	Fragment int
	Packets  []Packet
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Packets)
}

// DateKey is capture day in collection time zone, for date bucketed storage keys.
func (c *Collection) DateKey() string {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return c.Time.In(loc).Format("2006-01-02")
}

// Copy is shallow: packets are immutable values.
func (c *Collection) Copy() *Collection {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Packets = make([]Packet, len(c.Packets))
	copy(cp.Packets, c.Packets)
	return &cp
}

// OfType returns packets with given Type in original order.
func (c *Collection) OfType(typ string) []Packet {
	if c == nil {
		return nil
	}
	var out []Packet
	for _, p := range c.Packets {
		if p.Type() == typ {
			out = append(out, p)
		}
	}
	return out
}

type jsonPacket struct {
	Type   string                 `json:"type"`
	Source string                 `json:"source"`
	Fields map[string]interface{} `json:"fields"`
}

type jsonCollection struct {
	ID       string       `json:"id"`
	Channel  string       `json:"channel"`
	Time     int64        `json:"time_ms"`
	Zone     string       `json:"zone"`
	Date     string       `json:"date"`
	SourceID string       `json:"source_id,omitempty"`
	Fragment int          `json:"fragment,omitempty"`
	Packets  []jsonPacket `json:"packets"`
}

func (c *Collection) MarshalJSON() ([]byte, error) {
	jc := jsonCollection{
		ID:       c.ID,
		Channel:  c.Channel.String(),
		Time:     c.Time.UnixNano() / int64(time.Millisecond),
		Zone:     "UTC",
		Date:     c.DateKey(),
		SourceID: c.SourceID,
		Fragment: c.Fragment,
		Packets:  make([]jsonPacket, len(c.Packets)),
	}
	if c.Location != nil {
		jc.Zone = c.Location.String()
	}
	for i, p := range c.Packets {
		jc.Packets[i] = jsonPacket{Type: p.Type(), Source: p.Source(), Fields: p.Fields()}
	}
	return json.Marshal(jc)
}
