package types

import (
	"fmt"
	"sort"
	"strings"
)

// Kind selects which channel a packet travels on.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindStatus
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindEvent:
		return "event"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Packet is decoded, typed representation of one frame or a synthetic record.
// Implementations are immutable values.
type Packet interface {
	Kind() Kind
	// Type is stable name, e.g. "fx_status", "command_sent".
	Type() string
	// Source identifies logical origin, used as dedup key, e.g. "fx/1".
	Source() string
	// Fields returns flat name->value map for sinks. Values are
	// int, float64, bool or string.
	Fields() map[string]interface{}
}

// FormatPacket is compact single line form for logs.
func FormatPacket(p Packet) string {
	if p == nil {
		return "Packet(nil)"
	}
	fields := p.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s(%s source=%s", p.Type(), p.Kind(), p.Source())
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte(')')
	return b.String()
}

// Ingester is the single entry point for packets into batching:
// decoded frames, change events and command echo all go through Accept.
type Ingester interface {
	Accept(p Packet)
}
