package midi

import (
	"tracker-bridge/params"
)

// routeKey identifies an inbound message slot. Note kinds share one class so
// NoteOn and NoteOff reach the same parameter.
type routeKey struct {
	class   uint8
	channel uint8
	number  uint8
}

const (
	classNote uint8 = iota
	classCC
	classProgram
)

func keyFor(kind Kind, channel, number uint8) routeKey {
	switch kind {
	case NoteOn, NoteOff:
		return routeKey{classNote, channel, number}
	case ControlChange:
		return routeKey{classCC, channel, number}
	default:
		return routeKey{classProgram, channel, 0}
	}
}

// Codec converts between parameter values and wire messages. It holds no
// mutable state after construction and is safe for concurrent use.
type Codec struct {
	table   *MappingTable
	reverse map[routeKey]params.Address
}

// NewCodec indexes the mapping table for reverse lookup
func NewCodec(table *MappingTable) *Codec {
	c := &Codec{
		table:   table,
		reverse: make(map[routeKey]params.Address, len(table.entries)),
	}
	for _, m := range table.entries {
		c.reverse[keyFor(m.Kind, m.Channel, m.Number)] = m.Address
	}
	return c
}

// Table returns the mapping table
func (c *Codec) Table() *MappingTable {
	return c.table
}

// Encode builds the wire message for a parameter value
func (c *Codec) Encode(addr params.Address, v float32) (WireMessage, bool) {
	m, ok := c.table.Lookup(addr)
	if !ok {
		return WireMessage{}, false
	}
	b := m.ToWire(v)

	switch m.Kind {
	case NoteOn:
		if b == 0 {
			return WireMessage{Kind: NoteOff, Channel: m.Channel, Data1: m.Number}, true
		}
		return WireMessage{Kind: NoteOn, Channel: m.Channel, Data1: m.Number, Data2: b}, true
	case ProgramChange:
		return WireMessage{Kind: ProgramChange, Channel: m.Channel, Data1: b}, true
	default:
		return WireMessage{Kind: m.Kind, Channel: m.Channel, Data1: m.Number, Data2: b}, true
	}
}

// DecodeWire maps a parsed message back to a parameter value. Unmapped
// messages report false.
func (c *Codec) DecodeWire(w WireMessage) (Event, bool) {
	addr, ok := c.reverse[keyFor(w.Kind, w.Channel, w.Data1)]
	if !ok {
		return Event{}, false
	}
	m := c.table.entries[addr]

	var b uint8
	switch w.Kind {
	case NoteOff:
		b = 0
	case ProgramChange:
		b = w.Data1
	default:
		b = w.Data2
	}
	return Event{Address: addr, Value: m.FromWire(b)}, true
}

// Decode parses raw bytes and maps them to a parameter value
func (c *Codec) Decode(b []byte) (Event, bool) {
	w, ok := ParseWire(b)
	if !ok {
		return Event{}, false
	}
	return c.DecodeWire(w)
}
