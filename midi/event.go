package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"

	"tracker-bridge/params"
)

// Kind is the wire message type
type Kind uint8

const (
	NoteOn Kind = iota
	NoteOff
	ControlChange
	ProgramChange
)

func (k Kind) String() string {
	switch k {
	case NoteOn:
		return "NoteOn"
	case NoteOff:
		return "NoteOff"
	case ControlChange:
		return "CC"
	case ProgramChange:
		return "ProgramChange"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Status bytes (channel nibble zero)
const (
	StatusNoteOff       uint8 = 0x80
	StatusNoteOn        uint8 = 0x90
	StatusControlChange uint8 = 0xB0
	StatusProgramChange uint8 = 0xC0
)

// WireMessage is one channel-voice message. Channel is 1-16.
// Data2 is unused for ProgramChange.
type WireMessage struct {
	Kind    Kind
	Channel uint8
	Data1   uint8
	Data2   uint8
}

// Message builds the gomidi message
func (w WireMessage) Message() gomidi.Message {
	ch := (w.Channel - 1) & 0x0F
	switch w.Kind {
	case NoteOn:
		return gomidi.NoteOn(ch, w.Data1&0x7F, w.Data2&0x7F)
	case NoteOff:
		return gomidi.NoteOffVelocity(ch, w.Data1&0x7F, w.Data2&0x7F)
	case ControlChange:
		return gomidi.ControlChange(ch, w.Data1&0x7F, w.Data2&0x7F)
	case ProgramChange:
		return gomidi.ProgramChange(ch, w.Data1&0x7F)
	}
	return nil
}

// Bytes returns the raw wire bytes
func (w WireMessage) Bytes() []byte {
	return w.Message().Bytes()
}

func (w WireMessage) String() string {
	if w.Kind == ProgramChange {
		return fmt.Sprintf("%s ch=%d program=%d", w.Kind, w.Channel, w.Data1)
	}
	return fmt.Sprintf("%s ch=%d %d %d", w.Kind, w.Channel, w.Data1, w.Data2)
}

// ParseWire reads a channel-voice message. Running status, SysEx and
// realtime bytes are not recognized.
func ParseWire(b []byte) (WireMessage, bool) {
	if len(b) < 2 || b[0]&0x80 == 0 {
		return WireMessage{}, false
	}
	for _, d := range b[1:] {
		if d > 0x7F {
			return WireMessage{}, false
		}
	}

	msg := gomidi.Message(b)
	var ch, d1, d2 uint8

	switch {
	case len(b) >= 3 && msg.GetNoteOn(&ch, &d1, &d2):
		return WireMessage{Kind: NoteOn, Channel: ch + 1, Data1: d1, Data2: d2}, true
	case len(b) >= 3 && msg.GetNoteOff(&ch, &d1, &d2):
		return WireMessage{Kind: NoteOff, Channel: ch + 1, Data1: d1, Data2: d2}, true
	case len(b) >= 3 && msg.GetControlChange(&ch, &d1, &d2):
		return WireMessage{Kind: ControlChange, Channel: ch + 1, Data1: d1, Data2: d2}, true
	case msg.GetProgramChange(&ch, &d1):
		return WireMessage{Kind: ProgramChange, Channel: ch + 1, Data1: d1}, true
	}
	return WireMessage{}, false
}

// Event is a decoded semantic change: a parameter and its new value
type Event struct {
	Address params.Address
	Value   float32
}
