package midi

import (
	"fmt"
	"math"

	"tracker-bridge/params"
)

// Fixed protocol assignments for the tracker
const (
	ControlChannel uint8 = 1

	NotePlayStop uint8 = 60
	NoteRecord   uint8 = 61

	// CCTempo is the modulation wheel. It only carries a coarse tempo: 128
	// steps across 60-200 BPM, about 1.1 BPM per step.
	CCTempo uint8 = 1

	CCMasterVolume    uint8 = 7
	CCTrackVolumeBase uint8 = 20
	CCTrackPanBase    uint8 = 28
	CCTrackMuteBase   uint8 = 36
	CCMacroBase       uint8 = 44
	CCSwing           uint8 = 85
	CCPatternLength   uint8 = 86
	CCQuantize        uint8 = 87
	CCReverb          uint8 = 91
	CCDelay           uint8 = 92
)

// Mapping binds one parameter to its wire template
type Mapping struct {
	Address  params.Address
	Kind     Kind // NoteOn for note-mapped parameters; NoteOff is implied
	Channel  uint8
	Number   uint8 // note or controller; unused for ProgramChange
	ToWire   func(v float32) uint8
	FromWire func(b uint8) float32
}

// linear spreads [Min,Max] across 0-127
func linear(p params.Parameter) (func(float32) uint8, func(uint8) float32) {
	span := p.Span()
	to := func(v float32) uint8 {
		v = p.Clamp(v)
		return uint8(math.Round(float64((v - p.Min) / span * 127)))
	}
	from := func(b uint8) float32 {
		if b > 127 {
			b = 127
		}
		return p.Clamp(p.Min + float32(b)/127*span)
	}
	return to, from
}

// indexed maps whole values 1:1 onto wire bytes offset by Min
func indexed(p params.Parameter) (func(float32) uint8, func(uint8) float32) {
	to := func(v float32) uint8 {
		w := p.Clamp(v) - p.Min
		if w > 127 {
			w = 127
		}
		return uint8(w)
	}
	from := func(b uint8) float32 {
		return p.Clamp(p.Min + float32(b))
	}
	return to, from
}

// toggle sends 0 or 127 and reads the upper half as on
func toggle(p params.Parameter) (func(float32) uint8, func(uint8) float32) {
	to := func(v float32) uint8 {
		if p.Clamp(v) == p.Max {
			return 127
		}
		return 0
	}
	from := func(b uint8) float32 {
		if b >= 64 {
			return p.Max
		}
		return p.Min
	}
	return to, from
}

func transformFor(p params.Parameter) (func(float32) uint8, func(uint8) float32) {
	switch p.Unit {
	case params.UnitBoolean:
		return toggle(p)
	case params.UnitIndexed:
		return indexed(p)
	default:
		return linear(p)
	}
}

// MappingTable holds one Mapping per cataloged parameter, indexed by address
type MappingTable struct {
	catalog *params.Catalog
	entries []Mapping
}

// NewMappingTable builds the fixed tracker protocol table
func NewMappingTable(catalog *params.Catalog) (*MappingTable, error) {
	t := &MappingTable{
		catalog: catalog,
		entries: make([]Mapping, catalog.Len()),
	}
	assigned := make([]bool, catalog.Len())

	bind := func(addr params.Address, kind Kind, number uint8) {
		p := catalog.MustLookup(addr)
		to, from := transformFor(p)
		t.entries[addr] = Mapping{
			Address:  addr,
			Kind:     kind,
			Channel:  ControlChannel,
			Number:   number,
			ToWire:   to,
			FromWire: from,
		}
		assigned[addr] = true
	}

	bind(params.Play, NoteOn, NotePlayStop)
	bind(params.Record, NoteOn, NoteRecord)
	bind(params.Pattern, ProgramChange, 0)
	bind(params.Tempo, ControlChange, CCTempo)
	for i := 0; i < params.NumTracks; i++ {
		bind(params.TrackVolume(i), ControlChange, CCTrackVolumeBase+uint8(i))
		bind(params.TrackPan(i), ControlChange, CCTrackPanBase+uint8(i))
		bind(params.TrackMute(i), ControlChange, CCTrackMuteBase+uint8(i))
	}
	for i := 0; i < params.NumMacros; i++ {
		bind(params.Macro(i), ControlChange, CCMacroBase+uint8(i))
	}
	bind(params.Delay, ControlChange, CCDelay)
	bind(params.Reverb, ControlChange, CCReverb)
	bind(params.MasterVolume, ControlChange, CCMasterVolume)
	bind(params.Swing, ControlChange, CCSwing)
	bind(params.PatternLength, ControlChange, CCPatternLength)
	bind(params.Quantize, ControlChange, CCQuantize)

	for addr, ok := range assigned {
		if !ok {
			return nil, fmt.Errorf("parameter %d has no protocol mapping", addr)
		}
	}
	return t, nil
}

// Lookup returns the mapping for addr
func (t *MappingTable) Lookup(addr params.Address) (Mapping, bool) {
	if int(addr) >= len(t.entries) {
		return Mapping{}, false
	}
	return t.entries[addr], true
}

// Entries returns every mapping in address order
func (t *MappingTable) Entries() []Mapping {
	out := make([]Mapping, len(t.entries))
	copy(out, t.entries)
	return out
}

// Catalog returns the parameter table the mappings were built from
func (t *MappingTable) Catalog() *params.Catalog {
	return t.catalog
}
