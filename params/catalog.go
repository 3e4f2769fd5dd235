package params

import (
	"fmt"
	"math"
)

// Address is the stable integer identifier of a parameter
type Address uint16

// Unit describes how a parameter's value is interpreted
type Unit int

const (
	UnitGeneric Unit = iota
	UnitBoolean
	UnitGain
	UnitPan
	UnitIndexed
)

func (u Unit) String() string {
	switch u {
	case UnitBoolean:
		return "boolean"
	case UnitGain:
		return "gain"
	case UnitPan:
		return "pan"
	case UnitIndexed:
		return "indexed"
	default:
		return "generic"
	}
}

// NumTracks is the number of mixer tracks on the device
const NumTracks = 8

// NumMacros is the number of performance macros
const NumMacros = 6

// Parameter addresses. Tracks and macros occupy contiguous blocks.
const (
	Play Address = iota
	Record
	Pattern
	Tempo
	TrackVolumeBase
	TrackPanBase  = TrackVolumeBase + NumTracks
	TrackMuteBase = TrackPanBase + NumTracks
	MacroBase     = TrackMuteBase + NumTracks
	Delay         = MacroBase + NumMacros
	Reverb        = Delay + 1
	MasterVolume  = Reverb + 1
	Swing         = MasterVolume + 1
	PatternLength = Swing + 1
	Quantize      = PatternLength + 1

	// Count is the number of cataloged parameters
	Count = int(Quantize) + 1
)

// TrackVolume returns the address of a track's volume (track is 0-based)
func TrackVolume(track int) Address { return TrackVolumeBase + Address(track) }

// TrackPan returns the address of a track's pan (track is 0-based)
func TrackPan(track int) Address { return TrackPanBase + Address(track) }

// TrackMute returns the address of a track's mute (track is 0-based)
func TrackMute(track int) Address { return TrackMuteBase + Address(track) }

// Macro returns the address of a macro (macro is 0-based)
func Macro(macro int) Address { return MacroBase + Address(macro) }

// Parameter is an immutable descriptor of one controllable value
type Parameter struct {
	Address Address
	Name    string
	Min     float32
	Max     float32
	Default float32
	Unit    Unit
}

// Span returns Max-Min
func (p Parameter) Span() float32 {
	return p.Max - p.Min
}

// Clamp brings v into the parameter's range. Boolean and indexed values are
// rounded to whole numbers. NaN maps to the default and -0 to +0.
func (p Parameter) Clamp(v float32) float32 {
	if v != v {
		return p.Default
	}
	switch p.Unit {
	case UnitBoolean:
		if v >= (p.Min+p.Max)/2 {
			return p.Max
		}
		return p.Min
	case UnitIndexed:
		v = float32(math.Round(float64(v)))
	}
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	if v == 0 {
		return 0 // folds -0 into +0
	}
	return v
}

// Catalog is the static table of every parameter, indexed by address
type Catalog struct {
	params []Parameter
	byName map[string]Address
}

// Len returns the number of parameters
func (c *Catalog) Len() int {
	return len(c.params)
}

// Lookup returns the parameter at addr
func (c *Catalog) Lookup(addr Address) (Parameter, bool) {
	if int(addr) >= len(c.params) {
		return Parameter{}, false
	}
	return c.params[addr], true
}

// MustLookup is Lookup for addresses known at compile time
func (c *Catalog) MustLookup(addr Address) Parameter {
	p, ok := c.Lookup(addr)
	if !ok {
		panic(fmt.Sprintf("params: unknown address %d", addr))
	}
	return p
}

// ByName finds a parameter address by its display name
func (c *Catalog) ByName(name string) (Address, bool) {
	a, ok := c.byName[name]
	return a, ok
}

// All returns a copy of every parameter in address order
func (c *Catalog) All() []Parameter {
	out := make([]Parameter, len(c.params))
	copy(out, c.params)
	return out
}

// NewCatalog builds the tracker's parameter table
func NewCatalog() *Catalog {
	ps := make([]Parameter, Count)

	set := func(a Address, name string, min, max, def float32, u Unit) {
		ps[a] = Parameter{Address: a, Name: name, Min: min, Max: max, Default: def, Unit: u}
	}

	set(Play, "play", 0, 1, 0, UnitBoolean)
	set(Record, "record", 0, 1, 0, UnitBoolean)
	set(Pattern, "pattern", 0, 127, 0, UnitIndexed)
	set(Tempo, "tempo", 60, 200, 120, UnitGeneric)

	for i := 0; i < NumTracks; i++ {
		set(TrackVolume(i), fmt.Sprintf("track%d.volume", i+1), 0, 1, 0.8, UnitGain)
		set(TrackPan(i), fmt.Sprintf("track%d.pan", i+1), -1, 1, 0, UnitPan)
		set(TrackMute(i), fmt.Sprintf("track%d.mute", i+1), 0, 1, 0, UnitBoolean)
	}
	for i := 0; i < NumMacros; i++ {
		set(Macro(i), fmt.Sprintf("macro%d", i+1), 0, 1, 0, UnitGeneric)
	}

	set(Delay, "delay", 0, 1, 0, UnitGain)
	set(Reverb, "reverb", 0, 1, 0, UnitGain)
	set(MasterVolume, "master.volume", 0, 1, 0.8, UnitGain)
	set(Swing, "swing", 0, 100, 50, UnitGeneric)
	set(PatternLength, "pattern.length", 1, 128, 16, UnitIndexed)
	set(Quantize, "quantize", 0, 7, 0, UnitIndexed)

	c := &Catalog{params: ps, byName: make(map[string]Address, len(ps))}
	for _, p := range ps {
		c.byName[p.Name] = p.Address
	}
	return c
}
