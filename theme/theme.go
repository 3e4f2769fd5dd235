package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"tracker-bridge/midi"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	// Meters
	MeterFull  rune // █
	MeterEmpty rune // ·
	PanCenter  rune // │ centre mark on pan meters

	// Track mute column
	Muted   rune // ×
	Unmuted rune // ●

	// Connection indicator
	Connected    rune // ●
	Searching    rune // ◌
	Disconnected rune // ○
}

func New(palette *Palette) *Theme {
	if palette == nil {
		palette = Plasma
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			MeterFull:  '█',
			MeterEmpty: '·',
			PanCenter:  '│',

			Muted:   '×',
			Unmuted: '●',

			Connected:    '●',
			Searching:    '◌',
			Disconnected: '○',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleMuted   = 0.15
	RoleFG      = 0.55
	RoleAccent  = 0.4
	RoleWarning = 0.7
	RoleSuccess = 1.0
)

func (t *Theme) FG() lipgloss.Color      { return t.Color(RoleFG) }
func (t *Theme) Accent() lipgloss.Color  { return t.Color(RoleAccent) }
func (t *Theme) Muted() lipgloss.Color   { return t.Color(RoleMuted) }
func (t *Theme) Warning() lipgloss.Color { return t.Color(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.Color(RoleSuccess) }

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

// StateColor picks the indicator color for a connection state
func (t *Theme) StateColor(s midi.State) lipgloss.Color {
	switch s {
	case midi.Connected:
		return t.Success()
	case midi.Searching:
		return t.Warning()
	default:
		return t.Muted()
	}
}

// StateSymbol picks the indicator glyph for a connection state
func (t *Theme) StateSymbol(s midi.State) rune {
	switch s {
	case midi.Connected:
		return t.Symbols.Connected
	case midi.Searching:
		return t.Symbols.Searching
	default:
		return t.Symbols.Disconnected
	}
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
