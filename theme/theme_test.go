package theme

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-bridge/midi"
)

func TestParseGPL(t *testing.T) {
	p, err := ParseGPL(strings.NewReader(`GIMP Palette
Name: duo
Columns: 2
# comment
  0   0   0	black
255 128  10	orange
300   1   1	out of range
`))
	require.NoError(t, err)
	assert.Equal(t, "duo", p.Name)
	assert.Equal(t, []RGB{{0, 0, 0}, {255, 128, 10}}, p.Colors)
}

func TestParseGPLEmpty(t *testing.T) {
	_, err := ParseGPL(strings.NewReader("GIMP Palette\nName: none\n"))
	assert.Error(t, err)
}

func TestLookupInterpolates(t *testing.T) {
	p := &Palette{Colors: []RGB{{0, 0, 0}, {200, 100, 50}}}
	assert.Equal(t, RGB{0, 0, 0}, p.Lookup(-1))
	assert.Equal(t, RGB{100, 50, 25}, p.Lookup(0.5))
	assert.Equal(t, RGB{200, 100, 50}, p.Lookup(2))
}

func TestStateIndicator(t *testing.T) {
	th := New(nil)
	assert.Equal(t, Plasma, th.Palette)
	assert.Equal(t, '●', th.StateSymbol(midi.Connected))
	assert.Equal(t, '◌', th.StateSymbol(midi.Searching))
	assert.Equal(t, '○', th.StateSymbol(midi.Disconnected))
	assert.Equal(t, lipgloss.Color("#f0f921"), th.StateColor(midi.Connected))
}
