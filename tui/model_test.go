package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-bridge/bridge"
	"tracker-bridge/midi"
)

func newModel(t *testing.T) Model {
	t.Helper()
	s, err := bridge.New(bridge.Options{
		Transport: midi.NewLoopback("Polyend Tracker"),
		Ticks:     bridge.NewManualTicks(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Connection().Connect())
	return NewModel(s, nil)
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
		m = next.(Model)
	}
	return m
}

func TestKeysDriveSession(t *testing.T) {
	m := newModel(t)
	s := m.Session

	press(m, "p", "r", "+", "+", "]", "]", "]", "[", "3")

	assert.True(t, s.IsPlaying())
	assert.True(t, s.IsRecording())
	assert.Equal(t, 130, s.CurrentBPM())
	assert.Equal(t, 2, s.CurrentPattern())
	assert.True(t, s.TrackMutes()[2])

	press(m, "#")
	assert.Equal(t, []bool{true, true, false, true, true, true, true, true}, s.TrackMutes())
}

func TestPatternDoesNotGoNegative(t *testing.T) {
	m := newModel(t)
	press(m, "[")
	assert.Equal(t, 0, m.Session.CurrentPattern())
}

func TestViewShowsState(t *testing.T) {
	m := newModel(t)
	m.Session.Play()

	v := m.View()
	assert.Contains(t, v, "PLAY")
	assert.Contains(t, v, "120bpm")
	assert.Contains(t, v, "Polyend Tracker")
	assert.Contains(t, v, "dropped:0")
}

func TestQuit(t *testing.T) {
	m := newModel(t)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, "", next.(Model).View())
}
