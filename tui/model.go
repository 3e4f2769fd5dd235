package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tracker-bridge/bridge"
	"tracker-bridge/midi"
	"tracker-bridge/params"
	"tracker-bridge/theme"
)

const (
	meterWidth   = 16
	refreshEvery = 250 * time.Millisecond
	bpmStep      = 5
)

type Model struct {
	Session  *bridge.Session
	Theme    *theme.Theme
	quitting bool
}

// UpdateMsg is sent when the session reports a change
type UpdateMsg struct{}

// RefreshMsg redraws counters that change without a notification
type RefreshMsg time.Time

func NewModel(s *bridge.Session, th *theme.Theme) Model {
	if th == nil {
		th = theme.New(nil)
	}
	return Model{Session: s, Theme: th}
}

func ListenForUpdates(s *bridge.Session) tea.Cmd {
	return func() tea.Msg {
		<-s.Updates()
		return UpdateMsg{}
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return RefreshMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(ListenForUpdates(m.Session), refresh())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		s := m.Session
		switch key := msg.String(); key {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "p", " ":
			s.TogglePlay()

		case "r":
			s.ToggleRecord()

		case "R":
			s.Reconnect()

		case "+", "=":
			s.SetBPM(s.CurrentBPM() + bpmStep)

		case "-", "_":
			s.SetBPM(s.CurrentBPM() - bpmStep)

		case "]":
			s.SelectPattern(s.CurrentPattern() + 1)

		case "[":
			s.SelectPattern(s.CurrentPattern() - 1)

		case "1", "2", "3", "4", "5", "6", "7", "8":
			s.ToggleMute(int(key[0] - '1'))

		case "!", "@", "#", "$", "%", "^", "&", "*":
			s.SoloTrack(strings.Index("!@#$%^&*", key))
		}

	case UpdateMsg:
		return m, ListenForUpdates(m.Session)

	case RefreshMsg:
		return m, refresh()
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := m.Session
	th := m.Theme
	st := s.Stats()

	headerStyle := lipgloss.NewStyle().Foreground(th.Accent()).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(th.Muted())
	fgStyle := lipgloss.NewStyle().Foreground(th.FG())
	warnStyle := lipgloss.NewStyle().Foreground(th.Warning())

	playState := "STOP"
	if s.IsPlaying() {
		playState = "PLAY"
	}
	if s.IsRecording() {
		playState += " REC"
	}
	header := headerStyle.Render(fmt.Sprintf("tracker-bridge  %-8s %3dbpm  pattern:%03d",
		playState, s.CurrentBPM(), s.CurrentPattern()))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n")
	out.WriteString(m.connectionLine(st))
	out.WriteString("\n\n")

	vols, pans, mutes := s.TrackVolumes(), s.TrackPans(), s.TrackMutes()
	for i := 0; i < params.NumTracks; i++ {
		mute := fgStyle.Render(string(th.Symbols.Unmuted))
		if mutes[i] {
			mute = dimStyle.Render(string(th.Symbols.Muted))
		}
		fmt.Fprintf(&out, " T%d %s %s %s\n", i+1, mute, m.meter(float64(vols[i])), m.panMeter(pans[i]))
	}
	out.WriteString("\n")

	macros := s.MacroValues()
	for i, v := range macros {
		fmt.Fprintf(&out, " M%d   %s\n", i+1, m.meter(float64(v)))
	}
	fmt.Fprintf(&out, " DLY  %s\n", m.meter(float64(s.DelayLevel())))
	fmt.Fprintf(&out, " REV  %s\n", m.meter(float64(s.ReverbLevel())))
	out.WriteString("\n")

	counters := fmt.Sprintf("pending:%d  dropped:%d  inbound-dropped:%d  reconnects:%d",
		st.Pending, st.Dropped, st.InboundDropped, st.Reconnects)
	if st.Dropped > 0 || st.InboundDropped > 0 {
		out.WriteString(warnStyle.Render(counters))
	} else {
		out.WriteString(dimStyle.Render(counters))
	}
	out.WriteString("\n\n")
	out.WriteString(dimStyle.Render("p:play r:rec +/-:tempo [/]:pattern 1-8:mute shift+1-8:solo R:reconnect q:quit"))

	return out.String()
}

func (m Model) connectionLine(st bridge.Stats) string {
	th := m.Theme
	c := st.Connection
	dot := lipgloss.NewStyle().Foreground(th.StateColor(c.State)).Render(string(th.StateSymbol(c.State)))

	label := c.State.String()
	if c.State == midi.Connected {
		label = c.Device
		if c.Fallback {
			label += " (fallback)"
		}
	}
	return dot + " " + lipgloss.NewStyle().Foreground(th.FG()).Render(label)
}

// meter renders v in [0,1] as a bar colored by level
func (m Model) meter(v float64) string {
	n := int(math.Round(v * meterWidth))
	bar := strings.Repeat(string(m.Theme.Symbols.MeterFull), n) +
		strings.Repeat(string(m.Theme.Symbols.MeterEmpty), meterWidth-n)
	return lipgloss.NewStyle().Foreground(m.Theme.Color(v)).Render(bar)
}

// panMeter renders v in [-1,1] with a marker on the position
func (m Model) panMeter(v float32) string {
	const w = 9
	pos := int(math.Round(float64(v+1) / 2 * (w - 1)))
	cells := []rune(strings.Repeat(string(m.Theme.Symbols.MeterEmpty), w))
	cells[w/2] = m.Theme.Symbols.PanCenter
	cells[pos] = m.Theme.Symbols.MeterFull
	return lipgloss.NewStyle().Foreground(m.Theme.FG()).Render(string(cells))
}
