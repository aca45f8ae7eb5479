// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"paulring/internal/audio"
	"paulring/internal/control"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// DefaultRefresh is how often the monitor polls the engine.
const DefaultRefresh = 50 * time.Millisecond

// stretchStep is the change per +/- key press.
const stretchStep = 0.5

// VoiceSource is the engine as seen by the monitor. Every method must be
// safe to call from the UI goroutine.
type VoiceSource interface {
	Snapshot(dst []audio.VoiceStatus) []audio.VoiceStatus
	StretchRange() control.StretchRange
	Callbacks() uint64
	Failures() uint64
	Xruns() uint64
}

// IntentSink accepts intents for the audio thread.
type IntentSink interface {
	Push(in control.Intent) error
}

type monitorKeys struct {
	Toggle  key.Binding
	Up      key.Binding
	Down    key.Binding
	Stretch key.Binding
	Shrink  key.Binding
	Quit    key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Up, k.Down, k.Stretch, k.Shrink, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultMonitorKeys = monitorKeys{
	Toggle:  key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "toggle voice")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "select")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "select")),
	Stretch: key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "stretch more")),
	Shrink:  key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "stretch less")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

// MonitorModel shows every voice with its level and stretch amount and turns
// key presses into intents.
type MonitorModel struct {
	source   VoiceSource
	sink     IntentSink
	refresh  time.Duration
	keys     monitorKeys
	help     help.Model
	bar      progress.Model
	voices   []audio.VoiceStatus
	selected int
	status   string // Result of the last key press.
	started  time.Time
}

// NewMonitorModel builds a monitor polling source every refresh.
func NewMonitorModel(source VoiceSource, sink IntentSink, refresh time.Duration) MonitorModel {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 30
	return MonitorModel{
		source:  source,
		sink:    sink,
		refresh: refresh,
		keys:    defaultMonitorKeys,
		help:    help.New(),
		bar:     bar,
		voices:  source.Snapshot(nil),
		started: time.Now(),
	}
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh ticker.
func (m MonitorModel) Init() tea.Cmd {
	return m.tick()
}

// Update handles ticks, resizes and key presses.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.voices = m.source.Snapshot(m.voices[:0])
		return m, m.tick()

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(40, msg.Width-40))
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			v := int(msg.String()[0] - '1')
			if v < len(m.voices) {
				m.selected = v
				m.push(control.Intent{Kind: control.Toggle, Voice: v})
			}
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.voices)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Stretch):
			m.nudge(stretchStep)
		case key.Matches(msg, m.keys.Shrink):
			m.nudge(-stretchStep)
		}
	}
	return m, nil
}

// nudge changes the selected voice's stretch amount within the fader range.
func (m *MonitorModel) nudge(delta float64) {
	if m.selected >= len(m.voices) {
		return
	}
	r := m.source.StretchRange()
	amount := m.voices[m.selected].Stretch + delta
	amount = math.Max(r.Min, math.Min(r.Max, amount))
	m.voices[m.selected].Stretch = amount
	m.push(control.Intent{Kind: control.SetStretch, Voice: m.selected, Value: amount})
}

func (m *MonitorModel) push(in control.Intent) {
	if err := m.sink.Push(in); err != nil {
		m.status = errorStyle.Render(fmt.Sprintf("%s: %v", in, err))
		return
	}
	m.status = dimStyle.Render(in.String())
}

// View renders the voice table.
func (m MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("paulring voices"))
	sb.WriteString("\n\n")

	for i, v := range m.voices {
		state := dimStyle.Render("idle  ")
		if v.Active {
			state = highlightStyle.Render("active")
		}
		line := fmt.Sprintf("%d %-6s %s %s x%-5.1f", i+1, v.Name, state, m.bar.ViewAs(v.Level), v.Stretch)
		if i == m.selected {
			line = highlightStyle.Render("▶ ") + line
		} else {
			line = "  " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("callbacks %d  silent %d  xruns %d  up %s",
		m.source.Callbacks(), m.source.Failures(), m.source.Xruns(),
		time.Since(m.started).Round(time.Second))))
	sb.WriteString("\n")
	if m.status != "" {
		sb.WriteString(m.status)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

// RunMonitor runs the monitor until the user quits.
func RunMonitor(source VoiceSource, sink IntentSink, refresh time.Duration) error {
	p := tea.NewProgram(NewMonitorModel(source, sink, refresh), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
