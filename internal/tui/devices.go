// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"slices"
	"strings"

	"paulring/internal/audio"
	"paulring/internal/config"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	RateScreen
)

// Selection is the outcome of the device picker.
type Selection struct {
	InputDevice  int
	OutputDevice int
	SampleRate   float64
	Confirmed    bool // False when the user quit without confirming.
}

// Apply copies a confirmed selection into cfg.
func (s Selection) Apply(cfg *config.Config) {
	if !s.Confirmed {
		return
	}
	cfg.Audio.InputDevice = s.InputDevice
	cfg.Audio.OutputDevice = s.OutputDevice
	cfg.Audio.SampleRate = s.SampleRate
}

var availableSampleRates = []float64{44100, 48000, 88200, 96000}

type pickerKeys struct {
	Up, Down, Input, Output, Next, Back, Quit key.Binding
}

func (k pickerKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Input, k.Output, k.Next, k.Quit}
}

func (k pickerKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

// rateKeys shows the bindings of the sample rate screen.
type rateKeys struct{ pickerKeys }

func (k rateKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Next, k.Back, k.Quit}
}

func (k rateKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var defaultPickerKeys = pickerKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Input:  key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "input")),
	Output: key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "output")),
	Next:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "next")),
	Back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// DeviceListModel lets the user mark an input and an output device and pick
// a sample rate for the duplex stream.
type DeviceListModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	selection       Selection
	sampleRateIndex int
	keys            pickerKeys
	help            help.Model
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a picker over the devices fetch returns,
// starting from the devices and rate in cfg.
func NewDeviceListModel(fetch func() ([]audio.Device, error), cfg *config.Config) DeviceListModel {
	return DeviceListModel{
		fetch:        fetch,
		activeScreen: ListScreen,
		keys:         defaultPickerKeys,
		help:         help.New(),
		selection: Selection{
			InputDevice:  cfg.Audio.InputDevice,
			OutputDevice: cfg.Audio.OutputDevice,
			SampleRate:   cfg.Audio.SampleRate,
		},
	}
}

// Init fetches the device list.
func (m DeviceListModel) Init() tea.Cmd {
	return func() tea.Msg {
		devices, err := m.fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

// Selection returns the current choice.
func (m DeviceListModel) Selection() Selection { return m.selection }

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if m.activeScreen == ListScreen {
			m.listKey(msg)
		} else if m.rateKey(msg) {
			return m, tea.Quit
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m DeviceListModel) helpKeys() help.KeyMap {
	if m.activeScreen == RateScreen {
		return rateKeys{m.keys}
	}
	return m.keys
}

func (m *DeviceListModel) listKey(msg tea.KeyMsg) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.selectedIndex = max(m.selectedIndex-1, 0)
	case key.Matches(msg, m.keys.Down):
		m.selectedIndex = min(m.selectedIndex+1, max(len(m.devices)-1, 0))
	case key.Matches(msg, m.keys.Input):
		if d, ok := m.current(); ok && d.MaxInputChannels > 0 {
			m.selection.InputDevice = d.ID
		}
	case key.Matches(msg, m.keys.Output):
		if d, ok := m.current(); ok && d.MaxOutputChannels > 0 {
			m.selection.OutputDevice = d.ID
		}
	case key.Matches(msg, m.keys.Next) && len(m.devices) > 0:
		m.activeScreen = RateScreen
		m.sampleRateIndex = max(slices.Index(availableSampleRates, m.selection.SampleRate), 0)
	}
}

// rateKey handles the rate screen and reports whether the choice is final.
func (m *DeviceListModel) rateKey(msg tea.KeyMsg) bool {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.activeScreen = ListScreen
	case key.Matches(msg, m.keys.Up):
		m.sampleRateIndex = max(m.sampleRateIndex-1, 0)
	case key.Matches(msg, m.keys.Down):
		m.sampleRateIndex = min(m.sampleRateIndex+1, len(availableSampleRates)-1)
	case key.Matches(msg, m.keys.Next):
		m.selection.SampleRate = availableSampleRates[m.sampleRateIndex]
		m.selection.Confirmed = true
		return true
	}
	return false
}

func (m DeviceListModel) current() (audio.Device, bool) {
	if m.selectedIndex >= len(m.devices) {
		return audio.Device{}, false
	}
	return m.devices[m.selectedIndex], true
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ListScreen {
		m.viewport.SetContent(m.renderDevices())
	} else {
		m.viewport.SetContent(m.renderRates())
	}
}

// View renders the UI
func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	title := titleStyle.Render("Audio Devices")
	if m.activeScreen == RateScreen {
		title = titleStyle.Render("Sample Rate")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), m.help.View(m.helpKeys()))
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	var sb strings.Builder
	for i, d := range m.devices {
		tag := ""
		switch {
		case d.ID == m.selection.InputDevice && d.ID == m.selection.OutputDevice:
			tag = " <IN,OUT>"
		case d.ID == m.selection.InputDevice:
			tag = " <IN>"
		case d.ID == m.selection.OutputDevice:
			tag = " <OUT>"
		}
		entry := fmt.Sprintf("[%d] %s%s\n    %s, %d in / %d out, %.0f Hz\n",
			d.ID, d.Name, tag, d.Kind(), d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
		if i == m.selectedIndex {
			entry = highlightStyle.Render(entry)
		}
		sb.WriteString(entry)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (m DeviceListModel) renderRates() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Input device %d, output device %d\n\n", m.selection.InputDevice, m.selection.OutputDevice)
	for i, rate := range availableSampleRates {
		cursor := " "
		if i == m.sampleRateIndex {
			cursor = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", cursor, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// RunDevicePicker runs the picker and returns what the user chose.
func RunDevicePicker(fetch func() ([]audio.Device, error), cfg *config.Config) (Selection, error) {
	p := tea.NewProgram(NewDeviceListModel(fetch, cfg), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, err
	}
	return final.(DeviceListModel).Selection(), nil
}
