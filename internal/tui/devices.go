// SPDX-License-Identifier: MIT
// Package tui renders the interactive device list for the `list`
// command. The visualization renderer itself is a separate program
// consuming the frame transports; this is only the picker.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"termviz/internal/source"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5A56E0")).
			Bold(true)
)

// DeviceListModel is the Bubble Tea model for browsing input devices.
type DeviceListModel struct {
	devices       []source.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
}

type devicesMsg struct {
	devices []source.Device
	err     error
}

func fetchDevices() tea.Msg {
	devices, err := source.ListDevices()
	return devicesMsg{devices: devices, err: err}
}

// NewDeviceList creates the model; Run drives it.
func NewDeviceList() DeviceListModel {
	return DeviceListModel{}
}

func (m DeviceListModel) Init() tea.Cmd {
	return fetchDevices
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case devicesMsg:
		m.devices = msg.devices
		m.err = msg.err
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
			}
		case "down", "j":
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
			}
		}

	case tea.WindowSizeMsg:
		m.viewport = viewport.New(msg.Width, msg.Height-4)
	}
	return m, nil
}

func (m DeviceListModel) View() string {
	if !m.ready {
		return "Probing audio devices...\n"
	}
	if m.err != nil {
		return fmt.Sprintf("Could not list devices: %v\n", m.err)
	}
	if len(m.devices) == 0 {
		return "No audio input devices found.\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Audio Input Devices"))
	b.WriteString("\n\n")

	for i, device := range m.devices {
		line := fmt.Sprintf("[%d] %s  (%d ch, %.0f Hz)",
			device.ID, device.Name, device.MaxInputChannels, device.DefaultSampleRate)
		if i == m.selectedIndex {
			b.WriteString(highlightStyle.Render("> " + line))
		} else {
			b.WriteString(infoStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(infoStyle.Render("j/k move · q quit"))
	b.WriteString("\n")
	return b.String()
}

// Run blocks until the user quits the device list.
func Run() error {
	_, err := tea.NewProgram(NewDeviceList()).Run()
	return err
}
