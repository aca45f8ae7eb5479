// SPDX-License-Identifier: MIT
package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorInk    = lipgloss.Color("#F4F1E8")
	colorAccent = lipgloss.Color("#5A8DEE")
	colorMuted  = lipgloss.Color("#6C6F7A")
	colorAlert  = lipgloss.Color("#E8637A")
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(colorInk).Background(colorAccent)
	infoStyle      = lipgloss.NewStyle().Foreground(colorInk)
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	dimStyle       = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle     = lipgloss.NewStyle().Foreground(colorAlert)
)
