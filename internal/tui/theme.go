// Package tui provides the terminal window for a running memocapture server.
package tui

import "github.com/charmbracelet/lipgloss"

// Adaptive colors (light/dark terminal detection).
var (
	ColorRecording = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#FF6B6B"}
	ColorIdle      = lipgloss.AdaptiveColor{Light: "#065F46", Dark: "#7EE2B8"}
	ColorBusy      = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	ColorSelected  = lipgloss.AdaptiveColor{Light: "#0070F3", Dark: "#79C0FF"}
	ColorStatusBg  = lipgloss.AdaptiveColor{Light: "#F3F4F6", Dark: "#1F2937"}
	ColorStatusFg  = lipgloss.AdaptiveColor{Light: "#374151", Dark: "#D1D5DB"}
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true)

	RecordingStyle = lipgloss.NewStyle().
			Foreground(ColorRecording).
			Bold(true)

	IdleStyle = lipgloss.NewStyle().
			Foreground(ColorIdle)

	BusyStyle = lipgloss.NewStyle().
			Foreground(ColorBusy)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRecording)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorSelected).
			Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
			Background(ColorStatusBg).
			Foreground(ColorStatusFg).
			Padding(0, 1)
)
