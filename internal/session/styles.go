package session

import "github.com/charmbracelet/lipgloss"

var (
	amber     = lipgloss.Color("#E5A00D")
	dimGray   = lipgloss.Color("#6B7280")
	errorRed  = lipgloss.Color("#EF4444")
	offWhite  = lipgloss.Color("#F9FAFB")
	softGreen = lipgloss.Color("#10B981")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(offWhite).
			Bold(true)

	accentStyle = lipgloss.NewStyle().
			Foreground(amber)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimGray)

	errStyle = lipgloss.NewStyle().
			Foreground(errorRed)

	okStyle = lipgloss.NewStyle().
			Foreground(softGreen)
)
