package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/muurk/otafleet/internal/fleet"
	"github.com/muurk/otafleet/internal/version"
)

// AppName is shown in the dashboard header.
const AppName = "OTAFLEET"

// Layout constants for responsive terminal width
const (
	MinTerminalWidth = 72
	MaxContentWidth  = 140
)

// Color palette
var (
	PrimaryColor   = lipgloss.Color("#7D56F4") // Purple - headers, borders
	SecondaryColor = lipgloss.Color("#43BF6D") // Green - approved
	WarningColor   = lipgloss.Color("#FFA500") // Orange - awaiting
	ErrorColor     = lipgloss.Color("#FF5555") // Red - denied, errors
	InfoColor      = lipgloss.Color("#5FAFFF") // Blue - downloading
	TextColor      = lipgloss.Color("#FFFFFF")
	SubtleColor    = lipgloss.Color("#626262")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	HeaderCellStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true).
			Padding(0, 1)

	CellStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Padding(0, 1)

	SelectedCellStyle = lipgloss.NewStyle().
				Foreground(SecondaryColor).
				Bold(true).
				Padding(0, 1)

	// BannerStyle highlights devices waiting for a decision.
	BannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(WarningColor).
			Bold(true).
			Padding(0, 1)

	AlertErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	AlertSuccessStyle = lipgloss.NewStyle().
				Foreground(SecondaryColor).
				Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)
)

// Markers
const (
	SelectedMarker = "→"
	SuccessMarker  = "✓"
	FailureMarker  = "✗"
)

// StatusStyle returns the badge style for a device status.
func StatusStyle(s fleet.DisplayStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case fleet.StatusDownloading:
		return base.Foreground(InfoColor)
	case fleet.StatusApproved:
		return base.Foreground(SecondaryColor)
	case fleet.StatusDenied:
		return base.Foreground(ErrorColor)
	case fleet.StatusAwaitingApproval, fleet.StatusAwaitingProvisioning:
		return base.Foreground(WarningColor)
	default:
		return base.Foreground(SubtleColor).Bold(false)
	}
}

// AppVersion returns the build version.
func AppVersion() string {
	return version.Version
}

// GetTerminalWidth returns the current terminal width, with fallback.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	return clampWidth(width, err)
}

func clampWidth(width int, err error) int {
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}
