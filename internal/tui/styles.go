package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "25", Dark: "75"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	colorWarning = lipgloss.AdaptiveColor{Light: "136", Dark: "214"}
	colorSelect  = lipgloss.AdaptiveColor{Light: "141", Dark: "57"}
	colorOK      = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	colorError   = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
)

var (
	// TitleStyle renders the menu title
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "255", Dark: "255"}).
			Background(colorAccent).
			Padding(0, 1)

	// SelectedStyle highlights the item under the cursor
	SelectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "232", Dark: "229"}).
			Background(colorSelect)

	ItemStyle    = lipgloss.NewStyle()
	DetailStyle  = lipgloss.NewStyle().Foreground(colorMuted).PaddingLeft(6)
	WarningStyle = lipgloss.NewStyle().Foreground(colorWarning).PaddingLeft(6)
	HelpStyle    = lipgloss.NewStyle().Foreground(colorMuted)

	// SuccessStyle and ErrorStyle are shared with the launcher's own output
	SuccessStyle = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)

	// BoxStyle frames the URL banner
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 2)
)
