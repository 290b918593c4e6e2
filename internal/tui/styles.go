package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fleetpower/dcmesh/internal/linksupervisor"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")

	// Title style
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1).
			MarginBottom(1)

	// Box styles
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	// Status styles
	connectedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(errorColor).
				Bold(true)

	// Spinner style
	spinnerStyle = lipgloss.NewStyle().
			Foreground(primaryColor)

	// Stats styles
	statLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	// Message styles
	messageTimeStyle = lipgloss.NewStyle().
				Foreground(mutedColor)

	messageFromStyle = lipgloss.NewStyle().
				Foreground(primaryColor).
				Bold(true)

	messageTypeStyle = lipgloss.NewStyle().
				Foreground(secondaryColor)

	messageContentStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF"))

	// Help style
	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(1, 0)

	// Error style
	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)
)

// LinkStateIndicator returns a styled link-state indicator driven by the
// link supervisor's current state.
func LinkStateIndicator(state linksupervisor.State) string {
	switch state {
	case linksupervisor.StateAttached:
		return connectedStyle.Render("● Attached")
	case linksupervisor.StateReattaching:
		return disconnectedStyle.Render("↻ Reattaching")
	case linksupervisor.StateConnecting, linksupervisor.StateScanning:
		return disconnectedStyle.Render("… " + string(state))
	default:
		return disconnectedStyle.Render("○ Disconnected")
	}
}
