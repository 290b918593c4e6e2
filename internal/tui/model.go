// Package tui provides the terminal user interface for the host binary: a
// live node table, total-power line, and link-state banner.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fleetpower/dcmesh/internal/linksupervisor"
	"github.com/fleetpower/dcmesh/internal/powermanager"
)

// Controller is the subset of hostapp.App the TUI drives.
type Controller interface {
	Snapshot() []powermanager.NodeStatus
	LinkState() linksupervisor.State
	SetThreshold(mW float64)
	Disable()
	SetPriority(nodeID int)
	ClearPriority()
	Submit(ctx context.Context, line string) (string, error)
}

// Model represents the TUI state.
type Model struct {
	app Controller

	width    int
	height   int
	ready    bool
	quitting bool

	spinner  spinner.Model
	viewport viewport.Model
	input    textinput.Model

	inputActive bool

	nodes         []powermanager.NodeStatus
	linkState     linksupervisor.State
	startTime     time.Time
	lastUpdate    time.Time
	statusMessage string
	errorMessage  string
}

// New creates a new TUI model.
func New(app Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "read | duty <pct> | stop | threshold <mW>|off | priority <id>|off"
	in.CharLimit = 64

	return Model{
		app:       app,
		spinner:   s,
		input:     in,
		startTime: time.Now(),
	}
}

// Init initializes the model.
//
//nolint:gocritic // hugeParam: Model must be value receiver to implement tea.Model interface
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
	)
}

// tickMsg is sent periodically to refresh the snapshot.
type tickMsg time.Time

// errMsg is sent when an error occurs.
type errMsg error

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
