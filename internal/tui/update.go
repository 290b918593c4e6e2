package tui

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model.
//
//nolint:gocritic // hugeParam: Model must be value receiver to implement tea.Model interface
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.inputActive {
			switch msg.String() {
			case "esc":
				m.inputActive = false
				m.input.Blur()
				m.input.Reset()
			case "enter":
				line := m.input.Value()
				m.inputActive = false
				m.input.Blur()
				m.input.Reset()
				if strings.TrimSpace(line) == "quit" {
					m.quitting = true
					return m, tea.Quit
				}
				m.submit(line)
			default:
				var cmd tea.Cmd
				m.input, cmd = m.input.Update(msg)
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			if m.app != nil {
				m.app.Disable()
			}
		case ":", "i":
			m.inputActive = true
			cmds = append(cmds, m.input.Focus())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 6
		footerHeight := 3
		verticalMargins := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-verticalMargins)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - verticalMargins
		}
		m.viewport.SetContent(m.renderNodeTable())

	case tickMsg:
		m.lastUpdate = time.Time(msg)
		if m.app != nil {
			m.nodes = m.app.Snapshot()
			sort.Slice(m.nodes, func(i, j int) bool { return m.nodes[i].NodeID < m.nodes[j].NodeID })
			m.linkState = m.app.LinkState()
		}
		m.viewport.SetContent(m.renderNodeTable())
		cmds = append(cmds, tickCmd())

	case errMsg:
		m.errorMessage = msg.Error()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit runs one command-bar line against the controller and records the
// outcome for the status line.
func (m *Model) submit(line string) {
	if m.app == nil || strings.TrimSpace(line) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := m.app.Submit(ctx, line)
	if err != nil {
		m.errorMessage = err.Error()
		m.statusMessage = ""
		return
	}
	m.errorMessage = ""
	m.statusMessage = result
}
