package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetpower/dcmesh/internal/powermanager"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if !m.ready {
		return fmt.Sprintf("%s Initializing...\n", m.spinner.View())
	}

	var b strings.Builder

	title := titleStyle.Render("⚡ DC Mesh Power Control")
	b.WriteString(title)
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")

	b.WriteString(m.renderBudget())
	b.WriteString("\n")

	nodesBox := boxStyle.Width(m.width - 4).Render(m.viewport.View())
	b.WriteString(nodesBox)
	b.WriteString("\n")

	if m.inputActive {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	if m.errorMessage != "" {
		b.WriteString(errorStyle.Render("Error: " + m.errorMessage))
		b.WriteString("\n")
	} else if m.statusMessage != "" {
		b.WriteString(statValueStyle.Render(m.statusMessage))
		b.WriteString("\n")
	}

	help := helpStyle.Render("q: quit • :: command • d: disable balancing • ↑/↓: scroll")
	b.WriteString(help)

	return b.String()
}

func (m Model) renderStatusBar() string {
	status := LinkStateIndicator(m.linkState)
	uptime := time.Since(m.startTime).Round(time.Second)
	uptimeInfo := statLabelStyle.Render(" | Uptime: ") + statValueStyle.Render(uptime.String())
	return status + uptimeInfo
}

func (m Model) renderBudget() string {
	var total float64
	for _, ns := range m.nodes {
		total += ns.PowerMW
	}
	return statLabelStyle.Render("Total power: ") + statValueStyle.Render(fmt.Sprintf("%.1f mW", total)) +
		statLabelStyle.Render(" | Nodes: ") + statValueStyle.Render(fmt.Sprintf("%d", len(m.nodes)))
}

func (m Model) renderNodeTable() string {
	if len(m.nodes) == 0 {
		return statLabelStyle.Render("No nodes seen yet. Waiting for DATA replies...")
	}

	var b strings.Builder
	header := fmt.Sprintf("%-6s %-6s %-6s %-10s %-8s %-8s %-9s %-10s %s",
		"NODE", "DUTY", "TGT", "CMD", "V", "I(mA)", "P(mW)", "RESP", "LAST SEEN")
	b.WriteString(messageFromStyle.Render(header))
	b.WriteString("\n")

	for _, ns := range m.nodes {
		b.WriteString(m.renderNodeRow(ns))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderNodeRow(ns powermanager.NodeStatus) string {
	respStr := "stale"
	respStyle := errorStyle
	if ns.Responsive {
		respStr = "live"
		respStyle = connectedStyle
	}

	lastSeen := "never"
	if !ns.LastSeen.IsZero() {
		lastSeen = time.Since(ns.LastSeen).Round(time.Second).String() + " ago"
	}

	row := fmt.Sprintf("%-6d %-6d %-6d %-10d %-8.3f %-8.2f %-9.1f %-10s %s",
		ns.NodeID, ns.Duty, ns.TargetDuty, ns.CommandedDuty,
		ns.VoltageV, ns.CurrentMA, ns.PowerMW, respStyle.Render(respStr), lastSeen)
	return messageContentStyle.Render(row)
}
