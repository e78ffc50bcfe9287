// Package tui renders a live terminal dashboard over a running project:
// wave/task progress, completed/failed/escalated task counts, and a tail
// of recent bus events. Grounded on hugo-lorenzo-mato-quorum-ai's internal/tui package,
// the only bubbletea TUI in the example pack — its bridge-the-event-bus-
// to-bubbletea-messages shape is reused directly; the sidebar/pipeline
// rendering there has no equivalent here, since Nexus's agent pool has
// no per-agent streaming output to visualize.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7c3aed")).
			Padding(0, 1)

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6b7280"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6b7280")).
			MarginTop(1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3b82f6")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22c55e"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ef4444")).
			Bold(true)

	escalatedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f59e0b")).
			Bold(true)

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d1d5db"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3b0764")).
			Padding(1, 2)
)
