package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nexus-build/nexus/internal/coordinator"
	"github.com/nexus-build/nexus/internal/core"
)

// doneMsg is sent once the project being watched finishes, whether it
// succeeded, failed, or the run loop returned an error.
type doneMsg struct{ err error }

// tickMsg drives a periodic re-read of the coordinator's progress
// snapshot, independent of whatever events happen to be on the bus.
type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is a bubbletea dashboard over one coordinator run: a progress
// bar driven by coordinator.Progress, current status, and a tail of the
// most recent bus events.
type Model struct {
	coord   *coordinator.Coordinator
	adapter *busAdapter

	spinner  spinner.Model
	progress progress.Model

	status   coordinator.Status
	snapshot coordinator.Progress
	log      []string

	err      error
	finished bool
}

// New builds a Model watching coord and the bus events adapter delivers. Quitting the TUI (q or
// ctrl+c) pauses and stops the coordinator gracefully, mirroring the
// run command's own SIGINT handling.
func New(coord *coordinator.Coordinator, adapter *busAdapter) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	pb := progress.New(progress.WithScaledGradient("#7c3aed", "#3b82f6"), progress.WithoutPercentage())

	return Model{
		coord:    coord,
		adapter:  adapter,
		spinner:  sp,
		progress: pb,
		status:   coordinator.StatusIdle,
	}
}

// Done arranges for p to receive the project's outcome as soon as it is
// available on ch — the run command's own goroutine feeds it
// coord.Start's return value — ending the program. Read the outcome back
// from the *Model program.Run() returns via Err.
func Done(p *tea.Program, ch <-chan error) {
	go func() {
		p.Send(doneMsg{err: <-ch})
	}()
}

// Err returns the project outcome once the watched run has finished, nil
// otherwise.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), waitForEvent(m.adapter))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.finished {
				m.coord.Pause("tui quit")
				go func() { _ = m.coord.Stop(30 * time.Second) }()
			}
			m.adapter.close()
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		m.status = m.coord.GetStatus()
		m.snapshot = m.coord.GetProgress()
		if m.finished {
			return m, nil
		}
		return m, tick()

	case eventMsg:
		m.log = append(m.log, summarize(core.Event(msg)))
		if len(m.log) > 12 {
			m.log = m.log[len(m.log)-12:]
		}
		if m.finished {
			return m, nil
		}
		return m, waitForEvent(m.adapter)

	case doneMsg:
		m.finished = true
		m.err = msg.err
		m.adapter.close()
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	statusText := subtleStyle.Render(string(m.status))
	if m.status == coordinator.StatusRunning {
		statusText = runningStyle.Render(string(m.status))
	}
	title := headerStyle.Render("◆ nexus") + " " + statusText
	if !m.finished {
		title += " " + m.spinner.View()
	}

	pct := 0.0
	if m.snapshot.TotalTasks > 0 {
		pct = float64(m.snapshot.CompletedTasks+m.snapshot.FailedTasks) / float64(m.snapshot.TotalTasks)
	}

	body := title + "\n\n"
	body += fmt.Sprintf("wave %d/%d\n", m.snapshot.CurrentWave, m.snapshot.TotalWaves)
	body += m.progress.ViewAs(pct) + "\n\n"
	body += fmt.Sprintf("%s  %s  %s\n",
		completedStyle.Render(fmt.Sprintf("%d completed", m.snapshot.CompletedTasks)),
		failedStyle.Render(fmt.Sprintf("%d failed", m.snapshot.FailedTasks)),
		escalatedStyle.Render(fmt.Sprintf("%d escalated", m.snapshot.EscalatedTasks)))

	if len(m.log) > 0 {
		body += "\n"
		for _, line := range m.log {
			body += logStyle.Render(line) + "\n"
		}
	}

	if m.err != nil {
		body += "\n" + failedStyle.Render("run failed: "+m.err.Error()) + "\n"
	}

	body = boxStyle.Render(body)
	body += "\n" + footerStyle.Render("q: pause and quit")
	return body
}
