package tui

import (
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// eventMsg carries one bus event into bubbletea's Update loop.
type eventMsg core.Event

// busAdapter bridges eventbus.Bus's callback-style subscription to
// bubbletea's pull-based tea.Cmd model, the same role
// hugo-lorenzo-mato-quorum-ai's EventBusAdapter plays over its own
// channel-based bus — here OnAny's callback pushes onto a buffered
// channel that waitForEvent reads from.
type busAdapter struct {
	ch     chan core.Event
	unsub  eventbus.Unsubscribe
	mu     sync.Mutex
	closed bool
}

// NewAdapter subscribes to every event on bus and buffers them for a
// bubbletea Update loop to drain via waitForEvent.
func NewAdapter(bus *eventbus.Bus) *busAdapter {
	a := &busAdapter{ch: make(chan core.Event, 256)}
	a.unsub = bus.OnAny(func(e core.Event) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return
		}
		select {
		case a.ch <- e:
		default:
			// a slow TUI drops events rather than blocking the bus.
		}
	})
	return a
}

func (a *busAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.unsub()
	close(a.ch)
}

// waitForEvent returns a tea.Cmd that blocks until the next bus event
// (or the adapter is closed) and delivers it as an eventMsg.
func waitForEvent(a *busAdapter) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-a.ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// summarize renders a one-line description of an event for the log tail.
func summarize(e core.Event) string {
	switch payload := e.Payload.(type) {
	case map[string]interface{}:
		if id, ok := payload["taskId"]; ok {
			return fmt.Sprintf("%-22s task=%v", e.Type, id)
		}
		if id, ok := payload["waveId"]; ok {
			return fmt.Sprintf("%-22s wave=%v", e.Type, id)
		}
		if id, ok := payload["projectId"]; ok {
			return fmt.Sprintf("%-22s project=%v", e.Type, id)
		}
		return string(e.Type)
	case core.Agent:
		return fmt.Sprintf("%-22s agent=%s type=%s", e.Type, payload.ID, payload.Type)
	default:
		return string(e.Type)
	}
}
