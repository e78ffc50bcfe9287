package store

import (
	"context"
	"time"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// EventSync keeps the normalized tasks/agents tables current by
// subscribing to the bus rather than requiring queue/agentpool to take a
// storage dependency directly — the same "any component that emits an
// event is automatically observable" idiom internal/logger's console and
// file loggers use. Failures are logged via the bus's own system:error
// event rather than returned, since a dropped row here must never stall
// task dispatch or agent scheduling.
type EventSync struct {
	projects *ProjectDAO
	bus      *eventbus.Bus
	unsubs   []eventbus.Unsubscribe
}

// NewEventSync wires a ProjectDAO to bus and starts listening immediately.
func NewEventSync(db *DB, bus *eventbus.Bus) *EventSync {
	s := &EventSync{projects: NewProjectDAO(db), bus: bus}
	s.unsubs = []eventbus.Unsubscribe{
		bus.On("task:enqueued", s.onTaskEnqueued),
		bus.On("task:status-changed", s.onTaskStatusChanged),
		bus.On("agent:spawned", s.onAgentSpawned),
	}
	return s
}

// Close unsubscribes from the bus.
func (s *EventSync) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
}

func (s *EventSync) onTaskEnqueued(e core.Event) {
	task, ok := e.Payload.(core.Task)
	if !ok {
		return
	}
	s.saveTask(task)
}

func (s *EventSync) onTaskStatusChanged(e core.Event) {
	payload, ok := e.Payload.(map[string]interface{})
	if !ok {
		return
	}
	taskID, _ := payload["taskId"].(string)
	to, _ := payload["to"].(core.TaskStatus)
	if taskID == "" || to == "" {
		return
	}
	s.updateTaskStatus(taskID, to)
}

func (s *EventSync) onAgentSpawned(e core.Event) {
	agent, ok := e.Payload.(core.Agent)
	if !ok {
		return
	}
	s.saveAgent(agent)
}

func (s *EventSync) saveTask(task core.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.projects.SaveTask(ctx, task); err != nil {
		s.bus.Emit("system:error", map[string]interface{}{"component": "store", "error": err.Error()}, "store", "")
	}
}

func (s *EventSync) updateTaskStatus(taskID string, status core.TaskStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.projects.db.exec(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), taskID); err != nil {
		s.bus.Emit("system:error", map[string]interface{}{"component": "store", "error": err.Error()}, "store", "")
	}
}

func (s *EventSync) saveAgent(agent core.Agent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.projects.SaveAgent(ctx, agent); err != nil {
		s.bus.Emit("system:error", map[string]interface{}{"component": "store", "error": err.Error()}, "store", "")
	}
}
