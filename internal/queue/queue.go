// Package queue implements spec.md §4.5's TaskQueue: durable-in-memory
// ordering of tasks by wave, then priority, then arrival, with status
// transitions broadcast on the event bus. Grounded on
// internal/executor/wave.go's per-wave task bookkeeping (filterOutTasks,
// isCompleted/isFailed-style status checks) generalized into a
// standalone, queryable queue rather than a one-shot wave executor.
package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/depgraph"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// Queue holds every task for one project, grouped into waves, and tracks
// which wave is currently being drained.
type Queue struct {
	mu           sync.Mutex
	bus          *eventbus.Bus
	tasks        map[string]*core.Task
	waves        []core.Wave
	currentWave  int // index into waves, 0-based; -1 once exhausted
}

// New creates an empty Queue.
func New(bus *eventbus.Bus) *Queue {
	return &Queue{bus: bus, tasks: make(map[string]*core.Task), currentWave: 0}
}

// Load replaces the queue's contents with tasks, recomputing waves via
// depgraph.CalculateWaves. Existing task statuses are preserved across a
// reload if a task with the same ID is present in both sets (used when
// the decomposer adds tasks mid-run).
func (q *Queue) Load(tasks []core.Task) error {
	waves, err := depgraph.CalculateWaves(tasks)
	if err != nil {
		return fmt.Errorf("queue: load: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	newTasks := make(map[string]*core.Task, len(tasks))
	for _, w := range waves {
		for i := range w.Tasks {
			t := w.Tasks[i]
			if existing, ok := q.tasks[t.ID]; ok {
				t.Status = existing.Status
				t.Agent = existing.Agent
			} else if t.Status == "" {
				t.Status = core.TaskPending
			}
			copyT := t
			newTasks[t.ID] = &copyT
		}
	}
	q.tasks = newTasks
	q.waves = waves
	q.currentWave = 0
	q.advanceLocked()
	return nil
}

// Enqueue adds a single task, appending it to its computed wave (wave 1
// if it has no dependencies, otherwise one past its latest dependency's
// wave). The caller is responsible for calling Load again if this
// changes earlier-wave membership in a way that needs re-validation;
// Enqueue itself only appends, for the common case of a decomposer
// splitting one task into several that all depend on already-placed work.
func (q *Queue) Enqueue(t core.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.Status == "" {
		t.Status = core.TaskPending
	}
	waveID := 1
	for _, dep := range t.DependsOn {
		if existing, ok := q.tasks[dep]; ok && existing.WaveID >= waveID {
			waveID = existing.WaveID + 1
		}
	}
	t.WaveID = waveID

	copyT := t
	q.tasks[t.ID] = &copyT

	q.ensureWaveLocked(waveID)
	q.waves[waveID-1].Tasks = append(q.waves[waveID-1].Tasks, copyT)

	if q.bus != nil {
		q.bus.Emit("task:enqueued", copyT, "queue", "")
	}
	return nil
}

func (q *Queue) ensureWaveLocked(waveID int) {
	for len(q.waves) < waveID {
		q.waves = append(q.waves, core.Wave{ID: len(q.waves) + 1})
	}
}

// GetTask returns the task with the given ID.
func (q *Queue) GetTask(id string) (*core.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

// GetByWave returns every task in the given 1-based wave ID.
func (q *Queue) GetByWave(waveID int) []core.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []core.Task
	for _, t := range q.tasks {
		if t.WaveID == waveID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CurrentWave returns the 1-based ID of the wave currently being drained,
// or 0 if every wave has completed.
func (q *Queue) CurrentWave() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.currentWave < 0 || q.currentWave >= len(q.waves) {
		return 0
	}
	return q.waves[q.currentWave].ID
}

// GetReadyTasks returns every pending task in the current wave, ordered
// by ascending Priority then by CreatedAt — the dispatch order agent
// assignment should honor.
func (q *Queue) GetReadyTasks() []core.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	wave := q.CurrentWaveUnlocked()
	if wave == 0 {
		return nil
	}

	var ready []core.Task
	for _, t := range q.tasks {
		if t.WaveID == wave && t.Status == core.TaskPending {
			ready = append(ready, *t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready
}

// CurrentWaveUnlocked is CurrentWave without acquiring the mutex, for
// internal callers that already hold it.
func (q *Queue) CurrentWaveUnlocked() int {
	if q.currentWave < 0 || q.currentWave >= len(q.waves) {
		return 0
	}
	return q.waves[q.currentWave].ID
}

// UpdateTaskStatus transitions a task's status, validating the edge via
// core.Task.Transition, emitting task:status-changed, and — if the
// transition completes the final task of the current wave — advancing
// to the next non-empty wave. This resolves spec.md §9's Open Question
// about wave advancement: a wave advances only once every one of its
// tasks is Completed or Failed (an Escalated task blocks advancement
// until a human review resolves it, at which point its status changes
// and advancement is re-evaluated on the next UpdateTaskStatus call).
func (q *Queue) UpdateTaskStatus(id string, next core.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("queue: unknown task %s", id)
	}
	prev := t.Status
	if err := t.Transition(next); err != nil {
		return err
	}

	if q.bus != nil {
		q.bus.Emit("task:status-changed", map[string]interface{}{
			"taskId": id, "from": prev, "to": next,
		}, "queue", "")
	}

	q.advanceLocked()
	return nil
}

// waveDoneLocked reports whether every task in waveID has reached a
// terminal status (Completed or Failed — Escalated does not count as
// done, since it is awaiting human resolution and may yet become
// Completed or Failed).
func (q *Queue) waveDoneLocked(waveID int) bool {
	for _, t := range q.tasks {
		if t.WaveID != waveID {
			continue
		}
		if t.Status != core.TaskCompleted && t.Status != core.TaskFailed {
			return false
		}
	}
	return true
}

// advanceLocked moves currentWave forward past every fully-drained wave,
// skipping waves with zero tasks (e.g. created by Enqueue's
// ensureWaveLocked padding). Must be called with q.mu held.
func (q *Queue) advanceLocked() {
	for q.currentWave < len(q.waves) {
		wave := q.waves[q.currentWave]
		hasAnyTask := false
		for _, t := range q.tasks {
			if t.WaveID == wave.ID {
				hasAnyTask = true
				break
			}
		}
		if hasAnyTask && !q.waveDoneLocked(wave.ID) {
			return
		}
		q.currentWave++
		if q.bus != nil && q.currentWave <= len(q.waves) {
			q.bus.Emit("queue:wave-advanced", wave.ID, "queue", "")
		}
	}
}

// IsDrained reports whether every wave has been fully processed.
func (q *Queue) IsDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentWave >= len(q.waves)
}

// AllTasks returns a snapshot of every task in the queue.
func (q *Queue) AllTasks() []core.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
