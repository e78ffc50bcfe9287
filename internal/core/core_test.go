package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskValidate(t *testing.T) {
	task := &Task{ID: NewID(), Name: "add auth", EstimatedMinutes: 10}
	require.NoError(t, task.Validate())

	task.EstimatedMinutes = MaxEstimatedMinutes + 1
	assert.Error(t, task.Validate())

	task.EstimatedMinutes = 10
	task.Files = []string{"a", "b", "c", "d", "e", "f"}
	assert.Error(t, task.Validate())
}

func TestTaskCategorizeSize(t *testing.T) {
	cases := []struct {
		minutes int
		want    TaskSize
	}{
		{5, SizeAtomic},
		{10, SizeAtomic},
		{11, SizeSmall},
		{20, SizeSmall},
		{21, SizeMedium},
		{30, SizeMedium},
	}
	for _, c := range cases {
		task := &Task{EstimatedMinutes: c.minutes}
		task.CategorizeSize()
		assert.Equal(t, c.want, task.Size, "minutes=%d", c.minutes)
	}
}

func TestTaskTransitions(t *testing.T) {
	task := &Task{ID: NewID(), Status: TaskPending}
	require.NoError(t, task.Transition(TaskAssigned))
	require.NoError(t, task.Transition(TaskInProgress))
	require.NoError(t, task.Transition(TaskAIReview))
	require.NoError(t, task.Transition(TaskHumanReview))
	require.NoError(t, task.Transition(TaskCompleted))

	// Completed is terminal: nothing should be a legal next state.
	assert.False(t, task.CanTransition(TaskInProgress))

	other := &Task{ID: NewID(), Status: TaskPending}
	err := other.Transition(TaskCompleted)
	assert.Error(t, err)
}

func TestWorktreeRefreshStatus(t *testing.T) {
	now := time.Now()
	w := &Worktree{LastActivity: now.Add(-5 * time.Minute)}
	w.RefreshStatus(now)
	assert.Equal(t, WorktreeActive, w.Status)

	w.LastActivity = now.Add(-20 * time.Minute)
	w.RefreshStatus(now)
	assert.Equal(t, WorktreeIdle, w.Status)

	w.LastActivity = now.Add(-40 * time.Minute)
	w.RefreshStatus(now)
	assert.Equal(t, WorktreeStale, w.Status)
}

func TestAgentMetricsRecord(t *testing.T) {
	var m AgentMetrics
	m.Record(true, 3, 100, time.Minute)
	m.Record(false, 5, 200, time.Minute)

	assert.Equal(t, 1, m.TasksCompleted)
	assert.Equal(t, 1, m.TasksFailed)
	assert.Equal(t, 8, m.TotalIterations)
	assert.Equal(t, int64(300), m.TokensUsed)
	assert.InDelta(t, 4.0, m.AverageIterationsPerTask, 0.001)
}
