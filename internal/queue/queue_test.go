package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

func mkTask(id string, deps ...string) core.Task {
	return core.Task{ID: id, Name: id, DependsOn: deps, EstimatedMinutes: 10}
}

func TestLoadComputesWavesAndReadyTasks(t *testing.T) {
	q := New(eventbus.New(10))
	err := q.Load([]core.Task{
		mkTask("a"),
		mkTask("b", "a"),
	})
	require.NoError(t, err)

	ready := q.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)
}

func TestWaveAdvancesOnlyWhenFullyDrained(t *testing.T) {
	bus := eventbus.New(10)
	q := New(bus)
	require.NoError(t, q.Load([]core.Task{
		mkTask("a"),
		mkTask("b"),
		mkTask("c", "a", "b"),
	}))

	assert.Equal(t, 1, q.CurrentWave())

	require.NoError(t, q.UpdateTaskStatus("a", core.TaskAssigned))
	require.NoError(t, q.UpdateTaskStatus("a", core.TaskInProgress))
	require.NoError(t, q.UpdateTaskStatus("a", core.TaskCompleted))

	// wave 1 still has "b" outstanding
	assert.Equal(t, 1, q.CurrentWave())

	require.NoError(t, q.UpdateTaskStatus("b", core.TaskAssigned))
	require.NoError(t, q.UpdateTaskStatus("b", core.TaskInProgress))
	require.NoError(t, q.UpdateTaskStatus("b", core.TaskCompleted))

	assert.Equal(t, 2, q.CurrentWave())
	ready := q.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].ID)
}

func TestUpdateTaskStatusRejectsIllegalTransition(t *testing.T) {
	q := New(eventbus.New(10))
	require.NoError(t, q.Load([]core.Task{mkTask("a")}))

	err := q.UpdateTaskStatus("a", core.TaskCompleted)
	assert.Error(t, err)
}

func TestIsDrainedAfterAllWavesComplete(t *testing.T) {
	q := New(eventbus.New(10))
	require.NoError(t, q.Load([]core.Task{mkTask("a")}))
	assert.False(t, q.IsDrained())

	require.NoError(t, q.UpdateTaskStatus("a", core.TaskAssigned))
	require.NoError(t, q.UpdateTaskStatus("a", core.TaskInProgress))
	require.NoError(t, q.UpdateTaskStatus("a", core.TaskCompleted))

	assert.True(t, q.IsDrained())
}

func TestGetReadyTasksOrderedByPriorityThenCreatedAt(t *testing.T) {
	q := New(eventbus.New(10))
	low := core.Task{ID: "low", Name: "low", Priority: 5}
	high := core.Task{ID: "high", Name: "high", Priority: 1}
	require.NoError(t, q.Load([]core.Task{low, high}))

	ready := q.GetReadyTasks()
	require.Len(t, ready, 2)
	assert.Equal(t, "high", ready[0].ID)
	assert.Equal(t, "low", ready[1].ID)
}

func TestEnqueueAppendsToComputedWave(t *testing.T) {
	q := New(eventbus.New(10))
	require.NoError(t, q.Load([]core.Task{mkTask("a")}))

	require.NoError(t, q.UpdateTaskStatus("a", core.TaskAssigned))
	require.NoError(t, q.UpdateTaskStatus("a", core.TaskInProgress))
	require.NoError(t, q.UpdateTaskStatus("a", core.TaskCompleted))
	assert.True(t, q.IsDrained())

	require.NoError(t, q.Enqueue(mkTask("b", "a")))
	byWave := q.GetByWave(2)
	require.Len(t, byWave, 1)
	assert.Equal(t, "b", byWave[0].ID)
}
