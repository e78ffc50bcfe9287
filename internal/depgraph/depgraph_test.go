package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
)

func mkTask(id string, deps ...string) core.Task {
	return core.Task{ID: id, Name: id, DependsOn: deps, EstimatedMinutes: 10}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	tasks := []core.Task{mkTask("a", "ghost")}
	err := Validate(tasks)
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateID(t *testing.T) {
	tasks := []core.Task{mkTask("a"), mkTask("a")}
	err := Validate(tasks)
	assert.Error(t, err)
}

func TestCalculateWavesLinearChain(t *testing.T) {
	tasks := []core.Task{
		mkTask("a"),
		mkTask("b", "a"),
		mkTask("c", "b"),
	}
	waves, err := CalculateWaves(tasks)
	require.NoError(t, err)
	require.Len(t, waves, 3)
	assert.Equal(t, "a", waves[0].Tasks[0].ID)
	assert.Equal(t, "b", waves[1].Tasks[0].ID)
	assert.Equal(t, "c", waves[2].Tasks[0].ID)
}

func TestCalculateWavesFanOutFanIn(t *testing.T) {
	tasks := []core.Task{
		mkTask("a"),
		mkTask("b", "a"),
		mkTask("c", "a"),
		mkTask("d", "b", "c"),
	}
	waves, err := CalculateWaves(tasks)
	require.NoError(t, err)
	require.Len(t, waves, 3)
	assert.Len(t, waves[1].Tasks, 2)
	ids := []string{waves[1].Tasks[0].ID, waves[1].Tasks[1].ID}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
	assert.Equal(t, "d", waves[2].Tasks[0].ID)
}

func TestCalculateWavesDetectsCycle(t *testing.T) {
	tasks := []core.Task{
		mkTask("a", "b"),
		mkTask("b", "a"),
	}
	_, err := CalculateWaves(tasks)
	require.Error(t, err)
	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.TaskIDs, "a")
	assert.Contains(t, cycleErr.TaskIDs, "b")
}

func TestCalculateWavesSelfReferenceIsCycle(t *testing.T) {
	tasks := []core.Task{mkTask("a", "a")}
	_, err := CalculateWaves(tasks)
	assert.Error(t, err)
}

func TestCalculateWavesEmpty(t *testing.T) {
	waves, err := CalculateWaves(nil)
	require.NoError(t, err)
	assert.Empty(t, waves)
}

func TestGetAllDependenciesTransitive(t *testing.T) {
	tasks := []core.Task{
		mkTask("a"),
		mkTask("b", "a"),
		mkTask("c", "b"),
	}
	g := Build(tasks)
	deps := g.GetAllDependencies("c")
	assert.ElementsMatch(t, []string{"a", "b"}, deps)
}

func TestGetDependentsTransitive(t *testing.T) {
	tasks := []core.Task{
		mkTask("a"),
		mkTask("b", "a"),
		mkTask("c", "b"),
	}
	g := Build(tasks)
	dependents := g.GetDependents("a")
	assert.ElementsMatch(t, []string{"b", "c"}, dependents)
}

func TestGetCriticalPathPrefersLongerChain(t *testing.T) {
	tasks := []core.Task{
		{ID: "a", Name: "a", EstimatedMinutes: 5},
		{ID: "b", Name: "b", EstimatedMinutes: 5, DependsOn: []string{"a"}},
		{ID: "c", Name: "c", EstimatedMinutes: 30, DependsOn: []string{"a"}},
	}
	g := Build(tasks)
	path := g.GetCriticalPath()
	assert.Equal(t, []string{"a", "c"}, path)
}

func TestGetNextAvailable(t *testing.T) {
	tasks := []core.Task{
		mkTask("a"),
		mkTask("b", "a"),
	}
	g := Build(tasks)
	available := g.GetNextAvailable(map[string]bool{})
	assert.Equal(t, []string{"a"}, available)

	available = g.GetNextAvailable(map[string]bool{"a": true})
	assert.Equal(t, []string{"b"}, available)
}
