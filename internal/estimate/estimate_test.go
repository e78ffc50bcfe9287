package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
)

func TestHeuristicAppliesFileAndComplexityWeights(t *testing.T) {
	plain := core.Task{Name: "add a button"}
	withFiles := core.Task{Name: "add a button", Files: []string{"a.go", "b.go"}}
	complex := core.Task{Name: "fix race condition in scheduler"}
	simple := core.Task{Name: "rename variable"}

	assert.Equal(t, DefaultBaseMinutes, Heuristic(plain))
	assert.Equal(t, DefaultBaseMinutes+2*DefaultFileWeight, Heuristic(withFiles))
	assert.Equal(t, DefaultBaseMinutes+DefaultComplexityMultiplier, Heuristic(complex))
	assert.Equal(t, DefaultBaseMinutes-DefaultComplexityMultiplier, Heuristic(simple))
}

func TestHeuristicAddsTestWeightWhenTestCriteriaPresent(t *testing.T) {
	task := core.Task{Name: "add validation", TestCriteria: []string{"rejects empty input"}}
	assert.Equal(t, DefaultBaseMinutes+DefaultTestWeight, Heuristic(task))
}

func TestInferCategoryMatchesKeywords(t *testing.T) {
	assert.Equal(t, CategoryTest, InferCategory(core.Task{Name: "write unit test for parser"}))
	assert.Equal(t, CategoryUI, InferCategory(core.Task{Name: "style the login component"}))
	assert.Equal(t, CategoryInfrastructure, InferCategory(core.Task{Name: "add docker deploy pipeline"}))
	assert.Equal(t, CategoryBackend, InferCategory(core.Task{Name: "add new API endpoint"}))
	assert.Equal(t, CategoryGeneral, InferCategory(core.Task{Name: "update release notes"}))
}

func TestEstimateClampsToRange(t *testing.T) {
	e := New()
	tiny := core.Task{Name: "rename variable"}
	huge := core.Task{Name: "fix race condition", Files: []string{"a", "b", "c", "d", "e"}, TestCriteria: []string{"x"}}

	assert.GreaterOrEqual(t, e.Estimate(tiny), e.MinMinutes)
	assert.LessOrEqual(t, e.Estimate(huge), e.MaxMinutes)
}

func TestCalibratorBlendsAfterMinimumSamples(t *testing.T) {
	e := New()
	task := core.Task{Name: "add API endpoint for users"}
	heuristicOnly := e.Estimate(task)

	for i := 0; i < MinCalibrationSamples-1; i++ {
		e.Calibrator.Calibrate(task, 30)
	}
	assert.Equal(t, heuristicOnly, e.Estimate(task), "should not blend before minimum samples")

	e.Calibrator.Calibrate(task, 30)
	blended := e.Estimate(task)
	assert.NotEqual(t, heuristicOnly, blended)
}

func TestCalibratorWindowIsBounded(t *testing.T) {
	c := NewCalibrator()
	task := core.Task{Name: "add API endpoint"}
	for i := 0; i < MaxCalibrationSamples+10; i++ {
		c.Calibrate(task, 20)
	}
	c.mu.Lock()
	n := len(c.samples[InferCategory(task)])
	c.mu.Unlock()
	assert.Equal(t, MaxCalibrationSamples, n)
}

func TestEstimateTotalSumsPerTaskEstimates(t *testing.T) {
	e := New()
	tasks := []core.Task{
		{Name: "rename variable"},
		{Name: "rename function"},
	}
	total := e.EstimateTotal(tasks)
	require.Equal(t, e.Estimate(tasks[0])+e.Estimate(tasks[1]), total)
}
