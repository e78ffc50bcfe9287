package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

func TestNewSeedsAgentPoolCapacity(t *testing.T) {
	bus := eventbus.New(10)
	r := New(bus, Config{AgentCapacity: map[core.AgentType]int{core.AgentCoder: 4, core.AgentTester: 2}})
	defer r.Close()

	assert.Equal(t, float64(4), testutil.ToFloat64(r.agentPoolCapacity.WithLabelValues("coder")))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.agentPoolCapacity.WithLabelValues("tester")))
}

func TestQueueDepthTracksStatusTransitions(t *testing.T) {
	bus := eventbus.New(10)
	r := New(bus, Config{})
	defer r.Close()

	bus.Emit("task:enqueued", core.Task{ID: "t1", Status: core.TaskPending}, "queue", "")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.queueDepth.WithLabelValues(string(core.TaskPending))))

	bus.Emit("task:status-changed", map[string]interface{}{
		"taskId": "t1", "from": core.TaskPending, "to": core.TaskInProgress,
	}, "queue", "")

	assert.Equal(t, float64(0), testutil.ToFloat64(r.queueDepth.WithLabelValues(string(core.TaskPending))))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.queueDepth.WithLabelValues(string(core.TaskInProgress))))
}

func TestAgentPoolBusyTracksSpawnAndRelease(t *testing.T) {
	bus := eventbus.New(10)
	r := New(bus, Config{})
	defer r.Close()

	bus.Emit("agent:spawned", core.Agent{ID: "a1", Type: core.AgentCoder}, "agentpool", "")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.agentPoolBusy.WithLabelValues("coder")))

	bus.Emit("agent:released", "a1", "agentpool", "")
	assert.Equal(t, float64(0), testutil.ToFloat64(r.agentPoolBusy.WithLabelValues("coder")))
}

func TestQALoopCountersTrackPassAndEscalation(t *testing.T) {
	bus := eventbus.New(10)
	r := New(bus, Config{})
	defer r.Close()

	bus.Emit("qaloop:passed", map[string]interface{}{"taskId": "t1", "iteration": 1}, "qaloop", "")
	bus.Emit("qaloop:escalated", map[string]interface{}{"taskId": "t2", "iteration": 50}, "qaloop", "")

	assert.Equal(t, float64(2), testutil.ToFloat64(r.qaLoopIterations))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.qaLoopEscalations))
}

type fakeTokenSource struct {
	input, output int64
}

func (f fakeTokenSource) Totals() (int64, int64) { return f.input, f.output }

func TestWatchTokensUpdatesOnNextEvent(t *testing.T) {
	bus := eventbus.New(10)
	r := New(bus, Config{})
	defer r.Close()
	r.WatchTokens(fakeTokenSource{input: 100, output: 40})

	bus.Emit("qaloop:passed", map[string]interface{}{"taskId": "t1", "iteration": 1}, "qaloop", "")

	assert.Equal(t, float64(100), testutil.ToFloat64(r.tokensInput))
	assert.Equal(t, float64(40), testutil.ToFloat64(r.tokensOutput))
}

func TestHandlerServesPrometheusExposition(t *testing.T) {
	r := New(nil, Config{})
	require.NotNil(t, r.Handler())
}
