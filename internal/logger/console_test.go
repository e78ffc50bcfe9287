package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

func TestConsoleLoggerRendersTaskEvents(t *testing.T) {
	bus := eventbus.New(50)
	var buf bytes.Buffer
	cl := NewConsoleLogger(bus, &buf, "info")
	defer cl.Close()

	bus.Emit("task:started", map[string]interface{}{"taskId": "t1", "agentId": "a1"}, "coordinator", "")
	bus.Emit("task:completed", map[string]interface{}{"taskId": "t1"}, "coordinator", "")

	out := buf.String()
	assert.Contains(t, out, "task t1 started (agent a1)")
	assert.Contains(t, out, "task t1 completed")
}

func TestConsoleLoggerFiltersBelowConfiguredLevel(t *testing.T) {
	bus := eventbus.New(50)
	var buf bytes.Buffer
	cl := NewConsoleLogger(bus, &buf, "warn")
	defer cl.Close()

	bus.Emit("qa:step-completed", map[string]interface{}{"taskId": "t1"}, "qaloop", "")
	bus.Emit("qaloop:escalated", map[string]interface{}{"taskId": "t1", "iteration": 5}, "qaloop", "")

	out := buf.String()
	assert.NotContains(t, out, "qa:step-completed")
	assert.Contains(t, out, "exhausted QA after 5 iterations")
}

func TestConsoleLoggerRendersReviewEventWithStructPayload(t *testing.T) {
	bus := eventbus.New(50)
	var buf bytes.Buffer
	cl := NewConsoleLogger(bus, &buf, "info")
	defer cl.Close()

	bus.Emit("review:requested", core.Review{ID: "r1", TaskID: "t1", Reason: core.ReasonQAExhausted}, "review", "")

	assert.True(t, strings.Contains(buf.String(), "review r1 requested for task t1"))
}

func TestConsoleLoggerCloseStopsFurtherOutput(t *testing.T) {
	bus := eventbus.New(50)
	var buf bytes.Buffer
	cl := NewConsoleLogger(bus, &buf, "info")
	cl.Close()

	bus.Emit("task:started", map[string]interface{}{"taskId": "t1"}, "coordinator", "")
	assert.Empty(t, buf.String())
}

func TestNormalizeLogLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, "info", normalizeLogLevel(""))
	assert.Equal(t, "info", normalizeLogLevel("bogus"))
	assert.Equal(t, "debug", normalizeLogLevel("DEBUG"))
}

func TestFileLoggerWritesJSONLinesAndSymlink(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New(50)
	fl, err := NewFileLogger(bus, dir, "info")
	require.NoError(t, err)

	bus.Emit("task:completed", map[string]interface{}{"taskId": "t1"}, "coordinator", "")
	require.NoError(t, fl.Close())

	latest := dir + "/latest.log"
	target, err := os.Readlink(latest)
	require.NoError(t, err)
	assert.Contains(t, target, "run-")
}
