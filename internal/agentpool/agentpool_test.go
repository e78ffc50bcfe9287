package agentpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

func TestSpawnRespectsCapacity(t *testing.T) {
	pool := New(eventbus.New(10), Capacity{Coder: 1})

	ctx := context.Background()
	a1, err := pool.Spawn(ctx, core.AgentCoder, core.ModelConfig{})
	require.NoError(t, err)
	require.NotNil(t, a1)

	assert.False(t, pool.HasCapacity(core.AgentCoder))

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = pool.Spawn(ctx2, core.AgentCoder, core.ModelConfig{})
	assert.Error(t, err)

	pool.Release(core.AgentCoder, a1.ID)
	assert.True(t, pool.HasCapacity(core.AgentCoder))
}

func TestSpawnUnknownTypeErrors(t *testing.T) {
	pool := New(eventbus.New(10), DefaultCapacity())
	_, err := pool.Spawn(context.Background(), core.AgentPlanner, core.ModelConfig{})
	assert.Error(t, err)
}

func TestGetActiveOnlyReturnsWorking(t *testing.T) {
	pool := New(eventbus.New(10), Capacity{Coder: 2})
	a1, err := pool.Spawn(context.Background(), core.AgentCoder, core.ModelConfig{})
	require.NoError(t, err)
	_, err = pool.Spawn(context.Background(), core.AgentCoder, core.ModelConfig{})
	require.NoError(t, err)

	pool.Release(core.AgentCoder, a1.ID)

	active := pool.GetActive()
	assert.Len(t, active, 1)
}

func TestConcurrentSpawnReleaseStaysWithinCapacity(t *testing.T) {
	pool := New(eventbus.New(10), Capacity{Tester: 2})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := pool.Spawn(context.Background(), core.AgentTester, core.ModelConfig{})
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			pool.Release(core.AgentTester, a.ID)
		}()
	}
	wg.Wait()
	assert.True(t, pool.HasCapacity(core.AgentTester))
}

func TestRecordOutcomeUpdatesMetrics(t *testing.T) {
	pool := New(eventbus.New(10), Capacity{Merger: 1})
	a, err := pool.Spawn(context.Background(), core.AgentMerger, core.ModelConfig{})
	require.NoError(t, err)

	pool.RecordOutcome(a.ID, true, 2, 500, time.Second)

	got, ok := pool.GetByID(a.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.Metrics.TasksCompleted)
}
