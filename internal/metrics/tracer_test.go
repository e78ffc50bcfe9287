package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerStartIterationAndWaveReturnEndFunc(t *testing.T) {
	tr, err := NewTracer(TracerConfig{ServiceName: "nexus-test"})
	require.NoError(t, err)
	defer tr.Shutdown(context.Background())

	ctx, end := tr.StartIteration(context.Background(), "t1", 3)
	assert.NotNil(t, ctx)
	require.NotNil(t, end)
	end()

	ctx, end = tr.StartWave(context.Background(), "p1", 2)
	assert.NotNil(t, ctx)
	require.NotNil(t, end)
	end()
}

func TestNilTracerIsSafeToCall(t *testing.T) {
	var tr *Tracer
	ctx := context.Background()
	gotCtx, end := tr.StartIteration(ctx, "t1", 1)
	assert.Equal(t, ctx, gotCtx)
	require.NotNil(t, end)
	end()
	assert.NoError(t, tr.Shutdown(ctx))
}
