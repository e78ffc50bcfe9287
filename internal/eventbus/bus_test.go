package eventbus

import (
	"sync"
	"testing"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToTypedAndWildcard(t *testing.T) {
	b := New(10)

	var mu sync.Mutex
	var typedSeen, wildSeen []string

	b.On("task:status-changed", func(e core.Event) {
		mu.Lock()
		defer mu.Unlock()
		typedSeen = append(typedSeen, e.ID)
	})
	b.OnAny(func(e core.Event) {
		mu.Lock()
		defer mu.Unlock()
		wildSeen = append(wildSeen, e.ID)
	})

	evt := b.Emit("task:status-changed", map[string]string{"taskId": "t1"}, "queue", "corr-1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, typedSeen, 1)
	assert.Equal(t, evt.ID, typedSeen[0])
	require.Len(t, wildSeen, 1)
	assert.Equal(t, evt.ID, wildSeen[0])
}

func TestOnceFiresOnlyOnce(t *testing.T) {
	b := New(10)
	count := 0
	b.Once("agent:spawned", func(core.Event) { count++ })

	b.Emit("agent:spawned", nil, "", "")
	b.Emit("agent:spawned", nil, "", "")

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.ListenerCount("agent:spawned"))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(10)
	count := 0
	unsub := b.On("qa:step-completed", func(core.Event) { count++ })

	b.Emit("qa:step-completed", nil, "", "")
	unsub()
	b.Emit("qa:step-completed", nil, "", "")

	assert.Equal(t, 1, count)
}

func TestOffRemovesAllHandlersForType(t *testing.T) {
	b := New(10)
	count := 0
	b.On("merge:completed", func(core.Event) { count++ })
	b.On("merge:completed", func(core.Event) { count++ })

	b.Off("merge:completed")
	b.Emit("merge:completed", nil, "", "")

	assert.Equal(t, 0, count)
	assert.Equal(t, 0, b.ListenerCount("merge:completed"))
}

func TestHandlerPanicDoesNotStopOtherHandlers(t *testing.T) {
	b := New(10)
	var panics []interface{}
	b.SetPanicLogger(panicLoggerFunc(func(_ core.EventType, r interface{}) {
		panics = append(panics, r)
	}))

	second := false
	b.On("system:checkpoint-created", func(core.Event) { panic("boom") })
	b.On("system:checkpoint-created", func(core.Event) { second = true })

	b.Emit("system:checkpoint-created", nil, "", "")

	assert.True(t, second)
	require.Len(t, panics, 1)
	assert.Equal(t, "boom", panics[0])
}

func TestHistoryRingBounded(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Emit("event", i, "", "")
	}
	hist := b.History()
	require.Len(t, hist, 3)
	assert.Equal(t, 2, hist[0].Payload)
	assert.Equal(t, 4, hist[2].Payload)
}

func TestRemoveAllListeners(t *testing.T) {
	b := New(10)
	count := 0
	b.On("a", func(core.Event) { count++ })
	b.OnAny(func(core.Event) { count++ })

	b.RemoveAllListeners()
	b.Emit("a", nil, "", "")

	assert.Equal(t, 0, count)
}

type panicLoggerFunc func(core.EventType, interface{})

func (f panicLoggerFunc) LogHandlerPanic(eventType core.EventType, recovered interface{}) {
	f(eventType, recovered)
}
