// Package eventbus provides a process-wide, synchronous pub/sub bus for the
// typed events described in spec.md §6. Grounded on the teacher's
// bounded-ring-buffer logging idiom (internal/logger) and its
// panic-isolation pattern (internal/executor/graceful.go's defer/recover),
// generalized into a standalone component per spec.md §9 ("replace
// singletons with an explicit event-bus handle carried by the coordinator").
package eventbus

import (
	"sync"
	"time"

	"github.com/nexus-build/nexus/internal/core"
)

// Handler receives one event. A handler that panics is recovered and logged;
// it never prevents delivery to the other subscribers of the same event.
type Handler func(core.Event)

// Unsubscribe removes the handler it was returned from On/Once/OnAny.
type Unsubscribe func()

// PanicLogger receives details about a handler panic. Optional; nil is safe.
type PanicLogger interface {
	LogHandlerPanic(eventType core.EventType, recovered interface{})
}

type subscription struct {
	id      int64
	handler Handler
	once    bool
}

// Bus is a single process-wide event dispatcher with a bounded history ring.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[core.EventType][]*subscription
	wildcard    []*subscription
	nextID      int64
	history     []core.Event
	historyCap  int
	historyHead int
	logger      PanicLogger
}

// New creates a Bus with the given history ring capacity (spec.md default:
// 1000). A capacity of 0 disables history retention.
func New(historyCap int) *Bus {
	return &Bus{
		handlers:   make(map[core.EventType][]*subscription),
		historyCap: historyCap,
	}
}

// SetPanicLogger installs a logger invoked whenever a handler panics.
func (b *Bus) SetPanicLogger(l PanicLogger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = l
}

// Emit builds an event with a fresh ID and timestamp, appends it to history,
// and synchronously dispatches it to every handler registered for its type
// plus every wildcard handler, in subscription order. A panicking handler is
// recovered and does not prevent delivery to the remaining handlers.
func (b *Bus) Emit(eventType core.EventType, payload interface{}, source, correlationID string) core.Event {
	evt := core.Event{
		ID:            core.NewID(),
		Type:          eventType,
		Timestamp:     time.Now(),
		Payload:       payload,
		Source:        source,
		CorrelationID: correlationID,
	}

	b.mu.Lock()
	b.recordHistory(evt)
	typed := append([]*subscription(nil), b.handlers[eventType]...)
	wild := append([]*subscription(nil), b.wildcard...)
	logger := b.logger
	b.mu.Unlock()

	var remainingTyped, remainingWild []*subscription
	for _, sub := range typed {
		b.dispatch(sub, evt, logger)
		if !sub.once {
			remainingTyped = append(remainingTyped, sub)
		}
	}
	for _, sub := range wild {
		b.dispatch(sub, evt, logger)
		if !sub.once {
			remainingWild = append(remainingWild, sub)
		}
	}

	if len(remainingTyped) != len(typed) || len(remainingWild) != len(wild) {
		b.mu.Lock()
		b.handlers[eventType] = pruneOnce(b.handlers[eventType])
		b.wildcard = pruneOnce(b.wildcard)
		b.mu.Unlock()
	}

	return evt
}

func pruneOnce(subs []*subscription) []*subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if !s.once {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) dispatch(sub *subscription, evt core.Event, logger PanicLogger) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.LogHandlerPanic(evt.Type, r)
			}
		}
	}()
	sub.handler(evt)
}

func (b *Bus) recordHistory(evt core.Event) {
	if b.historyCap <= 0 {
		return
	}
	if len(b.history) < b.historyCap {
		b.history = append(b.history, evt)
		return
	}
	b.history[b.historyHead] = evt
	b.historyHead = (b.historyHead + 1) % b.historyCap
}

// History returns a copy of the retained events in emission order (oldest
// first, bounded by the configured history cap).
func (b *Bus) History() []core.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.history) < b.historyCap || b.historyCap == 0 {
		out := make([]core.Event, len(b.history))
		copy(out, b.history)
		return out
	}
	out := make([]core.Event, 0, b.historyCap)
	out = append(out, b.history[b.historyHead:]...)
	out = append(out, b.history[:b.historyHead]...)
	return out
}

// On registers a persistent handler for eventType.
func (b *Bus) On(eventType core.EventType, h Handler) Unsubscribe {
	return b.add(eventType, h, false)
}

// Once registers a handler that fires at most once, then auto-unsubscribes.
func (b *Bus) Once(eventType core.EventType, h Handler) Unsubscribe {
	return b.add(eventType, h, true)
}

// OnAny registers a handler invoked for every event type, after the
// type-specific handlers for that event have run.
func (b *Bus) OnAny(h Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h}
	b.wildcard = append(b.wildcard, sub)
	id := sub.id
	return func() { b.offWildcard(id) }
}

func (b *Bus) add(eventType core.EventType, h Handler, once bool) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h, once: once}
	b.handlers[eventType] = append(b.handlers[eventType], sub)
	id := sub.id
	return func() { b.off(eventType, id) }
}

// Off removes every handler registered for eventType.
func (b *Bus) Off(eventType core.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, eventType)
}

func (b *Bus) off(eventType core.EventType, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = removeByID(b.handlers[eventType], id)
}

func (b *Bus) offWildcard(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = removeByID(b.wildcard, id)
}

func removeByID(subs []*subscription, id int64) []*subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// ListenerCount returns the number of handlers registered for eventType,
// excluding wildcard handlers.
func (b *Bus) ListenerCount(eventType core.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// RemoveAllListeners clears every typed and wildcard subscription.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[core.EventType][]*subscription)
	b.wildcard = nil
}
