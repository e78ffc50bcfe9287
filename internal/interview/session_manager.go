package interview

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-build/nexus/internal/core"
)

// DefaultAutosaveInterval is how often SessionManager flushes active
// sessions to durable storage (spec.md §4.17).
const DefaultAutosaveInterval = 30 * time.Second

// SessionStore persists InterviewSession rows. internal/store provides the
// real implementation; tests use a fake.
type SessionStore interface {
	SaveSession(ctx context.Context, s core.InterviewSession) error
	LoadSession(ctx context.Context, id string) (*core.InterviewSession, error)
	LoadMostRecentSession(ctx context.Context, projectID string) (*core.InterviewSession, error)
}

// SessionManager wraps an Engine with periodic durable autosave.
//
// Grounded on internal/behavioral/filewatcher.go's background-goroutine
// idiom (a dedicated loop plus a done channel, stopped via Close), adapted
// from fsnotify-driven events to a plain time.NewTicker since autosave is
// time-driven, not file-driven.
type SessionManager struct {
	engine   *Engine
	store    SessionStore
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

// NewSessionManager builds a SessionManager and starts its autosave loop.
func NewSessionManager(engine *Engine, store SessionStore) *SessionManager {
	sm := &SessionManager{
		engine:   engine,
		store:    store,
		interval: DefaultAutosaveInterval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go sm.autosaveLoop()
	return sm
}

func (sm *SessionManager) autosaveLoop() {
	defer close(sm.stopped)
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			sm.saveAll(context.Background())
		}
	}
}

func (sm *SessionManager) saveAll(ctx context.Context) {
	sm.engine.mu.RLock()
	sessions := make([]core.InterviewSession, 0, len(sm.engine.sessions))
	for _, s := range sm.engine.sessions {
		if s.Status == core.SessionActive || s.Status == core.SessionPaused {
			sessions = append(sessions, *s)
		}
	}
	sm.engine.mu.RUnlock()

	for _, s := range sessions {
		_ = sm.store.SaveSession(ctx, s)
	}
}

// Flush forces an immediate save of every active/paused session, bypassing
// the ticker — used before a graceful shutdown.
func (sm *SessionManager) Flush(ctx context.Context) {
	sm.saveAll(ctx)
}

// LoadByID loads a session from durable storage by id and registers it
// with the Engine.
func (sm *SessionManager) LoadByID(ctx context.Context, id string) (*core.InterviewSession, error) {
	s, err := sm.store.LoadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("interview: load session %s: %w", id, err)
	}
	sm.engine.adoptSession(s)
	return s, nil
}

// LoadMostRecentForProject loads the most recent active or paused session
// for a project and registers it with the Engine.
func (sm *SessionManager) LoadMostRecentForProject(ctx context.Context, projectID string) (*core.InterviewSession, error) {
	s, err := sm.store.LoadMostRecentSession(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("interview: load most recent session for %s: %w", projectID, err)
	}
	if s == nil {
		return nil, nil
	}
	sm.engine.adoptSession(s)
	return s, nil
}

// Close stops the autosave loop, performing one final flush first.
func (sm *SessionManager) Close() {
	sm.Flush(context.Background())
	close(sm.done)
	<-sm.stopped
}
