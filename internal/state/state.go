// Package state implements spec.md §4.15's StateManager: the
// in-memory ProjectState cache, authoritative only because it is
// upserted through a DAO-backed Persister on every mutation when
// autoPersist is enabled — per spec.md §9's note that in-memory maps
// are caches, not authorities.
//
// Grounded on internal/executor/orchestrator.go's Orchestrator, which
// holds its own run-scoped mutable fields (FileToTaskMapping, session
// id, run number) directly on the struct rather than behind a separate
// store; generalized here into a small mutex-guarded map keyed by
// project, since Nexus runs more than one project's state concurrently.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-build/nexus/internal/core"
)

// Persister is the narrow DAO capability StateManager writes through.
// internal/store provides the real implementation; tests use a fake.
type Persister interface {
	SaveState(ctx context.Context, state core.ProjectState) error
}

// Patch describes a partial update to a ProjectState; nil fields are
// left unchanged. LastUpdatedAt always advances to time.Now() on any
// applied patch, monotonically, regardless of which fields changed.
type Patch struct {
	Status              *core.ProjectStatus
	CurrentFeatureIndex *int
	CurrentTaskIndex    *int
	CompletedTasks      *int
	TotalTasks          *int
	Features            *[]core.Feature
}

// Manager holds every known project's state.
type Manager struct {
	mu          sync.RWMutex
	states      map[string]*core.ProjectState
	persister   Persister
	autoPersist bool
	now         func() time.Time
}

// New builds a Manager. persister may be nil if autoPersist is false.
func New(persister Persister, autoPersist bool) *Manager {
	return &Manager{
		states:      make(map[string]*core.ProjectState),
		persister:   persister,
		autoPersist: autoPersist,
		now:         time.Now,
	}
}

// CreateState initializes a new ProjectState with status "initializing"
// and persists it if autoPersist is on.
func (m *Manager) CreateState(ctx context.Context, projectID, projectName string, mode core.ProjectMode) (*core.ProjectState, error) {
	now := m.now()
	ps := &core.ProjectState{
		ProjectID:     projectID,
		ProjectName:   projectName,
		Status:        core.ProjectInitializing,
		Mode:          mode,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}

	m.mu.Lock()
	m.states[projectID] = ps
	m.mu.Unlock()

	if err := m.saveState(ctx, *ps); err != nil {
		return ps, err
	}
	return ps, nil
}

// GetState returns the cached state for projectID.
func (m *Manager) GetState(projectID string) (*core.ProjectState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ps, ok := m.states[projectID]
	if !ok {
		return nil, false
	}
	copyPS := *ps
	return &copyPS, true
}

// UpdateState merges patch into the cached state for projectID,
// advances LastUpdatedAt, persists if autoPersist is on, and returns
// the updated snapshot.
func (m *Manager) UpdateState(ctx context.Context, projectID string, patch Patch) (*core.ProjectState, error) {
	m.mu.Lock()
	ps, ok := m.states[projectID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("state: unknown project %s", projectID)
	}

	if patch.Status != nil {
		ps.Status = *patch.Status
	}
	if patch.CurrentFeatureIndex != nil {
		ps.CurrentFeatureIndex = *patch.CurrentFeatureIndex
	}
	if patch.CurrentTaskIndex != nil {
		ps.CurrentTaskIndex = *patch.CurrentTaskIndex
	}
	if patch.CompletedTasks != nil {
		ps.CompletedTasks = *patch.CompletedTasks
	}
	if patch.TotalTasks != nil {
		ps.TotalTasks = *patch.TotalTasks
	}
	if patch.Features != nil {
		ps.Features = *patch.Features
	}
	ps.LastUpdatedAt = m.now()
	snapshot := *ps
	m.mu.Unlock()

	if err := m.saveState(ctx, snapshot); err != nil {
		return &snapshot, err
	}
	return &snapshot, nil
}

// ApplyState replaces the cached state for ps.ProjectID wholesale — used by
// CheckpointManager's restore path, which has a complete decoded snapshot
// rather than a partial Patch.
func (m *Manager) ApplyState(ctx context.Context, ps core.ProjectState) error {
	copyPS := ps
	m.mu.Lock()
	m.states[ps.ProjectID] = &copyPS
	m.mu.Unlock()

	return m.saveState(ctx, copyPS)
}

// SaveState persists the current cached state for projectID
// unconditionally, regardless of autoPersist — used by callers (e.g.
// CheckpointManager) that need a guaranteed flush before snapshotting.
func (m *Manager) SaveState(ctx context.Context, projectID string) error {
	ps, ok := m.GetState(projectID)
	if !ok {
		return fmt.Errorf("state: unknown project %s", projectID)
	}
	if m.persister == nil {
		return nil
	}
	return m.persister.SaveState(ctx, *ps)
}

func (m *Manager) saveState(ctx context.Context, ps core.ProjectState) error {
	if !m.autoPersist || m.persister == nil {
		return nil
	}
	return m.persister.SaveState(ctx, ps)
}
