// Package checkpoint implements spec.md §4.14's CheckpointManager: durable
// snapshots of a project's ProjectState plus, best-effort, the git commit it
// was taken at.
//
// Grounded on internal/executor/git_checkpointer.go's CreateCheckpoint/
// RestoreCheckpoint shape (capture HEAD, stamp a timestamped identifier,
// reset --hard to restore) generalized from git-branch checkpoints to
// full-state JSON snapshots persisted through a DAO, and on
// internal/filelock's atomic-write helpers for any on-disk payload staging.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// DefaultMaxCheckpoints is the number of checkpoints retained per project
// before the oldest are pruned (spec.md §4.14).
const DefaultMaxCheckpoints = 50

// GitRef is the narrow git capability CheckpointManager needs: capture the
// current commit best-effort, and reset to one on restore.
type GitRef interface {
	RevParse(ctx context.Context, ref string) (string, error)
	ResetHard(ctx context.Context, ref string) error
}

// Store persists and retrieves Checkpoint rows. internal/store provides the
// real sqlite-backed implementation; tests use a fake.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp core.Checkpoint) error
	ListCheckpoints(ctx context.Context, projectID string) ([]core.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, id string) error
}

// StateApplier is the narrow StateManager capability restoreCheckpoint needs:
// apply a fully decoded ProjectState back into the live cache.
type StateApplier interface {
	ApplyState(ctx context.Context, ps core.ProjectState) error
}

// Manager implements CheckpointManager.
type Manager struct {
	mu             sync.Mutex
	store          Store
	git            GitRef
	applier        StateApplier
	bus            *eventbus.Bus
	maxCheckpoints int
	now            func() time.Time
	newID          func() string
}

// New builds a Manager. git may be nil, in which case checkpoints are taken
// without a pinned commit.
func New(store Store, git GitRef, applier StateApplier, bus *eventbus.Bus) *Manager {
	return &Manager{
		store:          store,
		git:            git,
		applier:        applier,
		bus:            bus,
		maxCheckpoints: DefaultMaxCheckpoints,
		now:            time.Now,
		newID:          func() string { return uuid.NewString() },
	}
}

// SetMaxCheckpoints overrides the default prune threshold.
func (m *Manager) SetMaxCheckpoints(n int) {
	if n > 0 {
		m.maxCheckpoints = n
	}
}

// CreateCheckpoint serializes ps as JSON, records the current git HEAD
// best-effort (a failure here never fails the checkpoint), persists it, and
// prunes down to maxCheckpoints for the project.
func (m *Manager) CreateCheckpoint(ctx context.Context, ps core.ProjectState, reason string) (*core.Checkpoint, error) {
	snapshot, err := json.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal state: %w", err)
	}

	var commit string
	if m.git != nil {
		if sha, gerr := m.git.RevParse(ctx, "HEAD"); gerr == nil {
			commit = sha
		}
	}

	cp := core.Checkpoint{
		ID:            m.newID(),
		ProjectID:     ps.ProjectID,
		Reason:        reason,
		StateSnapshot: snapshot,
		GitCommit:     commit,
		CreatedAt:     m.now(),
	}

	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("checkpoint: save: %w", err)
	}

	m.emit("system:checkpoint-created", ps.ProjectID, cp.ID)

	if err := m.prune(ctx, ps.ProjectID); err != nil {
		return &cp, err
	}
	return &cp, nil
}

// CreateAutoCheckpoint wraps CreateCheckpoint with a standard trigger-derived
// reason string, for callers (QALoopEngine, the coordinator) that checkpoint
// automatically around risky operations.
func (m *Manager) CreateAutoCheckpoint(ctx context.Context, ps core.ProjectState, trigger string) (*core.Checkpoint, error) {
	return m.CreateCheckpoint(ctx, ps, fmt.Sprintf("auto: %s", trigger))
}

// RestoreOptions controls RestoreCheckpoint's git behavior.
type RestoreOptions struct {
	RestoreGit bool
}

// RestoreCheckpoint parses the stored state snapshot and applies it via
// StateManager. If opts.RestoreGit is set and the checkpoint has a pinned
// commit, it best-effort resets the working tree to it, logging rather than
// failing the restore on error.
func (m *Manager) RestoreCheckpoint(ctx context.Context, id string, opts RestoreOptions) (*core.ProjectState, error) {
	cp, err := m.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var ps core.ProjectState
	if err := json.Unmarshal(cp.StateSnapshot, &ps); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal state: %w", err)
	}

	if err := m.applier.ApplyState(ctx, ps); err != nil {
		return nil, fmt.Errorf("checkpoint: apply state: %w", err)
	}

	if opts.RestoreGit && cp.GitCommit != "" && m.git != nil {
		if rerr := m.git.ResetHard(ctx, cp.GitCommit); rerr != nil {
			m.emit("system:error", ps.ProjectID, fmt.Sprintf("best-effort git restore to %s failed: %v", cp.GitCommit, rerr))
		}
	}

	m.emit("system:checkpoint-restored", ps.ProjectID, cp.ID)
	return &ps, nil
}

// ListCheckpoints returns every checkpoint for projectID, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context, projectID string) ([]core.Checkpoint, error) {
	cps, err := m.store.ListCheckpoints(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].CreatedAt.After(cps[j].CreatedAt) })
	return cps, nil
}

func (m *Manager) findByID(ctx context.Context, id string) (*core.Checkpoint, error) {
	// Checkpoints are listed per-project in the store; Manager has no
	// project-scoped lookup by id alone, so callers that only have an id
	// (e.g. a review's linked safety checkpoint) should keep the
	// projectID alongside it. For the common case where the store can
	// answer a global list cheaply, scan it here.
	all, err := m.store.ListCheckpoints(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: lookup %s: %w", id, err)
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("checkpoint: %s not found", id)
}

func (m *Manager) prune(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cps, err := m.store.ListCheckpoints(ctx, projectID)
	if err != nil {
		return fmt.Errorf("checkpoint: prune list: %w", err)
	}
	if len(cps) <= m.maxCheckpoints {
		return nil
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].CreatedAt.After(cps[j].CreatedAt) })
	for _, stale := range cps[m.maxCheckpoints:] {
		if err := m.store.DeleteCheckpoint(ctx, stale.ID); err != nil {
			return fmt.Errorf("checkpoint: prune delete %s: %w", stale.ID, err)
		}
	}
	return nil
}

func (m *Manager) emit(eventType core.EventType, projectID, detail string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(eventType, map[string]interface{}{
		"projectId": projectID,
		"detail":    detail,
	}, "checkpoint", "")
}
