// Package worktree implements spec.md §4.4's WorktreeManager: isolated git
// worktrees so concurrent agents never touch the same working directory.
// This component has no teacher equivalent — blueman82-conductor runs
// every task against the single checked-out tree and relies on file-level
// locking (internal/executor/task.go's FileLockManager) plus checkpoint
// branches (internal/executor/git_checkpointer.go) instead of real
// worktrees. Grounded on those two idioms, generalized: a durable JSON
// registry guarded the way internal/filelock guards its lock files, and
// branch lifecycle calls delegate to internal/gitservice (itself grounded
// on git_checkpointer.go).
package worktree

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/filelock"
	"github.com/nexus-build/nexus/internal/gitservice"
	"github.com/google/renameio/v2"
)

// GitService is the subset of gitservice.Service the manager needs,
// narrowed to a capability interface so tests can fake it.
type GitService interface {
	AddWorktree(ctx context.Context, path, branchName, base string) error
	RemoveWorktree(ctx context.Context, path string, force bool) error
	PruneWorktrees(ctx context.Context) error
}

var _ GitService = (*gitservice.Service)(nil)

const (
	registryDirName  = ".nexus"
	worktreesSubdir  = "worktrees"
	registryFileName = "registry.json"
	lockTimeout      = 5 * time.Second
	lockPollInterval = 100 * time.Millisecond
)

// Manager owns the durable worktree registry for one project checkout.
type Manager struct {
	git      GitService
	bus      *eventbus.Bus
	rootDir  string // the main repository root
	baseDir  string // rootDir/.nexus/worktrees
	regPath  string // rootDir/.nexus/worktrees/registry.json
	mu       sync.Mutex
	worktrees map[string]*core.Worktree
}

// New creates a Manager rooted at rootDir, loading any existing registry.
func New(git GitService, bus *eventbus.Bus, rootDir string) (*Manager, error) {
	baseDir := filepath.Join(rootDir, registryDirName, worktreesSubdir)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("worktree: create registry dir: %w", err)
	}
	m := &Manager{
		git:       git,
		bus:       bus,
		rootDir:   rootDir,
		baseDir:   baseDir,
		regPath:   filepath.Join(baseDir, registryFileName),
		worktrees: make(map[string]*core.Worktree),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	if err := ensureGitignored(rootDir); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateWorktree provisions a new worktree for taskID on branchName (cut
// from base when that branch does not exist yet), registers it durably,
// and emits worktree:created.
func (m *Manager) CreateWorktree(ctx context.Context, taskID, branchName, base string) (*core.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := core.NewID()
	path := filepath.Join(m.baseDir, id)

	if err := m.git.AddWorktree(ctx, path, branchName, base); err != nil {
		return nil, fmt.Errorf("worktree: add worktree: %w", err)
	}

	now := time.Now()
	wt := &core.Worktree{
		ID:           id,
		TaskID:       taskID,
		Path:         path,
		Branch:       branchName,
		Status:       core.WorktreeActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.worktrees[id] = wt
	if err := m.persistLocked(); err != nil {
		return nil, err
	}

	if m.bus != nil {
		m.bus.Emit("worktree:created", wt, "worktree", "")
	}
	return wt, nil
}

// GetWorktree looks up a worktree by ID.
func (m *Manager) GetWorktree(id string) (*core.Worktree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.worktrees[id]
	return wt, ok
}

// ListWorktrees returns a snapshot of all registered worktrees.
func (m *Manager) ListWorktrees() []*core.Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Worktree, 0, len(m.worktrees))
	for _, wt := range m.worktrees {
		out = append(out, wt)
	}
	return out
}

// UpdateActivity marks the worktree as touched at now, refreshing its
// active/idle/stale classification.
func (m *Manager) UpdateActivity(id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := m.worktrees[id]
	if !ok {
		return fmt.Errorf("worktree: unknown id %s", id)
	}
	wt.LastActivity = now
	wt.RefreshStatus(now)
	return m.persistLocked()
}

// RefreshStatuses recomputes active/idle/stale for every worktree against now.
func (m *Manager) RefreshStatuses(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wt := range m.worktrees {
		wt.RefreshStatus(now)
	}
}

// RemoveWorktree tears down the git worktree and removes it from the
// registry. Force is set for worktrees with uncommitted changes the
// caller has already decided to discard (e.g. after a rejected review).
func (m *Manager) RemoveWorktree(ctx context.Context, id string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.worktrees[id]
	if !ok {
		return fmt.Errorf("worktree: unknown id %s", id)
	}
	if err := m.git.RemoveWorktree(ctx, wt.Path, force); err != nil {
		return fmt.Errorf("worktree: remove: %w", err)
	}
	delete(m.worktrees, id)
	if err := m.persistLocked(); err != nil {
		return err
	}
	if m.bus != nil {
		m.bus.Emit("worktree:removed", wt, "worktree", "")
	}
	return nil
}

// Cleanup removes every worktree whose status is stale (idle beyond the
// stale threshold, per core.Worktree.RefreshStatus) and prunes git's own
// worktree administrative files.
func (m *Manager) Cleanup(ctx context.Context, now time.Time) ([]string, error) {
	m.RefreshStatuses(now)

	m.mu.Lock()
	var stale []string
	for id, wt := range m.worktrees {
		if wt.Status == core.WorktreeStale {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	var removed []string
	for _, id := range stale {
		if err := m.RemoveWorktree(ctx, id, true); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	if err := m.git.PruneWorktrees(ctx); err != nil {
		return removed, fmt.Errorf("worktree: prune: %w", err)
	}
	return removed, nil
}

// registrySnapshot is the on-disk JSON shape of the registry file.
type registrySnapshot struct {
	Worktrees map[string]*core.Worktree `json:"worktrees"`
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.regPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("worktree: read registry: %w", err)
	}
	var snap registrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("worktree: parse registry: %w", err)
	}
	if snap.Worktrees != nil {
		m.worktrees = snap.Worktrees
	}
	return nil
}

// persistLocked writes the registry atomically while holding a process
// lock, stealing it after lockTimeout per filelock.LockWithSteal — the
// registry writer is exactly the caller spec.md §9's Open Question names
// as unable to block forever on a crashed holder.
func (m *Manager) persistLocked() error {
	lock := filelock.NewFileLock(m.regPath + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), 2*lockTimeout)
	defer cancel()
	if err := lock.LockWithSteal(ctx, lockTimeout, lockPollInterval); err != nil {
		return fmt.Errorf("worktree: lock registry: %w", err)
	}
	defer lock.Unlock()

	snap := registrySnapshot{Worktrees: m.worktrees}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("worktree: marshal registry: %w", err)
	}
	if err := renameio.WriteFile(m.regPath, data, 0644); err != nil {
		return fmt.Errorf("worktree: write registry: %w", err)
	}
	return nil
}

// ensureGitignored appends .nexus/ to the repo's .gitignore if it is not
// already covered, so worktree scratch directories never get committed.
func ensureGitignored(rootDir string) error {
	gitignorePath := filepath.Join(rootDir, ".gitignore")
	pattern := registryDirName + "/"

	existing := ""
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("worktree: read .gitignore: %w", err)
	}

	if existing != "" {
		matcher := ignore.CompileIgnoreLines(splitLines(existing)...)
		if matcher.MatchesPath(pattern) {
			return nil
		}
	}

	updated := existing
	if updated != "" && updated[len(updated)-1] != '\n' {
		updated += "\n"
	}
	updated += pattern + "\n"

	return os.WriteFile(gitignorePath, []byte(updated), 0644)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
