package core

import "time"

// WorktreeStatus reflects how recently a worktree was touched.
// Active < 15 min, Idle 15-30 min, Stale > 30 min since LastActivity
// (spec.md §4.4).
type WorktreeStatus string

const (
	WorktreeActive WorktreeStatus = "active"
	WorktreeIdle   WorktreeStatus = "idle"
	WorktreeStale  WorktreeStatus = "stale"
)

// Worktree is an isolated git checkout dedicated to one task.
type Worktree struct {
	ID           string
	TaskID       string
	Path         string
	Branch       string
	BaseBranch   string
	CreatedAt    time.Time
	LastActivity time.Time
	Status       WorktreeStatus
}

// RefreshStatus recomputes Status from LastActivity relative to now.
func (w *Worktree) RefreshStatus(now time.Time) {
	age := now.Sub(w.LastActivity)
	switch {
	case age < 15*time.Minute:
		w.Status = WorktreeActive
	case age < 30*time.Minute:
		w.Status = WorktreeIdle
	default:
		w.Status = WorktreeStale
	}
}
