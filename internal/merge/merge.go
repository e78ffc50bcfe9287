// Package merge implements spec.md §4.13's MergerRunner: merge a
// worktree's branch into a target branch (default main), handling
// conflicts by aborting and reporting the conflicted files rather than
// leaving the repository mid-merge.
//
// Grounded on the teacher's internal/executor/rollback_manager.go (the
// stash/checkout/merge/abort sequencing idiom, generalized from rollback
// to forward-merge) and internal/executor/commit_verifier.go (deriving
// commit stats after a successful git operation).
package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/gitservice"
)

// DefaultTargetBranch is where merges land absent an explicit target.
const DefaultTargetBranch = "main"

// GitService is the subset of gitservice.Service MergerRunner needs.
type GitService interface {
	IsClean(ctx context.Context) (bool, error)
	Stash(ctx context.Context) error
	StashPop(ctx context.Context) error
	CheckoutBranch(ctx context.Context, branchName string) error
	PullFastForward(ctx context.Context, remote, branchName string) error
	MergeWithOptions(ctx context.Context, sourceBranch string, opts gitservice.MergeOptions) (conflict bool, err error)
	AbortMerge(ctx context.Context) error
	ConflictedFiles(ctx context.Context) ([]string, error)
	RevParse(ctx context.Context, ref string) (string, error)
	DiffStat(ctx context.Context, from, to string) (*gitservice.DiffStat, error)
	Push(ctx context.Context, remote, branchName string) error
}

var _ GitService = (*gitservice.Service)(nil)

// Options configures one Merge call.
type Options struct {
	Target  string // defaults to DefaultTargetBranch
	Message string
	Squash  bool
	NoFF    bool
	// HasRemote tells Merge whether to attempt a best-effort
	// `git pull --ff-only` against Remote before merging. Left false
	// when the repository has no configured remote (common for
	// freshly-initialized local projects).
	HasRemote bool
	Remote    string // defaults to "origin"
}

// Runner merges worktree branches into a target branch.
type Runner struct {
	Git GitService
}

// New builds a Runner.
func New(git GitService) *Runner {
	return &Runner{Git: git}
}

// Merge merges sourceBranch into opts.Target (defaulting to
// DefaultTargetBranch), following spec.md §4.13's sequence: stash any
// dirty changes in the base dir, checkout the target, best-effort pull,
// merge, and on conflict abort and report the conflicted files instead
// of leaving a half-finished merge in place.
func (r *Runner) Merge(ctx context.Context, sourceBranch string, opts Options) core.MergeResult {
	target := opts.Target
	if target == "" {
		target = DefaultTargetBranch
	}
	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}

	stashed, err := r.stashIfDirty(ctx)
	if err != nil {
		return core.MergeResult{Outcome: core.MergeFailed, Error: fmt.Errorf("merge: stashing base dir: %w", err)}
	}
	if stashed {
		defer func() { _ = r.Git.StashPop(ctx) }()
	}

	if err := r.Git.CheckoutBranch(ctx, target); err != nil {
		return core.MergeResult{Outcome: core.MergeFailed, Error: fmt.Errorf("merge: checking out %s: %w", target, err)}
	}

	if opts.HasRemote {
		_ = r.Git.PullFastForward(ctx, remote, target) // best-effort, per spec.md §4.13
	}

	beforeHash, _ := r.Git.RevParse(ctx, "HEAD")

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("Merge branch '%s' into %s", sourceBranch, target)
	}
	conflict, mergeErr := r.Git.MergeWithOptions(ctx, sourceBranch, gitservice.MergeOptions{
		Message: message, Squash: opts.Squash, NoFF: opts.NoFF,
	})
	if mergeErr != nil {
		return core.MergeResult{Outcome: core.MergeFailed, Error: fmt.Errorf("merge: %w", mergeErr)}
	}
	if conflict {
		files, _ := r.Git.ConflictedFiles(ctx)
		if abortErr := r.Git.AbortMerge(ctx); abortErr != nil {
			return core.MergeResult{
				Outcome:       core.MergeFailed,
				ConflictFiles: files,
				Error:         fmt.Errorf("merge: aborting conflicted merge: %w", abortErr),
			}
		}
		return core.MergeResult{Outcome: core.MergeConflict, ConflictFiles: files}
	}

	commitHash, _ := r.Git.RevParse(ctx, "HEAD")
	stat, statErr := r.Git.DiffStat(ctx, beforeHash, commitHash)
	result := core.MergeResult{Outcome: core.MergeSucceeded, CommitHash: commitHash}
	if statErr == nil && stat != nil {
		result.FilesChanged = stat.FilesChanged
		result.Insertions = stat.Insertions
		result.Deletions = stat.Deletions
	}
	return result
}

// PushToRemote pushes branch to remote, best-effort: failures (no
// remote configured, network unavailable) are swallowed into the
// returned error for logging but never block task completion, per
// spec.md §4.13.
func (r *Runner) PushToRemote(ctx context.Context, remote, branch string) error {
	if remote == "" {
		remote = "origin"
	}
	return r.Git.Push(ctx, remote, branch)
}

func (r *Runner) stashIfDirty(ctx context.Context) (bool, error) {
	clean, err := r.Git.IsClean(ctx)
	if err != nil {
		return false, err
	}
	if clean {
		return false, nil
	}
	if err := r.Git.Stash(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// FormatConflictReason renders a conflict's file list for an
// escalation reason or event payload.
func FormatConflictReason(files []string) string {
	if len(files) == 0 {
		return "merge conflict (no files reported)"
	}
	return "merge conflict in " + strings.Join(files, ", ")
}
