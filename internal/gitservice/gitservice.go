// Package gitservice implements spec.md §4.3's GitService capability: the
// subset of git plumbing Nexus needs to manage per-task branches, worktree
// checkouts, and merges. Grounded on the teacher's
// internal/executor/git_checkpointer.go (DefaultGitCheckpointer), whose
// CommandRunner-injection and runCommand idiom generalizes cleanly from
// "checkpoint branches in one repo" to "many branches across many
// worktrees."
package gitservice

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Status is a parsed git status --porcelain entry.
type Status struct {
	Path     string
	Code     string // two-letter porcelain status code, e.g. "M ", "??"
	Clean    bool
}

// LogEntry is one line of git log output.
type LogEntry struct {
	Hash    string
	Author  string
	Date    string
	Subject string
}

// DiffStat summarizes a diff's shape without the full patch text.
type DiffStat struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// NotARepository is returned when a command runs outside a git worktree.
type NotARepository struct{ Dir string }

func (e *NotARepository) Error() string { return "gitservice: not a git repository: " + e.Dir }

// BranchNotFound is returned by operations that require an existing branch.
type BranchNotFound struct{ Branch string }

func (e *BranchNotFound) Error() string { return "gitservice: branch not found: " + e.Branch }

// CommitError wraps a failed commit (e.g. nothing to commit).
type CommitError struct{ Detail string }

func (e *CommitError) Error() string { return "gitservice: commit failed: " + e.Detail }

// GitError is the catch-all for any other failing git invocation.
type GitError struct {
	Command string
	Detail  string
}

func (e *GitError) Error() string {
	return fmt.Sprintf("gitservice: %s failed: %s", e.Command, e.Detail)
}

// CommandRunner executes a shell command and returns combined output.
// Grounded on the teacher's CommandRunner interface (injected for tests).
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// execRunner shells out via os/exec, exactly as
// DefaultGitCheckpointer.runCommand does when no CommandRunner is injected.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), err
	}
	return string(out), nil
}

// Service is the concrete GitService implementation.
type Service struct {
	Runner CommandRunner
	Dir    string
}

// New creates a Service rooted at dir using the real exec.Command runner.
func New(dir string) *Service {
	return &Service{Runner: execRunner{}, Dir: dir}
}

// NewWithRunner creates a Service using an injected CommandRunner, for tests.
func NewWithRunner(runner CommandRunner, dir string) *Service {
	return &Service{Runner: runner, Dir: dir}
}

func (s *Service) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := s.Runner.Run(ctx, s.Dir, name, args...)
	if err != nil {
		if strings.Contains(out, "not a git repository") {
			return out, &NotARepository{Dir: s.Dir}
		}
		return out, &GitError{Command: name + " " + strings.Join(args, " "), Detail: strings.TrimSpace(out)}
	}
	return out, nil
}

// IsRepository reports whether Dir is inside a git working tree.
func (s *Service) IsRepository(ctx context.Context) (bool, error) {
	out, err := s.run(ctx, "git", "rev-parse", "--is-inside-work-tree")
	if err != nil {
		var notRepo *NotARepository
		if asNotARepository(err, &notRepo) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

func asNotARepository(err error, target **NotARepository) bool {
	nr, ok := err.(*NotARepository)
	if ok {
		*target = nr
	}
	return ok
}

// Status returns the parsed porcelain status of the working tree.
func (s *Service) Status(ctx context.Context) ([]Status, error) {
	out, err := s.run(ctx, "git", "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(out, "\n")
	if trimmed == "" {
		return nil, nil
	}
	var statuses []Status
	for _, line := range strings.Split(trimmed, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		path := strings.TrimSpace(line[3:])
		statuses = append(statuses, Status{Path: path, Code: code})
	}
	return statuses, nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (s *Service) IsClean(ctx context.Context) (bool, error) {
	statuses, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(statuses) == 0, nil
}

// CurrentBranch returns the checked-out branch name.
func (s *Service) CurrentBranch(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "git", "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CreateBranch creates branchName from the current HEAD without switching.
func (s *Service) CreateBranch(ctx context.Context, branchName string) error {
	if branchName == "" {
		return &GitError{Command: "branch", Detail: "branch name cannot be empty"}
	}
	_, err := s.run(ctx, "git", "branch", branchName)
	return err
}

// CheckoutBranch switches to an existing branch.
func (s *Service) CheckoutBranch(ctx context.Context, branchName string) error {
	_, err := s.run(ctx, "git", "checkout", branchName)
	if err != nil {
		if strings.Contains(err.Error(), "did not match any") {
			return &BranchNotFound{Branch: branchName}
		}
		return err
	}
	return nil
}

// CreateAndCheckoutBranch creates branchName and switches to it in one step.
func (s *Service) CreateAndCheckoutBranch(ctx context.Context, branchName string) error {
	_, err := s.run(ctx, "git", "checkout", "-b", branchName)
	return err
}

// DeleteBranch force-deletes a branch.
func (s *Service) DeleteBranch(ctx context.Context, branchName string) error {
	_, err := s.run(ctx, "git", "branch", "-D", branchName)
	return err
}

// ListBranches lists all local branches matching an optional glob pattern
// ("" matches all).
func (s *Service) ListBranches(ctx context.Context, pattern string) ([]string, error) {
	args := []string{"branch", "--list"}
	if pattern != "" {
		args = append(args, pattern)
	}
	out, err := s.run(ctx, "git", args...)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	var branches []string
	for _, line := range strings.Split(trimmed, "\n") {
		b := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		if b != "" {
			branches = append(branches, b)
		}
	}
	return branches, nil
}

// StageFiles adds the given paths (or everything, if empty) to the index.
func (s *Service) StageFiles(ctx context.Context, paths ...string) error {
	args := []string{"add"}
	if len(paths) == 0 {
		args = append(args, "-A")
	} else {
		args = append(args, paths...)
	}
	_, err := s.run(ctx, "git", args...)
	return err
}

// Commit creates a commit with the given message. Returns CommitError if
// there is nothing staged to commit.
func (s *Service) Commit(ctx context.Context, message string) (string, error) {
	_, err := s.run(ctx, "git", "commit", "-m", message)
	if err != nil {
		if strings.Contains(err.Error(), "nothing to commit") {
			return "", &CommitError{Detail: "nothing to commit"}
		}
		return "", err
	}
	out, err := s.run(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GetLog returns up to limit recent log entries.
func (s *Service) GetLog(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	out, err := s.run(ctx, "git", "log", "-n", strconv.Itoa(limit), "--pretty=format:%H\x1f%an\x1f%ad\x1f%s")
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	var entries []LogEntry
	for _, line := range strings.Split(trimmed, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 4 {
			continue
		}
		entries = append(entries, LogEntry{Hash: parts[0], Author: parts[1], Date: parts[2], Subject: parts[3]})
	}
	return entries, nil
}

// Diff returns the raw unified diff between two refs (or working tree if to=="").
func (s *Service) Diff(ctx context.Context, from, to string) (string, error) {
	args := []string{"diff", from}
	if to != "" {
		args = append(args, to)
	}
	return s.run(ctx, "git", args...)
}

// DiffStat returns a summarized diff shape between two refs.
func (s *Service) DiffStat(ctx context.Context, from, to string) (*DiffStat, error) {
	args := []string{"diff", "--shortstat", from}
	if to != "" {
		args = append(args, to)
	}
	out, err := s.run(ctx, "git", args...)
	if err != nil {
		return nil, err
	}
	return parseShortstat(out), nil
}

func parseShortstat(out string) *DiffStat {
	stat := &DiffStat{}
	fields := strings.Split(out, ",")
	for _, f := range fields {
		f = strings.TrimSpace(f)
		var n int
		switch {
		case strings.Contains(f, "file"):
			fmt.Sscanf(f, "%d", &n)
			stat.FilesChanged = n
		case strings.Contains(f, "insertion"):
			fmt.Sscanf(f, "%d", &n)
			stat.Insertions = n
		case strings.Contains(f, "deletion"):
			fmt.Sscanf(f, "%d", &n)
			stat.Deletions = n
		}
	}
	return stat
}

// Merge merges sourceBranch into the current branch with --no-ff.
// Returns (conflict=true, nil) when the merge leaves conflict markers.
func (s *Service) Merge(ctx context.Context, sourceBranch string) (conflict bool, err error) {
	_, runErr := s.run(ctx, "git", "merge", "--no-ff", "--no-edit", sourceBranch)
	if runErr == nil {
		return false, nil
	}
	if strings.Contains(runErr.Error(), "CONFLICT") || strings.Contains(runErr.Error(), "conflict") {
		return true, nil
	}
	return false, runErr
}

// MergeOptions configures MergeWithOptions beyond Merge's fixed
// --no-ff --no-edit behavior, per spec.md §4.13.
type MergeOptions struct {
	Message string
	Squash  bool
	NoFF    bool
}

// MergeWithOptions merges sourceBranch into the current branch with the
// given options. Returns (conflict=true, nil) when the merge leaves
// conflict markers rather than erroring.
func (s *Service) MergeWithOptions(ctx context.Context, sourceBranch string, opts MergeOptions) (conflict bool, err error) {
	args := []string{"merge"}
	if opts.Squash {
		args = append(args, "--squash")
	}
	if opts.NoFF {
		args = append(args, "--no-ff")
	}
	if opts.Message != "" {
		args = append(args, "-m", opts.Message)
	} else {
		args = append(args, "--no-edit")
	}
	args = append(args, sourceBranch)

	_, runErr := s.run(ctx, "git", args...)
	if runErr == nil {
		return false, nil
	}
	if strings.Contains(runErr.Error(), "CONFLICT") || strings.Contains(runErr.Error(), "conflict") {
		return true, nil
	}
	return false, runErr
}

// AbortMerge runs git merge --abort, used to recover from a conflicted merge.
func (s *Service) AbortMerge(ctx context.Context) error {
	_, err := s.run(ctx, "git", "merge", "--abort")
	return err
}

// ConflictedFiles lists paths with unresolved merge conflicts.
func (s *Service) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// RevParse resolves a ref to its commit hash.
func (s *Service) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := s.run(ctx, "git", "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ResetHard discards working tree changes and resets to ref.
func (s *Service) ResetHard(ctx context.Context, ref string) error {
	_, err := s.run(ctx, "git", "reset", "--hard", ref)
	return err
}

// Stash saves the working tree, including untracked files.
func (s *Service) Stash(ctx context.Context) error {
	_, err := s.run(ctx, "git", "stash", "-u")
	return err
}

// StashPop restores the most recent stash.
func (s *Service) StashPop(ctx context.Context) error {
	_, err := s.run(ctx, "git", "stash", "pop")
	return err
}

// Push pushes branchName to remote, best-effort (caller decides how to
// treat failure, since a missing remote is common in local-only usage).
func (s *Service) Push(ctx context.Context, remote, branchName string) error {
	_, err := s.run(ctx, "git", "push", remote, branchName)
	return err
}

// PullFastForward pulls with --ff-only, used before a merge attempt.
func (s *Service) PullFastForward(ctx context.Context, remote, branchName string) error {
	_, err := s.run(ctx, "git", "pull", "--ff-only", remote, branchName)
	return err
}

// AddWorktree creates a new worktree at path checked out to branchName,
// creating the branch from base if it doesn't already exist.
func (s *Service) AddWorktree(ctx context.Context, path, branchName, base string) error {
	args := []string{"worktree", "add", path, branchName}
	if _, verr := s.run(ctx, "git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branchName); verr != nil {
		args = []string{"worktree", "add", "-b", branchName, path, base}
	}
	_, err := s.run(ctx, "git", args...)
	return err
}

// RemoveWorktree removes a worktree directory registered with git.
func (s *Service) RemoveWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := s.run(ctx, "git", args...)
	return err
}

// PruneWorktrees removes stale worktree administrative files.
func (s *Service) PruneWorktrees(ctx context.Context) error {
	_, err := s.run(ctx, "git", "worktree", "prune")
	return err
}
