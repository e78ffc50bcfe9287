// Package review implements spec.md §4.16's HumanReviewService: the
// escalation point for tasks the QA loop or the merger could not resolve
// on its own.
//
// No teacher equivalent exists directly; grounded on the general
// load-mutate-persist-print shape of the teacher's internal/cmd/learning_*
// subcommands (resolve a store path, load records, mutate/delete, persist,
// report) adapted here to Review rows instead of a CLI's learning store.
package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// Store persists Review rows. internal/store provides the real
// sqlite-backed implementation; tests use a fake.
type Store interface {
	SaveReview(ctx context.Context, r core.Review) error
	ListPendingReviews(ctx context.Context) ([]core.Review, error)
}

// Checkpointer is the narrow CheckpointManager capability requestReview
// needs: take a best-effort safety checkpoint before handing a task to a
// human.
type Checkpointer interface {
	CreateCheckpoint(ctx context.Context, ps core.ProjectState, reason string) (*core.Checkpoint, error)
}

// StateReader supplies the ProjectState a safety checkpoint is taken
// against.
type StateReader interface {
	GetState(projectID string) (*core.ProjectState, bool)
}

// TaskExistenceChecker lets the service validate a review's referenced
// task is still known when rehydrating from persistence at startup.
// Optional: a nil checker skips validation entirely.
type TaskExistenceChecker interface {
	TaskExists(ctx context.Context, taskID string) bool
}

// RequestReviewInput is requestReview's argument bundle.
type RequestReviewInput struct {
	TaskID    string
	ProjectID string
	Reason    core.ReviewReason
	Context   string
}

// Service implements HumanReviewService.
type Service struct {
	mu           sync.RWMutex
	store        Store
	checkpoints  Checkpointer
	states       StateReader
	taskChecker  TaskExistenceChecker
	bus          *eventbus.Bus
	pending      map[string]*core.Review
	now          func() time.Time
	newID        func() string
}

// New builds a Service. checkpoints/states/taskChecker may all be nil —
// the safety checkpoint and startup-orphan validation are best-effort
// extras, not hard dependencies.
func New(store Store, checkpoints Checkpointer, states StateReader, taskChecker TaskExistenceChecker, bus *eventbus.Bus) *Service {
	return &Service{
		store:       store,
		checkpoints: checkpoints,
		states:      states,
		taskChecker: taskChecker,
		bus:         bus,
		pending:     make(map[string]*core.Review),
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// RequestReview persists and caches a pending review, takes a best-effort
// safety checkpoint, and emits review:requested.
func (s *Service) RequestReview(ctx context.Context, in RequestReviewInput) (*core.Review, error) {
	r := &core.Review{
		ID:        s.newID(),
		TaskID:    in.TaskID,
		ProjectID: in.ProjectID,
		Reason:    in.Reason,
		Context:   in.Context,
		Status:    core.ReviewPending,
		CreatedAt: s.now(),
	}

	if err := s.store.SaveReview(ctx, *r); err != nil {
		return nil, fmt.Errorf("review: save: %w", err)
	}

	s.mu.Lock()
	s.pending[r.ID] = r
	s.mu.Unlock()

	s.safetyCheckpoint(ctx, in.ProjectID, in.Reason)
	s.emit("review:requested", *r)
	return r, nil
}

// ApproveReview marks a pending review approved, persists, evicts it from
// the pending cache, and emits review:approved. resolution is optional
// free-form text describing how the task should proceed.
func (s *Service) ApproveReview(ctx context.Context, id, resolution string) (*core.Review, error) {
	return s.resolve(ctx, id, core.ReviewApproved, resolution, "review:approved")
}

// RejectReview marks a pending review rejected with feedback, persists,
// evicts it, and emits review:rejected.
func (s *Service) RejectReview(ctx context.Context, id, feedback string) (*core.Review, error) {
	return s.resolve(ctx, id, core.ReviewRejected, feedback, "review:rejected")
}

func (s *Service) resolve(ctx context.Context, id string, status core.ReviewStatus, note string, eventType core.EventType) (*core.Review, error) {
	s.mu.Lock()
	r, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("review: %s is not pending", id)
	}
	updated := *r
	updated.Status = status
	updated.Resolution = note
	resolvedAt := s.now()
	updated.ResolvedAt = &resolvedAt
	delete(s.pending, id)
	s.mu.Unlock()

	if err := s.store.SaveReview(ctx, updated); err != nil {
		return nil, fmt.Errorf("review: save resolution: %w", err)
	}

	s.emit(eventType, updated)
	return &updated, nil
}

// ListPendingReviews returns every review currently awaiting a decision,
// read from the in-memory cache.
func (s *Service) ListPendingReviews() []core.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Review, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, *r)
	}
	return out
}

// GetReview reads a single pending review from the cache.
func (s *Service) GetReview(id string) (*core.Review, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	cpy := *r
	return &cpy, true
}

// Rehydrate loads pending reviews from persistence at startup.
//
// Resolved: the source this is grounded on rehydrates pending reviews
// without checking whether the referenced task still exists. Orphaned
// reviews (task deleted, project pruned) are kept and surfaced rather
// than silently dropped — dropping risks hiding a real, already-approved
// escalation a human has not yet acted on. When taskChecker is set and
// reports a task missing, the review is still cached but tagged via a
// review:orphaned event so the coordinator or an operator can decide.
func (s *Service) Rehydrate(ctx context.Context) error {
	rows, err := s.store.ListPendingReviews(ctx)
	if err != nil {
		return fmt.Errorf("review: rehydrate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range rows {
		r := rows[i]
		s.pending[r.ID] = &r
		if s.taskChecker != nil && !s.taskChecker.TaskExists(ctx, r.TaskID) {
			s.emit("review:orphaned", r)
		}
	}
	return nil
}

func (s *Service) safetyCheckpoint(ctx context.Context, projectID string, reason core.ReviewReason) {
	if s.checkpoints == nil || s.states == nil {
		return
	}
	ps, ok := s.states.GetState(projectID)
	if !ok {
		return
	}
	_, _ = s.checkpoints.CreateCheckpoint(ctx, *ps, fmt.Sprintf("review: %s", reason))
}

func (s *Service) emit(eventType core.EventType, r core.Review) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(eventType, r, "review", "")
}
