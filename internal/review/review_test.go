package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

type fakeStore struct {
	saved []core.Review
}

func (f *fakeStore) SaveReview(_ context.Context, r core.Review) error {
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeStore) ListPendingReviews(_ context.Context) ([]core.Review, error) {
	var out []core.Review
	for _, r := range f.saved {
		if r.Status == core.ReviewPending {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeCheckpointer struct {
	calls int
}

func (f *fakeCheckpointer) CreateCheckpoint(_ context.Context, _ core.ProjectState, _ string) (*core.Checkpoint, error) {
	f.calls++
	return &core.Checkpoint{ID: "cp1"}, nil
}

type fakeStateReader struct {
	state *core.ProjectState
}

func (f *fakeStateReader) GetState(string) (*core.ProjectState, bool) {
	if f.state == nil {
		return nil, false
	}
	return f.state, true
}

type fakeTaskChecker struct {
	missing map[string]bool
}

func (f *fakeTaskChecker) TaskExists(_ context.Context, taskID string) bool {
	return !f.missing[taskID]
}

func TestRequestReviewPersistsCachesAndCheckpoints(t *testing.T) {
	store := &fakeStore{}
	cp := &fakeCheckpointer{}
	states := &fakeStateReader{state: &core.ProjectState{ProjectID: "proj1"}}
	bus := eventbus.New(10)
	var fired bool
	bus.On("review:requested", func(core.Event) { fired = true })

	svc := New(store, cp, states, nil, bus)
	r, err := svc.RequestReview(context.Background(), RequestReviewInput{
		TaskID: "task1", ProjectID: "proj1", Reason: core.ReasonQAExhausted,
	})
	require.NoError(t, err)
	assert.Equal(t, core.ReviewPending, r.Status)
	assert.Equal(t, 1, cp.calls)
	assert.True(t, fired)
	require.Len(t, store.saved, 1)

	pending := svc.ListPendingReviews()
	require.Len(t, pending, 1)
	assert.Equal(t, "task1", pending[0].TaskID)
}

func TestRequestReviewSkipsCheckpointWhenUnwired(t *testing.T) {
	svc := New(&fakeStore{}, nil, nil, nil, nil)
	r, err := svc.RequestReview(context.Background(), RequestReviewInput{TaskID: "task1", ProjectID: "proj1"})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
}

func TestApproveReviewEvictsFromCacheAndPersists(t *testing.T) {
	store := &fakeStore{}
	bus := eventbus.New(10)
	var fired bool
	bus.On("review:approved", func(core.Event) { fired = true })

	svc := New(store, nil, nil, nil, bus)
	r, err := svc.RequestReview(context.Background(), RequestReviewInput{TaskID: "task1", ProjectID: "proj1"})
	require.NoError(t, err)

	approved, err := svc.ApproveReview(context.Background(), r.ID, "proceed with patch")
	require.NoError(t, err)
	assert.Equal(t, core.ReviewApproved, approved.Status)
	assert.NotNil(t, approved.ResolvedAt)
	assert.True(t, fired)

	_, ok := svc.GetReview(r.ID)
	assert.False(t, ok)
}

func TestRejectReviewRecordsFeedback(t *testing.T) {
	svc := New(&fakeStore{}, nil, nil, nil, nil)
	r, err := svc.RequestReview(context.Background(), RequestReviewInput{TaskID: "task1", ProjectID: "proj1"})
	require.NoError(t, err)

	rejected, err := svc.RejectReview(context.Background(), r.ID, "needs another approach")
	require.NoError(t, err)
	assert.Equal(t, core.ReviewRejected, rejected.Status)
	assert.Equal(t, "needs another approach", rejected.Resolution)
}

func TestResolveUnknownReviewErrors(t *testing.T) {
	svc := New(&fakeStore{}, nil, nil, nil, nil)
	_, err := svc.ApproveReview(context.Background(), "ghost", "")
	assert.Error(t, err)
}

func TestRehydrateLoadsPendingReviewsFromStore(t *testing.T) {
	store := &fakeStore{saved: []core.Review{
		{ID: "r1", TaskID: "task1", ProjectID: "proj1", Status: core.ReviewPending},
		{ID: "r2", TaskID: "task2", ProjectID: "proj1", Status: core.ReviewApproved},
	}}
	svc := New(store, nil, nil, nil, nil)
	require.NoError(t, svc.Rehydrate(context.Background()))

	pending := svc.ListPendingReviews()
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].ID)
}

func TestRehydrateEmitsOrphanedEventForMissingTask(t *testing.T) {
	store := &fakeStore{saved: []core.Review{
		{ID: "r1", TaskID: "ghost-task", ProjectID: "proj1", Status: core.ReviewPending},
	}}
	checker := &fakeTaskChecker{missing: map[string]bool{"ghost-task": true}}
	bus := eventbus.New(10)
	var orphaned bool
	bus.On("review:orphaned", func(core.Event) { orphaned = true })

	svc := New(store, nil, nil, checker, bus)
	require.NoError(t, svc.Rehydrate(context.Background()))

	assert.True(t, orphaned)
	pending := svc.ListPendingReviews()
	require.Len(t, pending, 1, "orphaned reviews are surfaced, not dropped")
}
