package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

type fakeStore struct {
	saved   []core.Checkpoint
	deleted []string
}

func (f *fakeStore) SaveCheckpoint(_ context.Context, cp core.Checkpoint) error {
	f.saved = append(f.saved, cp)
	return nil
}

func (f *fakeStore) ListCheckpoints(_ context.Context, projectID string) ([]core.Checkpoint, error) {
	var out []core.Checkpoint
	for _, cp := range f.saved {
		if projectID == "" || cp.ProjectID == projectID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteCheckpoint(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	for i, cp := range f.saved {
		if cp.ID == id {
			f.saved = append(f.saved[:i], f.saved[i+1:]...)
			break
		}
	}
	return nil
}

type fakeGitRef struct {
	headSHA     string
	resetTarget string
	resetErr    error
}

func (f *fakeGitRef) RevParse(context.Context, string) (string, error) { return f.headSHA, nil }
func (f *fakeGitRef) ResetHard(_ context.Context, ref string) error {
	f.resetTarget = ref
	return f.resetErr
}

type fakeApplier struct {
	applied *core.ProjectState
}

func (f *fakeApplier) ApplyState(_ context.Context, ps core.ProjectState) error {
	cpy := ps
	f.applied = &cpy
	return nil
}

func newTestManager(store Store, git GitRef, applier StateApplier, bus *eventbus.Bus) *Manager {
	m := New(store, git, applier, bus)
	seq := 0
	m.newID = func() string {
		seq++
		return time.Now().Format("150405") + string(rune('a'+seq))
	}
	return m
}

func TestCreateCheckpointCapturesGitHeadAndPersists(t *testing.T) {
	store := &fakeStore{}
	git := &fakeGitRef{headSHA: "deadbeef"}
	m := newTestManager(store, git, &fakeApplier{}, nil)

	ps := core.ProjectState{ProjectID: "proj1", Status: core.ProjectRunning}
	cp, err := m.CreateCheckpoint(context.Background(), ps, "manual")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", cp.GitCommit)
	assert.Equal(t, "proj1", cp.ProjectID)
	require.Len(t, store.saved, 1)
}

func TestCreateCheckpointSucceedsWithoutGit(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(store, nil, &fakeApplier{}, nil)

	cp, err := m.CreateCheckpoint(context.Background(), core.ProjectState{ProjectID: "proj1"}, "manual")
	require.NoError(t, err)
	assert.Empty(t, cp.GitCommit)
}

func TestCreateAutoCheckpointPrefixesReason(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(store, nil, &fakeApplier{}, nil)

	cp, err := m.CreateAutoCheckpoint(context.Background(), core.ProjectState{ProjectID: "proj1"}, "qa-exhausted")
	require.NoError(t, err)
	assert.Contains(t, cp.Reason, "qa-exhausted")
}

func TestCreateCheckpointPrunesOldest(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(store, nil, &fakeApplier{}, nil)
	m.SetMaxCheckpoints(2)

	base := time.Now()
	for i := 0; i < 4; i++ {
		m.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		_, err := m.CreateCheckpoint(context.Background(), core.ProjectState{ProjectID: "proj1"}, "manual")
		require.NoError(t, err)
	}

	remaining, err := store.ListCheckpoints(context.Background(), "proj1")
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestRestoreCheckpointAppliesStateAndResetsGit(t *testing.T) {
	store := &fakeStore{}
	git := &fakeGitRef{headSHA: "commit1"}
	applier := &fakeApplier{}
	m := newTestManager(store, git, applier, nil)

	ps := core.ProjectState{ProjectID: "proj1", CompletedTasks: 7}
	cp, err := m.CreateCheckpoint(context.Background(), ps, "manual")
	require.NoError(t, err)

	restored, err := m.RestoreCheckpoint(context.Background(), cp.ID, RestoreOptions{RestoreGit: true})
	require.NoError(t, err)
	assert.Equal(t, 7, restored.CompletedTasks)
	assert.Equal(t, "commit1", git.resetTarget)
	require.NotNil(t, applier.applied)
	assert.Equal(t, "proj1", applier.applied.ProjectID)
}

func TestRestoreCheckpointGitFailureIsBestEffort(t *testing.T) {
	store := &fakeStore{}
	git := &fakeGitRef{headSHA: "commit1", resetErr: errors.New("dirty tree")}
	applier := &fakeApplier{}
	bus := eventbus.New(10)
	m := newTestManager(store, git, applier, bus)

	var sawErrorEvent bool
	bus.On("system:error", func(core.Event) { sawErrorEvent = true })

	ps := core.ProjectState{ProjectID: "proj1"}
	cp, err := m.CreateCheckpoint(context.Background(), ps, "manual")
	require.NoError(t, err)

	restored, err := m.RestoreCheckpoint(context.Background(), cp.ID, RestoreOptions{RestoreGit: true})
	require.NoError(t, err)
	assert.NotNil(t, restored)
	assert.True(t, sawErrorEvent)
}

func TestRestoreCheckpointUnknownIDErrors(t *testing.T) {
	m := newTestManager(&fakeStore{}, nil, &fakeApplier{}, nil)
	_, err := m.RestoreCheckpoint(context.Background(), "ghost", RestoreOptions{})
	assert.Error(t, err)
}

func TestListCheckpointsOrdersNewestFirst(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(store, nil, &fakeApplier{}, nil)

	base := time.Now()
	m.now = func() time.Time { return base }
	first, err := m.CreateCheckpoint(context.Background(), core.ProjectState{ProjectID: "proj1"}, "a")
	require.NoError(t, err)
	m.now = func() time.Time { return base.Add(time.Minute) }
	second, err := m.CreateCheckpoint(context.Background(), core.ProjectState{ProjectID: "proj1"}, "b")
	require.NoError(t, err)

	list, err := m.ListCheckpoints(context.Background(), "proj1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestCreateCheckpointEmitsEvent(t *testing.T) {
	bus := eventbus.New(10)
	store := &fakeStore{}
	m := newTestManager(store, nil, &fakeApplier{}, bus)

	var fired bool
	bus.On("system:checkpoint-created", func(core.Event) { fired = true })

	_, err := m.CreateCheckpoint(context.Background(), core.ProjectState{ProjectID: "proj1"}, "manual")
	require.NoError(t, err)
	assert.True(t, fired)
}
