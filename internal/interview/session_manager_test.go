package interview

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/llm"
)

type fakeSessionStore struct {
	saved  map[string]core.InterviewSession
	recent map[string]*core.InterviewSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{saved: make(map[string]core.InterviewSession), recent: make(map[string]*core.InterviewSession)}
}

func (f *fakeSessionStore) SaveSession(_ context.Context, s core.InterviewSession) error {
	f.saved[s.ID] = s
	return nil
}

func (f *fakeSessionStore) LoadSession(_ context.Context, id string) (*core.InterviewSession, error) {
	s, ok := f.saved[id]
	if !ok {
		return nil, assertNotFound(id)
	}
	return &s, nil
}

func (f *fakeSessionStore) LoadMostRecentSession(_ context.Context, projectID string) (*core.InterviewSession, error) {
	return f.recent[projectID], nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return "session not found: " + string(e) }

func assertNotFound(id string) error { return notFoundErr(id) }

func TestSessionManagerFlushSavesActiveAndPausedSessions(t *testing.T) {
	e := New(&llm.FakeClient{}, &fakeRequirementStore{}, nil)
	active, err := e.StartSession(context.Background(), "proj1", core.ModeGenesis, "")
	require.NoError(t, err)
	paused, err := e.StartSession(context.Background(), "proj1", core.ModeGenesis, "")
	require.NoError(t, err)
	require.NoError(t, e.PauseSession(paused.ID))
	_, err = e.EndSession(active.ID)
	require.NoError(t, err)
	completed, err := e.StartSession(context.Background(), "proj1", core.ModeGenesis, "")
	require.NoError(t, err)
	_, err = e.EndSession(completed.ID)
	require.NoError(t, err)

	store := newFakeSessionStore()
	sm := NewSessionManager(e, store)
	defer sm.Close()

	sm.Flush(context.Background())

	_, activeSaved := store.saved[active.ID]
	assert.False(t, activeSaved, "completed session should not be autosaved")
	_, pausedSaved := store.saved[paused.ID]
	assert.True(t, pausedSaved)
}

func TestSessionManagerLoadByIDAdoptsSession(t *testing.T) {
	store := newFakeSessionStore()
	store.saved["s1"] = core.InterviewSession{ID: "s1", ProjectID: "proj1", Status: core.SessionActive}

	e := New(&llm.FakeClient{}, &fakeRequirementStore{}, nil)
	sm := NewSessionManager(e, store)
	defer sm.Close()

	loaded, err := sm.LoadByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "proj1", loaded.ProjectID)

	got, ok := e.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, "proj1", got.ProjectID)
}

func TestSessionManagerLoadMostRecentForProject(t *testing.T) {
	store := newFakeSessionStore()
	store.recent["proj1"] = &core.InterviewSession{ID: "s2", ProjectID: "proj1", Status: core.SessionPaused}

	e := New(&llm.FakeClient{}, &fakeRequirementStore{}, nil)
	sm := NewSessionManager(e, store)
	defer sm.Close()

	loaded, err := sm.LoadMostRecentForProject(context.Background(), "proj1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "s2", loaded.ID)
}

func TestSessionManagerCloseStopsAutosaveLoop(t *testing.T) {
	e := New(&llm.FakeClient{}, &fakeRequirementStore{}, nil)
	store := newFakeSessionStore()
	sm := NewSessionManager(e, store)
	sm.Close()

	select {
	case <-sm.stopped:
	case <-time.After(time.Second):
		t.Fatal("autosave loop did not stop")
	}
}
