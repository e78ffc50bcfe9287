package interview

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/llm"
)

type fakeRequirementStore struct {
	saved []core.Requirement
}

func (f *fakeRequirementStore) SaveRequirement(_ context.Context, r core.Requirement) error {
	f.saved = append(f.saved, r)
	return nil
}

func replyWithRequirement(text, category, area string, confidence float64) string {
	return "<requirement>\n<text>" + text + "</text>\n<category>" + category +
		"</category>\n<confidence>" + strconv.FormatFloat(confidence, 'f', -1, 64) + "</confidence>\n<area>" + area + "</area>\n</requirement>"
}

func TestStartSessionEmitsStartedEvent(t *testing.T) {
	bus := eventbus.New(10)
	var fired bool
	bus.On("interview:started", func(core.Event) { fired = true })

	e := New(&llm.FakeClient{}, &fakeRequirementStore{}, bus)
	s, err := e.StartSession(context.Background(), "proj1", core.ModeGenesis, "")
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, s.Status)
	assert.True(t, fired)
}

func TestProcessMessageExtractsAndPersistsRequirement(t *testing.T) {
	client := &llm.FakeClient{Responses: []llm.Response{
		{Content: replyWithRequirement("Users log in with email", "functional", "authentication", 0.9)},
	}}
	reqStore := &fakeRequirementStore{}
	bus := eventbus.New(10)
	var captured bool
	bus.On("interview:requirement-captured", func(core.Event) { captured = true })

	e := New(client, reqStore, bus)
	s, err := e.StartSession(context.Background(), "proj1", core.ModeGenesis, "")
	require.NoError(t, err)

	result, err := e.ProcessMessage(context.Background(), s.ID, "Tell me about login")
	require.NoError(t, err)
	require.Len(t, result.ExtractedRequirements, 1)
	assert.Equal(t, "authentication", result.ExtractedRequirements[0].Area)
	assert.True(t, captured)
	require.Len(t, reqStore.saved, 1)
	assert.Equal(t, "proj1", reqStore.saved[0].ProjectID)
}

func TestProcessMessageUsesEvolutionPromptWithContext(t *testing.T) {
	client := &llm.FakeClient{Responses: []llm.Response{{Content: "no requirements yet"}}}
	e := New(client, &fakeRequirementStore{}, nil)

	s, err := e.StartSession(context.Background(), "proj1", core.ModeEvolution, "existing repo has a users table")
	require.NoError(t, err)

	_, err = e.ProcessMessage(context.Background(), s.ID, "add OAuth support")
	require.NoError(t, err)
	require.Len(t, client.Requests, 1)
	assert.Contains(t, client.Requests[0].SystemPrompt, "existing repo has a users table")
}

func TestProcessMessageUnknownSessionErrors(t *testing.T) {
	e := New(&llm.FakeClient{}, &fakeRequirementStore{}, nil)
	_, err := e.ProcessMessage(context.Background(), "ghost", "hi")
	assert.Error(t, err)
}

func TestSuggestGapsOnlyFiresAfterThresholds(t *testing.T) {
	assert.Nil(t, suggestGaps(2, map[string]bool{"authentication": true, "api": true}))
	assert.Nil(t, suggestGaps(5, map[string]bool{"authentication": true}))

	gaps := suggestGaps(5, map[string]bool{"authentication": true, "api": true})
	assert.NotEmpty(t, gaps)
	assert.NotContains(t, gaps, "authentication")
	assert.NotContains(t, gaps, "api")
}

func TestSuggestGapsEmptyWhenAllAreasExplored(t *testing.T) {
	explored := map[string]bool{}
	for _, a := range standardAreas {
		explored[a] = true
	}
	assert.Nil(t, suggestGaps(10, explored))
}

func TestEndSessionSummarizesCategoriesAndDuration(t *testing.T) {
	client := &llm.FakeClient{Responses: []llm.Response{
		{Content: replyWithRequirement("A", "functional", "api", 0.9)},
		{Content: replyWithRequirement("B", "technical", "api", 0.9)},
	}}
	e := New(client, &fakeRequirementStore{}, nil)
	s, err := e.StartSession(context.Background(), "proj1", core.ModeGenesis, "")
	require.NoError(t, err)

	_, err = e.ProcessMessage(context.Background(), s.ID, "msg1")
	require.NoError(t, err)
	_, err = e.ProcessMessage(context.Background(), s.ID, "msg2")
	require.NoError(t, err)

	summary, err := e.EndSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalRequirements)
	assert.Equal(t, 1, summary.Categories[core.CategoryFunctional])
	assert.Equal(t, 1, summary.Categories[core.CategoryTechnical])

	got, ok := e.GetSession(s.ID)
	require.True(t, ok)
	assert.Equal(t, core.SessionCompleted, got.Status)
}

func TestPauseAndResumeSessionToggleStatus(t *testing.T) {
	e := New(&llm.FakeClient{}, &fakeRequirementStore{}, nil)
	s, err := e.StartSession(context.Background(), "proj1", core.ModeGenesis, "")
	require.NoError(t, err)

	require.NoError(t, e.PauseSession(s.ID))
	got, _ := e.GetSession(s.ID)
	assert.Equal(t, core.SessionPaused, got.Status)

	require.NoError(t, e.ResumeSession(s.ID))
	got, _ = e.GetSession(s.ID)
	assert.Equal(t, core.SessionActive, got.Status)
}
