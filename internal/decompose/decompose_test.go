package decompose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/llm"
)

func TestDecomposeParsesWellFormedArrayAndResolvesDependsOn(t *testing.T) {
	reply := `[
		{"name": "Create users table", "description": "Add migration", "files": ["migrations/001_users.sql"], "estimatedMinutes": 10},
		{"name": "Add login endpoint", "description": "POST /login", "files": ["api/login.go"], "dependsOn": ["Create Users Table"], "estimatedMinutes": 15}
	]`
	client := &llm.FakeClient{Responses: []llm.Response{{Content: reply}}}
	d := New(client, nil)

	tasks, err := d.Decompose(context.Background(), "proj1", "feat1", "user authentication", Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	byName := map[string]int{}
	for i, task := range tasks {
		byName[task.Name] = i
	}
	login := tasks[byName["Add login endpoint"]]
	require.Len(t, login.DependsOn, 1)
	assert.Equal(t, tasks[byName["Create users table"]].ID, login.DependsOn[0])
}

func TestDecomposeStripsCodeFencedReply(t *testing.T) {
	reply := "```json\n[{\"name\": \"Add button\", \"description\": \"UI button\", \"estimatedMinutes\": 5}]\n```"
	client := &llm.FakeClient{Responses: []llm.Response{{Content: reply}}}
	d := New(client, nil)

	tasks, err := d.Decompose(context.Background(), "proj1", "feat1", "add a button", Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Add button", tasks[0].Name)
}

func TestDecomposeParsesTasksObjectShape(t *testing.T) {
	reply := `{"tasks": [{"name": "Write docs", "description": "README update", "estimatedMinutes": 8}]}`
	client := &llm.FakeClient{Responses: []llm.Response{{Content: reply}}}
	d := New(client, nil)

	tasks, err := d.Decompose(context.Background(), "proj1", "feat1", "document the API", Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestDecomposeAssignsSizeFromEstimatedMinutes(t *testing.T) {
	reply := `[{"name": "Quick fix", "description": "small change", "estimatedMinutes": 8}]`
	client := &llm.FakeClient{Responses: []llm.Response{{Content: reply}}}
	d := New(client, nil)

	tasks, err := d.Decompose(context.Background(), "proj1", "feat1", "fix typo", Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "atomic", string(tasks[0].Size))
}

func TestDecomposeFillsMissingEstimateViaEstimator(t *testing.T) {
	reply := `[{"name": "Rename variable", "description": "cleanup"}]`
	client := &llm.FakeClient{Responses: []llm.Response{{Content: reply}}}
	d := New(client, nil)

	tasks, err := d.Decompose(context.Background(), "proj1", "feat1", "cleanup", Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Greater(t, tasks[0].EstimatedMinutes, 0)
}

func TestDecomposeSplitsOversizedTask(t *testing.T) {
	first := `[{"name": "Build entire auth system", "description": "everything", "files": ["a.go","b.go","c.go","d.go","e.go","f.go"], "estimatedMinutes": 90}]`
	splitReply := `[
		{"name": "Add login handler", "description": "part 1", "estimatedMinutes": 15},
		{"name": "Add session store", "description": "part 2", "estimatedMinutes": 15}
	]`
	client := &llm.FakeClient{Responses: []llm.Response{{Content: first}, {Content: splitReply}}}
	d := New(client, nil)

	tasks, err := d.Decompose(context.Background(), "proj1", "feat1", "build auth", Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.LessOrEqual(t, task.EstimatedMinutes, 30)
	}
	require.Len(t, client.Requests, 2)
}

func TestDecomposeMalformedJSONReturnsParseError(t *testing.T) {
	client := &llm.FakeClient{Responses: []llm.Response{{Content: "not json at all"}}}
	d := New(client, nil)

	_, err := d.Decompose(context.Background(), "proj1", "feat1", "whatever", Options{})
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestDecomposeUnresolvedDependencyLeftAsIsRatherThanDropped(t *testing.T) {
	reply := `[{"name": "Task A", "description": "desc", "dependsOn": ["Nonexistent Task"], "estimatedMinutes": 10}]`
	client := &llm.FakeClient{Responses: []llm.Response{{Content: reply}}}
	d := New(client, nil)

	tasks, err := d.Decompose(context.Background(), "proj1", "feat1", "whatever", Options{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].DependsOn, 1)
	assert.Equal(t, "Nonexistent Task", tasks[0].DependsOn[0])
}
