package qa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/llm"
)

type scriptedRunner struct {
	output string
	err    error
}

func (s scriptedRunner) Run(_ context.Context, _, _ string) (string, error) {
	return s.output, s.err
}

func TestBuildRunnerParsesTscErrors(t *testing.T) {
	out := "src/foo.ts(10,5): error TS2322: Type 'string' is not assignable to type 'number'.\n" +
		"src/bar.ts(2,1): warning TS6133: 'x' is declared but never used.\n"
	runner := NewBuildRunner(scriptedRunner{output: out, err: assertErr{}}, "/work")
	result := runner.Run(context.Background(), 1)

	assert.False(t, result.Success)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, "src/foo.ts", result.Issues[0].File)
	assert.Equal(t, 10, result.Issues[0].Line)
	assert.Equal(t, "major", result.Issues[0].Severity)
	assert.Equal(t, "warning", result.Issues[1].Severity)
}

func TestBuildRunnerSucceedsWithNoDiagnostics(t *testing.T) {
	runner := NewBuildRunner(scriptedRunner{output: ""}, "/work")
	result := runner.Run(context.Background(), 1)
	assert.True(t, result.Success)
	assert.Empty(t, result.Issues)
}

func TestLintRunnerParsesESLintJSON(t *testing.T) {
	out := `[{"filePath":"a.ts","errorCount":1,"warningCount":0,"fixableErrorCount":1,"fixableWarningCount":0,
	"messages":[{"ruleId":"no-unused-vars","severity":2,"message":"unused","line":3}]}]`
	runner := NewLintRunner(scriptedRunner{output: out, err: assertErr{}}, "/work")
	result, fixable := runner.Run(context.Background(), 1)

	assert.False(t, result.Success)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "major", result.Issues[0].Severity)
	assert.Equal(t, 1, fixable)
}

func TestLintRunnerTreatsUnparseableOutputAsFailure(t *testing.T) {
	runner := NewLintRunner(scriptedRunner{output: "eslint: command not found", err: assertErr{}}, "/work")
	result, fixable := runner.Run(context.Background(), 1)
	assert.False(t, result.Success)
	assert.Equal(t, 0, fixable)
}

func TestTestRunnerTreatsNoTestsFoundAsSuccessWithWarning(t *testing.T) {
	runner := NewTestRunner(scriptedRunner{output: "No test files found, exiting with code 1"}, "/work")
	result := runner.Run(context.Background(), 1)
	assert.True(t, result.Success)
	assert.True(t, result.Warning)
}

func TestTestRunnerTreatsNotInstalledAsSuccessWithWarning(t *testing.T) {
	runner := NewTestRunner(scriptedRunner{output: "sh: vitest: command not found", err: assertErr{}}, "/work")
	result := runner.Run(context.Background(), 1)
	assert.True(t, result.Success)
	assert.True(t, result.Warning)
}

func TestTestRunnerParsesVitestJSON(t *testing.T) {
	out := `{"numTotalTests":2,"numPassedTests":1,"numFailedTests":1,"testResults":[
		{"name":"a.test.ts","assertionResults":[{"fullName":"adds","status":"failed","failureMessages":["expected 2 got 3"]}]}
	]}`
	runner := NewTestRunner(scriptedRunner{output: out, err: assertErr{}}, "/work")
	result := runner.Run(context.Background(), 1)
	assert.False(t, result.Success)
	require.Len(t, result.Issues, 1)
}

func TestTestRunnerFallsBackToRegexSummary(t *testing.T) {
	runner := NewTestRunner(scriptedRunner{output: "3 passed, 1 failed, 0 skipped"}, "/work")
	result := runner.Run(context.Background(), 1)
	assert.False(t, result.Success)
	require.Len(t, result.Issues, 1)
}

type fakeGitDiffer struct{ diff string }

func (f fakeGitDiffer) Diff(_ context.Context, _, _ string) (string, error) { return f.diff, nil }

func TestReviewRunnerParsesVerdict(t *testing.T) {
	client := &llm.FakeClient{Responses: []llm.Response{
		{Content: `{"approved":false,"comments":["nit"],"suggestions":["consider x"],"blockers":["missing nil check"]}`},
	}}
	runner := NewReviewRunner(client, fakeGitDiffer{diff: "diff --git a/x.go b/x.go"})
	result, err := runner.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Issues, 3)
}

func TestReviewRunnerTruncatesOversizedDiff(t *testing.T) {
	client := &llm.FakeClient{Responses: []llm.Response{{Content: `{"approved":true}`}}}
	runner := NewReviewRunner(client, fakeGitDiffer{diff: string(make([]byte, 100))})
	runner.MaxDiffSize = 10
	_, err := runner.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, client.Requests, 1)
	assert.LessOrEqual(t, len(client.Requests[0].Prompt), 40)
}

type assertErr struct{}

func (assertErr) Error() string { return "nonzero exit" }
