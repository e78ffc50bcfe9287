package qa

import (
	"context"
	"encoding/json"

	"github.com/nexus-build/nexus/internal/core"
)

// DefaultLintCommand matches spec.md §4.11's eslint invocation.
const DefaultLintCommand = "eslint . --format=json"

// eslintFileResult mirrors eslint's --format=json per-file shape.
type eslintFileResult struct {
	FilePath            string `json:"filePath"`
	ErrorCount          int    `json:"errorCount"`
	WarningCount        int    `json:"warningCount"`
	FixableErrorCount   int    `json:"fixableErrorCount"`
	FixableWarningCount int    `json:"fixableWarningCount"`
	Messages            []struct {
		RuleID   string `json:"ruleId"`
		Severity int    `json:"severity"`
		Message  string `json:"message"`
		Line     int    `json:"line"`
	} `json:"messages"`
}

// LintRunner runs the project's linter.
type LintRunner struct {
	Runner  CommandRunner
	Dir     string
	Command string
	Fix     bool
}

// NewLintRunner builds a LintRunner with the default eslint command.
func NewLintRunner(runner CommandRunner, dir string) *LintRunner {
	return &LintRunner{Runner: runner, Dir: dir, Command: DefaultLintCommand}
}

// Run executes the lint command and parses eslint's JSON output. Its
// second return value is the total fixable-error-plus-warning count across
// every file, surfaced separately since spec.md §4.11 calls it out
// alongside the per-issue ruleId.
func (l *LintRunner) Run(ctx context.Context, iteration int) (core.QAStepResult, int) {
	cmd := l.Command
	if cmd == "" {
		cmd = DefaultLintCommand
	}
	if l.Fix {
		cmd += " --fix"
	}
	out, _, dur := timed(func() (string, error) { return l.Runner.Run(ctx, l.Dir, cmd) })

	result := core.QAStepResult{
		Step:      core.QALint,
		Raw:       out,
		Duration:  dur,
		Iteration: iteration,
	}

	var files []eslintFileResult
	if jsonErr := json.Unmarshal([]byte(out), &files); jsonErr != nil {
		// eslint failed before producing JSON (misconfiguration, crash).
		result.Success = false
		result.Issues = append(result.Issues, core.QAIssue{
			Severity: "major", Category: "lint", Message: "eslint did not produce parseable JSON output",
		})
		return result, 0
	}

	fixable := 0
	errorCount := 0
	for _, f := range files {
		fixable += f.FixableErrorCount + f.FixableWarningCount
		errorCount += f.ErrorCount
		for _, m := range f.Messages {
			severity := "minor"
			if m.Severity >= 2 {
				severity = "major"
			}
			result.Issues = append(result.Issues, core.QAIssue{
				File: f.FilePath, Line: m.Line, Severity: severity, Category: m.RuleID, Message: m.Message,
			})
		}
	}

	result.Success = errorCount == 0
	return result, fixable
}
