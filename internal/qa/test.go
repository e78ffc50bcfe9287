package qa

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/nexus-build/nexus/internal/core"
)

// DefaultTestCommand matches spec.md §4.11's vitest invocation.
const DefaultTestCommand = "vitest run --reporter=json"

// vitestJSONResult mirrors the subset of vitest's --reporter=json shape
// this runner needs.
type vitestJSONResult struct {
	NumTotalTests  int `json:"numTotalTests"`
	NumPassedTests int `json:"numPassedTests"`
	NumFailedTests int `json:"numFailedTests"`
	NumPendingTests int `json:"numPendingTests"`
	TestResults    []struct {
		Name              string `json:"name"`
		AssertionResults []struct {
			FullName        string `json:"fullName"`
			Status          string `json:"status"`
			FailureMessages []string `json:"failureMessages"`
		} `json:"assertionResults"`
	} `json:"testResults"`
	Coverage map[string]interface{} `json:"coverageMap,omitempty"`
}

// noInstallOrNoTestsPattern recognizes the two "nothing to check"
// conditions spec.md §4.11 says must never block a project: the test
// runner binary is missing, or the project simply has no test files yet.
var noInstallOrNoTestsPattern = regexp.MustCompile(`(?i)(command not found|not installed|no test files found|no tests found)`)

// TestRunner runs the project's test suite.
type TestRunner struct {
	Runner  CommandRunner
	Dir     string
	Command string
}

// NewTestRunner builds a TestRunner with the default vitest command.
func NewTestRunner(runner CommandRunner, dir string) *TestRunner {
	return &TestRunner{Runner: runner, Dir: dir, Command: DefaultTestCommand}
}

func (r *TestRunner) Run(ctx context.Context, iteration int) core.QAStepResult {
	cmd := r.Command
	if cmd == "" {
		cmd = DefaultTestCommand
	}
	out, _, dur := timed(func() (string, error) { return r.Runner.Run(ctx, r.Dir, cmd) })

	result := core.QAStepResult{Step: core.QATest, Raw: out, Duration: dur, Iteration: iteration}

	if noInstallOrNoTestsPattern.MatchString(out) {
		result.Success = true
		result.Warning = true
		return result
	}

	var parsed vitestJSONResult
	if err := json.Unmarshal([]byte(out), &parsed); err == nil && parsed.NumTotalTests > 0 {
		result.Success = parsed.NumFailedTests == 0
		for _, tr := range parsed.TestResults {
			for _, ar := range tr.AssertionResults {
				if ar.Status != "failed" {
					continue
				}
				result.Issues = append(result.Issues, core.QAIssue{
					File: tr.Name, Severity: "major", Category: "test",
					Message: ar.FullName + ": " + strings.Join(ar.FailureMessages, "; "),
				})
			}
		}
		return result
	}

	return regexSummaryFallback(result, out)
}

// testSummaryPattern matches a loose "N passed, M failed" style summary
// line for test runners that don't support a JSON reporter.
var testSummaryPattern = regexp.MustCompile(`(?i)(\d+)\s+passed.*?(\d+)\s+failed`)

func regexSummaryFallback(result core.QAStepResult, out string) core.QAStepResult {
	m := testSummaryPattern.FindStringSubmatch(out)
	if m == nil {
		// Cannot determine pass/fail from output at all; treat as a
		// failure with no issues attached, leaving the raw output in
		// Raw for the coder's retry feedback.
		result.Success = false
		return result
	}
	failed, _ := strconv.Atoi(m[2])
	result.Success = failed == 0
	if failed > 0 {
		result.Issues = append(result.Issues, core.QAIssue{
			Severity: "major", Category: "test",
			Message: strconv.Itoa(failed) + " test(s) failed (summary parsed via fallback regex)",
		})
	}
	return result
}
