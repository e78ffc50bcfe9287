package qa

import (
	"context"
	"regexp"
	"strconv"

	"github.com/nexus-build/nexus/internal/core"
)

// DefaultBuildCommand matches spec.md §4.11's tsc invocation; callers
// targeting another toolchain override Command.
const DefaultBuildCommand = "tsc --noEmit -p tsconfig.json"

// buildErrorPattern matches "file(line,col): error Txxxx: msg" lines,
// the tsc diagnostic format spec.md §4.11 names explicitly.
var buildErrorPattern = regexp.MustCompile(`(?m)^(.+?)\((\d+),(\d+)\):\s+(error|warning)\s+(\w+):\s+(.*)$`)

// BuildRunner runs the project's type-check/build step.
type BuildRunner struct {
	Runner  CommandRunner
	Dir     string
	Command string
}

// NewBuildRunner builds a BuildRunner with the default tsc command.
func NewBuildRunner(runner CommandRunner, dir string) *BuildRunner {
	return &BuildRunner{Runner: runner, Dir: dir, Command: DefaultBuildCommand}
}

// Run executes the build command and parses its diagnostics.
func (b *BuildRunner) Run(ctx context.Context, iteration int) core.QAStepResult {
	cmd := b.Command
	if cmd == "" {
		cmd = DefaultBuildCommand
	}
	out, err, dur := timed(func() (string, error) { return b.Runner.Run(ctx, b.Dir, cmd) })

	result := core.QAStepResult{
		Step:      core.QABuild,
		Success:   err == nil,
		Raw:       out,
		Duration:  dur,
		Iteration: iteration,
	}

	matches := buildErrorPattern.FindAllStringSubmatch(out, -1)
	for _, m := range matches {
		line, _ := strconv.Atoi(m[2])
		severity := "major"
		if m[4] == "warning" {
			severity = "warning"
		}
		result.Issues = append(result.Issues, core.QAIssue{
			File:     m[1],
			Line:     line,
			Severity: severity,
			Category: m[5],
			Message:  m[6],
		})
	}
	return result
}
