// Package qaloop implements spec.md §4.12's QALoopEngine: drive a
// coder agent and the four QA steps (build, lint, test, review) around
// one task until every enabled step passes or the iteration budget is
// exhausted.
//
// Grounded directly on internal/executor/qc.go's verdict-driven retry
// shape plus the attempt loop embedded in internal/executor/task.go's
// executeTask (collect failures into a compact text block, feed it back
// to the coder, try again), lifted into its own package and stripped of
// the teacher's conductor-only hooks (pattern intelligence, architecture
// checkpoint, learning store) which are out of scope here.
package qaloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-build/nexus/internal/agentrun"
	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// DefaultMaxIterations matches spec.md §4.12.
const DefaultMaxIterations = 50

// emptyErrorEscalationThreshold is the consecutive-iteration count of a
// failing build with zero parseable errors after which the loop
// escalates immediately rather than retry forever against output it
// cannot turn into actionable feedback (spec.md §4.12's guard).
const emptyErrorEscalationThreshold = 3

// Step runs one QA stage and returns its result. Build/Lint/Test share
// this shape via small adapter closures; Review additionally needs the
// working directory's current diff so it returns an error too.
type Step func(ctx context.Context, iteration int) (core.QAStepResult, error)

// Tracer receives a span boundary around one QA loop iteration, tagged
// with the task's correlation id. Satisfied by internal/metrics.Tracer;
// left nil, iterations are untraced.
type Tracer interface {
	StartIteration(ctx context.Context, taskID string, iteration int) (context.Context, func())
}

// Config configures one QALoopEngine run.
type Config struct {
	Coder              agentrun.AgentRunner // optional: nil skips initial code generation
	Build              Step                 // nil disables the build step
	Lint               Step                 // nil disables the lint step
	Test               Step                 // nil disables the test step
	Review             Step                 // nil disables the review step
	MaxIterations      int                  // 0 => DefaultMaxIterations
	StopOnFirstFailure bool
	Bus                *eventbus.Bus
	Tracer             Tracer // optional: nil disables span emission
}

// Result is what QALoopEngine.Run returns for one task.
type Result struct {
	Success    bool
	Escalated  bool
	Reason     string
	Iterations int
	LastBuild  core.QAStepResult
	LastLint   core.QAStepResult
	LastTest   core.QAStepResult
	LastReview core.QAStepResult
}

// Engine drives the coder<->QA loop for one task.
type Engine struct {
	cfg Config
}

// New builds an Engine from cfg, applying defaults.
func New(cfg Config) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Engine{cfg: cfg}
}

// Run drives the loop for task.
func (e *Engine) Run(ctx context.Context, task core.Task) (Result, error) {
	if e.cfg.Coder != nil {
		if _, err := e.cfg.Coder.Execute(ctx, task); err != nil {
			return Result{}, fmt.Errorf("qaloop: initial coder invocation: %w", err)
		}
	}

	var result Result
	emptyBuildErrorStreak := 0

	for iter := 1; iter <= e.cfg.MaxIterations; iter++ {
		result.Iterations = iter
		iterCtx := ctx
		endSpan := func() {}
		if e.cfg.Tracer != nil {
			iterCtx, endSpan = e.cfg.Tracer.StartIteration(ctx, task.ID, iter)
		}

		done, err := e.runIteration(iterCtx, task, iter, &result, &emptyBuildErrorStreak)
		endSpan()
		if err != nil {
			return Result{}, err
		}
		if done {
			return result, nil
		}
	}

	result.Escalated = true
	result.Reason = "Max QA iterations exceeded"
	e.emit("qaloop:escalated", task, result.Iterations)
	return result, nil
}

// runIteration runs one build/lint/test/review pass and, on failure, the
// coder's feedback retry. It reports done=true once result is final
// (success or escalation) so Run can return without looping further.
func (e *Engine) runIteration(ctx context.Context, task core.Task, iter int, result *Result, emptyBuildErrorStreak *int) (bool, error) {
	var failures []core.QAStepResult
	var failureText []string

	stepOrder := []struct {
		kind core.QAStepKind
		step Step
		set  func(core.QAStepResult)
	}{
		{core.QABuild, e.cfg.Build, func(r core.QAStepResult) { result.LastBuild = r }},
		{core.QALint, e.cfg.Lint, func(r core.QAStepResult) { result.LastLint = r }},
		{core.QATest, e.cfg.Test, func(r core.QAStepResult) { result.LastTest = r }},
		{core.QAReview, e.cfg.Review, func(r core.QAStepResult) { result.LastReview = r }},
	}

	for _, s := range stepOrder {
		if s.step == nil {
			continue
		}
		stepResult, err := s.step(ctx, iter)
		if err != nil {
			return false, fmt.Errorf("qaloop: %s step: %w", s.kind, err)
		}
		s.set(stepResult)

		if s.kind == core.QABuild {
			if !stepResult.Success && len(stepResult.Issues) == 0 {
				*emptyBuildErrorStreak++
			} else {
				*emptyBuildErrorStreak = 0
			}
		}

		if !stepResult.Success {
			failures = append(failures, stepResult)
			failureText = append(failureText, formatStepFailure(stepResult))
			if e.cfg.StopOnFirstFailure {
				break
			}
		}
	}

	if len(failures) == 0 {
		result.Success = true
		e.emit("qaloop:passed", task, iter)
		return true, nil
	}

	if *emptyBuildErrorStreak >= emptyErrorEscalationThreshold {
		result.Escalated = true
		result.Reason = "build failed with no parseable errors for too many iterations"
		e.emit("qaloop:escalated", task, iter)
		return true, nil
	}

	if e.cfg.Coder != nil {
		feedbackTask := task
		feedbackTask.Description = task.Description + "\n\nThe previous attempt failed QA:\n" + strings.Join(failureText, "\n")
		if _, err := e.cfg.Coder.Execute(ctx, feedbackTask); err != nil {
			return false, fmt.Errorf("qaloop: coder retry invocation: %w", err)
		}
	}

	return false, nil
}

func (e *Engine) emit(eventType core.EventType, task core.Task, iteration int) {
	if e.cfg.Bus == nil {
		return
	}
	e.cfg.Bus.Emit(eventType, map[string]interface{}{
		"taskId": task.ID, "iteration": iteration,
	}, "qaloop", "")
}

// formatStepFailure renders one failed QAStepResult as a compact text
// block suitable for appending to a coder retry prompt.
func formatStepFailure(r core.QAStepResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s failed]", r.Step)
	for _, issue := range r.Issues {
		loc := issue.File
		if issue.Line > 0 {
			loc = fmt.Sprintf("%s:%d", issue.File, issue.Line)
		}
		fmt.Fprintf(&sb, "\n- (%s) %s: %s", issue.Severity, loc, issue.Message)
	}
	if len(r.Issues) == 0 && r.Raw != "" {
		raw := r.Raw
		if len(raw) > 2000 {
			raw = raw[:2000] + "...(truncated)"
		}
		fmt.Fprintf(&sb, "\n%s", raw)
	}
	return sb.String()
}
