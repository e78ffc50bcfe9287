// Package agentrun implements spec.md §4.10's agent runners: the shared
// invoke/parse/continue loop driving one coder, tester, reviewer, or
// merger agent through a single task.
//
// Grounded on internal/executor/task.go's executeTask iteration (the
// attempt loop that invokes the agent, inspects the reply, and either
// returns or retries) and spec.md §9's re-architecture note that this
// should be a capability interface plus a shared loop function rather
// than a base-class-with-protected-hooks hierarchy. Behavior is the
// capability interface; Runner.Execute is the one shared loop every
// concrete role (coder.go, tester.go, reviewer.go, merger.go) reuses by
// embedding a Behavior implementation.
package agentrun

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/llm"
)

// CompletionMarker is the universal completion phrase every role may use
// in addition to its own role-specific detection (spec.md §4.10).
const CompletionMarker = "[TASK_COMPLETE]"

// DefaultMaxIterations and DefaultTimeout are the loop bounds from
// spec.md §4.10; exceeding either escalates the task rather than failing
// it outright.
const (
	DefaultMaxIterations = 50
	DefaultTimeout       = 30 * time.Minute
)

// Behavior is the per-role capability the shared loop drives. Each
// concrete runner (coder, tester, reviewer, merger) supplies one.
type Behavior interface {
	Kind() core.AgentType
	SystemPrompt() string
	IsComplete(reply string, task core.Task) bool
	ContinuationPrompt(task core.Task) string
	RecoveryPrompt(err error) string
}

// AgentRunner is what callers (QALoopEngine, NexusCoordinator) depend on.
type AgentRunner interface {
	Execute(ctx context.Context, task core.Task) (core.TaskResult, error)
	Kind() core.AgentType
}

// Runner wires a Behavior to an llm.Client and implements the shared
// loop. It satisfies AgentRunner.
type Runner struct {
	Behavior
	Client        llm.Client
	Bus           *eventbus.Bus
	MaxIterations int
	Timeout       time.Duration
	// Dir is the working directory the underlying CLI process runs in,
	// normally a task's dedicated worktree path so concurrent agents
	// never write into the same tree. Empty uses the process's own cwd.
	Dir string
	// Model and AgentID key token-usage accounting in the client's
	// TokenMeter (spec.md §4.2). Empty values still accumulate, just
	// unattributed.
	Model   string
	AgentID string
}

// NewRunner builds a Runner with spec.md §4.10's default bounds.
func NewRunner(b Behavior, client llm.Client, bus *eventbus.Bus) *Runner {
	return &Runner{
		Behavior:      b,
		Client:        client,
		Bus:           bus,
		MaxIterations: DefaultMaxIterations,
		Timeout:       DefaultTimeout,
	}
}

// Execute drives the invoke -> check-complete -> continue loop for task,
// resuming the same model session across iterations via Response.SessionID
// so each continuation prompt carries forward conversational context
// instead of restating the whole history.
func (r *Runner) Execute(ctx context.Context, task core.Task) (core.TaskResult, error) {
	maxIter := r.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	prompt := task.Description
	var sessionID string
	var tokensUsed int64
	var lastOutput string

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return r.escalated(task, iter-1, tokensUsed, start, lastOutput, "runner timed out before completion"), nil
		}

		resp, err := r.Client.Complete(ctx, llm.Request{
			Prompt:       prompt,
			SystemPrompt: r.SystemPrompt(),
			ResumeID:     sessionID,
			BypassPerms:  true,
			Dir:          r.Dir,
			Model:        r.Model,
			AgentID:      r.AgentID,
		})
		if err != nil {
			if r.Bus != nil {
				r.Bus.Emit("agent:error", map[string]interface{}{
					"taskId": task.ID, "kind": r.Kind(), "iteration": iter, "error": err.Error(),
				}, "agentrun", "")
			}
			prompt = r.RecoveryPrompt(err)
			continue
		}

		sessionID = resp.SessionID
		tokensUsed += resp.InputTokens + resp.OutputTokens
		lastOutput = resp.Content

		if r.IsComplete(resp.Content, task) {
			return core.TaskResult{
				TaskID:     task.ID,
				Outcome:    core.OutcomeSuccess,
				Output:     resp.Content,
				Iterations: iter,
				Duration:   time.Since(start),
				TokensUsed: tokensUsed,
			}, nil
		}

		prompt = r.ContinuationPrompt(task)
	}

	return r.escalated(task, maxIter, tokensUsed, start, lastOutput, "max iterations exceeded"), nil
}

func (r *Runner) escalated(task core.Task, iterations int, tokensUsed int64, start time.Time, lastOutput, reason string) core.TaskResult {
	return core.TaskResult{
		TaskID:     task.ID,
		Outcome:    core.OutcomeEscalated,
		Reason:     reason,
		Output:     lastOutput,
		Iterations: iterations,
		Duration:   time.Since(start),
		TokensUsed: tokensUsed,
	}
}

// genericRecoveryPrompt is shared by every role: restate the failure and
// ask the model to retry.
func genericRecoveryPrompt(err error) string {
	return fmt.Sprintf("Your previous attempt raised an error and produced no usable output: %v\nPlease retry, adjusting your approach to avoid the same failure.", err)
}
