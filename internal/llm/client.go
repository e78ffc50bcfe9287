// Package llm defines the LLMClient capability interface used by every
// agent and QA runner to talk to a language model, plus a CLI-backed
// implementation. Grounded on the teacher's internal/claude package,
// generalized per spec.md §9 ("depend on an LLMClient capability
// interface, not a concrete Claude-CLI struct") so runners can be tested
// against a fake without shelling out.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// DefaultSystemPrompt enforces strict JSON-only output from the model,
// matching the teacher's invoker default.
const DefaultSystemPrompt = "You are a developer assistant. Your ONLY output must be valid JSON matching the provided schema. No markdown, no code fences, no XML tags, no prose, no explanations. Output raw JSON only."

// Request holds per-call configuration for a model invocation.
type Request struct {
	Prompt       string
	SystemPrompt string // overrides the client default when non-empty
	Schema       string // JSON schema text enforcing structured output
	AgentJSON    string // serialized agent role definition
	ResumeID     string // session id to resume, used for rate-limit recovery
	BypassPerms  bool
	Dir          string // working directory the CLI process runs in, e.g. a task's worktree
	Model        string // model identifier, used to key token-usage accounting
	AgentID      string // calling agent's id, used to key token-usage accounting
}

// Response holds a completed invocation's parsed content.
type Response struct {
	Content      string
	RawOutput    []byte
	SessionID    string
	InputTokens  int64
	OutputTokens int64
}

// Client is the capability interface every agent/QA runner depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)

	// ChatStream is Complete's streaming counterpart (spec.md §4.2): an
	// async sequence of chunks instead of one buffered response. The
	// returned channel is closed once a ChunkDone or ChunkError chunk has
	// been sent.
	ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// Error taxonomy (spec.md §7): each invocation failure is classified into
// exactly one of these so callers can decide whether to retry, back off,
// or escalate.
type AuthenticationError struct{ Detail string }

func (e *AuthenticationError) Error() string { return "llm: authentication failed: " + e.Detail }

type RateLimitError struct {
	Detail  string
	ResetIn string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm: rate limited: %s (resets in %s)", e.Detail, e.ResetIn)
}

type TimeoutError struct{ Detail string }

func (e *TimeoutError) Error() string { return "llm: timed out: " + e.Detail }

type APIError struct {
	Detail string
	Status int
}

func (e *APIError) Error() string { return fmt.Sprintf("llm: api error (%d): %s", e.Status, e.Detail) }

type CLINotFoundError struct{ Path string }

func (e *CLINotFoundError) Error() string { return "llm: CLI binary not found: " + e.Path }

type CLIError struct {
	Detail string
	Output string
}

func (e *CLIError) Error() string { return "llm: CLI invocation failed: " + e.Detail }

// IsRetryable reports whether err is a class of failure worth retrying
// (rate limits and timeouts), as opposed to auth/CLI-missing failures
// that will not resolve themselves.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	var to *TimeoutError
	return errors.As(err, &rl) || errors.As(err, &to)
}
