package qa

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/llm"
)

// DefaultMaxDiffSize truncates an oversized diff before sending it to the
// model, per spec.md §4.11.
const DefaultMaxDiffSize = 20_000

const reviewSystemPrompt = `<role>
You are an automated code reviewer examining a git diff for correctness,
safety, and quality issues.
</role>

<output_format>
Reply with ONLY strict JSON, no markdown fences, no prose:
{"approved": true|false, "comments": ["string"], "suggestions": ["string"], "blockers": ["string"]}
A non-empty "blockers" list means approved must be false.
</output_format>`

// GitDiffer is the narrow capability ReviewRunner needs from GitService.
type GitDiffer interface {
	Diff(ctx context.Context, from, to string) (string, error)
}

// reviewStepVerdict is the AI reviewer's strict-JSON reply.
type reviewStepVerdict struct {
	Approved    bool     `json:"approved"`
	Comments    []string `json:"comments"`
	Suggestions []string `json:"suggestions"`
	Blockers    []string `json:"blockers"`
}

// ReviewRunner drives an LLM-based review of the current diff.
type ReviewRunner struct {
	Client      llm.Client
	Git         GitDiffer
	MaxDiffSize int
}

// NewReviewRunner builds a ReviewRunner with the default diff size cap.
func NewReviewRunner(client llm.Client, git GitDiffer) *ReviewRunner {
	return &ReviewRunner{Client: client, Git: git, MaxDiffSize: DefaultMaxDiffSize}
}

// Run diffs the working tree against HEAD (covering both staged and
// unstaged changes), sends it to the model, and parses the verdict.
func (r *ReviewRunner) Run(ctx context.Context, iteration int) (core.QAStepResult, error) {
	result := core.QAStepResult{Step: core.QAReview, Iteration: iteration}

	diff, err := r.Git.Diff(ctx, "HEAD", "")
	if err != nil {
		return result, fmt.Errorf("qa: review: diffing working tree: %w", err)
	}

	maxSize := r.MaxDiffSize
	if maxSize <= 0 {
		maxSize = DefaultMaxDiffSize
	}
	if len(diff) > maxSize {
		diff = diff[:maxSize] + "\n...(diff truncated)"
	}

	resp, err := r.Client.Complete(ctx, llm.Request{Prompt: diff, SystemPrompt: reviewSystemPrompt})
	if err != nil {
		return result, fmt.Errorf("qa: review: llm call failed: %w", err)
	}
	result.Raw = resp.Content

	var verdict reviewStepVerdict
	if err := json.Unmarshal([]byte(resp.Content), &verdict); err != nil {
		result.Success = false
		result.Issues = append(result.Issues, core.QAIssue{
			Severity: "major", Category: "review", Message: "reviewer reply was not valid JSON",
		})
		return result, nil
	}

	for _, b := range verdict.Blockers {
		result.Issues = append(result.Issues, core.QAIssue{Severity: "critical", Category: "review", Message: b})
	}
	for _, c := range verdict.Comments {
		result.Issues = append(result.Issues, core.QAIssue{Severity: "minor", Category: "review", Message: c})
	}
	for _, s := range verdict.Suggestions {
		result.Issues = append(result.Issues, core.QAIssue{Severity: "warning", Category: "suggestion", Message: s})
	}

	result.Success = verdict.Approved && len(verdict.Blockers) == 0
	return result, nil
}
