package agentrun

import (
	"encoding/json"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
)

const reviewerSystemPrompt = `<role>
You are an automated code reviewer. Review the task's changes for
correctness, safety, and quality.
</role>

<output_format>
Reply with ONLY strict JSON matching this shape, no markdown fences, no
prose before or after:
{
  "approved": true|false,
  "issues": [
    {"severity": "critical|major|minor|warning", "category": "string",
     "file": "string", "line": 0, "message": "string", "suggestion": "string"}
  ],
  "suggestions": ["string"],
  "summary": "string"
}
` + "`line`" + ` and ` + "`suggestion`" + ` may be omitted per issue when not applicable.
</output_format>`

// ReviewIssue is one problem the reviewer surfaced.
type ReviewIssue struct {
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ReviewVerdict is the reviewer's strict-JSON reply, parsed.
type ReviewVerdict struct {
	Approved    bool          `json:"approved"`
	Issues      []ReviewIssue `json:"issues"`
	Suggestions []string      `json:"suggestions"`
	Summary     string        `json:"summary"`
}

// ParseReviewVerdict parses the reviewer's reply as strict JSON.
func ParseReviewVerdict(reply string) (*ReviewVerdict, error) {
	var v ReviewVerdict
	if err := json.Unmarshal([]byte(reply), &v); err != nil {
		return nil, fmt.Errorf("agentrun: reviewer reply is not valid JSON: %w", err)
	}
	return &v, nil
}

// EffectiveApproval enforces spec.md §4.10's override: the model's stated
// verdict is disregarded in favor of a hard rule, zero critical issues
// and at most two major issues, regardless of what "approved" says.
func EffectiveApproval(v *ReviewVerdict) bool {
	if v == nil {
		return false
	}
	critical, major := 0, 0
	for _, issue := range v.Issues {
		switch issue.Severity {
		case "critical":
			critical++
		case "major":
			major++
		}
	}
	return critical == 0 && major <= 2
}

// ReviewerBehavior drives the reviewer role: a single well-formed JSON
// reply completes the loop; malformed JSON triggers a continuation
// asking for a corrected reply.
type ReviewerBehavior struct{}

func (ReviewerBehavior) Kind() core.AgentType { return core.AgentReviewer }

func (ReviewerBehavior) SystemPrompt() string { return reviewerSystemPrompt }

func (ReviewerBehavior) IsComplete(reply string, _ core.Task) bool {
	_, err := ParseReviewVerdict(reply)
	return err == nil
}

func (ReviewerBehavior) ContinuationPrompt(_ core.Task) string {
	return "Your previous reply was not valid JSON matching the required schema. " +
		"Reply again with ONLY the strict JSON object described in your instructions."
}

func (ReviewerBehavior) RecoveryPrompt(err error) string { return genericRecoveryPrompt(err) }
