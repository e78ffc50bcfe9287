package agentrun

import (
	"encoding/json"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
)

const mergerSystemPrompt = `<role>
You are an automated merge-conflict resolver. Analyze the conflicted
hunks you are given and propose a resolution for each.
</role>

<output_format>
Reply with ONLY strict JSON matching this shape, no markdown fences, no
prose before or after:
{
  "resolutions": [
    {"file": "string", "strategy": "string",
     "complexity": "trivial|moderate|complex|critical|delete-modify|needsManualReview",
     "resolvedContent": "string"}
  ],
  "summary": "string"
}
</output_format>`

// ConflictResolution is one proposed resolution for a conflicted file.
type ConflictResolution struct {
	File            string `json:"file"`
	Strategy        string `json:"strategy"`
	Complexity      string `json:"complexity"`
	ResolvedContent string `json:"resolvedContent"`
}

// MergerVerdict is the merger agent's strict-JSON reply, parsed.
type MergerVerdict struct {
	Resolutions []ConflictResolution `json:"resolutions"`
	Summary     string               `json:"summary"`
}

// forbiddenAutoApplyComplexity lists the complexity ratings that forbid
// auto-completing a merge, per spec.md §4.10.
var forbiddenAutoApplyComplexity = map[string]bool{
	"critical":          true,
	"complex":           true,
	"delete-modify":     true,
	"needsManualReview": true,
}

// ParseMergerVerdict parses the merger agent's reply as strict JSON.
func ParseMergerVerdict(reply string) (*MergerVerdict, error) {
	var v MergerVerdict
	if err := json.Unmarshal([]byte(reply), &v); err != nil {
		return nil, fmt.Errorf("agentrun: merger reply is not valid JSON: %w", err)
	}
	return &v, nil
}

// CanAutoApply reports whether every proposed resolution is simple
// enough to apply without human review.
func CanAutoApply(v *MergerVerdict) bool {
	if v == nil || len(v.Resolutions) == 0 {
		return false
	}
	for _, r := range v.Resolutions {
		if forbiddenAutoApplyComplexity[r.Complexity] {
			return false
		}
	}
	return true
}

// MergerBehavior drives the merger role: propose conflict resolutions as
// JSON. A well-formed reply completes the loop; CanAutoApply decides
// whether the caller may apply it unattended or must escalate.
type MergerBehavior struct{}

func (MergerBehavior) Kind() core.AgentType { return core.AgentMerger }

func (MergerBehavior) SystemPrompt() string { return mergerSystemPrompt }

func (MergerBehavior) IsComplete(reply string, _ core.Task) bool {
	_, err := ParseMergerVerdict(reply)
	return err == nil
}

func (MergerBehavior) ContinuationPrompt(_ core.Task) string {
	return "Your previous reply was not valid JSON matching the required schema. " +
		"Reply again with ONLY the strict JSON object described in your instructions."
}

func (MergerBehavior) RecoveryPrompt(err error) string { return genericRecoveryPrompt(err) }
