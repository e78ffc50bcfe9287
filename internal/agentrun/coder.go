package agentrun

import (
	"strings"

	"github.com/nexus-build/nexus/internal/core"
)

// coderSystemPrompt follows the teacher's internal/agent/xml_format.go
// style of XML-tagged instruction blocks rather than plain prose.
const coderSystemPrompt = `<role>
You are an autonomous coding agent implementing a single atomic task.
</role>

<output_format>
Emit each changed or created file as:
### File: path/to/file.ext
` + "```" + `
<full file contents>
` + "```" + `
Follow file blocks with a short explanation of what changed and why.
</output_format>

<completion>
When the task is fully implemented and you have nothing further to add,
reply with the exact marker ` + CompletionMarker + ` on its own line.
</completion>`

// CoderBehavior drives the coder role: produce file blocks until the
// task is implemented.
type CoderBehavior struct{}

func (CoderBehavior) Kind() core.AgentType { return core.AgentCoder }

func (CoderBehavior) SystemPrompt() string { return coderSystemPrompt }

func (CoderBehavior) IsComplete(reply string, _ core.Task) bool {
	return strings.Contains(reply, CompletionMarker)
}

func (CoderBehavior) ContinuationPrompt(task core.Task) string {
	return "Continue implementing \"" + task.Name + "\". Address anything left incomplete from your previous reply. " +
		"When the task is fully done, reply with " + CompletionMarker + "."
}

func (CoderBehavior) RecoveryPrompt(err error) string { return genericRecoveryPrompt(err) }
