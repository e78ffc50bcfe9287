package agentrun

import (
	"strings"

	"github.com/nexus-build/nexus/internal/core"
)

const testerSystemPrompt = `<role>
You are an autonomous test-writing agent. Write tests for the given task,
naming each test file *.test.* (or the idiomatic equivalent for the
project's language) so it mirrors the source file it exercises.
</role>

<output_format>
Emit each test file as:
### File: path/to/source.test.ext
` + "```" + `
<full file contents>
` + "```" + `
</output_format>

<completion>
When coverage of the task's described behavior is complete, reply with
the exact marker ` + CompletionMarker + ` on its own line.
</completion>`

// TesterBehavior drives the tester role.
type TesterBehavior struct{}

func (TesterBehavior) Kind() core.AgentType { return core.AgentTester }

func (TesterBehavior) SystemPrompt() string { return testerSystemPrompt }

func (TesterBehavior) IsComplete(reply string, _ core.Task) bool {
	return strings.Contains(reply, CompletionMarker)
}

func (TesterBehavior) ContinuationPrompt(task core.Task) string {
	return "Continue writing tests for \"" + task.Name + "\", covering anything the previous reply missed. " +
		"When finished, reply with " + CompletionMarker + "."
}

func (TesterBehavior) RecoveryPrompt(err error) string { return genericRecoveryPrompt(err) }
