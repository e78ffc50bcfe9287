package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCLIScript writes a tiny shell script standing in for the `claude`
// binary: it ignores whatever flags buildArgs passed it ($1, $2, ... are
// simply unused) and prints fixed JSON-wrapper output line by line, the
// same shape a real CLI invocation's CombinedOutput would return.
func fakeCLIScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestChatStreamEmitsTextThenDone(t *testing.T) {
	bin := fakeCLIScript(t, `echo 'line one'
echo 'line two'
echo '{"result":"done"}'`)

	c := &CLIClient{BinaryPath: bin, Meter: NewTokenMeter()}
	ch, err := c.ChatStream(context.Background(), Request{Prompt: "hi", Model: "claude-sonnet-4-5", AgentID: "agent-1"})
	require.NoError(t, err)

	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}

	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, ChunkDone, last.Kind)
	assert.Equal(t, "done", last.Text)

	var sawText bool
	for _, chunk := range chunks[:len(chunks)-1] {
		if chunk.Kind == ChunkText {
			sawText = true
		}
	}
	assert.True(t, sawText, "expected at least one ChunkText chunk before ChunkDone")

	input, output := c.Meter.Usage("claude-sonnet-4-5", "agent-1")
	assert.Greater(t, input+output, int64(0))
}

func TestChatStreamSurfacesNonZeroExit(t *testing.T) {
	bin := fakeCLIScript(t, `echo 'boom' >&2
exit 1`)

	c := &CLIClient{BinaryPath: bin}
	ch, err := c.ChatStream(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)

	var last StreamChunk
	for chunk := range ch {
		last = chunk
	}
	assert.Equal(t, ChunkError, last.Kind)
	assert.Error(t, last.Err)
}

func TestChatStreamRequiresPrompt(t *testing.T) {
	c := &CLIClient{}
	_, err := c.ChatStream(context.Background(), Request{})
	assert.Error(t, err)
}
