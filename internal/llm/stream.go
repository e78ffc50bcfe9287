package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// ChunkKind enumerates the streaming chunk variants from spec.md §4.2's
// chatStream contract: an async sequence of {text|tool_use|done|error}.
type ChunkKind string

const (
	ChunkText    ChunkKind = "text"
	ChunkToolUse ChunkKind = "tool_use"
	ChunkDone    ChunkKind = "done"
	ChunkError   ChunkKind = "error"
)

// StreamChunk is one element of the sequence ChatStream produces.
type StreamChunk struct {
	Kind ChunkKind
	Text string
	Err  error
}

// ChatStream implements Client's streaming half. It runs the same CLI
// invocation buildCommand assembles for Complete, but attaches the
// subprocess's stdout/stderr to a pty — github.com/creack/pty, the same
// approach re-cinq-detergent's internal/engine/engine.go uses for its own
// agent subprocess — instead of buffering the whole run via
// CombinedOutput, so partial output reaches the caller one line at a time
// instead of only at process exit. The buffered output is still parsed
// through ParseResponse once the process exits, delivered in the final
// chunk alongside ChunkDone.
func (c *CLIClient) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("llm: prompt is required")
	}

	binPath := c.binaryPath()
	cmd := c.buildCommand(ctx, req)

	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("llm: open pty: %w", err)
	}
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		pts.Close()
		ptmx.Close()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &CLINotFoundError{Path: binPath}
		}
		return nil, &CLIError{Detail: err.Error()}
	}
	pts.Close() // slave is inherited by the child; the parent only reads ptmx.

	out := make(chan StreamChunk, 16)
	go c.streamOutput(cmd, ptmx, req, out)
	return out, nil
}

// streamOutput reads ptmx line by line, emitting a ChunkText chunk per
// line, until the child exits. An EIO on the pty master at process exit
// is the normal Unix pty teardown signal, not a read failure, matching
// re-cinq-detergent's own io.Copy-and-ignore-EIO handling.
func (c *CLIClient) streamOutput(cmd *exec.Cmd, ptmx *os.File, req Request, out chan<- StreamChunk) {
	defer close(out)
	defer ptmx.Close()

	var buf bytes.Buffer
	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		out <- StreamChunk{Kind: ChunkText, Text: line}
	}
	if serr := scanner.Err(); serr != nil {
		var pathErr *os.PathError
		if !(errors.As(serr, &pathErr) && pathErr.Err == syscall.EIO) {
			out <- StreamChunk{Kind: ChunkError, Err: &CLIError{Detail: serr.Error(), Output: buf.String()}}
			return
		}
	}

	if err := cmd.Wait(); err != nil {
		out <- StreamChunk{Kind: ChunkError, Err: classifyCLIError(err.Error(), buf.String())}
		return
	}

	content, _, perr := ParseResponse(buf.Bytes())
	if perr != nil {
		out <- StreamChunk{Kind: ChunkError, Err: &CLIError{Detail: perr.Error(), Output: buf.String()}}
		return
	}

	if c.Meter != nil {
		inTok := c.Meter.Count(req.Prompt)
		outTok := c.Meter.Count(content)
		c.Meter.Record(req.Model, req.AgentID, inTok, outTok)
	}

	out <- StreamChunk{Kind: ChunkDone, Text: content}
}
