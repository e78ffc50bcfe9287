package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CLIClient invokes a local `claude`-compatible CLI binary per request and
// parses its JSON-wrapper output. Grounded on internal/claude/invoker.go's
// Invoker, generalized to implement the Client capability interface so
// agent/QA runners can swap in a fake for tests.
type CLIClient struct {
	BinaryPath   string
	Timeout      time.Duration
	SystemPrompt string
	Waiter       *Waiter
	Meter        *TokenMeter
}

// NewCLIClient creates a CLIClient with the teacher's defaults: binary
// "claude" on PATH, strict-JSON system prompt, a 6h/15m/30s rate-limit
// waiter (teacher used 24h/15s/30s for same-process recovery; Nexus caps
// at 6h since a stalled agent still holds worktree+pool capacity).
func NewCLIClient(meter *TokenMeter) *CLIClient {
	return &CLIClient{
		BinaryPath:   "claude",
		SystemPrompt: DefaultSystemPrompt,
		Waiter:       NewWaiter(6*time.Hour, 15*time.Minute, 30*time.Second, nil),
		Meter:        meter,
	}
}

// Complete implements Client. It retries once after waiting out a detected
// rate limit, matching internal/claude/invoker.go's Invoke retry pattern.
func (c *CLIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctxToUse := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	resp, err := c.invoke(ctxToUse, req)
	if err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) && c.Waiter != nil {
			info := &RateLimitInfo{ResetAt: time.Now().Add(parseResetDuration(rl.ResetIn))}
			if c.Waiter.ShouldWait(info) {
				if waitErr := c.Waiter.WaitForReset(ctxToUse, info); waitErr != nil {
					return nil, waitErr
				}
				return c.invoke(ctxToUse, req)
			}
		}
		return nil, err
	}
	return resp, nil
}

func parseResetDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// buildArgs assembles the CLI argument vector shared by invoke and
// ChatStream, so the two invocation paths never drift in what they pass
// to the subprocess.
func (c *CLIClient) buildArgs(req Request) []string {
	args := []string{}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	if req.AgentJSON != "" {
		args = append(args, "--agents", req.AgentJSON)
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = c.SystemPrompt
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	args = append(args, "--system-prompt", systemPrompt)
	args = append(args, "-p", req.Prompt)

	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	args = append(args, "--output-format", "json")
	if req.BypassPerms {
		args = append(args, "--permission-mode", "bypassPermissions")
	}
	args = append(args, "--settings", `{"disableAllHooks": true}`)
	return args
}

func (c *CLIClient) binaryPath() string {
	if c.BinaryPath != "" {
		return c.BinaryPath
	}
	return "claude"
}

// buildCommand constructs the subprocess invocation shared by invoke and
// ChatStream, before either CombinedOutput or pty attachment.
func (c *CLIClient) buildCommand(ctx context.Context, req Request) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binaryPath(), c.buildArgs(req)...)
	setCleanEnv(cmd)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	return cmd
}

func (c *CLIClient) invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("llm: prompt is required")
	}

	binPath := c.binaryPath()
	cmd := c.buildCommand(ctx, req)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &CLINotFoundError{Path: binPath}
		}
		return nil, classifyCLIError(err.Error(), string(output))
	}

	content, sessionID, err := ParseResponse(output)
	if err != nil {
		return nil, &CLIError{Detail: err.Error(), Output: string(output)}
	}

	resp := &Response{Content: content, RawOutput: output, SessionID: sessionID}
	if c.Meter != nil {
		resp.InputTokens = c.Meter.Count(req.Prompt)
		resp.OutputTokens = c.Meter.Count(content)
		c.Meter.Record(req.Model, req.AgentID, resp.InputTokens, resp.OutputTokens)
	}
	return resp, nil
}

// ParseResponse extracts JSON content from CLI output. Grounded verbatim
// on internal/claude/invoker.go's ParseResponse: structured_output takes
// precedence over result, which takes precedence over content, which
// falls back to brace-extraction from mixed output.
func ParseResponse(rawOutput []byte) (content string, sessionID string, err error) {
	output := string(rawOutput)

	var jsonMap map[string]interface{}
	if jerr := json.Unmarshal(rawOutput, &jsonMap); jerr != nil {
		start := strings.Index(output, "{")
		end := strings.LastIndex(output, "}")
		if start >= 0 && end > start {
			jsonStr := output[start : end+1]
			if jerr2 := json.Unmarshal([]byte(jsonStr), &jsonMap); jerr2 != nil {
				return output, "", nil
			}
		} else {
			return "", "", nil
		}
	}

	if sidField, ok := jsonMap["session_id"]; ok {
		if sidStr, ok := sidField.(string); ok {
			sessionID = sidStr
		}
	}

	if structuredOutput, ok := jsonMap["structured_output"]; ok && structuredOutput != nil {
		if structMap, isMap := structuredOutput.(map[string]interface{}); isMap && len(structMap) > 0 {
			if outputBytes, merr := json.Marshal(structuredOutput); merr == nil {
				return string(outputBytes), sessionID, nil
			}
		}
	}

	if resultField, ok := jsonMap["result"]; ok {
		if resultStr, ok := resultField.(string); ok {
			return resultStr, sessionID, nil
		}
	}

	if contentField, ok := jsonMap["content"]; ok {
		if contentStr, ok := contentField.(string); ok {
			return contentStr, sessionID, nil
		}
	}

	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start >= 0 && end > start {
		return output[start : end+1], sessionID, nil
	}

	return "", sessionID, nil
}
