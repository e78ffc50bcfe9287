package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenKey identifies one (model, agentId) usage bucket, per spec.md
// §4.2's requirement that accumulated usage be "keyed by (model,
// agentId)" rather than kept as one process-wide pair.
type tokenKey struct {
	Model   string
	AgentID string
}

type tokenCounts struct {
	Input  int64
	Output int64
}

// TokenMeter counts tokens per invocation and accumulates totals per
// (model, agentId), replacing the teacher's JSONL-usage-log ingestion
// (internal/budget/tracker.go) with a direct per-call counter: Nexus
// invokes its own LLMClient rather than wrapping Claude Code's own usage
// logs, so there is nothing to ingest, only to count as it happens.
type TokenMeter struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
	byKey    map[tokenKey]*tokenCounts
}

// NewTokenMeter builds a meter using the cl100k_base encoding, the closest
// stable tiktoken-go encoding to modern Claude/GPT tokenization available
// in the library; exact Claude tokenization differs, but this yields
// estimates precise enough for budget display, which is all spec.md §6
// requires of a token count.
func NewTokenMeter() *TokenMeter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &TokenMeter{encoding: enc, byKey: make(map[tokenKey]*tokenCounts)}
}

// Count estimates the token length of text.
func (m *TokenMeter) Count(text string) int64 {
	if m.encoding == nil {
		// Fallback heuristic (~4 chars/token) if the encoding failed to load.
		return int64(len(text)/4 + 1)
	}
	return int64(len(m.encoding.Encode(text, nil, nil)))
}

// Record adds the given counts to the (model, agentId) bucket's running
// totals. An empty model or agentID is a valid key — callers that do not
// yet know either still get accumulation, just not attributed.
func (m *TokenMeter) Record(model, agentID string, input, output int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tokenKey{Model: model, AgentID: agentID}
	c, ok := m.byKey[key]
	if !ok {
		c = &tokenCounts{}
		m.byKey[key] = c
	}
	c.Input += input
	c.Output += output
}

// Usage returns the accumulated input/output token counts for one
// (model, agentId) pair.
func (m *TokenMeter) Usage(model, agentID string) (input, output int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byKey[tokenKey{Model: model, AgentID: agentID}]
	if !ok {
		return 0, 0
	}
	return c.Input, c.Output
}

// Totals returns the accumulated input/output token counts across every
// (model, agentId) bucket, for process-wide budget display.
func (m *TokenMeter) Totals() (input, output int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byKey {
		input += c.Input
		output += c.Output
	}
	return input, output
}
