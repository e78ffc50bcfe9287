package interview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/llm"
)

// standardAreas are the domains the gap-suggestion heuristic checks for
// coverage (spec.md §4.17).
var standardAreas = []string{
	"authentication", "authorization", "data_model", "api",
	"ui_ux", "performance", "security", "integrations", "deployment",
}

const genesisSystemPrompt = `You are conducting a structured requirements interview for a brand new
software project. Ask focused, specific questions one or two at a time;
do not overwhelm the user with a long questionnaire.

Whenever the user's reply implies a concrete requirement, emit one or more
<requirement> blocks in your response, each shaped like:

<requirement>
<text>plain-language statement of the requirement</text>
<category>functional|non_functional|technical|constraint|assumption</category>
<priority>must|should|could|wont</priority>
<confidence>0.0-1.0</confidence>
<area>authentication|authorization|data_model|api|ui_ux|performance|security|integrations|deployment</area>
</requirement>

Only emit a block when you are reasonably confident the user actually
stated or clearly implied it. Continue the conversation naturally around
the blocks; do not just output raw tags with no surrounding text.`

const evolutionSystemPromptTemplate = `You are conducting a structured requirements interview for a change to an
existing codebase. Use the repository context below to ground your
questions in what already exists, and focus on what the user wants to
add, change, or fix.

Repository context:
%s

Emit <requirement> blocks exactly as described for a new-project interview
whenever the user's reply implies a concrete requirement.`

// RequirementStore persists captured requirements. internal/store provides
// the real implementation; tests use a fake.
type RequirementStore interface {
	SaveRequirement(ctx context.Context, r core.Requirement) error
}

// ProcessResult is processMessage's return value.
type ProcessResult struct {
	Response              string
	ExtractedRequirements []core.Requirement
	SuggestedGaps         []string
}

// EndSummary is endSession's return value.
type EndSummary struct {
	TotalRequirements int
	Categories        map[core.RequirementCategory]int
	Duration          time.Duration
}

// Engine implements InterviewEngine.
type Engine struct {
	mu                  sync.RWMutex
	sessions            map[string]*core.InterviewSession
	client              llm.Client
	reqStore            RequirementStore
	bus                 *eventbus.Bus
	confidenceThreshold float64
	now                 func() time.Time
}

// New builds an Engine.
func New(client llm.Client, reqStore RequirementStore, bus *eventbus.Bus) *Engine {
	return &Engine{
		sessions:            make(map[string]*core.InterviewSession),
		client:              client,
		reqStore:            reqStore,
		bus:                 bus,
		confidenceThreshold: DefaultConfidenceThreshold,
		now:                 time.Now,
	}
}

// StartSession creates and caches a new session, emitting interview:started.
func (e *Engine) StartSession(ctx context.Context, projectID string, mode core.ProjectMode, evolutionContext string) (*core.InterviewSession, error) {
	now := e.now()
	s := &core.InterviewSession{
		ID:               core.NewID(),
		ProjectID:        projectID,
		Status:           core.SessionActive,
		Mode:             mode,
		EvolutionContext: evolutionContext,
		ExploredAreas:    make(map[string]bool),
		StartedAt:        now,
		LastActivityAt:   now,
	}

	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()

	e.emit("interview:started", s.ProjectID, map[string]interface{}{"sessionId": s.ID})
	return s, nil
}

// ProcessMessage appends userText, calls the LLM with the full session
// transcript, extracts any requirements from the reply, and suggests gaps.
func (e *Engine) ProcessMessage(ctx context.Context, sessionID, userText string) (ProcessResult, error) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return ProcessResult{}, fmt.Errorf("interview: unknown session %s", sessionID)
	}
	s.Messages = append(s.Messages, core.InterviewMessage{Role: core.RoleUser, Text: userText, Timestamp: e.now()})
	e.mu.Unlock()
	e.emit("interview:message", s.ProjectID, map[string]interface{}{"sessionId": sessionID, "role": "user"})

	systemPrompt := genesisSystemPrompt
	if s.Mode == core.ModeEvolution {
		systemPrompt = fmt.Sprintf(evolutionSystemPromptTemplate, s.EvolutionContext)
	}

	resp, err := e.client.Complete(ctx, llm.Request{
		Prompt:       e.renderTranscript(s),
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return ProcessResult{}, fmt.Errorf("interview: llm call: %w", err)
	}

	e.mu.Lock()
	s.Messages = append(s.Messages, core.InterviewMessage{Role: core.RoleAssistant, Text: resp.Content, Timestamp: e.now()})
	s.LastActivityAt = e.now()
	e.mu.Unlock()
	e.emit("interview:message", s.ProjectID, map[string]interface{}{"sessionId": sessionID, "role": "assistant"})

	extraction := ExtractRequirements(resp.Content, e.confidenceThreshold)

	e.mu.Lock()
	for _, req := range extraction.Requirements {
		req.ProjectID = s.ProjectID
		req.Source = sessionID
		s.ExtractedRequirements = append(s.ExtractedRequirements, req)
		if req.Area != "" {
			s.ExploredAreas[req.Area] = true
		}
	}
	exploredSnapshot := make(map[string]bool, len(s.ExploredAreas))
	for k, v := range s.ExploredAreas {
		exploredSnapshot[k] = v
	}
	totalRequirements := len(s.ExtractedRequirements)
	e.mu.Unlock()

	for _, req := range extraction.Requirements {
		if e.reqStore != nil {
			if err := e.reqStore.SaveRequirement(ctx, req); err != nil {
				return ProcessResult{}, fmt.Errorf("interview: save requirement: %w", err)
			}
		}
		e.emit("interview:requirement-captured", s.ProjectID, map[string]interface{}{"sessionId": sessionID, "requirementId": req.ID})
	}

	gaps := suggestGaps(totalRequirements, exploredSnapshot)

	return ProcessResult{
		Response:              resp.Content,
		ExtractedRequirements: extraction.Requirements,
		SuggestedGaps:         gaps,
	}, nil
}

// suggestGaps implements the gap-suggestion gate: only surface unexplored
// standard areas once the conversation has built up enough signal that a
// suggestion is useful rather than premature.
func suggestGaps(totalRequirements int, explored map[string]bool) []string {
	if totalRequirements < 3 || len(explored) < 2 {
		return nil
	}

	var gaps []string
	for _, area := range standardAreas {
		if !explored[area] {
			gaps = append(gaps, area)
		}
	}
	if len(gaps) == 0 {
		return nil
	}
	sort.Strings(gaps)
	return gaps
}

// EndSession marks a session complete and emits interview:completed.
func (e *Engine) EndSession(sessionID string) (*EndSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("interview: unknown session %s", sessionID)
	}

	now := e.now()
	s.Status = core.SessionCompleted
	s.CompletedAt = &now

	categories := make(map[core.RequirementCategory]int)
	for _, r := range s.ExtractedRequirements {
		categories[r.Category]++
	}

	summary := &EndSummary{
		TotalRequirements: len(s.ExtractedRequirements),
		Categories:        categories,
		Duration:          now.Sub(s.StartedAt),
	}

	e.emit("interview:completed", s.ProjectID, map[string]interface{}{
		"sessionId":         sessionID,
		"totalRequirements": summary.TotalRequirements,
		"duration":          summary.Duration.String(),
	})
	return summary, nil
}

// PauseSession toggles a session to paused.
func (e *Engine) PauseSession(sessionID string) error {
	return e.setStatus(sessionID, core.SessionPaused)
}

// ResumeSession toggles a paused session back to active.
func (e *Engine) ResumeSession(sessionID string) error {
	return e.setStatus(sessionID, core.SessionActive)
}

func (e *Engine) setStatus(sessionID string, status core.InterviewSessionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return fmt.Errorf("interview: unknown session %s", sessionID)
	}
	s.Status = status
	s.LastActivityAt = e.now()
	return nil
}

// GetSession returns a defensive copy of a cached session.
func (e *Engine) GetSession(sessionID string) (*core.InterviewSession, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cpy := *s
	return &cpy, true
}

// adoptSession registers a session loaded from durable storage, used by
// SessionManager when resuming a prior run.
func (e *Engine) adoptSession(s *core.InterviewSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[s.ID] = s
}

func (e *Engine) renderTranscript(s *core.InterviewSession) string {
	var b strings.Builder
	for _, m := range s.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	return b.String()
}

func (e *Engine) emit(eventType core.EventType, projectID string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	payload["projectId"] = projectID
	e.bus.Emit(eventType, payload, "interview", "")
}
