package core

import "time"

// InterviewSessionStatus tracks where a session sits in its lifecycle.
type InterviewSessionStatus string

const (
	SessionActive    InterviewSessionStatus = "active"
	SessionPaused    InterviewSessionStatus = "paused"
	SessionCompleted InterviewSessionStatus = "completed"
)

// InterviewRole distinguishes who sent an InterviewMessage.
type InterviewRole string

const (
	RoleUser      InterviewRole = "user"
	RoleAssistant InterviewRole = "assistant"
)

// InterviewMessage is one turn of an interview transcript.
type InterviewMessage struct {
	Role      InterviewRole
	Text      string
	Timestamp time.Time
}

// InterviewSession tracks one requirement-gathering conversation
// (spec.md §4.17).
type InterviewSession struct {
	ID                     string
	ProjectID              string
	Status                 InterviewSessionStatus
	Mode                   ProjectMode
	EvolutionContext       string
	Messages               []InterviewMessage
	ExtractedRequirements  []Requirement
	ExploredAreas          map[string]bool
	StartedAt              time.Time
	LastActivityAt         time.Time
	CompletedAt            *time.Time
}
