package core

import "time"

// Checkpoint is a durable snapshot of a project's state, optionally pinned
// to a git commit, used for recovery (spec.md §3, §4.14).
type Checkpoint struct {
	ID            string
	ProjectID     string
	Reason        string
	StateSnapshot []byte
	GitCommit     string
	CreatedAt     time.Time
}

// ReviewReason names why a task needed a human decision.
type ReviewReason string

const (
	ReasonQAExhausted   ReviewReason = "qa_exhausted"
	ReasonMergeConflict ReviewReason = "merge_conflict"
)

// ReviewStatus tracks a Review's resolution.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Review is a human-gated decision used to resolve an escalation or merge
// conflict (spec.md §3, §4.16).
type Review struct {
	ID         string
	TaskID     string
	ProjectID  string
	Reason     ReviewReason
	Context    string
	Status     ReviewStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
	Resolution string
}
