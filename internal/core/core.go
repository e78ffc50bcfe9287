// Package core defines the shared domain entities used across Nexus:
// projects, requirements, features, tasks, waves, agents, worktrees,
// checkpoints, reviews, and events. These are plain value types; ownership
// and mutation rules are documented on the owning component (queue,
// agentpool, worktree, checkpoint, review) rather than here.
package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID generates a fresh random identifier for any entity in this package.
func NewID() string {
	return uuid.New().String()
}

// ProjectMode distinguishes a from-scratch build from a change against an
// existing codebase.
type ProjectMode string

const (
	ModeGenesis   ProjectMode = "genesis"
	ModeEvolution ProjectMode = "evolution"
)

// ProjectStatus tracks the lifecycle of a Project.
type ProjectStatus string

const (
	ProjectInitializing ProjectStatus = "initializing"
	ProjectPlanning     ProjectStatus = "planning"
	ProjectRunning      ProjectStatus = "running"
	ProjectPaused       ProjectStatus = "paused"
	ProjectCompleted    ProjectStatus = "completed"
	ProjectFailed       ProjectStatus = "failed"
)

// Project is the top-level unit of work.
type Project struct {
	ID        string
	Name      string
	Mode      ProjectMode
	RootPath  string
	Status    ProjectStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequirementCategory classifies a captured requirement.
type RequirementCategory string

const (
	CategoryFunctional    RequirementCategory = "functional"
	CategoryNonFunctional RequirementCategory = "non_functional"
	CategoryTechnical     RequirementCategory = "technical"
	CategoryConstraint    RequirementCategory = "constraint"
	CategoryAssumption    RequirementCategory = "assumption"
)

// Priority is a MoSCoW priority shared by Requirement and Task.
type Priority string

const (
	PriorityMust   Priority = "must"
	PriorityShould Priority = "should"
	PriorityCould  Priority = "could"
	PriorityWont   Priority = "wont"
)

// Requirement is a single captured statement of need, produced by
// InterviewEngine and consumed by the decomposer.
type Requirement struct {
	ID         string
	ProjectID  string
	Category   RequirementCategory
	Text       string
	Priority   Priority
	Confidence float64
	Area       string
	Source     string
	CreatedAt  time.Time
}

// FeatureStatus tracks a feature's progress through decomposition/execution.
type FeatureStatus string

const (
	FeaturePending    FeatureStatus = "pending"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureCompleted  FeatureStatus = "completed"
)

// Feature groups the tasks decomposed from one requirement (or a synthetic
// requirement when a user supplies features directly).
type Feature struct {
	ID              string
	ProjectID       string
	Name            string
	Description     string
	Priority        Priority
	Status          FeatureStatus
	Complexity      string
	EstimatedTasks  int
	CompletedTasks  int
}

// TaskSize buckets a task by estimated duration, per TaskDecomposer.
type TaskSize string

const (
	SizeAtomic TaskSize = "atomic"
	SizeSmall  TaskSize = "small"
	SizeMedium TaskSize = "medium"
)

// TaskType distinguishes ordinary implementation tasks from test-first ones.
type TaskType string

const (
	TaskAuto TaskType = "auto"
	TaskTDD  TaskType = "tdd"
)

// TaskStatus enumerates the state machine from spec.md §3:
//
//	pending -> planning -> assigned -> in_progress -> ai_review ->
//	  (completed | human_review -> completed|failed | failed | escalated)
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskPlanning     TaskStatus = "planning"
	TaskAssigned     TaskStatus = "assigned"
	TaskInProgress   TaskStatus = "in_progress"
	TaskAIReview     TaskStatus = "ai_review"
	TaskHumanReview  TaskStatus = "human_review"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
	TaskEscalated    TaskStatus = "escalated"
)

// validTaskTransitions enumerates the monotone edges of the task state
// machine. A transition not present here is rejected by Task.Transition.
var validTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:     {TaskPlanning, TaskAssigned, TaskFailed},
	TaskPlanning:    {TaskAssigned, TaskFailed},
	TaskAssigned:    {TaskInProgress, TaskFailed},
	TaskInProgress:  {TaskAIReview, TaskCompleted, TaskFailed, TaskEscalated},
	TaskAIReview:    {TaskCompleted, TaskHumanReview, TaskFailed, TaskEscalated},
	TaskHumanReview: {TaskCompleted, TaskFailed},
	TaskEscalated:   {TaskHumanReview, TaskCompleted, TaskFailed},
}

// MaxEstimatedMinutes is the hard cap on Task.EstimatedMinutes (spec.md §3).
const MaxEstimatedMinutes = 30

// MaxTaskFiles is the hard cap on len(Task.Files) (spec.md §3).
const MaxTaskFiles = 5

// Task is a single atomic unit of work.
type Task struct {
	ID                string
	ProjectID         string
	FeatureID         string
	Name              string
	Description       string
	Type              TaskType
	Size              TaskSize
	Status            TaskStatus
	EstimatedMinutes  int
	Files             []string
	TestCriteria      []string
	DependsOn         []string
	WaveID            int
	Priority          int // ascending: lower dispatches first
	Agent             string
	CreatedAt         time.Time
}

// Validate enforces the invariants from spec.md §3 and §8.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task: id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("task %s: name is required", t.ID)
	}
	if t.EstimatedMinutes < 0 || t.EstimatedMinutes > MaxEstimatedMinutes {
		return fmt.Errorf("task %s: estimatedMinutes %d out of range [0,%d]", t.ID, t.EstimatedMinutes, MaxEstimatedMinutes)
	}
	if len(t.Files) > MaxTaskFiles {
		return fmt.Errorf("task %s: %d files exceeds max %d", t.ID, len(t.Files), MaxTaskFiles)
	}
	return nil
}

// CategorizeSize assigns Size from EstimatedMinutes per spec.md §4.7:
// <=10 atomic, <=20 small, <=30 medium.
func (t *Task) CategorizeSize() {
	switch {
	case t.EstimatedMinutes <= 10:
		t.Size = SizeAtomic
	case t.EstimatedMinutes <= 20:
		t.Size = SizeSmall
	default:
		t.Size = SizeMedium
	}
}

// CanTransition reports whether moving to next is a legal state transition.
func (t *Task) CanTransition(next TaskStatus) bool {
	for _, allowed := range validTaskTransitions[t.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the task to next if legal, else returns an error
// describing the illegal edge.
func (t *Task) Transition(next TaskStatus) error {
	if !t.CanTransition(next) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.Status, next)
	}
	t.Status = next
	return nil
}

// Wave is a set of tasks whose dependencies are all satisfied by earlier
// waves; tasks within a wave may run concurrently.
type Wave struct {
	ID               int
	Tasks            []Task
	EstimatedMinutes int
}
