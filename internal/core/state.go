package core

import "time"

// ProjectState is the authoritative progress snapshot StateManager holds
// for one project (spec.md §4.15): where it is in Genesis/Evolution
// decomposition and wave execution, independent of the live Task/Wave
// objects the queue is churning through.
type ProjectState struct {
	ProjectID           string
	ProjectName         string
	Status              ProjectStatus
	Mode                ProjectMode
	Features            []Feature
	CurrentFeatureIndex int
	CurrentTaskIndex    int
	CompletedTasks      int
	TotalTasks          int
	CreatedAt           time.Time
	LastUpdatedAt       time.Time
}
