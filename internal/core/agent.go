package core

import "time"

// AgentType is the role a worker agent plays.
type AgentType string

const (
	AgentPlanner  AgentType = "planner"
	AgentCoder    AgentType = "coder"
	AgentTester   AgentType = "tester"
	AgentReviewer AgentType = "reviewer"
	AgentMerger   AgentType = "merger"
)

// AgentStatus tracks an Agent's lifecycle within the pool.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentAssigned   AgentStatus = "assigned"
	AgentWorking    AgentStatus = "working"
	AgentError      AgentStatus = "error"
	AgentTerminated AgentStatus = "terminated"
)

// ModelConfig names the LLM configuration an agent invokes with.
type ModelConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// AgentMetrics accumulates per-agent lifetime counters.
type AgentMetrics struct {
	TasksCompleted          int
	TasksFailed             int
	TotalIterations         int
	TokensUsed              int64
	TotalTimeActive         time.Duration
	AverageIterationsPerTask float64
}

// Agent is one typed worker owned by the AgentPool.
type Agent struct {
	ID            string
	Type          AgentType
	Status        AgentStatus
	ModelConfig   ModelConfig
	CurrentTaskID string
	WorktreePath  string
	Metrics       AgentMetrics
	SpawnedAt     time.Time
	LastActiveAt  time.Time
}

// Record folds one completed task's outcome into the agent's metrics.
func (m *AgentMetrics) Record(success bool, iterations int, tokens int64, elapsed time.Duration) {
	if success {
		m.TasksCompleted++
	} else {
		m.TasksFailed++
	}
	m.TotalIterations += iterations
	m.TokensUsed += tokens
	m.TotalTimeActive += elapsed

	total := m.TasksCompleted + m.TasksFailed
	if total > 0 {
		m.AverageIterationsPerTask = float64(m.TotalIterations) / float64(total)
	}
}
