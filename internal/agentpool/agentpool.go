// Package agentpool implements spec.md §4.9's AgentPool: bounded-capacity
// spawning and lifecycle tracking of coder/tester/reviewer/merger agents.
// Grounded on internal/executor/wave.go's semaphore-gated concurrency
// idiom (there used inline per wave; here promoted to a standalone,
// per-agent-type capacity pool reused across the coordinator's whole
// run) and internal/agent/discovery.go's Registry bookkeeping pattern,
// adapted from discovering markdown agent definitions to tracking live
// core.Agent instances.
package agentpool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// Capacity configures how many concurrent agents of each type may run.
type Capacity struct {
	Coder    int64
	Tester   int64
	Reviewer int64
	Merger   int64
}

// DefaultCapacity matches spec.md §5's concurrency defaults.
func DefaultCapacity() Capacity {
	return Capacity{Coder: 4, Tester: 2, Reviewer: 2, Merger: 1}
}

// Pool tracks live agents and gates spawning by per-type capacity using
// golang.org/x/sync/semaphore.Weighted, the idiomatic replacement for the
// teacher's hand-rolled `make(chan struct{}, n)` gate in wave.go.
type Pool struct {
	bus  *eventbus.Bus
	sems map[core.AgentType]*semaphore.Weighted
	cap  map[core.AgentType]int64

	mu     sync.Mutex
	agents map[string]*core.Agent
}

// New creates a Pool with the given per-type capacity.
func New(bus *eventbus.Bus, cap Capacity) *Pool {
	p := &Pool{
		bus:    bus,
		sems:   make(map[core.AgentType]*semaphore.Weighted),
		cap:    make(map[core.AgentType]int64),
		agents: make(map[string]*core.Agent),
	}
	p.sems[core.AgentCoder] = semaphore.NewWeighted(max64(cap.Coder, 1))
	p.sems[core.AgentTester] = semaphore.NewWeighted(max64(cap.Tester, 1))
	p.sems[core.AgentReviewer] = semaphore.NewWeighted(max64(cap.Reviewer, 1))
	p.sems[core.AgentMerger] = semaphore.NewWeighted(max64(cap.Merger, 1))
	p.cap[core.AgentCoder] = cap.Coder
	p.cap[core.AgentTester] = cap.Tester
	p.cap[core.AgentReviewer] = cap.Reviewer
	p.cap[core.AgentMerger] = cap.Merger
	return p
}

func max64(n, floor int64) int64 {
	if n <= 0 {
		return floor
	}
	return n
}

// HasCapacity reports whether a slot for agentType is currently free,
// without acquiring it (a best-effort hint for schedulers; Spawn is the
// authoritative gate).
func (p *Pool) HasCapacity(agentType core.AgentType) bool {
	sem, ok := p.sems[agentType]
	if !ok {
		return false
	}
	if sem.TryAcquire(1) {
		sem.Release(1)
		return true
	}
	return false
}

// Spawn blocks until a capacity slot of agentType is free, then
// registers and returns a new Agent. The caller must call Release(id)
// when the agent finishes, whether it succeeds or fails.
func (p *Pool) Spawn(ctx context.Context, agentType core.AgentType, modelCfg core.ModelConfig) (*core.Agent, error) {
	sem, ok := p.sems[agentType]
	if !ok {
		return nil, fmt.Errorf("agentpool: unknown agent type %s", agentType)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("agentpool: acquire capacity: %w", err)
	}

	agent := &core.Agent{
		ID:          core.NewID(),
		Type:        agentType,
		Status:      core.AgentWorking,
		ModelConfig: modelCfg,
		SpawnedAt:   time.Now(),
		LastActiveAt: time.Now(),
	}

	p.mu.Lock()
	p.agents[agent.ID] = agent
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Emit("agent:spawned", *agent, "agentpool", "")
	}
	return agent, nil
}

// Release frees the capacity slot held by the agent and marks it idle.
// Terminate additionally removes the agent from the pool's registry.
func (p *Pool) Release(agentType core.AgentType, id string) {
	if sem, ok := p.sems[agentType]; ok {
		sem.Release(1)
	}
	p.mu.Lock()
	if agent, ok := p.agents[id]; ok {
		agent.Status = core.AgentIdle
		agent.LastActiveAt = time.Now()
	}
	p.mu.Unlock()
	if p.bus != nil {
		p.bus.Emit("agent:released", id, "agentpool", "")
	}
}

// Terminate releases capacity (if still held) and removes the agent from
// tracking entirely, e.g. after a fatal error.
func (p *Pool) Terminate(agentType core.AgentType, id string) {
	p.mu.Lock()
	agent, ok := p.agents[id]
	held := ok && agent.Status != core.AgentIdle
	delete(p.agents, id)
	p.mu.Unlock()
	if held {
		if sem, ok := p.sems[agentType]; ok {
			sem.Release(1)
		}
	}
	if p.bus != nil {
		p.bus.Emit("agent:terminated", id, "agentpool", "")
	}
}

// GetByID returns the agent with the given ID.
func (p *Pool) GetByID(id string) (*core.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	return a, ok
}

// GetAll returns a snapshot of every tracked agent, sorted by ID.
func (p *Pool) GetAll() []*core.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*core.Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetActive returns every agent currently marked busy.
func (p *Pool) GetActive() []*core.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*core.Agent
	for _, a := range p.agents {
		if a.Status == core.AgentWorking {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordOutcome updates the agent's metrics after a task finishes.
func (p *Pool) RecordOutcome(id string, success bool, iterations int, tokens int64, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return
	}
	a.Metrics.Record(success, iterations, tokens, elapsed)
}
