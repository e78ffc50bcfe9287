// Package coordinator implements spec.md §4.18's NexusCoordinator: the
// top-level state machine that turns a set of features (or an
// already-decomposed task list) into waves of executing agents, wires QA,
// merge, and human review around each task, and reports progress over the
// event bus.
//
// Grounded directly on internal/executor/orchestrator.go (ExecutePlan's
// signal handling, plan merge, and result aggregation) and
// internal/executor/wave.go (the wave pump: gated goroutine launch, result
// channel, per-task bookkeeping). Generalized from "execute one merged plan
// once" into the full idle/running/paused/stopping state machine with
// decomposition-by-mode and review-triggered resume that spec.md §4.18
// describes.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-build/nexus/internal/agentpool"
	"github.com/nexus-build/nexus/internal/agentrun"
	"github.com/nexus-build/nexus/internal/checkpoint"
	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/decompose"
	"github.com/nexus-build/nexus/internal/depgraph"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/gitservice"
	"github.com/nexus-build/nexus/internal/llm"
	"github.com/nexus-build/nexus/internal/merge"
	"github.com/nexus-build/nexus/internal/qa"
	"github.com/nexus-build/nexus/internal/qaloop"
	"github.com/nexus-build/nexus/internal/queue"
	"github.com/nexus-build/nexus/internal/review"
	"github.com/nexus-build/nexus/internal/state"
	"github.com/nexus-build/nexus/internal/worktree"
)

// Status is the coordinator's top-level lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
)

// Phase tracks where a running project is within one run.
type Phase string

const (
	PhaseNone       Phase = ""
	PhasePlanning   Phase = "planning"
	PhaseExecution  Phase = "execution"
	PhaseCompletion Phase = "completion"
)

// pausedForReview is the pause reason the coordinator sets itself while a
// wave is blocked on an open human review; Resume called for any other
// reason does not clear it prematurely, and review resolution clears it
// automatically once the blocking task leaves escalation.
const pausedForReview = "review_pending"

// wavePollInterval is the coordinator's poll cadence between dispatch
// attempts and pause checks (spec.md §5: "the coordinator's short sleeps
// between poll iterations (50ms)").
const wavePollInterval = 50 * time.Millisecond

// evolutionRepoMapTokenBudget bounds how much repo-map context is prepended
// to each feature description in Evolution mode. spec.md §9 flags this
// fixed ~8k figure as something implementers should parameterize; here it
// is a package constant, and Config has no field that overrides it.
const evolutionRepoMapTokenBudget = 8000

// RepoMapper summarizes an existing codebase for Evolution-mode context.
// Embeddings/repo-map generation are explicitly out of scope for this
// module (spec.md §1) — Nexus depends on this narrow capability interface
// and takes whatever opaque string a concrete implementation returns,
// exactly as it does for LLMClient and GitService.
type RepoMapper interface {
	Summarize(ctx context.Context, rootDir string, tokenBudget int) (string, error)
}

// WaveTracer receives a span boundary around one wave's execution, tagged
// with the project's correlation id so a trace backend can stitch it
// together with the QA-loop spans nested inside it. Satisfied by
// internal/metrics.Tracer; left nil, wave dispatch is untraced.
type WaveTracer interface {
	StartWave(ctx context.Context, projectID string, waveID int) (context.Context, func())
}

// Config wires every collaborator the coordinator drives. Reviews, Merger,
// and Checkpoints may be nil or supplied later through the setters below —
// spec.md §4.18 calls these out as injected dependencies rather than
// mandatory constructor arguments, since a headless single-agent run may
// not need human review or cross-branch merging at all.
type Config struct {
	Bus         *eventbus.Bus
	Client      llm.Client
	Queue       *queue.Queue
	Pool        *agentpool.Pool
	Worktrees   *worktree.Manager
	States      *state.Manager
	Decomposer  *decompose.Decomposer
	RepoMapper  RepoMapper
	Reviews     *review.Service
	Merger      *merge.Runner
	Checkpoints *checkpoint.Manager
	Tracer      WaveTracer // optional: nil disables span emission

	ProjectPath string
	BaseBranch  string // defaults to merge.DefaultTargetBranch
	HasRemote   bool
	Remote      string // defaults to "origin"

	ModelConfigs  map[core.AgentType]core.ModelConfig
	MaxIterations int // per-task QALoopEngine bound; 0 uses qaloop's default

	// SkipQA bypasses build/lint/test/review steps entirely, running only
	// the coder against the task description. Existing-code test suites
	// and scenarios that only exercise merge/escalation wiring use this
	// rather than shelling out to a real toolchain.
	SkipQA bool
}

// pendingReviewTracking remembers what a still-open review blocks, so
// HandleReviewApproved/Rejected can resume the right task without the
// caller having to thread that context back through.
type pendingReviewTracking struct {
	TaskID     string
	AgentType  core.AgentType
	AgentID    string
	WorktreeID string
}

// Progress is a point-in-time summary of GetProgress.
type Progress struct {
	ProjectID      string
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	EscalatedTasks int
	TotalWaves     int
	CurrentWave    int
}

// Coordinator is the top-level state machine (spec.md §4.18).
type Coordinator struct {
	cfg Config

	mu          sync.Mutex
	status      Status
	phase       Phase
	pauseReason string
	projectID   string

	reviewMu       sync.Mutex
	reviewTracking map[string]pendingReviewTracking

	baseBranch string
}

// New builds a Coordinator in the idle state.
func New(cfg Config) *Coordinator {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = merge.DefaultTargetBranch
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	return &Coordinator{
		cfg:            cfg,
		status:         StatusIdle,
		phase:          PhaseNone,
		baseBranch:     cfg.BaseBranch,
		reviewTracking: make(map[string]pendingReviewTracking),
	}
}

// SetReviews injects the HumanReviewService. Call before Start.
func (c *Coordinator) SetReviews(svc *review.Service) { c.cfg.Reviews = svc }

// SetMerger injects the MergerRunner. Call before Start.
func (c *Coordinator) SetMerger(r *merge.Runner) { c.cfg.Merger = r }

// SetCheckpoints injects the CheckpointManager. Call before Start.
func (c *Coordinator) SetCheckpoints(m *checkpoint.Manager) { c.cfg.Checkpoints = m }

// GetStatus returns the coordinator's current top-level state.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// GetPhase returns the current planning/execution/completion phase.
func (c *Coordinator) GetPhase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// GetActiveAgents lists every agent currently Working across the pool.
func (c *Coordinator) GetActiveAgents() []*core.Agent {
	return c.cfg.Pool.GetActive()
}

// GetPendingTasks lists tasks still awaiting dispatch.
func (c *Coordinator) GetPendingTasks() []core.Task {
	var pending []core.Task
	for _, t := range c.cfg.Queue.AllTasks() {
		if t.Status == core.TaskPending {
			pending = append(pending, t)
		}
	}
	return pending
}

// GetProgress summarizes task counts and wave position for the active run.
func (c *Coordinator) GetProgress() Progress {
	tasks := c.cfg.Queue.AllTasks()
	p := Progress{ProjectID: c.currentProjectID(), TotalTasks: len(tasks)}
	for _, t := range tasks {
		if t.WaveID > p.TotalWaves {
			p.TotalWaves = t.WaveID
		}
		switch t.Status {
		case core.TaskCompleted:
			p.CompletedTasks++
		case core.TaskFailed:
			p.FailedTasks++
		case core.TaskEscalated, core.TaskHumanReview:
			p.EscalatedTasks++
		}
	}
	p.CurrentWave = c.cfg.Queue.CurrentWave()
	return p
}

// OnEvent subscribes handler to eventType on the underlying bus.
func (c *Coordinator) OnEvent(eventType core.EventType, handler eventbus.Handler) eventbus.Unsubscribe {
	if c.cfg.Bus == nil {
		return func() {}
	}
	return c.cfg.Bus.On(eventType, handler)
}

// CreateCheckpoint takes a manual checkpoint of the current project's
// state, for explicit control-API use rather than the automatic
// per-wave checkpoint Start takes on its own.
func (c *Coordinator) CreateCheckpoint(ctx context.Context, reason string) (*core.Checkpoint, error) {
	if c.cfg.Checkpoints == nil {
		return nil, fmt.Errorf("coordinator: no checkpoint manager configured")
	}
	projectID := c.currentProjectID()
	ps, ok := c.cfg.States.GetState(projectID)
	if !ok {
		return nil, fmt.Errorf("coordinator: no known state for project %s", projectID)
	}
	return c.cfg.Checkpoints.CreateCheckpoint(ctx, *ps, reason)
}

func (c *Coordinator) currentProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

// Pause requests the coordinator stop admitting new tasks after the
// currently-running ones finish; already-dispatched tasks are allowed to
// complete. A no-op unless the coordinator is running.
func (c *Coordinator) Pause(reason string) {
	c.mu.Lock()
	if c.status != StatusRunning {
		c.mu.Unlock()
		return
	}
	c.status = StatusPaused
	c.pauseReason = reason
	c.mu.Unlock()
	c.emit("coordinator:paused", map[string]interface{}{"reason": reason})
}

// Resume clears a pause and lets the wave pump admit tasks again.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	if c.status != StatusPaused {
		c.mu.Unlock()
		return
	}
	c.status = StatusRunning
	c.pauseReason = ""
	c.mu.Unlock()
	c.emit("coordinator:resumed", nil)
}

// Stop requests a best-effort shutdown: in-flight tasks are left to finish,
// no new ones are admitted, and Stop blocks until the coordinator reaches
// idle or graceTimeout elapses.
func (c *Coordinator) Stop(graceTimeout time.Duration) error {
	c.mu.Lock()
	if c.status == StatusIdle {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusStopping
	c.mu.Unlock()
	c.emit("coordinator:stopping", map[string]interface{}{"graceTimeoutMs": graceTimeout.Milliseconds()})

	deadline := time.Now().Add(graceTimeout)
	for time.Now().Before(deadline) {
		if c.GetStatus() == StatusIdle {
			return nil
		}
		time.Sleep(wavePollInterval)
	}
	return fmt.Errorf("coordinator: did not reach idle within grace timeout %s", graceTimeout)
}

func (c *Coordinator) setIdle() {
	c.mu.Lock()
	c.status = StatusIdle
	c.phase = PhaseNone
	c.mu.Unlock()
}

func (c *Coordinator) emit(eventType core.EventType, payload interface{}) {
	if c.cfg.Bus == nil {
		return
	}
	c.cfg.Bus.Emit(eventType, payload, "coordinator", "")
}

// Start runs the full decomposition-through-completion pipeline for a
// project's features: decompose by mode, validate the dependency graph,
// compute waves, and pump them to completion.
func (c *Coordinator) Start(ctx context.Context, projectID, projectName string, mode core.ProjectMode, features []core.Feature) error {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: cannot start while status is %s", c.status)
	}
	c.status = StatusRunning
	c.phase = PhasePlanning
	c.projectID = projectID
	c.mu.Unlock()

	if _, err := c.cfg.States.CreateState(ctx, projectID, projectName, mode); err != nil {
		c.setIdle()
		return fmt.Errorf("coordinator: create state: %w", err)
	}

	for i := range features {
		if features[i].ID == "" {
			features[i].ID = core.NewID()
		}
		features[i].ProjectID = projectID
	}
	c.cfg.States.UpdateState(ctx, projectID, state.Patch{Features: &features})

	tasks, err := c.decomposeFeatures(ctx, projectID, features, mode)
	if err != nil {
		c.failProject(ctx, projectID, err)
		return err
	}

	return c.runTasks(ctx, projectID, tasks)
}

// ExecuteExistingTasks skips decomposition entirely and runs an
// already-planned task list straight to completion — the path a restart
// or an externally-planned import uses. It offers no pause/resume: a wave
// stuck on an open review simply halts the run rather than blocking
// forever, since there is no control surface here to unblock it from.
// Concurrency uses golang.org/x/sync/errgroup rather than the hand-rolled
// semaphore+WaitGroup Start's wave pump uses, since this path needs no
// pause point to coordinate around — just "run everything ready, wait,
// advance" (spec.md §5's note that both idioms belong in the corpus).
func (c *Coordinator) ExecuteExistingTasks(ctx context.Context, projectID string, tasks []core.Task, projectPath string) error {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: cannot start while status is %s", c.status)
	}
	c.status = StatusRunning
	c.phase = PhaseExecution
	c.projectID = projectID
	c.mu.Unlock()

	if projectPath != "" {
		c.cfg.ProjectPath = projectPath
	}

	if err := depgraph.Validate(tasks); err != nil {
		c.failProject(ctx, projectID, err)
		return fmt.Errorf("coordinator: dependency validation: %w", err)
	}
	if _, cyclic := depgraph.Build(tasks).DetectCycle(); cyclic {
		err := fmt.Errorf("coordinator: circular dependency detected among existing tasks")
		c.failProject(ctx, projectID, err)
		return err
	}

	if err := c.cfg.Queue.Load(tasks); err != nil {
		c.failProject(ctx, projectID, err)
		return fmt.Errorf("coordinator: load queue: %w", err)
	}

	for !c.cfg.Queue.IsDrained() {
		waveID := c.cfg.Queue.CurrentWave()
		if waveID == 0 {
			break
		}
		ready := c.readyTasksInWave(waveID)

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range ready {
			task := t
			if err := c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskAssigned); err != nil {
				continue
			}
			g.Go(func() error {
				c.runTask(gctx, task)
				return nil
			})
		}
		_ = g.Wait()

		if c.cfg.Queue.CurrentWave() == waveID {
			break
		}
	}

	return c.accountCompletion(ctx, projectID)
}

func (c *Coordinator) failProject(ctx context.Context, projectID string, err error) {
	status := core.ProjectFailed
	_, _ = c.cfg.States.UpdateState(ctx, projectID, state.Patch{Status: &status})
	c.emit("project:failed", map[string]interface{}{"projectId": projectID, "error": err.Error()})
	c.setIdle()
}

// decomposeFeatures implements spec.md §4.18's "decomposition by mode"
// step: Genesis decomposes each feature's own description; Evolution
// prepends a repo-map summary (budgeted per evolutionRepoMapTokenBudget)
// and appends a compatibility test criterion to every resulting task.
func (c *Coordinator) decomposeFeatures(ctx context.Context, projectID string, features []core.Feature, mode core.ProjectMode) ([]core.Task, error) {
	c.emit("planning:started", map[string]interface{}{"projectId": projectID, "featureCount": len(features)})

	var repoMap string
	if mode == core.ModeEvolution && c.cfg.RepoMapper != nil {
		m, err := c.cfg.RepoMapper.Summarize(ctx, c.cfg.ProjectPath, evolutionRepoMapTokenBudget)
		if err == nil {
			repoMap = m
		}
	}

	var allTasks []core.Task
	for _, f := range features {
		desc := renderFeatureDescription(f)
		if mode == core.ModeEvolution && repoMap != "" {
			desc = repoMap + "\n\n" + desc
		}

		tasks, err := c.cfg.Decomposer.Decompose(ctx, projectID, f.ID, desc, decompose.Options{})
		if err != nil {
			c.emit("planning:error", map[string]interface{}{"projectId": projectID, "featureId": f.ID, "error": err.Error()})
			return nil, fmt.Errorf("coordinator: decompose feature %s: %w", f.ID, err)
		}

		if mode == core.ModeEvolution {
			for i := range tasks {
				tasks[i].TestCriteria = append(tasks[i].TestCriteria, "Verify compatibility with existing code")
			}
		}

		allTasks = append(allTasks, tasks...)
		c.emit("planning:progress", map[string]interface{}{"projectId": projectID, "featureId": f.ID, "taskCount": len(tasks)})
	}

	if err := depgraph.Validate(allTasks); err != nil {
		return nil, fmt.Errorf("coordinator: dependency validation: %w", err)
	}
	if _, cyclic := depgraph.Build(allTasks).DetectCycle(); cyclic {
		return nil, fmt.Errorf("coordinator: circular dependency detected among decomposed tasks")
	}

	c.emit("planning:completed", map[string]interface{}{"projectId": projectID, "taskCount": len(allTasks)})
	return allTasks, nil
}

func renderFeatureDescription(f core.Feature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s", f.Name, f.Description)
	if f.Priority != "" {
		fmt.Fprintf(&b, "\n\nPriority: %s", f.Priority)
	}
	return b.String()
}

// runTasks loads the decomposed tasks into the queue and pumps waves in
// order, honoring pause/stop between iterations and escalating a wave
// stuck on an open review without dropping the whole run.
func (c *Coordinator) runTasks(ctx context.Context, projectID string, tasks []core.Task) error {
	c.mu.Lock()
	c.phase = PhaseExecution
	c.mu.Unlock()

	if err := c.cfg.Queue.Load(tasks); err != nil {
		c.failProject(ctx, projectID, err)
		return fmt.Errorf("coordinator: load queue: %w", err)
	}

	running := core.ProjectRunning
	total := len(tasks)
	c.cfg.States.UpdateState(ctx, projectID, state.Patch{Status: &running, TotalTasks: &total})

	if total == 0 {
		c.emit("project:completed", map[string]interface{}{"projectId": projectID, "completedTasks": 0, "failedTasks": 0, "totalWaves": 0})
		c.setIdle()
		return nil
	}

	for !c.cfg.Queue.IsDrained() {
		c.mu.Lock()
		stopping := c.status == StatusStopping
		c.mu.Unlock()
		if stopping {
			break
		}

		waveID := c.cfg.Queue.CurrentWave()
		if waveID == 0 {
			break
		}

		c.emit("wave:started", map[string]interface{}{"projectId": projectID, "waveId": waveID})
		waveCtx := ctx
		var endSpan func()
		if c.cfg.Tracer != nil {
			waveCtx, endSpan = c.cfg.Tracer.StartWave(ctx, projectID, waveID)
		}
		err := c.pumpWave(waveCtx, waveID)
		if endSpan != nil {
			endSpan()
		}
		if err != nil {
			c.failProject(ctx, projectID, err)
			return err
		}
		c.emit("wave:completed", map[string]interface{}{"projectId": projectID, "waveId": waveID})

		if c.cfg.Checkpoints != nil {
			if ps, ok := c.cfg.States.GetState(projectID); ok {
				_, _ = c.cfg.Checkpoints.CreateAutoCheckpoint(ctx, *ps, fmt.Sprintf("wave %d completed", waveID))
			}
		}

		if err := c.awaitWaveAdvance(ctx, waveID); err != nil {
			return err
		}
	}

	return c.accountCompletion(ctx, projectID)
}

// awaitWaveAdvance blocks while the queue's current wave is stuck exactly
// where it was, which only happens when every remaining task in it is
// TaskEscalated awaiting a human review. It pauses the coordinator with
// reason "review_pending" so GetStatus reflects why nothing is moving, and
// resumes automatically once HandleReviewApproved/Rejected clears the
// blocking task (or Stop is requested).
func (c *Coordinator) awaitWaveAdvance(ctx context.Context, waveID int) error {
	if c.cfg.Queue.CurrentWave() != waveID || c.cfg.Queue.IsDrained() {
		return nil
	}

	c.mu.Lock()
	c.status = StatusPaused
	c.pauseReason = pausedForReview
	c.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		stopping := c.status == StatusStopping
		stillStuck := c.pauseReason == pausedForReview && c.cfg.Queue.CurrentWave() == waveID
		c.mu.Unlock()
		if stopping || !stillStuck {
			break
		}
		time.Sleep(wavePollInterval)
	}

	c.mu.Lock()
	if c.pauseReason == pausedForReview {
		c.status = StatusRunning
		c.pauseReason = ""
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) accountCompletion(ctx context.Context, projectID string) error {
	tasks := c.cfg.Queue.AllTasks()
	completed, failed, escalated, totalWaves := 0, 0, 0, 0
	for _, t := range tasks {
		if t.WaveID > totalWaves {
			totalWaves = t.WaveID
		}
		switch t.Status {
		case core.TaskCompleted:
			completed++
		case core.TaskFailed:
			failed++
		case core.TaskEscalated, core.TaskHumanReview:
			escalated++
		}
	}

	c.mu.Lock()
	c.phase = PhaseCompletion
	c.mu.Unlock()

	var newStatus core.ProjectStatus
	switch {
	case len(tasks) > 0 && failed == len(tasks):
		newStatus = core.ProjectFailed
	default:
		newStatus = core.ProjectCompleted
	}
	completedCount := completed
	c.cfg.States.UpdateState(ctx, projectID, state.Patch{Status: &newStatus, CompletedTasks: &completedCount})

	payload := map[string]interface{}{
		"projectId":      projectID,
		"completedTasks": completed,
		"failedTasks":    failed,
		"escalatedTasks": escalated,
		"totalWaves":     totalWaves,
	}
	if newStatus == core.ProjectFailed {
		c.emit("project:failed", payload)
	} else {
		c.emit("project:completed", payload)
	}

	c.setIdle()
	return nil
}

// pumpWave implements spec.md §4.18's per-wave pump: while not stopping,
// repeatedly gather ready tasks restricted to waveID, dispatch as many as
// the agent pool has coder capacity for, and sleep briefly when none could
// be dispatched. A wave completes once nothing is ready and nothing is
// still running. Grounded on internal/executor/wave.go's semaphore-gated
// goroutine launch plus WaitGroup drain, generalized to additionally
// respect Pause.
func (c *Coordinator) pumpWave(ctx context.Context, waveID int) error {
	var wg sync.WaitGroup
	var running int32

	for {
		if err := c.waitWhilePaused(ctx); err != nil {
			wg.Wait()
			return err
		}

		c.mu.Lock()
		stopping := c.status == StatusStopping
		c.mu.Unlock()
		if stopping {
			break
		}

		ready := c.readyTasksInWave(waveID)
		dispatchedAny := false
		for _, t := range ready {
			if !c.cfg.Pool.HasCapacity(core.AgentCoder) {
				break
			}
			if err := c.cfg.Queue.UpdateTaskStatus(t.ID, core.TaskAssigned); err != nil {
				continue
			}
			dispatchedAny = true
			task := t
			atomic.AddInt32(&running, 1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer atomic.AddInt32(&running, -1)
				c.runTask(ctx, task)
			}()
		}

		if len(c.readyTasksInWave(waveID)) == 0 && atomic.LoadInt32(&running) == 0 {
			break
		}
		if !dispatchedAny {
			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			case <-time.After(wavePollInterval):
			}
		}
	}

	wg.Wait()
	return nil
}

// waitWhilePaused blocks while the coordinator is paused for any reason
// other than awaiting a review resolution (that wait is handled by
// awaitWaveAdvance, which owns the same status field).
func (c *Coordinator) waitWhilePaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		paused := c.status == StatusPaused && c.pauseReason != pausedForReview
		c.mu.Unlock()
		if !paused {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wavePollInterval):
		}
	}
}

func (c *Coordinator) readyTasksInWave(waveID int) []core.Task {
	all := c.cfg.Queue.GetByWave(waveID)
	ready := make([]core.Task, 0, len(all))
	for _, t := range all {
		if t.Status == core.TaskPending {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].Name < ready[j].Name
	})
	return ready
}

// runTask drives one task end to end: spawn a coder, create a worktree,
// run the QA loop, then merge, complete, escalate, or fail depending on the
// outcome (spec.md §4.18's task execution sequence). It always releases
// the agent before returning; the worktree is released too unless the task
// ended in an escalation that is retaining it for a pending review.
func (c *Coordinator) runTask(ctx context.Context, task core.Task) {
	agent, err := c.cfg.Pool.Spawn(ctx, core.AgentCoder, c.modelConfigFor(core.AgentCoder))
	if err != nil {
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskFailed)
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "error": err.Error()})
		return
	}

	if err := c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskInProgress); err != nil {
		c.cfg.Pool.Release(core.AgentCoder, agent.ID)
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "error": err.Error()})
		return
	}
	c.emit("task:started", map[string]interface{}{"taskId": task.ID, "agentId": agent.ID})

	var wt *core.Worktree
	var dir string
	if c.cfg.Worktrees != nil {
		branch := fmt.Sprintf("nexus/task-%s", task.ID)
		created, werr := c.cfg.Worktrees.CreateWorktree(ctx, task.ID, branch, c.baseBranch)
		if werr != nil {
			// best-effort: proceed without a dedicated worktree rather
			// than failing the task outright (spec.md §4.18).
			c.emit("worktree:create-failed", map[string]interface{}{"taskId": task.ID, "error": werr.Error()})
		} else {
			wt = created
			dir = created.Path
		}
	}

	start := time.Now()
	result, qaErr := c.runQALoop(ctx, task, dir, agent.ID, c.modelConfigFor(core.AgentCoder).Model)

	retainWorktree := false
	switch {
	case qaErr != nil:
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskFailed)
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "error": qaErr.Error()})

	case result.Success:
		retainWorktree = c.finishSuccessfulTask(ctx, task, wt)

	case result.Escalated:
		retainWorktree = c.escalateTask(ctx, task, agent.ID, wt, core.ReasonQAExhausted, result.Reason)

	default:
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskFailed)
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "reason": "qa loop ended without success or escalation"})
	}

	c.cfg.Pool.RecordOutcome(agent.ID, result.Success, result.Iterations, 0, time.Since(start))
	c.cfg.Pool.Release(core.AgentCoder, agent.ID)

	if wt != nil && !retainWorktree {
		_ = c.cfg.Worktrees.RemoveWorktree(ctx, wt.ID, true)
	}
}

func (c *Coordinator) modelConfigFor(t core.AgentType) core.ModelConfig {
	if mc, ok := c.cfg.ModelConfigs[t]; ok {
		return mc
	}
	return core.ModelConfig{Model: "claude-sonnet-4-5", MaxTokens: 8192, Temperature: 0.2}
}

// runQALoop wires a coder agentrun.Runner bound to the task's worktree
// directory into a qaloop.Engine, adapting the qa package's concrete
// runners (whose Run signatures differ slightly from qaloop.Step) into
// matching closures when QA is not skipped.
func (c *Coordinator) runQALoop(ctx context.Context, task core.Task, dir, agentID, model string) (qaloop.Result, error) {
	coderRunner := agentrun.NewRunner(agentrun.CoderBehavior{}, c.cfg.Client, c.cfg.Bus)
	coderRunner.Dir = dir
	coderRunner.AgentID = agentID
	coderRunner.Model = model

	cfg := qaloop.Config{
		Coder: coderRunner,
		Bus:   c.cfg.Bus,
	}
	if c.cfg.MaxIterations > 0 {
		cfg.MaxIterations = c.cfg.MaxIterations
	}

	if !c.cfg.SkipQA && dir != "" {
		cfg.Build, cfg.Lint, cfg.Test, cfg.Review = c.buildQASteps(dir)
	}

	engine := qaloop.New(cfg)
	return engine.Run(ctx, task)
}

// buildQASteps binds a task's worktree directory to concrete build/lint/
// test/review runners and adapts each to qaloop.Step's
// (ctx, iteration) (core.QAStepResult, error) signature. BuildRunner and
// TestRunner return only a result; LintRunner also returns a fixable-issue
// count with no consumer elsewhere in the pipeline; only ReviewRunner
// already matches the Step signature exactly.
func (c *Coordinator) buildQASteps(dir string) (build, lint, test, rev qaloop.Step) {
	runner := qa.ShellCommandRunner{}
	buildRunner := qa.NewBuildRunner(runner, dir)
	lintRunner := qa.NewLintRunner(runner, dir)
	testRunner := qa.NewTestRunner(runner, dir)
	reviewRunner := qa.NewReviewRunner(c.cfg.Client, gitservice.New(dir))

	build = func(ctx context.Context, iteration int) (core.QAStepResult, error) {
		return buildRunner.Run(ctx, iteration), nil
	}
	lint = func(ctx context.Context, iteration int) (core.QAStepResult, error) {
		result, _ := lintRunner.Run(ctx, iteration)
		return result, nil
	}
	test = func(ctx context.Context, iteration int) (core.QAStepResult, error) {
		return testRunner.Run(ctx, iteration), nil
	}
	rev = reviewRunner.Run
	return build, lint, test, rev
}

// finishSuccessfulTask handles a QA-passed task: with no worktree or no
// configured MergerRunner there is nothing to merge, so the task completes
// directly; otherwise it attempts the merge and escalates to human review
// on conflict rather than failing outright. Note: spec.md §4.13/§4.18
// describe this merge step as pure git mechanics — the LLM-driven
// conflict-resolution agent role (agentrun.MergerBehavior) is a separate,
// independently exercised capability, not part of this automatic path.
func (c *Coordinator) finishSuccessfulTask(ctx context.Context, task core.Task, wt *core.Worktree) (retainWorktree bool) {
	if wt == nil || c.cfg.Merger == nil {
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskCompleted)
		c.emit("task:completed", map[string]interface{}{"taskId": task.ID})
		return false
	}

	result := c.cfg.Merger.Merge(ctx, wt.Branch, merge.Options{
		Target:    c.baseBranch,
		Message:   fmt.Sprintf("Merge task %s (%s)", task.ID, task.Name),
		HasRemote: c.cfg.HasRemote,
		Remote:    c.cfg.Remote,
	})

	switch result.Outcome {
	case core.MergeSucceeded:
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskCompleted)
		c.emit("task:merged", map[string]interface{}{
			"taskId": task.ID, "commitHash": result.CommitHash, "filesChanged": result.FilesChanged,
		})
		if c.cfg.HasRemote {
			if perr := c.cfg.Merger.PushToRemote(ctx, c.cfg.Remote, c.baseBranch); perr != nil {
				c.emit("task:push-failed", map[string]interface{}{"taskId": task.ID, "error": perr.Error()})
			} else {
				c.emit("task:pushed", map[string]interface{}{"taskId": task.ID})
			}
		}
		return false

	case core.MergeConflict:
		reason := merge.FormatConflictReason(result.ConflictFiles)
		return c.escalateTask(ctx, task, "", wt, core.ReasonMergeConflict, reason)

	default:
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskFailed)
		c.emit("task:merge-failed", map[string]interface{}{"taskId": task.ID, "error": errString(result.Error)})
		return false
	}
}

// escalateTask transitions a task through Escalated into HumanReview and
// opens a review, tracking the (taskId, agentId, worktreePath) mapping so
// HandleReviewApproved/Rejected can resolve it later. If no
// HumanReviewService is configured, or opening the review itself fails,
// the task is marked failed instead of left stuck.
func (c *Coordinator) escalateTask(ctx context.Context, task core.Task, agentID string, wt *core.Worktree, reason core.ReviewReason, context string) bool {
	if c.cfg.Reviews == nil {
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskFailed)
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "reason": context})
		return false
	}

	if err := c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskEscalated); err != nil {
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "error": err.Error()})
		return false
	}

	rev, err := c.cfg.Reviews.RequestReview(ctx, review.RequestReviewInput{
		TaskID: task.ID, ProjectID: task.ProjectID, Reason: reason, Context: context,
	})
	if err != nil {
		_ = c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskFailed)
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "reason": context})
		return false
	}

	if err := c.cfg.Queue.UpdateTaskStatus(task.ID, core.TaskHumanReview); err != nil {
		c.emit("task:failed", map[string]interface{}{"taskId": task.ID, "error": err.Error()})
		return false
	}

	worktreeID := ""
	if wt != nil {
		worktreeID = wt.ID
	}
	c.reviewMu.Lock()
	c.reviewTracking[rev.ID] = pendingReviewTracking{TaskID: task.ID, AgentType: core.AgentCoder, AgentID: agentID, WorktreeID: worktreeID}
	c.reviewMu.Unlock()

	c.emit("task:escalated", map[string]interface{}{"taskId": task.ID, "reviewId": rev.ID, "reason": reason, "context": context})
	return wt != nil
}

// HandleReviewApproved resolves a tracked review as approved: the task
// completes, its worktree (if any) is cleaned up, and the coordinator
// resumes if it was paused specifically for this wave's review.
func (c *Coordinator) HandleReviewApproved(ctx context.Context, reviewID, resolution string) error {
	return c.handleReviewResolution(ctx, reviewID, true, resolution)
}

// HandleReviewRejected resolves a tracked review as rejected: the task
// fails, its worktree (if any) is cleaned up, and the coordinator resumes
// if it was paused specifically for this wave's review.
func (c *Coordinator) HandleReviewRejected(ctx context.Context, reviewID, feedback string) error {
	return c.handleReviewResolution(ctx, reviewID, false, feedback)
}

func (c *Coordinator) handleReviewResolution(ctx context.Context, reviewID string, approved bool, note string) error {
	c.reviewMu.Lock()
	tracking, ok := c.reviewTracking[reviewID]
	if ok {
		delete(c.reviewTracking, reviewID)
	}
	c.reviewMu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: no tracked review %s", reviewID)
	}

	if approved {
		if _, err := c.cfg.Reviews.ApproveReview(ctx, reviewID, note); err != nil {
			return fmt.Errorf("coordinator: approve review: %w", err)
		}
		if err := c.cfg.Queue.UpdateTaskStatus(tracking.TaskID, core.TaskCompleted); err != nil {
			return fmt.Errorf("coordinator: mark task %s completed: %w", tracking.TaskID, err)
		}
		c.emit("task:completed", map[string]interface{}{"taskId": tracking.TaskID, "reviewId": reviewID})
	} else {
		if _, err := c.cfg.Reviews.RejectReview(ctx, reviewID, note); err != nil {
			return fmt.Errorf("coordinator: reject review: %w", err)
		}
		if err := c.cfg.Queue.UpdateTaskStatus(tracking.TaskID, core.TaskFailed); err != nil {
			return fmt.Errorf("coordinator: mark task %s failed: %w", tracking.TaskID, err)
		}
		c.emit("task:failed", map[string]interface{}{"taskId": tracking.TaskID, "reviewId": reviewID, "reason": "review rejected"})
	}

	if tracking.WorktreeID != "" && c.cfg.Worktrees != nil {
		_ = c.cfg.Worktrees.RemoveWorktree(ctx, tracking.WorktreeID, true)
	}

	c.mu.Lock()
	if c.status == StatusPaused && c.pauseReason == pausedForReview {
		c.status = StatusRunning
		c.pauseReason = ""
	}
	c.mu.Unlock()

	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
