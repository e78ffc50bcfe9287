package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/agentpool"
	"github.com/nexus-build/nexus/internal/checkpoint"
	"github.com/nexus-build/nexus/internal/config"
	"github.com/nexus-build/nexus/internal/coordinator"
	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/decompose"
	"github.com/nexus-build/nexus/internal/estimate"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/gitservice"
	"github.com/nexus-build/nexus/internal/llm"
	"github.com/nexus-build/nexus/internal/logger"
	"github.com/nexus-build/nexus/internal/merge"
	"github.com/nexus-build/nexus/internal/metrics"
	"github.com/nexus-build/nexus/internal/queue"
	"github.com/nexus-build/nexus/internal/review"
	"github.com/nexus-build/nexus/internal/state"
	"github.com/nexus-build/nexus/internal/store"
	"github.com/nexus-build/nexus/internal/tui"
	"github.com/nexus-build/nexus/internal/worktree"
)

// rig bundles every long-lived collaborator one project run needs. Built
// once per invocation by buildRig and torn down by rig.Close, following
// the teacher's runCommand: load config, construct collaborators, execute,
// report — but generalized from "parse a plan file" into "wire the whole
// coordinator graph" since spec.md's components replace the teacher's
// executor/plan/agent trio wholesale.
type rig struct {
	cfg *config.Config
	db  *store.DB
	bus *eventbus.Bus

	client      llm.Client
	meter       *llm.TokenMeter
	git         *gitservice.Service
	worktrees   *worktree.Manager
	pool        *agentpool.Pool
	queue       *queue.Queue
	states      *state.Manager
	reviews     *review.Service
	merger      *merge.Runner
	checkpoints *checkpoint.Manager
	decomposer  *decompose.Decomposer

	registry *metrics.Registry
	tracer   *metrics.Tracer

	coord *coordinator.Coordinator
}

func buildRig(cfg *config.Config) (*rig, error) {
	dbPath := cfg.Store.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.ProjectPath, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("nexus: create store directory: %w", err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("nexus: open store: %w", err)
	}

	bus := eventbus.New(1000)
	store.NewEventSync(db, bus)

	logger.NewConsoleLogger(bus, os.Stdout, cfg.LogLevel)
	if cfg.LogDir != "" {
		logDir := cfg.LogDir
		if !filepath.IsAbs(logDir) {
			logDir = filepath.Join(cfg.ProjectPath, logDir)
		}
		if _, err := logger.NewFileLogger(bus, logDir, cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("nexus: open file logger: %w", err)
		}
	}

	meter := llm.NewTokenMeter()
	client := llm.NewCLIClient(meter)

	git := gitservice.New(cfg.ProjectPath)

	wt, err := worktree.New(git, bus, filepath.Join(cfg.ProjectPath, ".nexus", "worktrees"))
	if err != nil {
		return nil, fmt.Errorf("nexus: init worktree manager: %w", err)
	}

	pool := agentpool.New(bus, agentpool.Capacity{
		Coder:    int64(cfg.AgentPool.Coder),
		Tester:   int64(cfg.AgentPool.Tester),
		Reviewer: int64(cfg.AgentPool.Reviewer),
		Merger:   int64(cfg.AgentPool.Merger),
	})

	q := queue.New(bus)
	estimator := estimate.New()
	decomposer := decompose.New(client, estimator)

	states := state.New(store.NewStateDAO(db), true)
	merger := merge.New(git)
	checkpoints := checkpoint.New(store.NewCheckpointDAO(db), git, states, bus)
	reviews := review.New(store.NewReviewDAO(db), checkpoints, states, nil, bus)

	r := &rig{
		cfg: cfg, db: db, bus: bus,
		client: client, meter: meter, git: git, worktrees: wt, pool: pool,
		queue: q, states: states, reviews: reviews, merger: merger,
		checkpoints: checkpoints, decomposer: decomposer,
	}

	if cfg.Metrics.Enabled {
		r.registry = metrics.New(bus, metrics.Config{
			AgentCapacity: map[core.AgentType]int{
				core.AgentCoder:    cfg.AgentPool.Coder,
				core.AgentTester:   cfg.AgentPool.Tester,
				core.AgentReviewer: cfg.AgentPool.Reviewer,
				core.AgentMerger:   cfg.AgentPool.Merger,
			},
		})
		r.registry.WatchTokens(meter)
		if cfg.Metrics.TraceStdout {
			tracer, err := metrics.NewTracer(metrics.TracerConfig{ServiceName: "nexus"})
			if err != nil {
				return nil, fmt.Errorf("nexus: init tracer: %w", err)
			}
			r.tracer = tracer
		}
	}

	coordCfg := coordinator.Config{
		Bus:         bus,
		Client:      client,
		Queue:       q,
		Pool:        pool,
		Worktrees:   wt,
		States:      states,
		Decomposer:  decomposer,
		Reviews:     reviews,
		Merger:      merger,
		Checkpoints: checkpoints,
		ProjectPath: cfg.ProjectPath,
		BaseBranch:  cfg.Git.BaseBranch,
		HasRemote:   cfg.Git.HasRemote,
		Remote:      cfg.Git.Remote,
		ModelConfigs: map[core.AgentType]core.ModelConfig{
			core.AgentCoder:    {Model: cfg.DefaultModel.Model, MaxTokens: cfg.DefaultModel.MaxTokens, Temperature: cfg.DefaultModel.Temperature},
			core.AgentTester:   {Model: cfg.DefaultModel.Model, MaxTokens: cfg.DefaultModel.MaxTokens, Temperature: cfg.DefaultModel.Temperature},
			core.AgentReviewer: {Model: cfg.DefaultModel.Model, MaxTokens: cfg.DefaultModel.MaxTokens, Temperature: cfg.DefaultModel.Temperature},
			core.AgentMerger:   {Model: cfg.DefaultModel.Model, MaxTokens: cfg.DefaultModel.MaxTokens, Temperature: cfg.DefaultModel.Temperature},
		},
		MaxIterations: cfg.QALoop.MaxIterations,
		SkipQA:        cfg.QALoop.SkipQA,
	}
	if r.tracer != nil {
		coordCfg.Tracer = r.tracer
	}
	r.coord = coordinator.New(coordCfg)

	return r, nil
}

func (r *rig) Close() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.tracer != nil {
		_ = r.tracer.Shutdown(context.Background())
	}
	_ = r.db.Close()
}

// NewRunCommand builds the run subcommand: load config, construct the
// coordinator graph, start a Genesis or Evolution project from a feature
// list, and block until it finishes, is interrupted, or fails.
//
// Grounded on the teacher's internal/cmd/run.go: load config, read flags,
// merge flags over config, construct collaborators, execute, report a
// summary on exit. Plan-file parsing has no equivalent here — Nexus's
// input is a feature list, not a markdown/yaml task plan — so that part
// of the teacher's command is replaced rather than reused.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <feature-description>...",
		Short: "Decompose features into tasks and execute them to completion",
		Long: `Run starts a new Nexus project: each positional argument becomes one
Feature description, which the TaskDecomposer breaks into a dependency
ordered set of Tasks. Tasks are then executed wave by wave across a pool
of agents, each task driven through the build/lint/test/review loop
until it passes or escalates for human review.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <project>/.nexus/config.yaml)")
	cmd.Flags().String("project", ".", "Path to the project root")
	cmd.Flags().String("name", "", "Project name (default: the project directory's base name)")
	cmd.Flags().String("mode", "genesis", "Project mode: genesis or evolution")
	cmd.Flags().Int("max-iterations", 0, "QA loop iteration budget per task (0 = use config)")
	cmd.Flags().Bool("skip-qa", false, "Run only the coder agent, skipping build/lint/test/review")
	cmd.Flags().String("timeout", "", "Maximum execution time (e.g. 30m, 2h)")
	cmd.Flags().Bool("tui", false, "Show a live dashboard while running (the summary is still printed at exit)")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	projectPath, _ := cmd.Flags().GetString("project")
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return fmt.Errorf("nexus: resolve project path: %w", err)
	}

	loader := config.NewLoader()
	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		loader = loader.WithConfigFile(configPath)
	}
	cfg, err := loader.Load(absPath)
	if err != nil {
		return fmt.Errorf("nexus: load config: %w", err)
	}
	cfg.ProjectPath = absPath

	if v, _ := cmd.Flags().GetInt("max-iterations"); v > 0 {
		cfg.QALoop.MaxIterations = v
	}
	if skipQA, _ := cmd.Flags().GetBool("skip-qa"); cmd.Flags().Changed("skip-qa") {
		cfg.QALoop.SkipQA = skipQA
	}
	if timeoutStr, _ := cmd.Flags().GetString("timeout"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("nexus: invalid timeout %q: %w", timeoutStr, err)
		}
		cfg.Timeout = timeout
	}

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode := core.ModeGenesis
	if modeFlag == string(core.ModeEvolution) {
		mode = core.ModeEvolution
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(absPath)
	}

	r, err := buildRig(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	projectID := core.NewID()
	if err := store.NewProjectDAO(r.db).SaveProject(cmd.Context(), core.Project{
		ID:       projectID,
		Name:     name,
		Mode:     mode,
		RootPath: absPath,
		Status:   core.ProjectInitializing,
	}); err != nil {
		return fmt.Errorf("nexus: save project: %w", err)
	}

	features := make([]core.Feature, len(args))
	for i, desc := range args {
		features[i] = core.Feature{
			Description: desc,
			Priority:    core.PriorityMust,
			Status:      core.FeaturePending,
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if cfg.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Timeout)
		defer timeoutCancel()
	}

	useTUI, _ := cmd.Flags().GetBool("tui")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runErrCh := make(chan error, 1)
	startRun := func() {
		runErrCh <- r.coord.Start(ctx, projectID, name, mode, features)
	}

	var runErr error
	if useTUI {
		adapter := tui.NewAdapter(r.bus)
		model := tui.New(r.coord, adapter)
		program := tea.NewProgram(model)
		tui.Done(program, runErrCh)

		go func() {
			select {
			case <-sigCh:
				r.coord.Pause("interrupted")
				_ = r.coord.Stop(30 * time.Second)
				cancel()
			case <-ctx.Done():
			}
		}()

		go startRun()
		finalModel, perr := program.Run()
		if perr != nil {
			return fmt.Errorf("nexus: tui: %w", perr)
		}
		if tm, ok := finalModel.(tui.Model); ok {
			runErr = tm.Err()
		}
	} else {
		go func() {
			<-sigCh
			fmt.Fprintln(cmd.OutOrStdout(), "received interrupt, pausing and shutting down gracefully...")
			r.coord.Pause("interrupted")
			_ = r.coord.Stop(30 * time.Second)
			cancel()
		}()
		startRun()
		runErr = <-runErrCh
	}

	if runErr != nil {
		return fmt.Errorf("nexus: run failed: %w", runErr)
	}

	progress := r.coord.GetProgress()
	fmt.Fprintf(cmd.OutOrStdout(), "\nExecution summary:\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  Total tasks:     %d\n", progress.TotalTasks)
	fmt.Fprintf(cmd.OutOrStdout(), "  Completed:       %d\n", progress.CompletedTasks)
	fmt.Fprintf(cmd.OutOrStdout(), "  Failed:          %d\n", progress.FailedTasks)
	fmt.Fprintf(cmd.OutOrStdout(), "  Escalated:       %d\n", progress.EscalatedTasks)
	fmt.Fprintf(cmd.OutOrStdout(), "  Waves:           %d/%d\n", progress.CurrentWave, progress.TotalWaves)

	if progress.FailedTasks > 0 {
		return fmt.Errorf("nexus: %d task(s) failed", progress.FailedTasks)
	}
	return nil
}
