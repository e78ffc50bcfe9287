package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/config"
	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/interview"
	"github.com/nexus-build/nexus/internal/llm"
	"github.com/nexus-build/nexus/internal/store"
)

// NewInterviewCommand builds the interview subcommand: a stdin/stdout REPL
// wrapping InterviewEngine's genesis/evolution conversation, printing the
// assistant's response, any requirements extracted and any suggested gaps
// from each turn, and ending the session (printing a summary) on "/done"
// or EOF.
//
// Grounded on the teacher's internal/cmd/observe_menu.go: a bufio.Reader
// over os.Stdin read in a loop, with github.com/fatih/color for prompt
// styling. The menu/pagination logic there has no equivalent — this is a
// free-form conversation, not a numbered selection — so only the
// read-loop-plus-colored-prompt shape is reused.
func NewInterviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Gather requirements through a conversational interview",
		Long: `Interview starts a new requirement-gathering conversation.
Genesis mode asks the clarifying questions a new project needs answered;
Evolution mode asks them in the context of an existing codebase. Type
/done (or send EOF) to end the session; it does not end on its own.`,
		RunE: interviewCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <project>/.nexus/config.yaml)")
	cmd.Flags().String("project", ".", "Path to the project root")
	cmd.Flags().String("mode", "genesis", "Interview mode: genesis or evolution")
	cmd.Flags().String("evolution-context", "", "Repo summary to ground an evolution-mode interview")
	cmd.Flags().String("export-html", "", "Write the completed session transcript as HTML to this path")

	return cmd
}

func interviewCommand(cmd *cobra.Command, args []string) error {
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

	dbPath := cfg.Store.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(absPath, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("nexus: create store directory: %w", err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("nexus: open store: %w", err)
	}
	defer db.Close()

	bus := eventbus.New(100)
	client := llm.NewCLIClient(llm.NewTokenMeter())
	engine := interview.New(client, store.NewRequirementDAO(db), bus)
	sessions := interview.NewSessionManager(engine, store.NewSessionDAO(db))
	defer sessions.Close()

	modeFlag, _ := cmd.Flags().GetString("mode")
	mode := core.ModeGenesis
	if modeFlag == string(core.ModeEvolution) {
		mode = core.ModeEvolution
	}
	evolutionContext, _ := cmd.Flags().GetString("evolution-context")

	projectID := core.NewID()
	session, err := engine.StartSession(cmd.Context(), projectID, mode, evolutionContext)
	if err != nil {
		return fmt.Errorf("nexus: start interview: %w", err)
	}

	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	if len(session.Messages) > 0 {
		bold.Println(session.Messages[len(session.Messages)-1].Text)
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	for {
		cyan.Print("\nyou> ")
		line, err := reader.ReadString('\n')
		text := strings.TrimSpace(line)

		if text == "/done" || (err != nil && text == "") {
			break
		}
		if text == "" {
			continue
		}

		result, perr := engine.ProcessMessage(cmd.Context(), session.ID, text)
		if perr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", perr)
			continue
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.Response)
		if len(result.ExtractedRequirements) > 0 {
			bold.Fprintln(cmd.OutOrStdout(), "\ncaptured:")
			for _, req := range result.ExtractedRequirements {
				fmt.Fprintf(cmd.OutOrStdout(), "  [%s/%s] %s\n", req.Area, req.Priority, req.Text)
			}
		}
		if len(result.SuggestedGaps) > 0 {
			bold.Fprintln(cmd.OutOrStdout(), "\nstill unclear:")
			for _, gap := range result.SuggestedGaps {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", gap)
			}
		}
	}

	sessions.Flush(cmd.Context())
	summary, err := engine.EndSession(session.ID)
	if err != nil {
		return fmt.Errorf("nexus: end interview: %w", err)
	}

	if exportPath, _ := cmd.Flags().GetString("export-html"); exportPath != "" {
		if final, ok := engine.GetSession(session.ID); ok {
			html, rerr := interview.RenderTranscriptHTML(final)
			if rerr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", rerr)
			} else if werr := os.WriteFile(exportPath, []byte(html), 0o644); werr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: write transcript: %v\n", werr)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "transcript written to %s\n", exportPath)
			}
		}
	}

	bold.Fprintln(cmd.OutOrStdout(), "\nSession summary:")
	fmt.Fprintf(cmd.OutOrStdout(), "  Requirements captured: %d\n", summary.TotalRequirements)
	for category, count := range summary.Categories {
		fmt.Fprintf(cmd.OutOrStdout(), "    %s: %d\n", category, count)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  Duration: %s\n", summary.Duration.Round(1e9))
	return nil
}
