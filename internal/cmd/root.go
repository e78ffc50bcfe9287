// Package cmd wires Nexus's cobra commands together. It is deliberately
// thin: every command loads config, constructs the collaborators a single
// run needs, hands them to internal/coordinator, and reports the result —
// the orchestration logic itself lives in the packages under internal/,
// not here.
//
// Grounded on the teacher's internal/cmd/root.go: a single NewRootCommand
// building the cobra tree and registering subcommands, with build-time
// version injection.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand builds the root cobra command and registers every
// subcommand Nexus exposes.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexus",
		Short: "Autonomous software construction engine",
		Long: `Nexus turns a set of feature requirements (or an interview transcript)
into decomposed tasks, executes them across a pool of coding, testing,
reviewing, and merging agents organized into dependency-ordered waves,
and drives each task through a build/lint/test/review loop until it
passes or escalates for human review.`,
		Version:      Version,
		SilenceUsage: true,
	}

	root.AddCommand(NewRunCommand())
	root.AddCommand(NewInterviewCommand())
	root.AddCommand(NewServeCommand())

	return root
}
