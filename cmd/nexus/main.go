// Package main provides the CLI entry point for the nexus application.
package main

import (
	"fmt"
	"os"

	"github.com/nexus-build/nexus/internal/cmd"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	root := cmd.NewRootCommand()
	root.Version = version

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
