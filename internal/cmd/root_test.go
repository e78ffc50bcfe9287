package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandHelp(t *testing.T) {
	cmd := NewRootCommand()
	if cmd == nil {
		t.Fatal("root command should not be nil")
	}

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	_ = cmd.Execute()

	output := buf.String()
	if !strings.Contains(output, "nexus") {
		t.Errorf("help text should mention nexus, got: %s", output)
	}
	if !strings.Contains(output, "feature") && !strings.Contains(output, "agent") {
		t.Errorf("help text should describe the orchestration domain, got: %s", output)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	want := map[string]bool{"run": false, "interview": false, "serve": false}
	for _, sub := range cmd.Commands() {
		name := strings.Fields(sub.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("root command is missing subcommand %q", name)
		}
	}
}

func TestRootCommandUse(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "nexus" {
		t.Errorf("expected Use %q, got %q", "nexus", cmd.Use)
	}
}
