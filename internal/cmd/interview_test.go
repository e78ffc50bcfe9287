package cmd

import "testing"

func TestNewInterviewCommand(t *testing.T) {
	cmd := NewInterviewCommand()

	if cmd.Use != "interview" {
		t.Errorf("expected Use %q, got %q", "interview", cmd.Use)
	}

	flags := []string{"config", "project", "mode", "evolution-context"}
	for _, name := range flags {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag %q to exist", name)
		}
	}

	modeFlag := cmd.Flags().Lookup("mode")
	if modeFlag.DefValue != "genesis" {
		t.Errorf("expected mode default %q, got %q", "genesis", modeFlag.DefValue)
	}
}
