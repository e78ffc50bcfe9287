package llm

import (
	"os"
	"os/exec"
	"path/filepath"
)

// nexusTmpDir is a dedicated clean temp directory for CLI invocations, kept
// free of editor-socket files. Grounded on internal/claude/env.go's
// SetCleanEnv, which works around a known Claude CLI crash
// (anthropics/claude-code#7624) when --settings is combined with a TMPDIR
// containing VSCode sockets.
var nexusTmpDir string

func init() {
	nexusTmpDir = filepath.Join(os.TempDir(), "nexus-llm")
	os.MkdirAll(nexusTmpDir, 0755)
}

// setCleanEnv configures cmd to use nexusTmpDir as TMPDIR.
func setCleanEnv(cmd *exec.Cmd) {
	cmd.Env = os.Environ()
	found := false
	for i, env := range cmd.Env {
		if len(env) > 7 && env[:7] == "TMPDIR=" {
			cmd.Env[i] = "TMPDIR=" + nexusTmpDir
			found = true
			break
		}
	}
	if !found {
		cmd.Env = append(cmd.Env, "TMPDIR="+nexusTmpDir)
	}
}
