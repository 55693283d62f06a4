package exec

import (
	"context"
	"os"
	osexec "os/exec"
)

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined output.
func (e *ExecRunner) Run(ctx context.Context, workDir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd.CombinedOutput()
}

// RunShell executes a command through "sh -c".
func (e *ExecRunner) RunShell(ctx context.Context, workDir string, env []string, command string) ([]byte, error) {
	return e.Run(ctx, workDir, env, "sh", "-c", command)
}

var _ CommandRunner = (*ExecRunner)(nil)
