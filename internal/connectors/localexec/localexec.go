// Package localexec runs allowlisted test commands on the local machine.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/worktrace/internal/connectors"
)

// DefaultAllowed lists the test drivers allowed when none are configured.
var DefaultAllowed = []string{"go", "make", "mvn", "gradle", "npm", "pytest"}

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
	allowed map[string]bool
}

// New creates a new LocalExec connector that may run the given executables.
func New(workDir string, allowed []string) *LocalExec {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &LocalExec{workDir: workDir, allowed: set}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist. Paths are matched by
// their base name.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	if cmd == "" {
		return false
	}
	return l.allowed[filepath.Base(cmd)]
}

// Execute runs a command if it's in the allowlist. A command stopped by ctx
// still returns a result, marked as killed.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}
	// Children that inherit the output pipes must not hold Run open after a kill.
	execCmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	err := execCmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	killed := false
	if err != nil {
		var exitError *exec.ExitError
		switch {
		case ctx.Err() != nil:
			exitCode = -1
			killed = true
		case errors.As(err, &exitError):
			exitCode = exitError.ExitCode()
			killed = exitCode == -1
		default:
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Elapsed:  elapsed,
		Killed:   killed,
	}, nil
}
