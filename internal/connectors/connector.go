// Package connectors runs test commands and turns their results into
// test-run intervals.
package connectors

import (
	"bufio"
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/worktrace/internal/models"
	"github.com/google/uuid"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Elapsed  time.Duration `json:"elapsed"`
	// Killed is set when the command was stopped before it exited on its own.
	Killed bool `json:"killed"`
}

// Connector defines the interface for executing commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns the result.
	Execute(ctx context.Context, cmd string, args []string) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}

var (
	goResult     = regexp.MustCompile(`^\s*--- (PASS|FAIL|SKIP): `)
	summaryCount = regexp.MustCompile(`(\d+) (passed|failed|errors?|skipped)`)
)

// ParseTestRun counts test outcomes in the command output. Go test -v
// markers and "N passed, M failed" summaries are understood. When nothing
// is recognised the exit code decides a single pass or failure. A killed
// command, or output that cannot be read, counts one error.
func ParseTestRun(res *ExecResult) models.TestRun {
	run := models.TestRun{Name: strings.TrimSpace(res.Command + " " + strings.Join(res.Args, " "))}
	found := false

	output := res.Stdout + "\n" + res.Stderr
	scanner := bufio.NewScanner(strings.NewReader(output))
	// A single line may be as long as the whole output.
	scanner.Buffer(make([]byte, 0, 64*1024), len(output)+1)
	for scanner.Scan() {
		line := scanner.Text()
		if m := goResult.FindStringSubmatch(line); m != nil {
			found = true
			switch m[1] {
			case "PASS":
				run.Passed++
			case "FAIL":
				run.Failed++
			case "SKIP":
				run.Skipped++
			}
			continue
		}
		for _, m := range summaryCount.FindAllStringSubmatch(line, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			found = true
			switch m[2] {
			case "passed":
				run.Passed += n
			case "failed":
				run.Failed += n
			case "error", "errors":
				run.Errors += n
			case "skipped":
				run.Skipped += n
			}
		}
	}

	if err := scanner.Err(); err != nil {
		run.Errors++
		found = true
	}

	if !found {
		if res.ExitCode == 0 && !res.Killed {
			run.Passed = 1
		} else if !res.Killed {
			run.Failed = 1
		}
	}
	if res.Killed {
		run.Errors++
	}
	return run
}

// RunInterval builds the closed test-run interval for a finished command.
func RunInterval(res *ExecResult, finished time.Time) *models.Interval {
	return models.NewTestRunInterval(uuid.New().String(), ParseTestRun(res), res.Elapsed, finished)
}
