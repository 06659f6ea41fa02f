package connectors

import (
	"strings"
	"testing"
	"time"
)

func TestParseTestRun(t *testing.T) {
	tests := []struct {
		name                            string
		res                             ExecResult
		passed, failed, errors, skipped int
	}{
		{
			name:   "go test verbose",
			res:    ExecResult{Stdout: "=== RUN   TestA\n--- PASS: TestA (0.00s)\n--- FAIL: TestB (0.01s)\n    --- PASS: TestB/sub (0.00s)\n--- SKIP: TestC (0.00s)\nFAIL\n", ExitCode: 1},
			passed: 2, failed: 1, skipped: 1,
		},
		{
			name:   "pytest summary",
			res:    ExecResult{Stdout: "===== 5 passed, 2 failed, 1 skipped in 0.12s =====\n", ExitCode: 1},
			passed: 5, failed: 2, skipped: 1,
		},
		{
			name:   "unrecognised success",
			res:    ExecResult{Stdout: "BUILD SUCCESSFUL\n"},
			passed: 1,
		},
		{
			name:   "unrecognised failure",
			res:    ExecResult{ExitCode: 2},
			failed: 1,
		},
		{
			name:   "line longer than the default scanner buffer",
			res:    ExecResult{Stdout: "{\"log\":\"" + strings.Repeat("x", 200*1024) + "\"}\n--- PASS: TestA (0.00s)\n--- PASS: TestB (0.00s)\n"},
			passed: 2,
		},
		{
			name:   "killed",
			res:    ExecResult{Stdout: "--- PASS: TestA (0.00s)\n", ExitCode: -1, Killed: true},
			passed: 1, errors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := ParseTestRun(&tt.res)
			if run.Passed != tt.passed || run.Failed != tt.failed || run.Errors != tt.errors || run.Skipped != tt.skipped {
				t.Errorf("ParseTestRun = %+v", run)
			}
		})
	}
}

func TestRunInterval(t *testing.T) {
	finished := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	iv := RunInterval(&ExecResult{Command: "go", Args: []string{"test"}, Elapsed: 3 * time.Second}, finished)

	if !iv.Closed || iv.ID == "" {
		t.Fatalf("Expected closed interval with id, got %+v", iv)
	}
	if !iv.Start.Equal(finished.Add(-3 * time.Second)) {
		t.Errorf("Unexpected start %s", iv.Start)
	}
	if iv.TestRun.Name != "go test" {
		t.Errorf("Unexpected run name %q", iv.TestRun.Name)
	}
}
