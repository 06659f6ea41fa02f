package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fentz26/worktrace/internal/connectors"
	"github.com/fentz26/worktrace/internal/connectors/localexec"
	"github.com/fentz26/worktrace/internal/models"
	"github.com/spf13/cobra"
)

var testTimeout time.Duration

var testCmd = &cobra.Command{
	Use:   "test -- [command] [args...]",
	Short: "Run a test command and record it as a test run interval",
	Long: `Runs a test command in the current directory, counts passed, failed,
errored and skipped tests from its output and submits the run to the daemon
as a closed test run interval. Only commands listed under test_commands in
the config may be run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTest,
}

func init() {
	testCmd.Flags().DurationVar(&testTimeout, "timeout", 30*time.Minute, "Stop the command after this long")
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	connector := localexec.New(workDir, cfg.TestCommands)
	if !connector.IsAllowed(args[0], args[1:]) {
		return fmt.Errorf("command %q is not in the allowed test commands %v", args[0], cfg.TestCommands)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	res, err := connector.Execute(ctx, args[0], args[1:])
	if err != nil {
		return err
	}
	os.Stdout.WriteString(res.Stdout)
	os.Stderr.WriteString(res.Stderr)

	iv := connectors.RunInterval(res, time.Now())
	ev := models.NewEvent(models.EventTestRun, models.EventSource{Interval: iv})
	if _, err := apiPost("/events", ev); err != nil {
		return fmt.Errorf("record test run: %w", err)
	}

	run := iv.TestRun
	fmt.Printf("Recorded %s: %d passed, %d failed, %d errors, %d skipped in %s\n",
		run.Name, run.Passed, run.Failed, run.Errors, run.Skipped, iv.DurationString(time.Now()))
	if res.ExitCode != 0 {
		return fmt.Errorf("test command exited with code %d", res.ExitCode)
	}
	return nil
}
