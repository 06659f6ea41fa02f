package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/worktrace/internal/app"
	"github.com/fentz26/worktrace/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listenAddr string
	dataDir    string
	logLevel   string
	logFormat  string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the worktrace daemon",
	Long: `Starts the worktrace daemon. It accepts IDE events over HTTP, tracks the
open intervals and persists every closed interval to the transfer and
statistics stores. On SIGINT or SIGTERM all open intervals are closed and
flushed before exit.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory holding the interval stores (overrides config)")
	daemonCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	daemonCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: json or console (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.TransferDB, cfg.StatisticsDB, cfg.ArchiveDir = "", "", ""
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	runErr := a.Wait(ctx)
	if runErr != nil {
		logger.Error("daemon task failed", zap.Error(runErr))
	} else {
		logger.Info("received shutdown signal, flushing open intervals")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
