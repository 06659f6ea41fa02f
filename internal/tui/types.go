package tui

import (
	"github.com/fentz26/worktrace/internal/controlplane"
	"github.com/fentz26/worktrace/internal/models"
	"github.com/fentz26/worktrace/internal/stats"
)

// snapshot is everything one refresh fetches from the daemon.
type snapshot struct {
	health *controlplane.HealthResponse
	open   []models.Interval
	recent []models.Interval
	stats  *stats.Summary
}

type snapshotMsg struct {
	snapshot snapshot
}

type daemonStatusMsg struct {
	online bool
	err    error
}

type tickMsg struct{}

type commandResultMsg struct {
	message string
	err     error
}
