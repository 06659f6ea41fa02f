// Package controlplane provides the HTTP API and service layer for the
// worktrace daemon.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/worktrace/internal/archive"
	"github.com/fentz26/worktrace/internal/models"
	"github.com/fentz26/worktrace/internal/stats"
	"github.com/fentz26/worktrace/internal/store"
	"github.com/fentz26/worktrace/internal/tracker"
	"go.uber.org/zap"
)

// Options wires a Service.
type Options struct {
	Tracker    *tracker.Manager
	Transfer   *store.Store
	Statistics *store.Store
	Stats      *stats.Service
	Writer     *store.Writer
	ArchiveDir string
	Version    string
	Logger     *zap.Logger
}

// Service provides the control plane business logic.
type Service struct {
	tracker    *tracker.Manager
	transfer   *store.Store
	statistics *store.Store
	stats      *stats.Service
	writer     *store.Writer
	archiveDir string
	version    string
	logger     *zap.Logger

	exportMu sync.Mutex
}

// NewService creates a new control plane service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tracker:    opts.Tracker,
		transfer:   opts.Transfer,
		statistics: opts.Statistics,
		stats:      opts.Stats,
		writer:     opts.Writer,
		archiveDir: opts.ArchiveDir,
		version:    opts.Version,
		logger:     logger,
	}
}

// --- Event Operations ---

// SubmitEvent hands an externally sourced event to the tracker.
func (s *Service) SubmitEvent(ev models.Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	if ev.Type.Timeout() {
		return ErrInternalEvent
	}
	ev.Generation = 0

	if err := s.tracker.Update(ev); err != nil {
		if errors.Is(err, tracker.ErrStopped) {
			return ErrUnavailable
		}
		return err
	}
	return nil
}

// --- Interval Operations ---

// ListIntervals returns the intervals waiting for export, optionally only
// those ending at or after since.
func (s *Service) ListIntervals(ctx context.Context, since time.Time) ([]models.Interval, error) {
	if since.IsZero() {
		return s.transfer.ReadAll(ctx)
	}
	return s.transfer.ReadSince(ctx, since)
}

// OpenIntervals returns the currently open intervals.
func (s *Service) OpenIntervals() []models.Interval {
	return s.tracker.Intervals().OpenIntervals()
}

// Flush waits until queued events are applied and closed intervals are stored.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.tracker.Sync(ctx); err != nil && !errors.Is(err, tracker.ErrStopped) {
		return fmt.Errorf("sync tracker: %w", err)
	}
	if err := s.writer.Flush(ctx); err != nil {
		return fmt.Errorf("flush writer: %w", err)
	}
	return nil
}

// ClearIntervals empties both stores.
func (s *Service) ClearIntervals(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.transfer.Clear(ctx); err != nil {
		return fmt.Errorf("clear transfer store: %w", err)
	}
	if err := s.statistics.Clear(ctx); err != nil {
		return fmt.Errorf("clear statistics store: %w", err)
	}
	s.logger.Info("cleared interval stores")
	return nil
}

// Export archives the transfer store and removes the archived intervals.
func (s *Service) Export(ctx context.Context) (*archive.Result, error) {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	seed := s.tracker.Intervals().Identity().SessionSeed
	result, err := archive.Export(ctx, s.transfer, s.archiveDir, seed, time.Now())
	if err != nil {
		if errors.Is(err, archive.ErrEmpty) {
			return nil, ErrNothingToSend
		}
		return nil, err
	}
	s.logger.Info("exported intervals",
		zap.String("path", result.Path),
		zap.Int("count", result.Count),
		zap.Int("removed", result.Removed))
	return result, nil
}

// Archives lists the exported archives.
func (s *Service) Archives() ([]archive.Info, error) {
	return archive.Inspect(s.archiveDir)
}

// --- Statistics Operations ---

// Stats aggregates the statistics store plus the open intervals.
func (s *Service) Stats(ctx context.Context) (*stats.Summary, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	return s.stats.Summarize(ctx, s.OpenIntervals())
}

// Prune drops statistics intervals outside the retention window.
func (s *Service) Prune(ctx context.Context) (int, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	return s.stats.Prune(ctx)
}

// --- Health ---

// HealthResponse reports daemon status.
type HealthResponse struct {
	OK            bool              `json:"ok"`
	DB            string            `json:"db"`
	Version       string            `json:"version"`
	Time          string            `json:"time"`
	SessionSeed   string            `json:"session_seed"`
	OpenIntervals int               `json:"open_intervals"`
	Tracker       tracker.Stats     `json:"tracker"`
	Writer        store.WriterStats `json:"writer"`
	LastPruned    int               `json:"last_pruned"`
	LastPruneAt   *time.Time        `json:"last_prune_at,omitempty"`
}

// Health checks both stores and reports loop counters.
func (s *Service) Health(ctx context.Context) HealthResponse {
	health := HealthResponse{
		OK:          true,
		DB:          "ok",
		Version:     s.version,
		Time:        time.Now().UTC().Format(time.RFC3339),
		SessionSeed: s.tracker.Intervals().Identity().SessionSeed,
		Tracker:     s.tracker.GetStats(),
		Writer:      s.writer.Stats(),
	}
	health.OpenIntervals = health.Tracker.OpenIntervals
	if removed, at := s.stats.LastPrune(); !at.IsZero() {
		health.LastPruned = removed
		health.LastPruneAt = &at
	}

	for name, st := range map[string]*store.Store{"transfer": s.transfer, "statistics": s.statistics} {
		if err := st.Ping(ctx); err != nil {
			health.OK = false
			health.DB = fmt.Sprintf("%s: %v", name, err)
		}
	}
	return health
}
