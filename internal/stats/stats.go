// Package stats aggregates interval durations and keeps the statistics
// store bounded to a retention window.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/worktrace/internal/clock"
	"github.com/fentz26/worktrace/internal/models"
	"go.uber.org/zap"
)

// DefaultRetention is how far before the most recent interval end the
// statistics store keeps intervals.
const DefaultRetention = time.Hour

// Store is the subset of the interval store statistics need.
type Store interface {
	ReadAll(ctx context.Context) ([]models.Interval, error)
	RemoveMany(ctx context.Context, intervals []models.Interval) (int, error)
}

// Row is the aggregate for one interval type or perspective.
type Row struct {
	Name     string        `json:"name"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration_ns"`
	Human    string        `json:"human"`
}

// TestTally sums the results of every test run.
type TestTally struct {
	Runs    int `json:"runs"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Summary is an aggregate over closed and open intervals.
type Summary struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Types        []Row     `json:"types"`
	Perspectives []Row     `json:"perspectives"`
	Tests        TestTally `json:"tests"`
}

// Total returns the aggregated duration for an interval type.
func (s *Summary) Total(t models.IntervalType) time.Duration {
	for _, row := range s.Types {
		if row.Name == string(t) {
			return row.Duration
		}
	}
	return 0
}

// PerspectiveTotal returns the aggregated duration for a perspective.
func (s *Summary) PerspectiveTotal(p models.Perspective) time.Duration {
	for _, row := range s.Perspectives {
		if row.Name == string(p) {
			return row.Duration
		}
	}
	return 0
}

// Aggregate sums closed intervals and the live duration of open ones at now.
func Aggregate(closed, open []models.Interval, now time.Time) *Summary {
	counts := make(map[models.IntervalType]int)
	totals := make(map[models.IntervalType]time.Duration)
	pCounts := make(map[models.Perspective]int)
	pTotals := make(map[models.Perspective]time.Duration)
	summary := &Summary{To: now}

	add := func(iv models.Interval) {
		d := iv.Duration(now)
		counts[iv.Type]++
		totals[iv.Type] += d
		if iv.Type == models.IntervalPerspective {
			pCounts[iv.Perspective]++
			pTotals[iv.Perspective] += d
		}
		if iv.TestRun != nil {
			summary.Tests.Runs++
			summary.Tests.Passed += iv.TestRun.Passed
			summary.Tests.Failed += iv.TestRun.Failed
			summary.Tests.Errors += iv.TestRun.Errors
			summary.Tests.Skipped += iv.TestRun.Skipped
		}
		if summary.From.IsZero() || iv.Start.Before(summary.From) {
			summary.From = iv.Start
		}
	}
	for _, iv := range closed {
		add(iv)
	}
	for _, iv := range open {
		add(iv)
	}

	for _, t := range models.IntervalTypes {
		summary.Types = append(summary.Types, row(string(t), counts[t], totals[t]))
	}
	for _, p := range []models.Perspective{models.PerspectiveJava, models.PerspectiveDebug, models.PerspectiveOther} {
		summary.Perspectives = append(summary.Perspectives, row(string(p), pCounts[p], pTotals[p]))
	}
	return summary
}

func row(name string, count int, d time.Duration) Row {
	return Row{Name: name, Count: count, Duration: d, Human: models.FormatDuration(d)}
}

// Expired returns the intervals whose end lies more than retention before
// the most recent end among intervals.
func Expired(intervals []models.Interval, retention time.Duration) []models.Interval {
	var latest time.Time
	for _, iv := range intervals {
		if iv.End.After(latest) {
			latest = iv.End
		}
	}
	cutoff := latest.Add(-retention)

	var expired []models.Interval
	for _, iv := range intervals {
		if iv.End.Before(cutoff) {
			expired = append(expired, iv)
		}
	}
	return expired
}

// Service reads the statistics store and prunes it.
type Service struct {
	store     Store
	retention time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu         sync.Mutex
	lastPruned int
	lastRun    time.Time
}

// New creates a statistics service over store.
func New(store Store, retention time.Duration, clk clock.Clock, logger *zap.Logger) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, retention: retention, clock: clk, logger: logger}
}

// Summarize aggregates the stored intervals plus the given open ones.
func (s *Service) Summarize(ctx context.Context, open []models.Interval) (*Summary, error) {
	closed, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read statistics intervals: %w", err)
	}
	return Aggregate(closed, open, s.clock.Now()), nil
}

// Prune removes intervals that fell out of the retention window.
func (s *Service) Prune(ctx context.Context) (int, error) {
	all, err := s.store.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("read statistics intervals: %w", err)
	}
	removed := 0
	if expired := Expired(all, s.retention); len(expired) > 0 {
		removed, err = s.store.RemoveMany(ctx, expired)
		if err != nil {
			return 0, fmt.Errorf("remove expired intervals: %w", err)
		}
		s.logger.Info("pruned statistics intervals", zap.Int("removed", removed))
	}

	s.mu.Lock()
	s.lastPruned = removed
	s.lastRun = s.clock.Now()
	s.mu.Unlock()
	return removed, nil
}

// Run prunes every period until ctx is done.
func (s *Service) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Error("statistics prune failed", zap.Error(err))
			}
		}
	}
}

// LastPrune reports the outcome of the most recent prune that removed anything.
func (s *Service) LastPrune() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPruned, s.lastRun
}
