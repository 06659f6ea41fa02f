// Package app wires the worktrace daemon together. Every App is an
// independent instance with its own stores, tracker and server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/fentz26/worktrace/internal/clock"
	"github.com/fentz26/worktrace/internal/config"
	"github.com/fentz26/worktrace/internal/controlplane"
	"github.com/fentz26/worktrace/internal/intervals"
	"github.com/fentz26/worktrace/internal/stats"
	"github.com/fentz26/worktrace/internal/store"
	"github.com/fentz26/worktrace/internal/tracker"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

// App is a running daemon instance.
type App struct {
	config *config.Config
	logger *zap.Logger

	SessionSeed string
	Transfer    *store.Store
	Statistics  *store.Store
	Writer      *store.Writer
	Intervals   *intervals.Manager
	Tracker     *tracker.Manager
	Stats       *stats.Service
	Service     *controlplane.Service
	Server      *controlplane.Server

	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New opens both interval stores and builds the tracker around them. A new
// session seed is generated for every App.
func New(cfg *config.Config, logger *zap.Logger, clk clock.Clock) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}

	transfer, err := store.New(cfg.TransferDB)
	if err != nil {
		return nil, fmt.Errorf("open transfer store: %w", err)
	}
	statistics, err := store.New(cfg.StatisticsDB)
	if err != nil {
		transfer.Close()
		return nil, fmt.Errorf("open statistics store: %w", err)
	}

	a := &App{
		config:      cfg,
		logger:      logger,
		SessionSeed: uuid.New().String(),
		Transfer:    transfer,
		Statistics:  statistics,
	}

	a.Writer = store.NewWriter(store.WriterConfig{
		QueueSize:      cfg.WriterQueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout.Std(),
	}, logger.Named("writer"), transfer, statistics)

	a.Intervals = intervals.NewManager(intervals.Identity{
		SessionSeed: a.SessionSeed,
		ProjectID:   cfg.ProjectID,
		UserID:      cfg.UserID,
	}, a.Writer, clk, logger.Named("intervals"))

	a.Tracker = tracker.New(a.Intervals, &tracker.Config{
		UserTimeout:   cfg.UserTimeout.Std(),
		EditorTimeout: cfg.EditorTimeout.Std(),
		QueueSize:     cfg.EventQueueSize,
	}, logger.Named("tracker"))

	a.Stats = stats.New(statistics, cfg.StatisticsRetention.Std(), clk, logger.Named("stats"))

	a.Service = controlplane.NewService(controlplane.Options{
		Tracker:    a.Tracker,
		Transfer:   transfer,
		Statistics: statistics,
		Stats:      a.Stats,
		Writer:     a.Writer,
		ArchiveDir: cfg.ArchiveDir,
		Version:    Version,
		Logger:     logger.Named("controlplane"),
	})
	a.Server = controlplane.NewServer(a.Service, cfg.Listen, logger.Named("http"))

	return a, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Addr returns the address the API listens on once started.
func (a *App) Addr() string {
	if a.listener == nil {
		return a.config.Listen
	}
	return a.listener.Addr().String()
}

// Start begins processing events, persisting intervals, pruning statistics
// and serving the API.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return errors.New("app already shut down")
	}
	if a.started {
		return nil
	}

	ln, err := net.Listen("tcp", a.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.config.Listen, err)
	}
	a.listener = ln

	a.Writer.Start()
	a.Tracker.Start()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.group, ctx = errgroup.WithContext(ctx)
	a.group.Go(func() error {
		return a.Server.Serve(ln)
	})
	a.group.Go(func() error {
		return a.Stats.Run(ctx, a.config.PruneInterval.Std())
	})

	a.started = true
	a.logger.Info("worktrace started",
		zap.String("version", Version),
		zap.String("session_seed", a.SessionSeed),
		zap.String("addr", ln.Addr().String()))
	return nil
}

// Wait blocks until a background task fails or ctx is done.
func (a *App) Wait(ctx context.Context) error {
	a.mu.Lock()
	group := a.group
	a.mu.Unlock()
	if group == nil {
		<-ctx.Done()
		return nil
	}

	errc := make(chan error, 1)
	go func() { errc <- group.Wait() }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

// Shutdown stops the API, applies queued events, closes every open
// interval, drains the writer and closes both stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	started := a.started
	a.mu.Unlock()

	var errs []error
	if started {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}

	a.Tracker.Stop()
	a.Intervals.CloseAll()

	if err := a.Writer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain writer: %w", err))
	}

	if started {
		a.cancel()
		if err := a.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.Transfer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transfer store: %w", err))
	}
	if err := a.Statistics.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close statistics store: %w", err))
	}

	a.logger.Info("worktrace stopped", zap.String("session_seed", a.SessionSeed))
	return errors.Join(errs...)
}
