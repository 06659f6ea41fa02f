package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/worktrace/internal/models"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when an interval could not be queued within the
// enqueue timeout. The interval is dropped.
var ErrQueueFull = errors.New("interval write queue full")

// Appender durably records closed intervals.
type Appender interface {
	Append(ctx context.Context, iv *models.Interval) error
}

// WriterConfig configures the asynchronous interval writer.
type WriterConfig struct {
	QueueSize      int
	EnqueueTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultWriterConfig returns the default writer configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:      256,
		EnqueueTimeout: 2 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// WriterStats reports writer throughput.
type WriterStats struct {
	Queued  int   `json:"queued"`
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

type writeItem struct {
	iv   *models.Interval
	done chan struct{}
}

// Writer moves closed intervals off the caller's goroutine and appends them
// to every configured sink in the order they were queued.
type Writer struct {
	config WriterConfig
	sinks  []Appender
	logger *zap.Logger

	queue chan writeItem
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewWriter creates a writer that fans intervals out to sinks.
func NewWriter(config WriterConfig, logger *zap.Logger, sinks ...Appender) *Writer {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultWriterConfig().QueueSize
	}
	if config.EnqueueTimeout <= 0 {
		config.EnqueueTimeout = DefaultWriterConfig().EnqueueTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriterConfig().WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		config: config,
		sinks:  sinks,
		logger: logger,
		queue:  make(chan writeItem, config.QueueSize),
	}
}

// Start begins draining the queue.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

// Enqueue queues a copy of iv for writing. It waits at most the enqueue
// timeout for room and returns ErrQueueFull if none became available.
func (w *Writer) Enqueue(iv *models.Interval) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	item := writeItem{iv: iv.Clone()}
	select {
	case w.queue <- item:
		return nil
	default:
	}

	timer := time.NewTimer(w.config.EnqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- item:
		return nil
	case <-timer.C:
		w.dropped.Add(1)
		w.logger.Error("dropping interval",
			zap.String("id", iv.ID),
			zap.String("type", string(iv.Type)),
			zap.Error(ErrQueueFull))
		return ErrQueueFull
	}
}

// Flush blocks until every interval queued before the call has been written.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	done := make(chan struct{})
	select {
	case w.queue <- writeItem{done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting intervals and waits for the queue to drain.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	started := w.started
	w.mu.Unlock()

	if !started {
		// Nothing is draining; write what was queued inline.
		for item := range w.queue {
			w.handle(item)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Queued:  len(w.queue),
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}

func (w *Writer) run() {
	defer w.wg.Done()
	for item := range w.queue {
		w.handle(item)
	}
}

func (w *Writer) handle(item writeItem) {
	if item.done != nil {
		close(item.done)
		return
	}

	ok := true
	for _, sink := range w.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
		err := sink.Append(ctx, item.iv)
		cancel()
		if err != nil {
			ok = false
			w.logger.Error("failed to persist interval",
				zap.String("id", item.iv.ID),
				zap.String("type", string(item.iv.Type)),
				zap.Error(err))
		}
	}
	if ok {
		w.written.Add(1)
	} else {
		w.failed.Add(1)
	}
}
