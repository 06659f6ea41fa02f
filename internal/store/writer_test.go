package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/worktrace/internal/models"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	mu    sync.Mutex
	ids   []string
	block chan struct{}
	err   error
}

func (r *recordingSink) Append(ctx context.Context, iv *models.Interval) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, iv.ID)
	return r.err
}

func (r *recordingSink) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestWriterFansOutInOrder(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	w := NewWriter(DefaultWriterConfig(), zaptest.NewLogger(t), first, second)
	w.Start()

	for i := 0; i < 10; i++ {
		if err := w.Enqueue(closedInterval(fmt.Sprintf("iv-%d", i), models.IntervalReading, base, time.Second)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	for _, sink := range []*recordingSink{first, second} {
		got := sink.recorded()
		if len(got) != 10 {
			t.Fatalf("Expected 10 writes, got %d", len(got))
		}
		for i, id := range got {
			if id != fmt.Sprintf("iv-%d", i) {
				t.Errorf("Position %d: unexpected id %s", i, id)
			}
		}
	}
	if stats := w.Stats(); stats.Written != 10 {
		t.Errorf("Expected 10 written, got %d", stats.Written)
	}

	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestWriterDropsWhenQueueStaysFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	w := NewWriter(WriterConfig{QueueSize: 1, EnqueueTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t), sink)
	w.Start()

	// One item is held by the blocked sink, one fills the queue.
	if err := w.Enqueue(closedInterval("a", models.IntervalReading, base, time.Second)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for len(w.queue) != 0 {
		select {
		case <-deadline:
			t.Fatal("Writer never picked up the first interval")
		case <-time.After(time.Millisecond):
		}
	}
	if err := w.Enqueue(closedInterval("b", models.IntervalReading, base, time.Second)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	start := time.Now()
	err := w.Enqueue(closedInterval("c", models.IntervalReading, base, time.Second))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Enqueue stalled for %s", elapsed)
	}
	if stats := w.Stats(); stats.Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", stats.Dropped)
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := sink.recorded(); len(got) != 2 {
		t.Errorf("Expected 2 writes, got %v", got)
	}
}

func TestWriterCountsSinkFailures(t *testing.T) {
	sink := &recordingSink{err: ErrStorageUnavailable}
	w := NewWriter(DefaultWriterConfig(), zaptest.NewLogger(t), sink)
	w.Start()

	if err := w.Enqueue(closedInterval("x", models.IntervalTyping, base, time.Second)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if stats := w.Stats(); stats.Failed != 1 || stats.Written != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestWriterRejectsAfterClose(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(DefaultWriterConfig(), zaptest.NewLogger(t), sink)

	// Never started: Close writes what was queued inline.
	if err := w.Enqueue(closedInterval("queued", models.IntervalReading, base, time.Second)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := sink.recorded(); len(got) != 1 {
		t.Errorf("Expected queued interval to be written on close, got %v", got)
	}

	err := w.Enqueue(closedInterval("late", models.IntervalReading, base, time.Second))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestWriterWithStore(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	w := NewWriter(DefaultWriterConfig(), zaptest.NewLogger(t), s)
	w.Start()

	iv := closedInterval("persisted", models.IntervalUserActive, base, time.Minute)
	if err := w.Enqueue(iv); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if size, _ := s.Size(ctx); size != 1 {
		t.Errorf("Expected 1 stored interval, got %d", size)
	}
}
