// Package tracker turns the stream of UI events into activity intervals.
// Events are applied one at a time, in arrival order, by a single goroutine.
package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fentz26/worktrace/internal/inactivity"
	"github.com/fentz26/worktrace/internal/intervals"
	"github.com/fentz26/worktrace/internal/models"
	"go.uber.org/zap"
)

// ErrStopped is returned when submitting to a stopped tracker.
var ErrStopped = errors.New("tracker stopped")

// ErrUnknownEvent is returned for event types the tracker does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

type request struct {
	event *models.Event
	done  chan struct{}
}

// Stats reports tracker counters.
type Stats struct {
	Processed     int64 `json:"processed"`
	Stale         int64 `json:"stale"`
	Panics        int64 `json:"panics"`
	Queued        int   `json:"queued"`
	OpenIntervals int   `json:"open_intervals"`
	UserPending   bool  `json:"user_timer_pending"`
	EditorPending bool  `json:"editor_timer_pending"`
}

// Manager is the event consumer driving the interval state machine.
type Manager struct {
	intervals *intervals.Manager
	user      *inactivity.Notifier
	editor    *inactivity.Notifier
	config    *Config
	logger    *zap.Logger

	events chan request

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	startMu sync.Mutex
	started bool

	processed atomic.Int64
	stale     atomic.Int64
	panics    atomic.Int64
}

// New creates a tracker that mutates im.
func New(im *intervals.Manager, cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		intervals: im,
		config:    cfg,
		logger:    logger,
		events:    make(chan request, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.user = inactivity.New(models.EventUserInactivity, cfg.UserTimeout, im, m.deliver)
	m.editor = inactivity.New(models.EventEditorInactivity, cfg.EditorTimeout, im, m.deliver)
	return m
}

// Intervals returns the interval manager the tracker drives.
func (m *Manager) Intervals() *intervals.Manager {
	return m.intervals
}

// Start begins the event loop.
func (m *Manager) Start() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("tracker started",
		zap.Duration("user_timeout", m.config.UserTimeout),
		zap.Duration("editor_timeout", m.config.EditorTimeout))
}

// Stop applies the events already queued, then stops the loop and both
// inactivity notifiers. Open intervals are left open.
func (m *Manager) Stop() {
	m.user.Stop()
	m.editor.Stop()
	m.cancel()

	m.startMu.Lock()
	started := m.started
	m.started = true
	m.startMu.Unlock()
	if !started {
		close(m.done)
	}
	m.wg.Wait()
	m.logger.Info("tracker stopped")
}

// Update submits an event. It is the only way to change interval state.
func (m *Manager) Update(ev models.Event) error {
	if !ev.Type.Valid() {
		m.logger.Warn("ignoring unknown event", zap.String("type", string(ev.Type)))
		return ErrUnknownEvent
	}
	if ev.At.IsZero() {
		ev.At = m.intervals.Now()
	}
	return m.enqueue(request{event: &ev})
}

// Sync blocks until every event submitted before the call has been applied.
func (m *Manager) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := m.enqueue(request{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-m.done:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns current tracker statistics.
func (m *Manager) GetStats() Stats {
	return Stats{
		Processed:     m.processed.Load(),
		Stale:         m.stale.Load(),
		Panics:        m.panics.Load(),
		Queued:        len(m.events),
		OpenIntervals: len(m.intervals.OpenIntervals()),
		UserPending:   m.user.Pending(),
		EditorPending: m.editor.Pending(),
	}
}

func (m *Manager) enqueue(req request) error {
	if m.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case m.events <- req:
		return nil
	case <-m.ctx.Done():
		return ErrStopped
	}
}

// deliver feeds a notifier timeout into the event queue.
func (m *Manager) deliver(ev models.Event) {
	if err := m.enqueue(request{event: &ev}); err != nil {
		m.logger.Debug("dropping timeout after stop", zap.String("type", string(ev.Type)))
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			for {
				select {
				case req := <-m.events:
					m.handle(req)
				default:
					return
				}
			}
		case req := <-m.events:
			m.handle(req)
		}
	}
}

func (m *Manager) handle(req request) {
	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			fields := []zap.Field{zap.Any("panic", r)}
			if req.event != nil {
				fields = append(fields, zap.String("event", string(req.event.Type)))
			}
			m.logger.Error("recovered from panic in event handler", fields...)
		}
		if req.done != nil {
			close(req.done)
		}
	}()

	if req.event == nil {
		return
	}
	m.apply(*req.event)
	m.processed.Add(1)
}

func (m *Manager) apply(ev models.Event) {
	m.logger.Debug("applying event",
		zap.String("type", string(ev.Type)),
		zap.String("editor", ev.Source.Editor),
		zap.String("perspective", string(ev.Source.Perspective)))

	switch ev.Type {
	case models.EventAppStart:
		m.ensureOpen(models.IntervalApplicationOpen)
		m.user.Trigger()

	case models.EventAppEnd:
		m.user.Cancel()
		m.editor.Cancel()
		m.intervals.CloseAll()

	case models.EventWindowActive:
		m.ensureOpen(models.IntervalApplicationActive)
		m.user.Trigger()

	case models.EventWindowInactive:
		m.intervals.CloseInterval(m.intervals.OpenInterval(models.CategoryApplicationActive))
		m.user.Cancel()

	case models.EventPerspective:
		m.switchPerspective(models.ParsePerspective(string(ev.Source.Perspective)))
		m.user.Trigger()

	case models.EventTestRun:
		m.addTestRun(ev.Source.Interval)

	case models.EventActivity:
		m.user.Trigger()
		m.ensureOpen(models.IntervalUserActive)

	case models.EventUserInactivity:
		if !m.user.Current(ev.Generation) {
			m.ignoreStale(ev)
			return
		}
		m.closeOpenedBefore(models.CategoryUserActive, ev)
		m.editor.Cancel()

	case models.EventActiveFocus, models.EventCaretMoved, models.EventPaint:
		m.editorActivity(models.IntervalReading, ev.Source.Editor)
		m.editor.Trigger()

	case models.EventEdit:
		m.editorActivity(models.IntervalTyping, ev.Source.Editor)
		m.editor.Trigger()

	case models.EventEndFocus:
		m.editor.Cancel()
		m.intervals.CloseInterval(m.intervals.OpenInterval(models.CategoryEditor))

	case models.EventEditorInactivity:
		if !m.editor.Current(ev.Generation) {
			m.ignoreStale(ev)
			return
		}
		m.closeOpenedBefore(models.CategoryEditor, ev)

	default:
		m.logger.Warn("ignoring unknown event", zap.String("type", string(ev.Type)))
	}
}

// ensureOpen opens an interval of type t unless its category is occupied.
func (m *Manager) ensureOpen(t models.IntervalType) {
	if m.intervals.OpenInterval(t.Category()) != nil {
		return
	}
	m.open(m.intervals.NewInterval(t))
}

func (m *Manager) open(iv *models.Interval) {
	if err := m.intervals.AddInterval(iv); err != nil {
		m.logger.Debug("interval not opened", zap.String("type", string(iv.Type)), zap.Error(err))
	}
}

func (m *Manager) switchPerspective(p models.Perspective) {
	current := m.intervals.OpenInterval(models.CategoryPerspective)
	if current != nil && current.SameSubtype(models.IntervalPerspective, p, "") {
		return
	}
	m.intervals.CloseInterval(current)

	iv := m.intervals.NewInterval(models.IntervalPerspective)
	iv.Perspective = p
	m.open(iv)
}

// editorActivity applies focus, caret, paint (want READING) and edit
// (want TYPING) events on editor.
func (m *Manager) editorActivity(want models.IntervalType, editor string) {
	current := m.intervals.OpenInterval(models.CategoryEditor)
	if current != nil && current.Editor == editor {
		// Reading while typing stays typing.
		if current.Type == want || want == models.IntervalReading {
			return
		}
	}
	m.intervals.CloseInterval(current)

	iv := m.intervals.NewInterval(want)
	iv.Editor = editor
	m.open(iv)
}

func (m *Manager) addTestRun(submitted *models.Interval) {
	if submitted == nil {
		m.logger.Warn("test run event without an interval")
		return
	}
	iv := submitted.Clone()
	if iv.Type == "" {
		iv.Type = models.IntervalTestRun
	}
	if iv.Type != models.IntervalTestRun || !iv.Closed {
		m.logger.Warn("test run interval must be a closed test_run interval",
			zap.String("type", string(iv.Type)),
			zap.Bool("closed", iv.Closed))
		return
	}
	if err := m.intervals.AddInterval(iv); err != nil {
		m.logger.Warn("test run rejected", zap.Error(err))
	}
}

// closeOpenedBefore closes the open interval of category unless it was
// opened after the timeout fired, in which case it belongs to newer activity.
func (m *Manager) closeOpenedBefore(category models.Category, ev models.Event) {
	current := m.intervals.OpenInterval(category)
	if current == nil {
		return
	}
	if current.Start.After(ev.At) {
		m.ignoreStale(ev)
		return
	}
	m.intervals.CloseInterval(current)
}

func (m *Manager) ignoreStale(ev models.Event) {
	m.stale.Add(1)
	m.logger.Debug("ignoring stale timeout",
		zap.String("type", string(ev.Type)),
		zap.Uint64("generation", ev.Generation))
}
