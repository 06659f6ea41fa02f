package tracker

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/worktrace/internal/clock"
	"github.com/fentz26/worktrace/internal/intervals"
	"github.com/fentz26/worktrace/internal/models"
	"go.uber.org/zap/zaptest"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type memorySink struct {
	mu        sync.Mutex
	intervals []*models.Interval
	panicOn   models.IntervalType
}

func (s *memorySink) Enqueue(iv *models.Interval) error {
	if s.panicOn != "" && iv.Type == s.panicOn {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals = append(s.intervals, iv.Clone())
	return nil
}

func (s *memorySink) all() []*models.Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Interval(nil), s.intervals...)
}

func (s *memorySink) ofType(t models.IntervalType) []*models.Interval {
	var out []*models.Interval
	for _, iv := range s.all() {
		if iv.Type == t {
			out = append(out, iv)
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	tracker *Manager
	sink    *memorySink
	clock   *clock.Fake
}

// newHarness builds a tracker on a fake clock whose timeouts never fire
// during a test.
func newHarness(t *testing.T) *harness {
	sink := &memorySink{}
	clk := clock.NewFake(base)
	im := intervals.NewManager(intervals.Identity{SessionSeed: "seed"}, sink, clk, zaptest.NewLogger(t))
	cfg := &Config{UserTimeout: time.Hour, EditorTimeout: time.Hour, QueueSize: 64}
	tr := New(im, cfg, zaptest.NewLogger(t))
	tr.Start()
	t.Cleanup(tr.Stop)
	return &harness{t: t, tracker: tr, sink: sink, clock: clk}
}

func (h *harness) send(t models.EventType, source models.EventSource) {
	h.t.Helper()
	if err := h.tracker.Update(models.NewEvent(t, source)); err != nil {
		h.t.Fatalf("Update %s failed: %v", t, err)
	}
	h.sync()
}

func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.tracker.Sync(ctx); err != nil {
		h.t.Fatalf("Sync failed: %v", err)
	}
}

func (h *harness) open(c models.Category) *models.Interval {
	return h.tracker.Intervals().OpenInterval(c)
}

func editor(name string) models.EventSource {
	return models.EventSource{Editor: name}
}

func TestFocusOpensSingleReadingInterval(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventActiveFocus, editor("Main.java"))
	first := h.open(models.CategoryEditor)
	if first == nil || first.Type != models.IntervalReading {
		t.Fatalf("Expected open READING interval, got %+v", first)
	}

	h.send(models.EventCaretMoved, editor("Main.java"))
	h.send(models.EventPaint, editor("Main.java"))

	if h.open(models.CategoryEditor) != first {
		t.Error("Caret and paint on the same editor must not replace the interval")
	}
	if got := len(h.tracker.Intervals().OpenIntervals()); got != 1 {
		t.Errorf("Expected 1 open interval, got %d", got)
	}
	if len(h.sink.all()) != 0 {
		t.Error("Nothing should be persisted yet")
	}
}

func TestEditWhileReadingSwitchesToTyping(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventActiveFocus, editor("Main.java"))
	h.clock.Advance(3 * time.Second)
	h.send(models.EventEdit, editor("Main.java"))

	current := h.open(models.CategoryEditor)
	if current == nil || current.Type != models.IntervalTyping {
		t.Fatalf("Expected open TYPING interval, got %+v", current)
	}
	reading := h.sink.ofType(models.IntervalReading)
	if len(reading) != 1 || reading[0].Duration(h.clock.Now()) != 3*time.Second {
		t.Errorf("Expected the reading interval persisted with 3s, got %+v", reading)
	}

	// Further edits and reading signals keep the typing interval.
	h.send(models.EventEdit, editor("Main.java"))
	h.send(models.EventCaretMoved, editor("Main.java"))
	if h.open(models.CategoryEditor) != current {
		t.Error("Typing interval should persist across edits and caret moves")
	}
}

func TestEditWithoutFocusOpensTyping(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventEdit, editor("Main.java"))
	if iv := h.open(models.CategoryEditor); iv == nil || iv.Type != models.IntervalTyping {
		t.Fatalf("Expected TYPING, got %+v", iv)
	}
}

func TestSwitchingEditorsReplacesInterval(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventEdit, editor("A.java"))
	h.send(models.EventActiveFocus, editor("B.java"))

	current := h.open(models.CategoryEditor)
	if current == nil || current.Editor != "B.java" || current.Type != models.IntervalReading {
		t.Fatalf("Expected READING on B.java, got %+v", current)
	}
	typing := h.sink.ofType(models.IntervalTyping)
	if len(typing) != 1 || typing[0].Editor != "A.java" {
		t.Errorf("Expected typing on A.java persisted, got %+v", typing)
	}
}

func TestEndFocusEmptiesEditorCategory(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventActiveFocus, editor("Main.java"))
	h.send(models.EventEndFocus, editor("Main.java"))

	if h.open(models.CategoryEditor) != nil {
		t.Error("Editor category should be empty after end_focus")
	}
	if h.tracker.GetStats().EditorPending {
		t.Error("Editor notifier should be cancelled")
	}
	if got := len(h.sink.ofType(models.IntervalReading)); got != 1 {
		t.Errorf("Expected 1 persisted reading interval, got %d", got)
	}
}

func TestAppEndWhileTypingPersistsOnce(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventAppStart, models.EventSource{})
	h.send(models.EventEdit, editor("Main.java"))
	h.clock.Advance(10 * time.Second)
	arrival := h.clock.Now()
	h.send(models.EventAppEnd, models.EventSource{})

	typing := h.sink.ofType(models.IntervalTyping)
	if len(typing) != 1 {
		t.Fatalf("Expected exactly 1 typing interval, got %d", len(typing))
	}
	if typing[0].End.Before(arrival) {
		t.Errorf("Typing end %s before app_end arrival %s", typing[0].End, arrival)
	}
	if got := len(h.tracker.Intervals().OpenIntervals()); got != 0 {
		t.Errorf("Expected nothing open after app_end, got %d", got)
	}
	if len(h.sink.ofType(models.IntervalApplicationOpen)) != 1 {
		t.Error("Expected the application interval to be persisted")
	}

	// A second app_end closes nothing more.
	h.send(models.EventAppEnd, models.EventSource{})
	if got := len(h.sink.ofType(models.IntervalTyping)); got != 1 {
		t.Errorf("Double close persisted %d typing intervals", got)
	}
}

func TestPerspectiveSwitching(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventPerspective, models.EventSource{Perspective: models.PerspectiveJava})
	java := h.open(models.CategoryPerspective)
	h.send(models.EventPerspective, models.EventSource{Perspective: models.PerspectiveJava})
	if h.open(models.CategoryPerspective) != java {
		t.Error("Same perspective must be a no-op")
	}

	h.send(models.EventPerspective, models.EventSource{Perspective: models.PerspectiveDebug})
	current := h.open(models.CategoryPerspective)
	if current == nil || current.Perspective != models.PerspectiveDebug {
		t.Fatalf("Expected debug perspective, got %+v", current)
	}
	if got := h.sink.ofType(models.IntervalPerspective); len(got) != 1 || got[0].Perspective != models.PerspectiveJava {
		t.Errorf("Expected java perspective persisted, got %+v", got)
	}

	h.send(models.EventPerspective, models.EventSource{Perspective: "resource"})
	if iv := h.open(models.CategoryPerspective); iv.Perspective != models.PerspectiveOther {
		t.Errorf("Unknown perspectives should map to other, got %s", iv.Perspective)
	}
}

func TestWindowFocus(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventWindowActive, models.EventSource{})
	first := h.open(models.CategoryApplicationActive)
	h.send(models.EventWindowActive, models.EventSource{})
	if first == nil || h.open(models.CategoryApplicationActive) != first {
		t.Fatal("Expected one APPLICATION_ACTIVE interval")
	}
	if !h.tracker.GetStats().UserPending {
		t.Error("window_active should start the user notifier")
	}

	h.send(models.EventWindowInactive, models.EventSource{})
	if h.open(models.CategoryApplicationActive) != nil {
		t.Error("window_inactive should close APPLICATION_ACTIVE")
	}
	if h.tracker.GetStats().UserPending {
		t.Error("window_inactive should cancel the user notifier")
	}
}

func TestTestRunIsStampedAndPersisted(t *testing.T) {
	h := newHarness(t)

	run := models.NewTestRunInterval("run-1", models.TestRun{Passed: 2, Errors: 1}, time.Second, h.clock.Now())
	h.send(models.EventTestRun, models.EventSource{Interval: run})

	got := h.sink.ofType(models.IntervalTestRun)
	if len(got) != 1 {
		t.Fatalf("Expected 1 test run, got %d", len(got))
	}
	if got[0].SessionSeed != "seed" {
		t.Errorf("Expected session seed stamped, got %q", got[0].SessionSeed)
	}
	if run.SessionSeed != "" {
		t.Error("The submitted interval must not be mutated")
	}

	// Open submissions are rejected.
	h.send(models.EventTestRun, models.EventSource{Interval: models.NewInterval("open", models.IntervalTestRun, base)})
	h.send(models.EventTestRun, models.EventSource{})
	if got := len(h.sink.ofType(models.IntervalTestRun)); got != 1 {
		t.Errorf("Expected invalid submissions to be ignored, got %d test runs", got)
	}
}

func TestStaleGenerationIgnored(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventActivity, models.EventSource{})
	ev := models.NewEvent(models.EventUserInactivity, models.EventSource{})
	ev.Generation = 0
	if err := h.tracker.Update(ev); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	h.sync()

	if h.open(models.CategoryUserActive) == nil {
		t.Error("A stale timeout must not close USER_ACTIVE")
	}
	if h.tracker.GetStats().Stale != 1 {
		t.Errorf("Expected 1 stale timeout, got %d", h.tracker.GetStats().Stale)
	}
}

func TestTimeoutSkipsIntervalOpenedAfterFire(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventActivity, models.EventSource{})
	opened := h.open(models.CategoryUserActive)
	gen := h.tracker.user.Trigger()

	early := models.NewEvent(models.EventUserInactivity, models.EventSource{})
	early.Generation = gen
	early.At = opened.Start.Add(-time.Second)
	if err := h.tracker.Update(early); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	h.sync()
	if h.open(models.CategoryUserActive) != opened {
		t.Fatal("Timeout fired before the interval opened must not close it")
	}

	h.clock.Advance(time.Minute)
	late := early
	late.At = h.clock.Now()
	if err := h.tracker.Update(late); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	h.sync()
	if h.open(models.CategoryUserActive) != nil {
		t.Error("Current timeout should close USER_ACTIVE")
	}
}

func TestUserInactivityCancelsEditorNotifier(t *testing.T) {
	h := newHarness(t)

	h.send(models.EventActivity, models.EventSource{})
	h.send(models.EventActiveFocus, editor("Main.java"))
	gen := h.tracker.user.Trigger()

	ev := models.NewEvent(models.EventUserInactivity, models.EventSource{})
	ev.Generation = gen
	h.clock.Advance(time.Second)
	ev.At = h.clock.Now()
	if err := h.tracker.Update(ev); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	h.sync()

	if h.tracker.GetStats().EditorPending {
		t.Error("user_inactivity should cancel the editor notifier")
	}
	if h.open(models.CategoryEditor) == nil {
		t.Error("user_inactivity leaves the editor interval to its own timeout")
	}
}

func TestUnknownEventRejected(t *testing.T) {
	h := newHarness(t)

	err := h.tracker.Update(models.Event{Type: "teleport"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Expected ErrUnknownEvent, got %v", err)
	}
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.sink.panicOn = models.IntervalTestRun

	run := models.NewTestRunInterval("boom", models.TestRun{}, time.Second, h.clock.Now())
	h.send(models.EventTestRun, models.EventSource{Interval: run})
	h.send(models.EventActivity, models.EventSource{})

	if h.tracker.GetStats().Panics != 1 {
		t.Errorf("Expected 1 recovered panic, got %d", h.tracker.GetStats().Panics)
	}
	if h.open(models.CategoryUserActive) == nil {
		t.Error("The loop must keep applying events after a panic")
	}
}

func TestUpdateAfterStop(t *testing.T) {
	h := newHarness(t)
	h.tracker.Stop()

	if err := h.tracker.Update(models.NewEvent(models.EventActivity, models.EventSource{})); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if err := h.tracker.Sync(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped from Sync, got %v", err)
	}
}

func TestRandomSequencesKeepCategoriesExclusive(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(7))

	types := []models.EventType{
		models.EventAppStart, models.EventWindowActive, models.EventWindowInactive,
		models.EventPerspective, models.EventActivity, models.EventActiveFocus,
		models.EventCaretMoved, models.EventPaint, models.EventEdit, models.EventEndFocus,
	}
	editors := []string{"A.java", "B.java", "C.java"}
	perspectives := []models.Perspective{models.PerspectiveJava, models.PerspectiveDebug, models.PerspectiveOther}

	for i := 0; i < 500; i++ {
		h.clock.Advance(time.Duration(rng.Intn(5000)) * time.Millisecond)
		ev := models.NewEvent(types[rng.Intn(len(types))], models.EventSource{
			Editor:      editors[rng.Intn(len(editors))],
			Perspective: perspectives[rng.Intn(len(perspectives))],
		})
		if err := h.tracker.Update(ev); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	h.clock.Advance(time.Second)
	h.send(models.EventAppEnd, models.EventSource{})

	byCategory := make(map[models.Category][]*models.Interval)
	for _, iv := range h.sink.all() {
		if iv.End.Before(iv.Start) {
			t.Fatalf("Interval %s has negative duration", iv.ID)
		}
		byCategory[iv.Category()] = append(byCategory[iv.Category()], iv)
	}
	for category, ivs := range byCategory {
		sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })
		for i := 1; i < len(ivs); i++ {
			if ivs[i].Start.Before(ivs[i-1].End) {
				t.Errorf("Overlapping %s intervals: %s..%s and %s..%s", category,
					ivs[i-1].Start, ivs[i-1].End, ivs[i].Start, ivs[i].End)
			}
		}
	}
	seen := make(map[string]bool)
	for _, iv := range h.sink.all() {
		if seen[iv.ID] {
			t.Errorf("Interval %s persisted twice", iv.ID)
		}
		seen[iv.ID] = true
	}
}

func TestUserTimeoutClosesActivity(t *testing.T) {
	sink := &memorySink{}
	im := intervals.NewManager(intervals.Identity{SessionSeed: "seed"}, sink, clock.System{}, zaptest.NewLogger(t))
	timeout := 150 * time.Millisecond
	tr := New(im, &Config{UserTimeout: timeout, EditorTimeout: time.Hour}, zaptest.NewLogger(t))
	tr.Start()
	defer tr.Stop()

	if err := tr.Update(models.NewEvent(models.EventActivity, models.EventSource{})); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for len(sink.ofType(models.IntervalUserActive)) == 0 {
		select {
		case <-deadline:
			t.Fatal("USER_ACTIVE was never closed by the timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}

	iv := sink.ofType(models.IntervalUserActive)[0]
	d := iv.End.Sub(iv.Start)
	if d < timeout-20*time.Millisecond || d > timeout*11/10+500*time.Millisecond {
		t.Errorf("Expected duration close to %s, got %s", timeout, d)
	}
	if im.OpenInterval(models.CategoryUserActive) != nil {
		t.Error("USER_ACTIVE should be closed")
	}
}

func TestEditorTimeoutClosesReading(t *testing.T) {
	sink := &memorySink{}
	im := intervals.NewManager(intervals.Identity{}, sink, clock.System{}, zaptest.NewLogger(t))
	tr := New(im, &Config{UserTimeout: time.Hour, EditorTimeout: 100 * time.Millisecond}, zaptest.NewLogger(t))
	tr.Start()
	defer tr.Stop()

	if err := tr.Update(models.NewEvent(models.EventActiveFocus, editor("Main.java"))); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for len(sink.ofType(models.IntervalReading)) == 0 {
		select {
		case <-deadline:
			t.Fatal("READING was never closed by the editor timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if tr.GetStats().Processed < 2 {
		t.Error("Expected the focus and the timeout to be processed")
	}
}
