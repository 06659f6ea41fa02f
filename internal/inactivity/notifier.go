// Package inactivity provides resettable countdowns that report a period of
// silence as a timeout event.
package inactivity

import (
	"sync"
	"time"

	"github.com/fentz26/worktrace/internal/clock"
	"github.com/fentz26/worktrace/internal/models"
)

// FireFunc receives the timeout event. It is called without any notifier
// lock held and must not block for long.
type FireFunc func(models.Event)

// Notifier fires its event type once after timeout elapses without a
// Trigger. Each Trigger supersedes the previous countdown.
type Notifier struct {
	eventType models.EventType
	timeout   time.Duration
	clock     clock.Clock
	fire      FireFunc

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	armed    bool
	deadline time.Time
	stopped  bool
}

// New creates a dormant notifier.
func New(eventType models.EventType, timeout time.Duration, clk clock.Clock, fire FireFunc) *Notifier {
	if clk == nil {
		clk = clock.System{}
	}
	return &Notifier{
		eventType: eventType,
		timeout:   timeout,
		clock:     clk,
		fire:      fire,
	}
}

// Trigger (re)starts the countdown and returns the new generation.
func (n *Notifier) Trigger() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return n.gen
	}

	n.gen++
	n.armed = true
	n.deadline = time.Now().Add(n.timeout)
	if n.timer == nil {
		n.timer = time.AfterFunc(n.timeout, n.expire)
	} else {
		n.timer.Stop()
		n.timer.Reset(n.timeout)
	}
	return n.gen
}

// Cancel stops a pending countdown. Any timeout event already delivered
// becomes stale.
func (n *Notifier) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelLocked()
}

// Stop cancels the countdown and ignores later triggers.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelLocked()
	n.stopped = true
}

func (n *Notifier) cancelLocked() {
	n.gen++
	n.armed = false
	if n.timer != nil {
		n.timer.Stop()
	}
}

// Pending reports whether a countdown is running.
func (n *Notifier) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.armed
}

// Current reports whether gen is still the latest generation, i.e. no
// Trigger or Cancel happened since the event carrying it was fired.
func (n *Notifier) Current(gen uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return gen == n.gen
}

func (n *Notifier) expire() {
	n.mu.Lock()
	// A callback from a countdown that was reset after it started running
	// arrives before the new deadline.
	if !n.armed || time.Now().Before(n.deadline) {
		n.mu.Unlock()
		return
	}
	n.armed = false
	ev := models.Event{
		Type:       n.eventType,
		At:         n.clock.Now(),
		Generation: n.gen,
	}
	n.mu.Unlock()

	if n.fire != nil {
		n.fire(ev)
	}
}
