// Package intervals keeps track of the open interval of every exclusive
// category and hands closed intervals on to persistence.
package intervals

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/worktrace/internal/clock"
	"github.com/fentz26/worktrace/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrCategoryOccupied is returned when adding an open interval to a
	// category that already has one.
	ErrCategoryOccupied = errors.New("category already has an open interval")

	// ErrInvalidInterval is returned for intervals that can never be tracked.
	ErrInvalidInterval = errors.New("invalid interval")
)

// Sink accepts closed intervals for persistence.
type Sink interface {
	Enqueue(iv *models.Interval) error
}

// Identity is stamped on every interval the manager handles.
type Identity struct {
	SessionSeed string `json:"session_seed"`
	ProjectID   string `json:"project_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// Manager owns the set of open intervals.
type Manager struct {
	identity Identity
	sink     Sink
	clock    clock.Clock
	logger   *zap.Logger

	mu   sync.RWMutex
	open map[models.Category]*models.Interval
}

// NewManager creates a manager that forwards closed intervals to sink.
func NewManager(identity Identity, sink Sink, clk clock.Clock, logger *zap.Logger) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		identity: identity,
		sink:     sink,
		clock:    clk,
		logger:   logger,
		open:     make(map[models.Category]*models.Interval),
	}
}

// Identity returns the identity stamped on intervals.
func (m *Manager) Identity() Identity {
	return m.identity
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// NewInterval returns an open interval of type t starting now.
func (m *Manager) NewInterval(t models.IntervalType) *models.Interval {
	iv := models.NewInterval(uuid.New().String(), t, m.clock.Now())
	m.stamp(iv)
	return iv
}

// AddInterval registers an open interval under its category. A closed
// interval is forwarded straight to persistence.
func (m *Manager) AddInterval(iv *models.Interval) error {
	if iv == nil {
		return fmt.Errorf("add interval: %w", ErrInvalidInterval)
	}
	if iv.ID == "" {
		iv.ID = uuid.New().String()
	}
	m.stamp(iv)
	if err := iv.Validate(); err != nil {
		return fmt.Errorf("add interval: %w: %v", ErrInvalidInterval, err)
	}

	if iv.Closed {
		m.persist(iv)
		return nil
	}

	category := iv.Category()
	if !category.Exclusive() {
		return fmt.Errorf("add interval: %w: %s intervals must arrive closed", ErrInvalidInterval, iv.Type)
	}

	m.mu.Lock()
	current, occupied := m.open[category]
	if !occupied {
		m.open[category] = iv
	}
	m.mu.Unlock()

	if occupied {
		m.logger.Warn("category already has an open interval",
			zap.String("category", string(category)),
			zap.String("open_id", current.ID),
			zap.String("rejected_id", iv.ID))
		return ErrCategoryOccupied
	}

	m.logger.Info("interval opened",
		zap.String("id", iv.ID),
		zap.String("type", string(iv.Type)),
		zap.String("perspective", string(iv.Perspective)),
		zap.String("editor", iv.Editor))
	return nil
}

// CloseInterval closes iv now and forwards it to persistence. Nil and
// already closed intervals are ignored.
func (m *Manager) CloseInterval(iv *models.Interval) {
	if iv == nil || iv.Closed {
		return
	}

	m.mu.Lock()
	iv.Close(m.clock.Now())
	category := iv.Category()
	if current, ok := m.open[category]; ok && current.ID == iv.ID {
		delete(m.open, category)
	}
	m.mu.Unlock()

	m.logger.Info("interval closed",
		zap.String("id", iv.ID),
		zap.String("type", string(iv.Type)),
		zap.Duration("duration", iv.Duration(iv.End)))
	m.persist(iv)
}

// OpenInterval returns the open interval of category, or nil.
func (m *Manager) OpenInterval(category models.Category) *models.Interval {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open[category]
}

// OpenIntervals returns copies of every open interval ordered by start.
func (m *Manager) OpenIntervals() []models.Interval {
	m.mu.RLock()
	out := make([]models.Interval, 0, len(m.open))
	for _, iv := range m.open {
		out = append(out, *iv.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Type < out[j].Type
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// CloseAll closes every open interval.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	open := make([]*models.Interval, 0, len(m.open))
	for _, iv := range m.open {
		open = append(open, iv)
	}
	m.mu.RUnlock()

	for _, iv := range open {
		m.CloseInterval(iv)
	}
}

func (m *Manager) stamp(iv *models.Interval) {
	iv.SessionSeed = m.identity.SessionSeed
	iv.ProjectID = m.identity.ProjectID
	iv.UserID = m.identity.UserID
}

func (m *Manager) persist(iv *models.Interval) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Enqueue(iv); err != nil {
		m.logger.Error("failed to queue interval",
			zap.String("id", iv.ID),
			zap.String("type", string(iv.Type)),
			zap.Error(err))
	}
}
