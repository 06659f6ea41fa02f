// Package models defines the core domain types for worktrace.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// IntervalType identifies the activity an interval records.
type IntervalType string

const (
	IntervalApplicationOpen   IntervalType = "application_open"
	IntervalApplicationActive IntervalType = "application_active"
	IntervalUserActive        IntervalType = "user_active"
	IntervalPerspective       IntervalType = "perspective"
	IntervalReading           IntervalType = "reading"
	IntervalTyping            IntervalType = "typing"
	IntervalTestRun           IntervalType = "test_run"
)

// IntervalTypes lists every known interval type in display order.
var IntervalTypes = []IntervalType{
	IntervalApplicationOpen,
	IntervalApplicationActive,
	IntervalUserActive,
	IntervalPerspective,
	IntervalReading,
	IntervalTyping,
	IntervalTestRun,
}

// Valid reports whether t is a known interval type.
func (t IntervalType) Valid() bool {
	for _, known := range IntervalTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Category groups interval types of which at most one may be open at a time.
type Category string

const (
	CategoryApplicationOpen   Category = "application_open"
	CategoryApplicationActive Category = "application_active"
	CategoryUserActive        Category = "user_active"
	CategoryPerspective       Category = "perspective"
	CategoryEditor            Category = "editor"
	CategoryTestRun           Category = "test_run"
)

// Category returns the category an interval type belongs to.
func (t IntervalType) Category() Category {
	switch t {
	case IntervalApplicationOpen:
		return CategoryApplicationOpen
	case IntervalApplicationActive:
		return CategoryApplicationActive
	case IntervalUserActive:
		return CategoryUserActive
	case IntervalPerspective:
		return CategoryPerspective
	case IntervalReading, IntervalTyping:
		return CategoryEditor
	default:
		return CategoryTestRun
	}
}

// Exclusive reports whether at most one interval of the category may be open.
// Test runs are reported after the fact and never occupy a slot.
func (c Category) Exclusive() bool {
	return c != CategoryTestRun
}

// Perspective is the IDE layout the user is working in.
type Perspective string

const (
	PerspectiveJava  Perspective = "java"
	PerspectiveDebug Perspective = "debug"
	PerspectiveOther Perspective = "other"
)

// ParsePerspective maps a raw perspective name onto a known perspective.
// Anything unrecognised is treated as PerspectiveOther.
func ParsePerspective(raw string) Perspective {
	switch Perspective(raw) {
	case PerspectiveJava, PerspectiveDebug:
		return Perspective(raw)
	default:
		return PerspectiveOther
	}
}

// TestRun summarises a finished test execution.
type TestRun struct {
	Name    string `json:"name,omitempty"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Errors  int    `json:"errors"`
	Skipped int    `json:"skipped"`
}

// Successful reports whether the run had no failures and no errors.
func (r TestRun) Successful() bool {
	return r.Failed == 0 && r.Errors == 0
}

// Interval is a typed time span of one tracked activity.
type Interval struct {
	ID          string       `json:"id"`
	Type        IntervalType `json:"type"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	Closed      bool         `json:"closed"`
	SessionSeed string       `json:"session_seed"`
	ProjectID   string       `json:"project_id,omitempty"`
	UserID      string       `json:"user_id,omitempty"`

	Perspective Perspective `json:"perspective,omitempty"`
	Editor      string      `json:"editor,omitempty"`
	TestRun     *TestRun    `json:"test_run,omitempty"`
}

// MarshalJSON leaves out the end of an open interval.
func (i Interval) MarshalJSON() ([]byte, error) {
	type alias Interval
	var end *time.Time
	if i.Closed {
		end = &i.End
	}
	return json.Marshal(struct {
		alias
		End *time.Time `json:"end,omitempty"`
	}{alias: alias(i), End: end})
}

// UnmarshalJSON accepts intervals with or without an end.
func (i *Interval) UnmarshalJSON(data []byte) error {
	type alias Interval
	aux := struct {
		*alias
		End *time.Time `json:"end,omitempty"`
	}{alias: (*alias)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.End = time.Time{}
	if aux.End != nil {
		i.End = *aux.End
	}
	return nil
}

// NewInterval returns an open interval of the given type starting at start.
func NewInterval(id string, t IntervalType, start time.Time) *Interval {
	return &Interval{ID: id, Type: t, Start: start}
}

// NewTestRunInterval returns a closed interval covering a test run that
// finished at now after running for elapsed. Elapsed is rounded to the millisecond.
func NewTestRunInterval(id string, run TestRun, elapsed time.Duration, now time.Time) *Interval {
	if elapsed < 0 {
		elapsed = 0
	}
	elapsed = elapsed.Round(time.Millisecond)
	result := run
	return &Interval{
		ID:      id,
		Type:    IntervalTestRun,
		Start:   now.Add(-elapsed),
		End:     now,
		Closed:  true,
		TestRun: &result,
	}
}

// Category returns the category of the interval's type.
func (i *Interval) Category() Category {
	return i.Type.Category()
}

// Close marks the interval closed at end. Closing twice keeps the first end.
// An end before the start is clamped to the start.
func (i *Interval) Close(end time.Time) bool {
	if i.Closed {
		return false
	}
	if end.Before(i.Start) {
		end = i.Start
	}
	i.End = end
	i.Closed = true
	return true
}

// Duration returns end-start for a closed interval and now-start for an open one.
func (i *Interval) Duration(now time.Time) time.Duration {
	if i.Closed {
		return i.End.Sub(i.Start)
	}
	if now.Before(i.Start) {
		return 0
	}
	return now.Sub(i.Start)
}

// DurationString renders the duration for humans, e.g. "1h 2m 3s".
func (i *Interval) DurationString(now time.Time) string {
	return FormatDuration(i.Duration(now))
}

// SameSubtype reports whether i records the given activity,
// i.e. same type and the same perspective or editor.
func (i *Interval) SameSubtype(t IntervalType, perspective Perspective, editor string) bool {
	if i.Type != t {
		return false
	}
	switch t {
	case IntervalPerspective:
		return i.Perspective == perspective
	case IntervalReading, IntervalTyping:
		return i.Editor == editor
	}
	return true
}

// Clone returns a deep copy.
func (i *Interval) Clone() *Interval {
	c := *i
	if i.TestRun != nil {
		run := *i.TestRun
		c.TestRun = &run
	}
	return &c
}

// Validate reports whether a closed interval is well formed.
func (i *Interval) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("interval id is required")
	}
	if !i.Type.Valid() {
		return fmt.Errorf("unknown interval type %q", i.Type)
	}
	if i.Start.IsZero() {
		return fmt.Errorf("interval %s has no start", i.ID)
	}
	if i.Closed && i.End.Before(i.Start) {
		return fmt.Errorf("interval %s ends before it starts", i.ID)
	}
	return nil
}

// FormatDuration renders d with hour, minute and second components.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
