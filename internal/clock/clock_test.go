package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	if got := c.Advance(time.Minute); !got.Equal(start.Add(time.Minute)) {
		t.Errorf("Expected %s, got %s", start.Add(time.Minute), got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Expected clock reset to %s", start)
	}
}

func TestSystemIsUTC(t *testing.T) {
	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Errorf("Expected UTC, got %s", loc)
	}
}
