package clock

import (
	"testing"
	"time"

	"stockbit-capture/internal/models"
)

func wib(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, Location)
}

func TestS1OpenBoundary(t *testing.T) {
	// Tuesday 2025-01-07 08:54:59 -> closed(pre)
	before := Evaluate(wib(2025, time.January, 7, 8, 54, 59))
	if before.Status != models.StatusClosed || before.Reason != models.ReasonPre {
		t.Fatalf("expected closed(pre) before 08:55:00, got %+v", before)
	}

	// 08:55:00 -> open, session 1
	after := Evaluate(wib(2025, time.January, 7, 8, 55, 0))
	if !after.IsOpen || after.Status != models.StatusOpen || after.Session != models.Session1 {
		t.Fatalf("expected open/session1 at 08:55:00, got %+v", after)
	}
}

func TestLunchBreak(t *testing.T) {
	// Wednesday 2025-01-08 12:05:00 -> break
	state := Evaluate(wib(2025, time.January, 8, 12, 5, 0))
	if state.IsOpen || state.Status != models.StatusBreak {
		t.Fatalf("expected break at 12:05:00, got %+v", state)
	}
	expectedNextOpen := wib(2025, time.January, 8, 13, 25, 0)
	if !state.NextOpen.Equal(expectedNextOpen) {
		t.Fatalf("expected next open %v, got %v", expectedNextOpen, state.NextOpen)
	}
}

func TestFridayClose(t *testing.T) {
	// Friday 2025-01-10 15:54:00 -> closed(after), next_open next Monday 08:55
	state := Evaluate(wib(2025, time.January, 10, 15, 54, 0))
	if state.IsOpen || state.Status != models.StatusClosed || state.Reason != models.ReasonAfter {
		t.Fatalf("expected closed(after) at Friday 15:54:00, got %+v", state)
	}
	expectedNextOpen := wib(2025, time.January, 13, 8, 55, 0) // following Monday
	if !state.NextOpen.Equal(expectedNextOpen) {
		t.Fatalf("expected next open %v, got %v", expectedNextOpen, state.NextOpen)
	}
}

func TestFridaySessionWindowsDifferFromWeekdays(t *testing.T) {
	// Friday session 1 closes at 11:35, not 12:05
	state := Evaluate(wib(2025, time.January, 10, 11, 40, 0))
	if state.IsOpen || state.Status != models.StatusBreak {
		t.Fatalf("expected break at Friday 11:40:00, got %+v", state)
	}
}

func TestWeekendSaturday(t *testing.T) {
	state := Evaluate(wib(2025, time.January, 11, 10, 0, 0)) // Saturday
	if state.IsOpen || state.Status != models.StatusClosed || state.Reason != models.ReasonWeekend {
		t.Fatalf("expected closed(weekend) on Saturday, got %+v", state)
	}
	expectedNextOpen := wib(2025, time.January, 13, 8, 55, 0) // Monday
	if !state.NextOpen.Equal(expectedNextOpen) {
		t.Fatalf("expected next open %v, got %v", expectedNextOpen, state.NextOpen)
	}
}

func TestWeekendSunday(t *testing.T) {
	state := Evaluate(wib(2025, time.January, 12, 10, 0, 0)) // Sunday
	if state.IsOpen || state.Reason != models.ReasonWeekend {
		t.Fatalf("expected closed(weekend) on Sunday, got %+v", state)
	}
	expectedNextOpen := wib(2025, time.January, 13, 8, 55, 0) // Monday
	if !state.NextOpen.Equal(expectedNextOpen) {
		t.Fatalf("expected next open %v, got %v", expectedNextOpen, state.NextOpen)
	}
}

func TestDeterministicSameInputSameOutput(t *testing.T) {
	instant := wib(2025, time.January, 7, 9, 30, 0)
	a := Evaluate(instant)
	b := Evaluate(instant)
	if a != b {
		t.Fatalf("expected identical MarketState for identical input, got %+v vs %+v", a, b)
	}
}
