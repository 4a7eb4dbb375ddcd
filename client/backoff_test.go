package client

import (
	"testing"
	"time"
)

func TestBackoffScheduleIsMonotonicAndCapped(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range want {
		if got := backoffDelay(i+1, base, max); got != expected {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}

	// Past the cap every delay clamps.
	if got := backoffDelay(6, base, max); got != max {
		t.Fatalf("attempt 6: expected cap %v, got %v", max, got)
	}
	if got := backoffDelay(100, base, max); got != max {
		t.Fatalf("attempt 100: expected cap %v, got %v", max, got)
	}
}

func TestBackoffDefensiveInputs(t *testing.T) {
	if got := backoffDelay(0, time.Second, time.Minute); got != time.Second {
		t.Fatalf("attempt 0 should behave as attempt 1, got %v", got)
	}
	// Shift counts large enough to wrap must clamp to the cap.
	if got := backoffDelay(64, time.Second, time.Minute); got != time.Minute {
		t.Fatalf("huge attempt should clamp, got %v", got)
	}
}
