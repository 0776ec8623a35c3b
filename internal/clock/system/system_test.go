// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

// TestClockTodayInLocation checks the day is truncated in the configured zone.
func TestClockTodayInLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("KST", 9*60*60)
	clk := New(loc)
	got := clk.Today()

	if got.Location() != loc {
		t.Fatalf("expected %v location, got %v", loc, got.Location())
	}
	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 || got.Nanosecond() != 0 {
		t.Fatalf("expected midnight, got %v", got)
	}
	y, m, d := time.Now().In(loc).Date()
	if got.Year() != y || got.Month() != m || got.Day() != d {
		// The calendar may have just rolled over between the two reads.
		if time.Since(got) > 25*time.Hour {
			t.Fatalf("expected %04d-%02d-%02d, got %v", y, m, d, got)
		}
	}
}

// TestZeroClockToday keeps the zero value usable.
func TestZeroClockToday(t *testing.T) {
	t.Parallel()

	var clk Clock
	if clk.Today().Location() != time.UTC {
		t.Fatal("expected UTC for zero clock")
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}
