package model

import (
	"testing"
	"time"
)

func TestStatusClassification(t *testing.T) {
	active := []Status{StatusScheduled, StatusConfirmed, StatusRescheduled}
	terminal := []Status{StatusCancelled, StatusCompleted}

	for _, s := range active {
		if !s.IsActive() || s.IsTerminal() {
			t.Errorf("%s: IsActive=%v IsTerminal=%v, want active", s, s.IsActive(), s.IsTerminal())
		}
	}
	for _, s := range terminal {
		if s.IsActive() || !s.IsTerminal() {
			t.Errorf("%s: IsActive=%v IsTerminal=%v, want terminal", s, s.IsActive(), s.IsTerminal())
		}
	}
	if Status("unknown").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	appt := Appointment{StartTime: start, EndTime: start.Add(time.Hour)}

	cases := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"identical", start, start.Add(time.Hour), true},
		{"contained", start.Add(15 * time.Minute), start.Add(30 * time.Minute), true},
		{"straddles start", start.Add(-30 * time.Minute), start.Add(30 * time.Minute), true},
		{"straddles end", start.Add(30 * time.Minute), start.Add(90 * time.Minute), true},
		{"touches end", start.Add(time.Hour), start.Add(2 * time.Hour), false},
		{"touches start", start.Add(-time.Hour), start, false},
		{"disjoint", start.Add(2 * time.Hour), start.Add(3 * time.Hour), false},
	}
	for _, tc := range cases {
		if got := appt.Overlaps(tc.start, tc.end); got != tc.want {
			t.Errorf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}
