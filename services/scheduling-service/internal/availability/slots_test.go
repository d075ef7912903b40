package availability

import (
	"testing"
	"time"
)

func at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-03-02T"+hhmm+":00Z")
	if err != nil {
		t.Fatalf("parse %s: %v", hhmm, err)
	}
	return ts
}

func TestFreeSlotsSkipsBusy(t *testing.T) {
	start := at(t, "09:00")
	end := at(t, "12:00")
	busy := []Interval{{Start: at(t, "10:00"), End: at(t, "11:00")}}

	slots := FreeSlots(start, end, time.Hour, 30*time.Minute, busy, start)

	want := []time.Time{at(t, "09:00"), at(t, "11:00")}
	if len(slots) != len(want) {
		t.Fatalf("got %d slots %v, want %d", len(slots), slots, len(want))
	}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Errorf("slot %d = %v, want %v", i, slots[i], want[i])
		}
	}
}

func TestFreeSlotsBackToBackAllowed(t *testing.T) {
	start := at(t, "09:00")
	end := at(t, "11:00")
	busy := []Interval{{Start: at(t, "09:00"), End: at(t, "10:00")}}

	slots := FreeSlots(start, end, time.Hour, time.Hour, busy, start)

	if len(slots) != 1 || !slots[0].Equal(at(t, "10:00")) {
		t.Fatalf("got %v, want exactly [10:00]", slots)
	}
}

func TestFreeSlotsSkipsPast(t *testing.T) {
	start := at(t, "09:00")
	end := at(t, "11:00")
	now := at(t, "10:00")

	slots := FreeSlots(start, end, 30*time.Minute, 30*time.Minute, nil, now)

	for _, s := range slots {
		if s.Before(now) {
			t.Errorf("slot %v is in the past", s)
		}
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots %v, want 2", len(slots), slots)
	}
	if !slots[0].Equal(at(t, "10:00")) || !slots[1].Equal(at(t, "10:30")) {
		t.Fatalf("got %v, want [10:00 10:30]", slots)
	}
}

func TestFreeSlotsDegenerateInputs(t *testing.T) {
	start := at(t, "09:00")
	end := at(t, "10:00")
	if got := FreeSlots(start, end, 0, time.Hour, nil, start); got != nil {
		t.Errorf("zero duration: got %v", got)
	}
	if got := FreeSlots(end, start, time.Hour, time.Hour, nil, start); got != nil {
		t.Errorf("inverted window: got %v", got)
	}
	if got := FreeSlots(start, end, 2*time.Hour, time.Hour, nil, start); got != nil {
		t.Errorf("duration longer than window: got %v", got)
	}
}

func TestMergeCoalesces(t *testing.T) {
	in := []Interval{
		{Start: at(t, "11:00"), End: at(t, "12:00")},
		{Start: at(t, "09:00"), End: at(t, "10:00")},
		{Start: at(t, "09:30"), End: at(t, "10:30")},
		{Start: at(t, "10:30"), End: at(t, "10:45")},
	}
	out := Merge(in)
	if len(out) != 2 {
		t.Fatalf("got %d intervals %v, want 2", len(out), out)
	}
	if !out[0].Start.Equal(at(t, "09:00")) || !out[0].End.Equal(at(t, "10:45")) {
		t.Errorf("first merged = %v", out[0])
	}
}
