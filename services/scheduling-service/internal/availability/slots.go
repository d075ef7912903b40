package availability

import (
	"sort"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports half-open intersection: [a.Start, a.End) meets
// [start, end) iff a.Start < end && start < a.End. Touching endpoints do not
// overlap, so back-to-back bookings are allowed.
func (a Interval) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

// FreeSlots returns candidate start times within [windowStart, windowEnd)
// where a booking of the given duration would not intersect any busy interval.
// Candidates step through the window at the given step; starts before now are
// skipped.
func FreeSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	merged := Merge(busy)
	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), merged) {
			slots = append(slots, t)
		}
	}
	return slots
}

// Merge sorts the intervals and coalesces overlapping or touching ones.
// Zero-length and inverted intervals are dropped.
func Merge(in []Interval) []Interval {
	var valid []Interval
	for _, iv := range in {
		if iv.End.After(iv.Start) {
			valid = append(valid, iv)
		}
	}
	if len(valid) <= 1 {
		return valid
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Start.Before(valid[j].Start) })

	out := []Interval{valid[0]}
	for _, iv := range valid[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
