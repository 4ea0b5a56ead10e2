package availability

import (
	"slices"
	"time"

	"coachcal/internal/model"
)

// Merge returns the union of ivs as sorted, non-overlapping intervals.
// Intervals that touch are joined. Empty or inverted intervals are dropped.
func Merge(ivs []model.TimeRange) []model.TimeRange {
	sorted := make([]model.TimeRange, 0, len(ivs))
	for _, iv := range ivs {
		if iv.End.After(iv.Start) {
			sorted = append(sorted, iv)
		}
	}
	slices.SortFunc(sorted, func(a, b model.TimeRange) int {
		return a.Start.Compare(b.Start)
	})

	out := make([]model.TimeRange, 0, len(sorted))
	for _, iv := range sorted {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract removes busy time from windows. Both inputs are merged first;
// the result is sorted and non-overlapping.
func Subtract(windows, busy []model.TimeRange) []model.TimeRange {
	windows = Merge(windows)
	busy = Merge(busy)

	var out []model.TimeRange
	j := 0
	for _, w := range windows {
		cur := w.Start
		// Busy blocks ending before this window cannot affect later windows either.
		for j < len(busy) && !busy[j].End.After(w.Start) {
			j++
		}
		for k := j; k < len(busy) && busy[k].Start.Before(w.End); k++ {
			b := busy[k]
			if b.Start.After(cur) {
				out = append(out, model.TimeRange{Start: cur, End: b.Start})
			}
			if b.End.After(cur) {
				cur = b.End
			}
		}
		if w.End.After(cur) {
			out = append(out, model.TimeRange{Start: cur, End: w.End})
		}
	}
	return out
}

// Clip intersects each interval with rng, dropping those left empty.
func Clip(ivs []model.TimeRange, rng model.TimeRange) []model.TimeRange {
	out := make([]model.TimeRange, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Start.Before(rng.Start) {
			iv.Start = rng.Start
		}
		if iv.End.After(rng.End) {
			iv.End = rng.End
		}
		if iv.End.After(iv.Start) {
			out = append(out, iv)
		}
	}
	return out
}

// AtLeast keeps intervals lasting at least d.
func AtLeast(ivs []model.TimeRange, d time.Duration) []model.TimeRange {
	out := make([]model.TimeRange, 0, len(ivs))
	for _, iv := range ivs {
		if iv.Duration() >= d {
			out = append(out, iv)
		}
	}
	return out
}
