package availability

import (
	"errors"
	"fmt"
	"time"

	"coachcal/internal/model"
)

var ErrInvalidSlot = errors.New("invalid availability slot")

// ValidateSlot checks a slot in isolation.
func ValidateSlot(s model.AvailabilitySlot) error {
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSlot, s.Weekday)
	}
	if !s.StartTime.Valid() || !s.EndTime.Valid() {
		return fmt.Errorf("%w: time of day out of range", ErrInvalidSlot)
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("%w: end %s not after start %s", ErrInvalidSlot, s.EndTime, s.StartTime)
	}
	if s.ValidFrom != nil && s.ValidUntil != nil && s.ValidUntil.Before(*s.ValidFrom) {
		return fmt.Errorf("%w: valid_until before valid_from", ErrInvalidSlot)
	}
	return nil
}

// Intersects reports whether the slot's date bounds overlap rng in loc.
// Unbounded slots always intersect.
func Intersects(s model.AvailabilitySlot, rng model.TimeRange, loc *time.Location) bool {
	if s.ValidFrom != nil && s.ValidFrom.In(loc).After(rng.End) {
		return false
	}
	if s.ValidUntil != nil && s.ValidUntil.AddDays(1).In(loc).Before(rng.Start) {
		return false
	}
	return true
}

// Windows expands the active slots of set into concrete windows inside rng,
// evaluated in loc. Recurring slots produce a window on every matching
// weekday. A one-off slot produces windows on the matching dates inside its
// bounds, or on the first matching date of rng when it has no bounds.
// The result is clipped to rng and merged.
func Windows(slots []model.AvailabilitySlot, rng model.TimeRange, loc *time.Location) []model.TimeRange {
	if !rng.End.After(rng.Start) {
		return nil
	}
	first := model.DateOf(rng.Start.In(loc))
	last := model.DateOf(rng.End.In(loc))

	var out []model.TimeRange
	for i := range slots {
		s := &slots[i]
		if !s.Active {
			continue
		}
		for d := first; !d.After(last); d = d.AddDays(1) {
			if !s.AppliesOn(d) {
				continue
			}
			out = append(out, model.TimeRange{Start: s.StartTime.On(d, loc), End: s.EndTime.On(d, loc)})
			if !s.Recurring && !s.Bounded() {
				break
			}
		}
	}
	return Merge(Clip(out, rng))
}

// Free returns the maximal intervals of windows not covered by busy that last
// at least d, sorted ascending.
func Free(windows, busy []model.TimeRange, d time.Duration) []model.TimeRange {
	return AtLeast(Subtract(windows, busy), d)
}
