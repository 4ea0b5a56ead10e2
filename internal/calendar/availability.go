package calendar

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"coachcal/internal/availability"
	"coachcal/internal/model"
	"coachcal/internal/storage"
)

// SetAvailability replaces userID's slot set. An empty timezone means the
// engine's zone.
func (e *Engine) SetAvailability(ctx context.Context, userID, timezone string, slots []model.AvailabilitySlot) (*model.AvailabilitySet, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	if timezone == "" {
		timezone = e.loc.String()
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, invalid("unknown timezone %q", timezone)
	}
	for i, s := range slots {
		if err := availability.ValidateSlot(s); err != nil {
			return nil, invalid("slot %d: %v", i, err)
		}
	}

	e.availMu.Lock()
	defer e.availMu.Unlock()

	set := &model.AvailabilitySet{
		UserID:    userID,
		Timezone:  timezone,
		Slots:     make([]model.AvailabilitySlot, 0, len(slots)),
		UpdatedAt: e.stamp(),
	}
	for _, s := range slots {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.ExcludedDates = slices.Clone(s.ExcludedDates)
		set.Slots = append(set.Slots, s)
	}
	e.availability[userID] = set
	if err := e.saveAvailabilityLocked(ctx); err != nil {
		return nil, err
	}
	return set.Clone(), nil
}

// GetAvailability returns userID's slot set. With rng, only slots whose date
// bounds intersect it are kept; unbounded slots always are.
func (e *Engine) GetAvailability(userID string, rng *model.TimeRange) (*model.AvailabilitySet, error) {
	e.availMu.RLock()
	defer e.availMu.RUnlock()

	set, ok := e.availability[userID]
	if !ok {
		return nil, notFound("availability for user", userID)
	}
	out := set.Clone()
	if rng == nil {
		return out, nil
	}
	loc := e.zone(out.Timezone)
	out.Slots = slices.DeleteFunc(out.Slots, func(s model.AvailabilitySlot) bool {
		return !availability.Intersects(s, *rng, loc)
	})
	return out, nil
}

// FindAvailableSlots returns the maximal intervals of at least d inside rng
// during which userID is available and not busy. Busy time is every
// non-cancelled event the user organizes or joins, minus excludeEventIDs.
func (e *Engine) FindAvailableSlots(userID string, d time.Duration, rng model.TimeRange, excludeEventIDs []string) ([]model.TimeRange, error) {
	if d <= 0 {
		return nil, invalid("duration must be positive")
	}
	if !rng.End.After(rng.Start) {
		return nil, invalid("range end must be after start")
	}

	set, err := e.GetAvailability(userID, nil)
	if err != nil {
		return nil, err
	}
	windows := availability.Windows(set.Slots, rng, e.zone(set.Timezone))
	if len(windows) == 0 {
		return []model.TimeRange{}, nil
	}

	e.eventsMu.RLock()
	var busy []model.TimeRange
	for id := range e.index[userID] {
		ev, ok := e.events[id]
		if !ok || ev.Status == model.StatusCancelled || slices.Contains(excludeEventIDs, id) {
			continue
		}
		if ev.Overlaps(rng.Start, rng.End) {
			busy = append(busy, model.TimeRange{Start: ev.Start, End: ev.End})
		}
	}
	e.eventsMu.RUnlock()

	free := availability.Free(windows, busy, d)
	if free == nil {
		free = []model.TimeRange{}
	}
	return free, nil
}

func (e *Engine) zone(name string) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return e.loc
}

func (e *Engine) saveAvailabilityLocked(ctx context.Context) error {
	sets := make([]model.AvailabilitySet, 0, len(e.availability))
	for _, u := range slices.Sorted(maps.Keys(e.availability)) {
		sets = append(sets, *e.availability[u])
	}
	return save(ctx, e, storage.CollectionAvailability, sets)
}
