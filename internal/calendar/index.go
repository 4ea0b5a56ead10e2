package calendar

import (
	"context"
	"maps"
	"slices"
	"strings"

	appLog "coachcal/internal/log"
	"coachcal/internal/metrics"
	"coachcal/internal/model"
	"coachcal/internal/storage"
)

// indexEntry is the persisted form of one user's slice of the index.
type indexEntry struct {
	UserID   string   `json:"user_id"`
	EventIDs []string `json:"event_ids"`
}

func buildIndex(events map[string]*model.Event) map[string]map[string]struct{} {
	idx := make(map[string]map[string]struct{})
	for id, ev := range events {
		for _, u := range ev.Users() {
			addToIndex(idx, u, id)
		}
	}
	return idx
}

func addToIndex(idx map[string]map[string]struct{}, userID, eventID string) {
	set, ok := idx[userID]
	if !ok {
		set = make(map[string]struct{})
		idx[userID] = set
	}
	set[eventID] = struct{}{}
}

func removeFromIndex(idx map[string]map[string]struct{}, userID, eventID string) {
	set, ok := idx[userID]
	if !ok {
		return
	}
	delete(set, eventID)
	if len(set) == 0 {
		delete(idx, userID)
	}
}

func indexEntries(idx map[string]map[string]struct{}) []indexEntry {
	out := make([]indexEntry, 0, len(idx))
	for _, u := range slices.Sorted(maps.Keys(idx)) {
		out = append(out, indexEntry{UserID: u, EventIDs: slices.Sorted(maps.Keys(idx[u]))})
	}
	return out
}

func indexMatches(idx map[string]map[string]struct{}, stored []indexEntry) bool {
	if len(stored) == 0 && len(idx) == 0 {
		return true
	}
	want := indexEntries(idx)
	if len(want) != len(stored) {
		return false
	}
	slices.SortFunc(stored, func(a, b indexEntry) int { return strings.Compare(a.UserID, b.UserID) })
	for i := range want {
		ids := slices.Clone(stored[i].EventIDs)
		slices.Sort(ids)
		if want[i].UserID != stored[i].UserID || !slices.Equal(want[i].EventIDs, ids) {
			return false
		}
	}
	return true
}

// reindex moves ev's index entries from the users of prev to its own users.
// prev may be nil for a new event.
func (e *Engine) reindex(prev, ev *model.Event) {
	if prev != nil {
		for _, u := range prev.Users() {
			removeFromIndex(e.index, u, prev.ID)
		}
	}
	if ev != nil {
		for _, u := range ev.Users() {
			addToIndex(e.index, u, ev.ID)
		}
	}
}

// saveEventsLocked writes the event table and the index. Caller holds eventsMu.
func (e *Engine) saveEventsLocked(ctx context.Context) error {
	metrics.SetEventsStored(len(e.events))
	events := make([]model.Event, 0, len(e.events))
	for _, id := range slices.Sorted(maps.Keys(e.events)) {
		events = append(events, *e.events[id])
	}
	if err := save(ctx, e, storage.CollectionEvents, events); err != nil {
		return err
	}
	return save(ctx, e, storage.CollectionUserIndex, indexEntries(e.index))
}

// RebuildIndex recomputes the per-user index from the event table and
// persists it. It reports whether the previous index differed.
func (e *Engine) RebuildIndex(ctx context.Context) (bool, error) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	rebuilt := buildIndex(e.events)
	changed := !indexMatches(rebuilt, indexEntries(e.index))
	if changed {
		appLog.Warn("calendar: user index rebuilt", "users", len(rebuilt))
	}
	e.index = rebuilt
	return changed, save(ctx, e, storage.CollectionUserIndex, indexEntries(e.index))
}
