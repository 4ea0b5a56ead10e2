package calendar

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	appLog "coachcal/internal/log"
	"coachcal/internal/model"
	"coachcal/internal/recurrence"
	"coachcal/internal/storage"
)

// GenerateSeries attaches rule to the base event and materializes its
// instances. The base must not already carry a rule; use SetRecurrence to
// replace one. A "none" rule generates nothing.
func (e *Engine) GenerateSeries(ctx context.Context, baseID string, rule model.RecurrenceRule) ([]*model.Event, error) {
	if err := recurrence.Validate(rule); err != nil {
		return nil, invalid("%v", err)
	}

	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	base, ok := e.events[baseID]
	if !ok {
		return nil, notFound("event", baseID)
	}
	if base.ParentEventID != "" {
		return nil, invalid("event %s is an instance of series %s", baseID, base.RecurrenceGroupID)
	}
	if _, exists := e.rules[baseID]; exists {
		return nil, invalid("event %s already has a recurrence rule", baseID)
	}
	if rule.Kind == model.RecurNone {
		return nil, nil
	}
	return e.materializeLocked(ctx, base, rule.Clone())
}

// SetRecurrence replaces the rule of a base event: previously generated
// instances are deleted with everything keyed by them, then the new rule is
// materialized. A "none" rule detaches the base from its series.
func (e *Engine) SetRecurrence(ctx context.Context, baseID string, rule model.RecurrenceRule) ([]*model.Event, error) {
	if err := recurrence.Validate(rule); err != nil {
		return nil, invalid("%v", err)
	}

	unlock := e.lockSeries()
	defer unlock()

	base, ok := e.events[baseID]
	if !ok {
		return nil, notFound("event", baseID)
	}
	if base.ParentEventID != "" {
		return nil, invalid("event %s is an instance of series %s", baseID, base.RecurrenceGroupID)
	}

	var touched touchedTables
	if base.RecurrenceGroupID != "" {
		touched = e.deleteLocked(e.groupMembersLocked(base.RecurrenceGroupID, baseID))
	}
	if _, ok := e.rules[baseID]; ok {
		delete(e.rules, baseID)
		touched.rules = true
	}

	if rule.Kind == model.RecurNone {
		if base.RecurrenceGroupID != "" {
			next := base.Clone()
			next.RecurrenceGroupID = ""
			next.UpdatedAt = e.stamp()
			e.events[baseID] = next
			touched.events = true
		}
		return nil, e.saveTouchedLocked(ctx, touched)
	}

	// Events and rules are written by materializeLocked.
	touched.events, touched.rules = false, false
	if err := e.saveTouchedLocked(ctx, touched); err != nil {
		return nil, err
	}
	return e.materializeLocked(ctx, e.events[baseID], rule.Clone())
}

// materializeLocked stores rule for base and synthesizes its instances.
// Caller holds eventsMu and rulesMu, and base is already in the table.
func (e *Engine) materializeLocked(ctx context.Context, base *model.Event, rule *model.RecurrenceRule) ([]*model.Event, error) {
	loc, err := time.LoadLocation(base.Timezone)
	if err != nil {
		return nil, invalid("unknown timezone %q", base.Timezone)
	}
	if rule.Interval <= 0 {
		rule.Interval = 1
	}
	group := base.RecurrenceGroupID
	if group == "" {
		group = rule.GroupID
	}
	if group == "" {
		group = uuid.NewString()
	}
	rule.BaseEventID = base.ID
	rule.GroupID = group

	res, err := recurrence.Generate(base.Start, *rule, recurrence.Config{Location: loc, MaxInstances: e.maxSeries})
	if err != nil {
		return nil, invalid("%v", err)
	}

	if base.RecurrenceGroupID != group {
		next := base.Clone()
		next.RecurrenceGroupID = group
		next.UpdatedAt = e.stamp()
		e.events[base.ID] = next
		base = next
	}

	instances := make([]*model.Event, 0, len(res.Starts))
	for _, start := range res.Starts {
		inst := e.instance(base, start, loc)
		e.events[inst.ID] = inst
		e.reindex(nil, inst)
		instances = append(instances, inst)
	}
	e.rules[base.ID] = rule

	appLog.Info("calendar: series generated",
		"base", base.ID,
		"group", group,
		"kind", rule.Kind,
		"instances", len(instances),
		"skipped", res.Skipped,
		"truncated", res.Truncated,
	)

	if err := e.saveEventsLocked(ctx); err != nil {
		return nil, err
	}
	if err := e.saveRulesLocked(ctx); err != nil {
		return nil, err
	}

	out := make([]*model.Event, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Clone())
	}
	return out, nil
}

// instance copies base onto a new start. Timed events keep their duration;
// all-day events keep their number of local days.
func (e *Engine) instance(base *model.Event, start time.Time, loc *time.Location) *model.Event {
	inst := base.Clone()
	inst.ID = uuid.NewString()
	inst.Start = start.In(base.Start.Location())
	if base.AllDay {
		days := daysBetween(model.DateOf(base.Start.In(loc)), model.DateOf(base.End.In(loc)))
		inst.End = model.DateOf(start.In(loc)).AddDays(days).In(loc).In(base.End.Location())
	} else {
		inst.End = inst.Start.Add(base.Duration())
	}
	inst.ParentEventID = base.ID
	inst.CreatedAt = e.stamp()
	inst.UpdatedAt = inst.CreatedAt
	return inst
}

func daysBetween(a, b model.Date) int {
	return int(b.In(time.UTC).Sub(a.In(time.UTC)) / (24 * time.Hour))
}

// GetRecurrence returns the rule stored for a base event.
func (e *Engine) GetRecurrence(baseID string) (*model.RecurrenceRule, bool) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	r, ok := e.rules[baseID]
	return r.Clone(), ok
}

// Series returns every event of a recurrence group sorted by start, so
// callers can detect and repair a partially written series.
func (e *Engine) Series(groupID string) []*model.Event {
	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	var out []*model.Event
	if groupID == "" {
		return out
	}
	for _, ev := range e.events {
		if ev.RecurrenceGroupID == groupID {
			out = append(out, ev.Clone())
		}
	}
	sortEvents(out)
	return out
}

// UpdateSeries applies patch to every event in id's recurrence group. A
// change to Start or End is applied to the other members as the same shift
// relative to id. Either every member is updated or none is.
func (e *Engine) UpdateSeries(ctx context.Context, id string, patch EventPatch) ([]*model.Event, error) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	anchor, ok := e.events[id]
	if !ok {
		return nil, notFound("event", id)
	}
	members := []string{id}
	if anchor.RecurrenceGroupID != "" {
		members = append(members, e.groupMembersLocked(anchor.RecurrenceGroupID, id)...)
	}

	var startShift, endShift time.Duration
	if patch.Start != nil {
		startShift = patch.Start.Sub(anchor.Start)
	}
	if patch.End != nil {
		endShift = patch.End.Sub(anchor.End)
	}
	shared := patch
	shared.Start, shared.End = nil, nil

	updated := make(map[string]*model.Event, len(members))
	for _, mid := range members {
		next := e.events[mid].Clone()
		shared.apply(next)
		next.Start = next.Start.Add(startShift)
		next.End = next.End.Add(endShift)
		if err := e.normalize(next); err != nil {
			return nil, err
		}
		updated[mid] = next
	}

	now := e.stamp()
	out := make([]*model.Event, 0, len(updated))
	for _, mid := range slices.Sorted(maps.Keys(updated)) {
		prev, next := e.events[mid], updated[mid]
		next.UpdatedAt = now
		e.events[mid] = next
		if patch.changesParties() {
			e.reindex(prev, next)
		}
		out = append(out, next.Clone())
	}
	if err := e.saveEventsLocked(ctx); err != nil {
		return nil, err
	}
	sortEvents(out)
	return out, nil
}

func (e *Engine) saveRulesLocked(ctx context.Context) error {
	rules := make([]model.RecurrenceRule, 0, len(e.rules))
	for _, id := range slices.Sorted(maps.Keys(e.rules)) {
		rules = append(rules, *e.rules[id])
	}
	return save(ctx, e, storage.CollectionRecurrenceRules, rules)
}
