// Package calendar is the scheduling engine: the canonical event table and
// its per-user index, recurring series, the attendance and notes ledger,
// reminder configuration and per-user availability.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	appLog "coachcal/internal/log"
	"coachcal/internal/metrics"
	"coachcal/internal/model"
	"coachcal/internal/recurrence"
	"coachcal/internal/storage"
)

var (
	ErrInvalidSpec        = errors.New("invalid spec")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyParticipant = errors.New("already a participant")
	ErrEventFull          = errors.New("event is full")
	ErrPersistence        = errors.New("persistence failure")
)

// Engine owns every table in memory and writes each table through to the
// backend after a mutation. Tables are locked independently; operations that
// touch several take the locks in the order events, rules, ledger,
// reminders, availability.
type Engine struct {
	backend   storage.Backend
	now       func() time.Time
	loc       *time.Location
	maxSeries int
	validate  *validator.Validate

	stampMu   sync.Mutex
	lastStamp time.Time

	eventsMu sync.RWMutex
	events   map[string]*model.Event
	index    map[string]map[string]struct{}

	rulesMu sync.RWMutex
	rules   map[string]*model.RecurrenceRule

	ledgerMu   sync.RWMutex
	attendance map[string]*model.AttendanceRecord
	notes      map[string][]model.Note

	remindersMu sync.RWMutex
	reminders   map[string]*model.ReminderConfig

	availMu      sync.RWMutex
	availability map[string]*model.AvailabilitySet
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the default event timezone and the zone "today" and
// "upcoming" are anchored in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithMaxSeriesInstances overrides the series size cap, base included.
func WithMaxSeriesInstances(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSeries = n
		}
	}
}

// New builds an empty engine on top of backend. Call Initialize to load the
// durable state before serving requests.
func New(backend storage.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:      backend,
		now:          time.Now,
		loc:          time.UTC,
		maxSeries:    recurrence.MaxSeriesInstances,
		validate:     newValidator(),
		events:       make(map[string]*model.Event),
		index:        make(map[string]map[string]struct{}),
		rules:        make(map[string]*model.RecurrenceRule),
		attendance:   make(map[string]*model.AttendanceRecord),
		notes:        make(map[string][]model.Note),
		reminders:    make(map[string]*model.ReminderConfig),
		availability: make(map[string]*model.AvailabilitySet),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the engine's default zone.
func (e *Engine) Location() *time.Location { return e.loc }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Close releases the backend.
func (e *Engine) Close() error {
	return e.backend.Close()
}

// enumer is implemented by every closed-set type in model.
type enumer interface{ Valid() bool }

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() == reflect.String && fl.Field().String() == "" {
			return true
		}
		en, ok := fl.Field().Interface().(enumer)
		return !ok || en.Valid()
	})
	return v
}

// stamp returns a UTC audit time strictly after every previous stamp.
func (e *Engine) stamp() time.Time {
	e.stampMu.Lock()
	defer e.stampMu.Unlock()
	now := e.now().UTC()
	if !now.After(e.lastStamp) {
		now = e.lastStamp.Add(time.Nanosecond)
	}
	e.lastStamp = now
	return now
}

func (e *Engine) observeStamp(t time.Time) {
	e.stampMu.Lock()
	if t.After(e.lastStamp) {
		e.lastStamp = t
	}
	e.stampMu.Unlock()
}

// Initialize loads every collection. A backend that has never been written
// yields an empty engine; any load or decode failure is fatal.
func (e *Engine) Initialize(ctx context.Context) error {
	var (
		events     []model.Event
		storedIdx  []indexEntry
		rules      []model.RecurrenceRule
		attendance []model.AttendanceRecord
		notes      []model.Note
		reminders  []model.ReminderConfig
		avail      []model.AvailabilitySet
	)
	empty := true
	load := func(name string, decode func([]storage.Record) error) error {
		recs, err := e.backend.LoadCollection(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: load %s: %w", ErrPersistence, name, err)
		}
		if len(recs) > 0 {
			empty = false
		}
		if err := decode(recs); err != nil {
			return fmt.Errorf("%w: decode %s: %w", ErrPersistence, name, err)
		}
		return nil
	}
	decoders := map[string]func([]storage.Record) error{
		storage.CollectionEvents:          decodeInto(&events),
		storage.CollectionUserIndex:       decodeInto(&storedIdx),
		storage.CollectionRecurrenceRules: decodeInto(&rules),
		storage.CollectionAttendance:      decodeInto(&attendance),
		storage.CollectionNotes:           decodeInto(&notes),
		storage.CollectionReminders:       decodeInto(&reminders),
		storage.CollectionAvailability:    decodeInto(&avail),
	}
	for _, name := range storage.AllCollections {
		decode, ok := decoders[name]
		if !ok {
			return fmt.Errorf("%w: no decoder for collection %s", ErrPersistence, name)
		}
		if err := load(name, decode); err != nil {
			appLog.Error("calendar: initialize failed", err, "collection", name)
			return err
		}
	}

	e.eventsMu.Lock()
	e.rulesMu.Lock()
	e.ledgerMu.Lock()
	e.remindersMu.Lock()
	e.availMu.Lock()
	defer e.availMu.Unlock()
	defer e.remindersMu.Unlock()
	defer e.ledgerMu.Unlock()
	defer e.rulesMu.Unlock()
	defer e.eventsMu.Unlock()

	e.events = make(map[string]*model.Event, len(events))
	for i := range events {
		ev := events[i]
		e.events[ev.ID] = &ev
		e.observeStamp(ev.UpdatedAt)
		e.observeStamp(ev.CreatedAt)
	}
	e.index = buildIndex(e.events)
	if !indexMatches(e.index, storedIdx) {
		appLog.Warn("calendar: stored user index inconsistent with events, using rebuilt index",
			"stored_users", len(storedIdx),
			"rebuilt_users", len(e.index),
		)
	}

	e.rules = make(map[string]*model.RecurrenceRule, len(rules))
	for i := range rules {
		r := rules[i]
		e.rules[r.BaseEventID] = &r
	}
	e.attendance = make(map[string]*model.AttendanceRecord, len(attendance))
	for i := range attendance {
		a := attendance[i]
		e.attendance[a.EventID] = &a
		e.observeStamp(a.RecordedAt)
	}
	e.notes = make(map[string][]model.Note)
	for _, n := range notes {
		e.notes[n.EventID] = append(e.notes[n.EventID], n)
		e.observeStamp(n.CreatedAt)
	}
	e.reminders = make(map[string]*model.ReminderConfig, len(reminders))
	for i := range reminders {
		c := reminders[i]
		e.reminders[c.EventID] = &c
		e.observeStamp(c.UpdatedAt)
	}
	e.availability = make(map[string]*model.AvailabilitySet, len(avail))
	for i := range avail {
		a := avail[i]
		e.availability[a.UserID] = &a
		e.observeStamp(a.UpdatedAt)
	}

	metrics.SetEventsStored(len(e.events))
	if empty {
		appLog.Info("calendar: empty backend, starting fresh")
	} else {
		appLog.Info("calendar: state loaded",
			"events", len(e.events),
			"users", len(e.index),
			"rules", len(e.rules),
			"availability", len(e.availability),
		)
	}
	return nil
}

func decodeInto[T any](dst *[]T) func([]storage.Record) error {
	return func(recs []storage.Record) error {
		out, err := storage.Decode[T](recs)
		if err != nil {
			return err
		}
		*dst = out
		return nil
	}
}

// save encodes items and writes them as collection name. Failures are
// wrapped in ErrPersistence; the in-memory mutation is not rolled back.
func save[T any](ctx context.Context, e *Engine, name string, items []T) error {
	recs, err := storage.Encode(items)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, name, err)
	}
	if err := e.backend.SaveCollection(ctx, name, recs); err != nil {
		appLog.Error("calendar: save failed", err, "collection", name, "records", len(recs))
		return fmt.Errorf("%w: save %s: %w", ErrPersistence, name, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, what, id)
}
