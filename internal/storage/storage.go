package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"coachcal/internal/config"
	"coachcal/internal/metrics"
)

// Collection names persisted by the calendar engine.
const (
	CollectionEvents          = "events"
	CollectionUserIndex       = "user-index"
	CollectionAttendance      = "attendance"
	CollectionNotes           = "notes"
	CollectionRecurrenceRules = "recurrence-rules"
	CollectionReminders       = "reminders"
	CollectionAvailability    = "availability"
)

// AllCollections lists every collection in load order.
var AllCollections = []string{
	CollectionEvents,
	CollectionUserIndex,
	CollectionRecurrenceRules,
	CollectionAttendance,
	CollectionNotes,
	CollectionReminders,
	CollectionAvailability,
}

// Record is one encoded entry of a collection.
type Record = json.RawMessage

// Backend is the engine's only durability boundary. Collections are loaded
// and saved whole. A collection that was never saved loads as empty with a
// nil error; any other failure is returned.
type Backend interface {
	LoadCollection(ctx context.Context, name string) ([]Record, error)
	SaveCollection(ctx context.Context, name string, records []Record) error
	DeleteCollections(ctx context.Context, names []string) error
	Close() error
}

// ErrInvalidCollection is returned for an empty collection name.
var ErrInvalidCollection = errors.New("invalid collection name")

// Open builds the backend selected by cfg, wrapped with latency metrics.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		b = NewMemory()
	case config.DriverFile:
		b, err = NewFile(cfg.Dir)
	case config.DriverPostgres:
		b, err = OpenPostgres(ctx, cfg.DSN)
	case config.DriverMySQL:
		b, err = OpenMySQL(ctx, cfg.DSN)
	case config.DriverRedis:
		b, err = OpenRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(cfg.Driver, b), nil
}

// Encode marshals typed items into records.
func Encode[T any](items []T) ([]Record, error) {
	out := make([]Record, 0, len(items))
	for i := range items {
		data, err := json.Marshal(items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Decode unmarshals records into typed items. Unknown fields and enum
// values outside their closed sets are rejected so that malformed durable
// data fails at load time.
func Decode[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for i, rec := range records {
		var item T
		dec := json.NewDecoder(bytes.NewReader(rec))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// marshalCollection and unmarshalCollection store a collection as a single
// JSON array; used by backends that keep one blob per collection.
func marshalCollection(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

func unmarshalCollection(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

type instrumented struct {
	name string
	next Backend
}

// Instrument wraps b so every call is timed under the given backend label.
func Instrument(name string, b Backend) Backend {
	return &instrumented{name: name, next: b}
}

func (i *instrumented) LoadCollection(ctx context.Context, name string) ([]Record, error) {
	done := metrics.ObserveStorage(i.name, "load", name)
	recs, err := i.next.LoadCollection(ctx, name)
	done(err)
	return recs, err
}

func (i *instrumented) SaveCollection(ctx context.Context, name string, records []Record) error {
	done := metrics.ObserveStorage(i.name, "save", name)
	err := i.next.SaveCollection(ctx, name, records)
	done(err)
	return err
}

func (i *instrumented) DeleteCollections(ctx context.Context, names []string) error {
	done := metrics.ObserveStorage(i.name, "delete", "*")
	err := i.next.DeleteCollections(ctx, names)
	done(err)
	return err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
