// Package dispatch hands due reminders to a delivery sink. The calendar
// engine only answers "what is due"; sending happens here, on a cron
// schedule.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	appLog "coachcal/internal/log"
	"coachcal/internal/metrics"
	"coachcal/internal/model"
)

// Source answers which reminders fire in a window.
type Source interface {
	DueReminders(from, to time.Time) ([]model.DueReminder, error)
	Now() time.Time
}

// Sink delivers one due reminder.
type Sink interface {
	Name() string
	Send(ctx context.Context, due model.DueReminder) error
}

// Poller asks its source for reminders due since the previous run and
// forwards them to the sink. Each instant is covered by exactly one run.
type Poller struct {
	source Source
	sink   Sink

	mu   sync.Mutex
	last time.Time
}

// NewPoller starts the window at the source's current time: reminders that
// fired before startup are not replayed.
func NewPoller(source Source, sink Sink) *Poller {
	return &Poller{source: source, sink: sink, last: source.Now()}
}

// Schedule registers the poller on c with a standard 5-field cron spec.
func (p *Poller) Schedule(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		if _, err := p.RunOnce(context.Background()); err != nil {
			appLog.Error("reminder poll failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reminders cron %q: %w", spec, err)
	}
	return nil
}

// RunOnce dispatches reminders due in (last run, now] and returns how many
// were delivered. A failing delivery is reported but does not hold back the
// rest of the batch, and the window still advances.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.source.Now()
	if !now.After(p.last) {
		return 0, nil
	}
	due, err := p.source.DueReminders(p.last.Add(time.Nanosecond), now)
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, d := range due {
		err := p.sink.Send(ctx, d)
		metrics.ReminderDispatched(p.sink.Name(), string(d.Reminder.Channel), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("reminder %s for event %s: %w", d.Reminder.ID, d.EventID, err))
			continue
		}
		sent++
	}
	p.last = now

	if len(due) > 0 {
		appLog.Info("reminders dispatched", "sink", p.sink.Name(), "due", len(due), "sent", sent)
	}
	return sent, errors.Join(errs...)
}

// LogSink only logs. It is used when no redis channel is configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, d model.DueReminder) error {
	appLog.Info("reminder due",
		"event_id", d.EventID,
		"title", d.EventTitle,
		"channel", d.Reminder.Channel,
		"fire_at", d.FireAt.Format(time.RFC3339),
		"recipients", len(d.Reminder.Recipients),
	)
	return nil
}

// publisher is the part of *redis.Client the sink needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes each due reminder as JSON on a pub/sub channel for
// push/email/SMS workers to pick up.
type RedisSink struct {
	client  publisher
	closer  func() error
	channel string
}

// OpenRedisSink parses a redis:// URL, connects and pings the server.
func OpenRedisSink(ctx context.Context, url, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s := NewRedisSink(client, channel)
	s.closer = client.Close
	return s, nil
}

func NewRedisSink(client publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, d model.DueReminder) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal reminder: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
