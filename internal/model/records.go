package model

import (
	"slices"
	"time"
)

// RecurrenceKind selects the step used to walk a series.
type RecurrenceKind string

const (
	RecurNone     RecurrenceKind = "none"
	RecurDaily    RecurrenceKind = "daily"
	RecurWeekly   RecurrenceKind = "weekly"
	RecurBiweekly RecurrenceKind = "biweekly"
	RecurMonthly  RecurrenceKind = "monthly"
	RecurCustom   RecurrenceKind = "custom"
)

func (k RecurrenceKind) Valid() bool {
	return slices.Contains([]RecurrenceKind{RecurNone, RecurDaily, RecurWeekly, RecurBiweekly, RecurMonthly, RecurCustom}, k)
}

func (k *RecurrenceKind) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, (*string)(k), RecurrenceKind.Valid, "recurrence kind")
}

// RecurrenceRule is stored per base event, keyed by the base event's id.
type RecurrenceRule struct {
	BaseEventID string         `json:"base_event_id"`
	Kind        RecurrenceKind `json:"kind"`
	Interval    int            `json:"interval"`
	Weekdays    []time.Weekday `json:"weekdays,omitempty"`
	EndDate     *Date          `json:"end_date,omitempty"`
	// Occurrences counts the base event as the first occurrence.
	Occurrences int    `json:"occurrences,omitempty"`
	Exceptions  []Date `json:"exceptions,omitempty"`
	GroupID     string `json:"group_id"`
}

// IsException reports whether d is an excluded date.
func (r *RecurrenceRule) IsException(d Date) bool {
	return slices.Contains(r.Exceptions, d)
}

func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	c := *r
	c.Weekdays = slices.Clone(r.Weekdays)
	c.Exceptions = slices.Clone(r.Exceptions)
	if r.EndDate != nil {
		d := *r.EndDate
		c.EndDate = &d
	}
	return &c
}

// AttendanceStatus is a participant's presence at an event.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceExcused AttendanceStatus = "excused"
)

func (s AttendanceStatus) Valid() bool {
	return slices.Contains([]AttendanceStatus{AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused}, s)
}

func (s *AttendanceStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, (*string)(s), AttendanceStatus.Valid, "attendance status")
}

type AttendanceEntry struct {
	UserID     string           `json:"user_id"`
	Status     AttendanceStatus `json:"status"`
	CheckIn    *time.Time       `json:"check_in,omitempty"`
	CheckOut   *time.Time       `json:"check_out,omitempty"`
	Note       string           `json:"note,omitempty"`
	RecordedBy string           `json:"recorded_by"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// AttendanceRecord is replaced as a whole on every write.
type AttendanceRecord struct {
	EventID    string            `json:"event_id"`
	Entries    []AttendanceEntry `json:"entries"`
	RecordedBy string            `json:"recorded_by"`
	RecordedAt time.Time         `json:"recorded_at"`
}

func (a *AttendanceRecord) Clone() *AttendanceRecord {
	if a == nil {
		return nil
	}
	c := *a
	c.Entries = slices.Clone(a.Entries)
	return &c
}

// Note is an append-only annotation on an event.
type Note struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	Private   bool      `json:"private"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VisibleTo reports whether userID may read the note. An empty userID
// sees public notes only.
func (n *Note) VisibleTo(userID string) bool {
	return !n.Private || (userID != "" && n.AuthorID == userID)
}

// ReminderChannel is the delivery channel a dispatcher should use.
type ReminderChannel string

const (
	ChannelPush  ReminderChannel = "push"
	ChannelEmail ReminderChannel = "email"
	ChannelSMS   ReminderChannel = "sms"
	ChannelInApp ReminderChannel = "in_app"
)

func (c ReminderChannel) Valid() bool {
	return slices.Contains([]ReminderChannel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp}, c)
}

func (c *ReminderChannel) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, (*string)(c), ReminderChannel.Valid, "reminder channel")
}

type Reminder struct {
	ID            string          `json:"id"`
	Channel       ReminderChannel `json:"channel"`
	MinutesBefore int             `json:"minutes_before"`
	Message       string          `json:"message,omitempty"`
	Active        bool            `json:"active"`
	Recipients    []string        `json:"recipients,omitempty"`
}

// FireAt is the instant the reminder is due for an event starting at start.
func (r Reminder) FireAt(start time.Time) time.Time {
	return start.Add(-time.Duration(r.MinutesBefore) * time.Minute)
}

// ReminderConfig is replaced as a whole on every write.
type ReminderConfig struct {
	EventID   string     `json:"event_id"`
	Reminders []Reminder `json:"reminders"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *ReminderConfig) Clone() *ReminderConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Reminders = make([]Reminder, len(c.Reminders))
	for i, r := range c.Reminders {
		r.Recipients = slices.Clone(r.Recipients)
		out.Reminders[i] = r
	}
	return &out
}

// DueReminder is a reminder resolved against its event's start time.
type DueReminder struct {
	EventID    string    `json:"event_id"`
	EventTitle string    `json:"event_title"`
	EventStart time.Time `json:"event_start"`
	Reminder   Reminder  `json:"reminder"`
	FireAt     time.Time `json:"fire_at"`
}

// AvailabilitySlot is a window during which a user can be scheduled.
// Recurring slots repeat every week on Weekday; one-off slots apply to the
// Weekday dates inside [ValidFrom, ValidUntil].
type AvailabilitySlot struct {
	ID            string       `json:"id"`
	Weekday       time.Weekday `json:"weekday"`
	StartTime     ClockTime    `json:"start_time"`
	EndTime       ClockTime    `json:"end_time"`
	Recurring     bool         `json:"recurring"`
	ValidFrom     *Date        `json:"valid_from,omitempty"`
	ValidUntil    *Date        `json:"valid_until,omitempty"`
	ExcludedDates []Date       `json:"excluded_dates,omitempty"`
	Active        bool         `json:"active"`
}

// Bounded reports whether the slot carries any explicit date bound.
func (s *AvailabilitySlot) Bounded() bool {
	return s.ValidFrom != nil || s.ValidUntil != nil
}

// AppliesOn reports whether the slot produces a window on d, ignoring the
// active flag.
func (s *AvailabilitySlot) AppliesOn(d Date) bool {
	if d.Weekday() != s.Weekday {
		return false
	}
	if s.ValidFrom != nil && d.Before(*s.ValidFrom) {
		return false
	}
	if s.ValidUntil != nil && d.After(*s.ValidUntil) {
		return false
	}
	return !slices.Contains(s.ExcludedDates, d)
}

// AvailabilitySet is stored per user and replaced as a whole.
type AvailabilitySet struct {
	UserID    string             `json:"user_id"`
	Timezone  string             `json:"timezone"`
	Slots     []AvailabilitySlot `json:"slots"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (a *AvailabilitySet) Clone() *AvailabilitySet {
	if a == nil {
		return nil
	}
	c := *a
	c.Slots = make([]AvailabilitySlot, len(a.Slots))
	for i, s := range a.Slots {
		s.ExcludedDates = slices.Clone(s.ExcludedDates)
		c.Slots[i] = s
	}
	return &c
}
