package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind classifies an event.
type EventKind string

const (
	KindTrainingSession   EventKind = "training_session"
	KindGroupTraining     EventKind = "group_training"
	KindMatch             EventKind = "match"
	KindTournament        EventKind = "tournament"
	KindAssessment        EventKind = "assessment"
	KindMeeting           EventKind = "meeting"
	KindCamp              EventKind = "camp"
	KindWorkshop          EventKind = "workshop"
	KindPersonal          EventKind = "personal"
	KindBreak             EventKind = "break"
	KindAvailabilityBlock EventKind = "availability_block"
)

var eventKinds = []EventKind{
	KindTrainingSession, KindGroupTraining, KindMatch, KindTournament,
	KindAssessment, KindMeeting, KindCamp, KindWorkshop, KindPersonal,
	KindBreak, KindAvailabilityBlock,
}

func (k EventKind) Valid() bool { return slices.Contains(eventKinds, k) }

func (k *EventKind) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, (*string)(k), EventKind.Valid, "event kind")
}

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	StatusScheduled   EventStatus = "scheduled"
	StatusConfirmed   EventStatus = "confirmed"
	StatusInProgress  EventStatus = "in_progress"
	StatusCompleted   EventStatus = "completed"
	StatusCancelled   EventStatus = "cancelled"
	StatusPostponed   EventStatus = "postponed"
	StatusNoShow      EventStatus = "no_show"
	StatusRescheduled EventStatus = "rescheduled"
)

var eventStatuses = []EventStatus{
	StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
	StatusCancelled, StatusPostponed, StatusNoShow, StatusRescheduled,
}

func (s EventStatus) Valid() bool { return slices.Contains(eventStatuses, s) }

func (s *EventStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, (*string)(s), EventStatus.Valid, "event status")
}

// Priority is presentation metadata only.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	return slices.Contains([]Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}, p)
}

func (p *Priority) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, (*string)(p), Priority.Valid, "priority")
}

// PaymentStatus tracks payment for priced sessions.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentWaived   PaymentStatus = "waived"
)

func (p PaymentStatus) Valid() bool {
	return slices.Contains([]PaymentStatus{PaymentPending, PaymentPaid, PaymentRefunded, PaymentWaived}, p)
}

func (p *PaymentStatus) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, (*string)(p), PaymentStatus.Valid, "payment status")
}

// unmarshalEnum accepts the empty string (unset) or a known value.
func unmarshalEnum[T ~string](b []byte, dst *string, valid func(T) bool, what string) error {
	v := string(b)
	if v != "" && !valid(T(v)) {
		return fmt.Errorf("unknown %s %q", what, v)
	}
	*dst = v
	return nil
}

// Location is either a physical place or a virtual meeting.
type Location struct {
	Name       string   `json:"name,omitempty"`
	Address    string   `json:"address,omitempty"`
	City       string   `json:"city,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Virtual    bool     `json:"virtual,omitempty"`
	MeetingURL string   `json:"meeting_url,omitempty" validate:"omitempty,url"`
}

// Event is a single time-bound calendar entry. Instances of a recurring
// series are stored as independent events linked by RecurrenceGroupID.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Start    time.Time `json:"start" validate:"required"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
	AllDay   bool      `json:"all_day"`

	Kind   EventKind   `json:"kind" validate:"enum"`
	Status EventStatus `json:"status" validate:"enum"`

	OrganizerID     string   `json:"organizer_id" validate:"required"`
	Participants    []string `json:"participants" validate:"dive,required"`
	MaxParticipants *int     `json:"max_participants,omitempty" validate:"omitempty,min=0"`

	Location *Location `json:"location,omitempty"`

	Sport          string           `json:"sport,omitempty"`
	SkillLevel     string           `json:"skill_level,omitempty"`
	SessionPlanRef string           `json:"session_plan_ref,omitempty"`
	Equipment      []string         `json:"equipment,omitempty"`
	Objectives     []string         `json:"objectives,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Currency       string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	PaymentStatus  PaymentStatus    `json:"payment_status,omitempty" validate:"omitempty,enum"`

	Tags     []string `json:"tags,omitempty"`
	Color    string   `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Priority Priority `json:"priority,omitempty" validate:"omitempty,enum"`
	Private  bool     `json:"private"`

	RecurrenceGroupID string `json:"recurrence_group_id,omitempty"`
	ParentEventID     string `json:"parent_event_id,omitempty"`

	// ExternalRef is "<source>/<uid>" for events imported from an ICS feed.
	ExternalRef string `json:"external_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
}

// Duration returns End - Start.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether the event intersects [from, to], boundaries
// included: an event ending exactly at from still matches.
func (e *Event) Overlaps(from, to time.Time) bool {
	return !e.Start.After(to) && !e.End.Before(from)
}

// HasParticipant reports whether userID is in the participant list.
func (e *Event) HasParticipant(userID string) bool {
	return slices.Contains(e.Participants, userID)
}

// Involves reports whether userID organizes or participates in the event.
func (e *Event) Involves(userID string) bool {
	return e.OrganizerID == userID || e.HasParticipant(userID)
}

// Users returns the organizer followed by all participants, de-duplicated.
func (e *Event) Users() []string {
	out := make([]string, 0, len(e.Participants)+1)
	if e.OrganizerID != "" {
		out = append(out, e.OrganizerID)
	}
	for _, p := range e.Participants {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy so callers never alias engine-owned state.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Participants = slices.Clone(e.Participants)
	c.Equipment = slices.Clone(e.Equipment)
	c.Objectives = slices.Clone(e.Objectives)
	c.Tags = slices.Clone(e.Tags)
	if e.MaxParticipants != nil {
		n := *e.MaxParticipants
		c.MaxParticipants = &n
	}
	if e.Location != nil {
		loc := *e.Location
		if e.Location.Latitude != nil {
			lat := *e.Location.Latitude
			loc.Latitude = &lat
		}
		if e.Location.Longitude != nil {
			lng := *e.Location.Longitude
			loc.Longitude = &lng
		}
		c.Location = &loc
	}
	if e.Price != nil {
		p := *e.Price
		c.Price = &p
	}
	return &c
}
