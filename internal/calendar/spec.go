package calendar

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"coachcal/internal/model"
)

// EventSpec carries the caller-supplied fields of a new event.
type EventSpec struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone,omitempty"`
	AllDay   bool      `json:"all_day,omitempty"`

	Kind   model.EventKind   `json:"kind,omitempty"`
	Status model.EventStatus `json:"status,omitempty"`

	OrganizerID     string   `json:"organizer_id"`
	Participants    []string `json:"participants,omitempty"`
	MaxParticipants *int     `json:"max_participants,omitempty"`

	Location *model.Location `json:"location,omitempty"`

	Sport          string              `json:"sport,omitempty"`
	SkillLevel     string              `json:"skill_level,omitempty"`
	SessionPlanRef string              `json:"session_plan_ref,omitempty"`
	Equipment      []string            `json:"equipment,omitempty"`
	Objectives     []string            `json:"objectives,omitempty"`
	Price          *decimal.Decimal    `json:"price,omitempty"`
	Currency       string              `json:"currency,omitempty"`
	PaymentStatus  model.PaymentStatus `json:"payment_status,omitempty"`

	Tags     []string       `json:"tags,omitempty"`
	Color    string         `json:"color,omitempty"`
	Priority model.Priority `json:"priority,omitempty"`
	Private  bool           `json:"private,omitempty"`

	ExternalRef string `json:"external_ref,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`

	// Recurrence, when set and not "none", materializes a series with the
	// new event as its base.
	Recurrence *model.RecurrenceRule `json:"recurrence,omitempty"`
}

func (s *EventSpec) event() *model.Event {
	ev := &model.Event{
		Title:          s.Title,
		Description:    s.Description,
		Start:          s.Start,
		End:            s.End,
		Timezone:       s.Timezone,
		AllDay:         s.AllDay,
		Kind:           s.Kind,
		Status:         s.Status,
		OrganizerID:    s.OrganizerID,
		Participants:   s.Participants,
		Location:       s.Location,
		Sport:          s.Sport,
		SkillLevel:     s.SkillLevel,
		SessionPlanRef: s.SessionPlanRef,
		Equipment:      s.Equipment,
		Objectives:     s.Objectives,
		Price:          s.Price,
		Currency:       s.Currency,
		PaymentStatus:  s.PaymentStatus,
		Tags:           s.Tags,
		Color:          s.Color,
		Priority:       s.Priority,
		Private:        s.Private,
		ExternalRef:    s.ExternalRef,
		CreatedBy:      s.CreatedBy,
	}
	ev.MaxParticipants = s.MaxParticipants
	// Detach from caller-owned slices and pointers.
	return ev.Clone()
}

// EventPatch lists the fields Update may change; nil means unchanged.
// MaxParticipants set to 0 removes the cap.
type EventPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`

	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Timezone *string    `json:"timezone,omitempty"`
	AllDay   *bool      `json:"all_day,omitempty"`

	Kind   *model.EventKind   `json:"kind,omitempty"`
	Status *model.EventStatus `json:"status,omitempty"`

	OrganizerID     *string   `json:"organizer_id,omitempty"`
	Participants    *[]string `json:"participants,omitempty"`
	MaxParticipants *int      `json:"max_participants,omitempty"`

	Location *model.Location `json:"location,omitempty"`

	Sport          *string              `json:"sport,omitempty"`
	SkillLevel     *string              `json:"skill_level,omitempty"`
	SessionPlanRef *string              `json:"session_plan_ref,omitempty"`
	Equipment      *[]string            `json:"equipment,omitempty"`
	Objectives     *[]string            `json:"objectives,omitempty"`
	Price          *decimal.Decimal     `json:"price,omitempty"`
	Currency       *string              `json:"currency,omitempty"`
	PaymentStatus  *model.PaymentStatus `json:"payment_status,omitempty"`

	Tags     *[]string       `json:"tags,omitempty"`
	Color    *string         `json:"color,omitempty"`
	Priority *model.Priority `json:"priority,omitempty"`
	Private  *bool           `json:"private,omitempty"`
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setSliceIf(dst *[]string, v *[]string) {
	if v != nil {
		*dst = slices.Clone(*v)
	}
}

// apply merges p into ev in place. Start and End are left to the caller
// when shifting a whole series.
func (p *EventPatch) apply(ev *model.Event) {
	setIf(&ev.Title, p.Title)
	setIf(&ev.Description, p.Description)
	setIf(&ev.Start, p.Start)
	setIf(&ev.End, p.End)
	setIf(&ev.Timezone, p.Timezone)
	setIf(&ev.AllDay, p.AllDay)
	setIf(&ev.Kind, p.Kind)
	setIf(&ev.Status, p.Status)
	setIf(&ev.OrganizerID, p.OrganizerID)
	setSliceIf(&ev.Participants, p.Participants)
	if p.MaxParticipants != nil {
		if *p.MaxParticipants == 0 {
			ev.MaxParticipants = nil
		} else {
			n := *p.MaxParticipants
			ev.MaxParticipants = &n
		}
	}
	if p.Location != nil {
		loc := *p.Location
		ev.Location = &loc
	}
	setIf(&ev.Sport, p.Sport)
	setIf(&ev.SkillLevel, p.SkillLevel)
	setIf(&ev.SessionPlanRef, p.SessionPlanRef)
	setSliceIf(&ev.Equipment, p.Equipment)
	setSliceIf(&ev.Objectives, p.Objectives)
	if p.Price != nil {
		price := *p.Price
		ev.Price = &price
	}
	setIf(&ev.Currency, p.Currency)
	setIf(&ev.PaymentStatus, p.PaymentStatus)
	setSliceIf(&ev.Tags, p.Tags)
	setIf(&ev.Color, p.Color)
	setIf(&ev.Priority, p.Priority)
	setIf(&ev.Private, p.Private)
}

// changesParties reports whether the patch may move index entries.
func (p *EventPatch) changesParties() bool {
	return p.OrganizerID != nil || p.Participants != nil
}

// normalize applies defaults and checks every event invariant: a known zone,
// closed-set enums, a positive interval (or whole local days for all-day
// events), unique participants and the participant cap.
func (e *Engine) normalize(ev *model.Event) error {
	if ev.Kind == "" {
		ev.Kind = model.KindTrainingSession
	}
	if ev.Status == "" {
		ev.Status = model.StatusScheduled
	}
	if ev.Timezone == "" {
		ev.Timezone = e.loc.String()
	}
	loc, err := time.LoadLocation(ev.Timezone)
	if err != nil {
		return invalid("unknown timezone %q", ev.Timezone)
	}
	if err := e.validate.Struct(ev); err != nil {
		return invalid("%v", err)
	}
	if ev.Start.IsZero() {
		return invalid("start is required")
	}

	if ev.AllDay {
		first := model.DateOf(ev.Start.In(loc))
		last := first
		if !ev.End.IsZero() {
			endLocal := ev.End.In(loc)
			last = model.DateOf(endLocal)
			if last.After(first) && endLocal.Equal(last.In(loc)) {
				// Already on a day boundary: End is exclusive.
				last = last.AddDays(-1)
			}
		}
		if last.Before(first) {
			return invalid("end %s before start %s", ev.End.Format(time.RFC3339), ev.Start.Format(time.RFC3339))
		}
		ev.Start = first.In(loc)
		ev.End = last.AddDays(1).In(loc)
	} else if !ev.End.After(ev.Start) {
		return invalid("end %s must be after start %s", ev.End.Format(time.RFC3339), ev.Start.Format(time.RFC3339))
	}

	seen := make(map[string]struct{}, len(ev.Participants))
	uniq := ev.Participants[:0:0]
	for _, p := range ev.Participants {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	ev.Participants = uniq
	if ev.MaxParticipants != nil && len(ev.Participants) > *ev.MaxParticipants {
		return invalid("%d participants exceed cap of %d", len(ev.Participants), *ev.MaxParticipants)
	}
	return nil
}
