package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"coachcal/internal/model"
)

const productID = "-//coachcal//calendar export//EN"

// Export renders events as one VCALENDAR. Series instances are exported as
// independent VEVENTs since they are stored that way; the kind travels in
// X-COACHCAL-KIND so that a re-import keeps it.
func Export(name string, events []*model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		vev := cal.AddEvent(ev.ID)
		vev.SetDtStampTime(now.UTC())
		vev.SetCreatedTime(ev.CreatedAt.UTC())
		vev.SetModifiedAt(ev.UpdatedAt.UTC())

		if ev.AllDay {
			loc := ev.Start.Location()
			if z, err := time.LoadLocation(ev.Timezone); err == nil {
				loc = z
			}
			vev.SetAllDayStartAt(ev.Start.In(loc))
			vev.SetAllDayEndAt(ev.End.In(loc))
		} else {
			vev.SetStartAt(ev.Start.UTC())
			vev.SetEndAt(ev.End.UTC())
		}

		vev.SetSummary(ev.Title)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Location != nil {
			if where := locationText(ev.Location); where != "" {
				vev.SetLocation(where)
			}
			if ev.Location.MeetingURL != "" {
				vev.SetURL(ev.Location.MeetingURL)
			}
		}
		vev.SetProperty(ical.ComponentPropertyStatus, icsStatus(ev.Status))
		for _, tag := range ev.Tags {
			vev.AddProperty(ical.ComponentPropertyCategories, tag)
		}
		if ev.Private {
			vev.SetProperty(ical.ComponentPropertyClass, "PRIVATE")
		}
		vev.SetProperty(PropertyKind, string(ev.Kind))
	}
	return cal.Serialize()
}

func icsStatus(s model.EventStatus) string {
	switch s {
	case model.StatusCancelled:
		return "CANCELLED"
	case model.StatusConfirmed, model.StatusInProgress, model.StatusCompleted:
		return "CONFIRMED"
	default:
		return "TENTATIVE"
	}
}

func locationText(l *model.Location) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Name, l.Address, l.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
