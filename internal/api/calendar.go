package api

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/gofiber/fiber/v2"
	"github.com/hray3182/medline/internal/engine"
	"github.com/hray3182/medline/internal/models"
)

// handleCalendar exports scheduled doses as an iCalendar feed. Past doses
// carry their recorded status.
func (s *Server) handleCalendar(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days <= 0 || days > 366 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "days must be between 1 and 366"})
	}
	past := c.QueryInt("past", 7)
	if past < 0 || past > 366 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "past must be between 0 and 366"})
	}

	loc := s.engine.Location()
	today := startOfDay(s.engine.Now(), loc)
	cal, err := buildCalendar(c.UserContext(), s.engine, today.AddDate(0, 0, -past), today.AddDate(0, 0, days))
	if err != nil {
		return s.writeError(c, err)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return s.writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="medline.ics"`)
	return c.Send(buf.Bytes())
}

func buildCalendar(ctx context.Context, eng *engine.Engine, start, end time.Time) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//medline//medication reminders//EN")
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	meds, err := eng.Medications(ctx)
	if err != nil {
		return nil, err
	}

	stamp := eng.Now().UTC()
	for _, med := range meds {
		if !med.IsScheduled() {
			continue
		}
		a, err := eng.Adherence(ctx, med.ID, start, end)
		if err != nil {
			return nil, err
		}
		for _, dose := range a.Doses {
			cal.Children = append(cal.Children, doseEvent(med, dose, stamp).Component)
		}
	}
	return cal, nil
}

func doseEvent(med *models.Medication, dose engine.Dose, stamp time.Time) *ical.Event {
	at := dose.Occurrence.At.UTC()

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%d@medline", med.ID, at.Unix()))
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	event.Props.SetDateTime(ical.PropDateTimeStart, at)
	event.Props.SetDateTime(ical.PropDateTimeEnd, at.Add(15*time.Minute))

	summary := med.Name
	if med.Dosage != "" {
		summary += " (" + med.Dosage + ")"
	}
	event.Props.SetText(ical.PropSummary, summary)

	desc := "Status: " + string(dose.Status)
	if med.Notes != "" {
		desc += "\n" + med.Notes
	}
	event.Props.SetText(ical.PropDescription, desc)
	event.Props.SetText(ical.PropCategories, string(dose.Status))
	return event
}
