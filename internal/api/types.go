package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/medline/internal/models"
)

type medicationRequest struct {
	Name      string   `json:"name"`
	Dosage    string   `json:"dosage"`
	Color     string   `json:"color"`
	ImageURI  string   `json:"image_uri"`
	Notes     string   `json:"notes"`
	Frequency string   `json:"frequency"` // daily, weekly, monthly, as_needed or "mo,we,fr"
	Slots     []string `json:"slots"`
	Active    *bool    `json:"active"`
}

func (r *medicationRequest) toModel(id string) (*models.Medication, error) {
	freq, err := models.ParseFrequency(r.Frequency)
	if err != nil {
		return nil, err
	}
	slots := make([]models.TimeSlot, 0, len(r.Slots))
	for _, raw := range r.Slots {
		slot, err := models.ParseTimeSlot(raw)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &models.Medication{
		ID:        id,
		Name:      r.Name,
		Dosage:    r.Dosage,
		Color:     r.Color,
		ImageURI:  r.ImageURI,
		Notes:     r.Notes,
		Frequency: freq,
		Slots:     slots,
		Active:    active,
	}, nil
}

type medicationResponse struct {
	*models.Medication
	Schedule string                `json:"schedule"`
	RRules   []string              `json:"rrules,omitempty"`
	Alarms   []models.PendingAlarm `json:"alarms"`
	Warning  string                `json:"warning,omitempty"`
}

type ackRequest struct {
	Action       string    `json:"action"` // taken, snooze, dismiss
	Slot         string    `json:"slot"`
	OccurrenceAt time.Time `json:"occurrence_at"`
	Minutes      int       `json:"minutes"`
}

// parseRange reads from/to query values as RFC 3339 instants or YYYY-MM-DD
// dates in loc.
func parseRange(from, to string, loc *time.Location, defFrom, defTo time.Time) (time.Time, time.Time, error) {
	start, end := defFrom, defTo
	var err error
	if from != "" {
		if start, err = parseInstant(from, loc); err != nil {
			return start, end, fmt.Errorf("invalid from: %w", err)
		}
	}
	if to != "" {
		if end, err = parseInstant(to, loc); err != nil {
			return start, end, fmt.Errorf("invalid to: %w", err)
		}
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("from must be before to")
	}
	return start, end, nil
}

func parseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
