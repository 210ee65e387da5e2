package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type FrequencyKind string

const (
	FrequencyDaily    FrequencyKind = "daily"
	FrequencyWeekly   FrequencyKind = "weekly"
	FrequencyMonthly  FrequencyKind = "monthly"
	FrequencyCustom   FrequencyKind = "custom"
	FrequencyAsNeeded FrequencyKind = "as_needed"
)

// Frequency is the recurrence rule of a medication. Weekdays is only
// meaningful for FrequencyCustom.
type Frequency struct {
	Kind     FrequencyKind  `json:"kind"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

func Daily() Frequency    { return Frequency{Kind: FrequencyDaily} }
func Weekly() Frequency   { return Frequency{Kind: FrequencyWeekly} }
func Monthly() Frequency  { return Frequency{Kind: FrequencyMonthly} }
func AsNeeded() Frequency { return Frequency{Kind: FrequencyAsNeeded} }

func Custom(days ...time.Weekday) Frequency {
	return Frequency{Kind: FrequencyCustom, Weekdays: days}
}

// HasWeekday reports whether d is in the custom weekday set.
func (f Frequency) HasWeekday(d time.Weekday) bool {
	return slices.Contains(f.Weekdays, d)
}

func (f Frequency) Validate() error {
	switch f.Kind {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyAsNeeded:
		return nil
	case FrequencyCustom:
		if len(f.Weekdays) == 0 {
			return fmt.Errorf("%w: custom frequency requires at least one weekday", ErrInvalidFrequencyConfig)
		}
		for _, d := range f.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday %d out of range", ErrInvalidFrequencyConfig, d)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidFrequencyConfig, f.Kind)
	}
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

// ParseFrequency reads "daily", "weekly", "monthly", "as_needed" or a custom
// weekday list such as "mo,we,fr".
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "daily":
		return Daily(), nil
	case "weekly":
		return Weekly(), nil
	case "monthly":
		return Monthly(), nil
	case "as_needed", "asneeded", "prn":
		return AsNeeded(), nil
	}
	var days []time.Weekday
	for _, code := range strings.Split(s, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		if len(code) > 2 {
			code = code[:2]
		}
		d, ok := weekdayCodes[code]
		if !ok {
			return Frequency{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidFrequencyConfig, s)
		}
		if !slices.Contains(days, d) {
			days = append(days, d)
		}
	}
	slices.Sort(days)
	f := Custom(days...)
	return f, f.Validate()
}

type Medication struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Dosage    string     `json:"dosage"`
	Color     string     `json:"color,omitempty"`
	ImageURI  string     `json:"image_uri,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	Frequency Frequency  `json:"frequency"`
	Slots     []TimeSlot `json:"slots"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate enforces the medication invariants and sorts the slots.
func (m *Medication) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFrequencyConfig)
	}
	if err := m.Frequency.Validate(); err != nil {
		return err
	}
	seen := make(map[TimeSlot]bool, len(m.Slots))
	for _, slot := range m.Slots {
		if !slot.Valid() {
			return fmt.Errorf("%w: time slot %s out of range", ErrInvalidFrequencyConfig, slot)
		}
		if seen[slot] {
			return fmt.Errorf("%w: duplicate time slot %s", ErrInvalidFrequencyConfig, slot)
		}
		seen[slot] = true
	}
	SortSlots(m.Slots)
	return nil
}

// IsScheduled reports whether the medication produces automatic occurrences.
func (m *Medication) IsScheduled() bool {
	return m.Active && m.Frequency.Kind != FrequencyAsNeeded && len(m.Slots) > 0
}

// HasSlot reports whether slot is configured on the medication.
func (m *Medication) HasSlot(slot TimeSlot) bool {
	return slices.Contains(m.Slots, slot)
}

// Occurrence is one concrete scheduled dose.
type Occurrence struct {
	MedicationID string    `json:"medication_id"`
	Slot         TimeSlot  `json:"slot"`
	At           time.Time `json:"at"`
}
