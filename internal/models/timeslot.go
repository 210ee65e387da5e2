package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeSlot is a wall-clock time of day without a date.
type TimeSlot struct {
	Hour   int
	Minute int
}

// ParseTimeSlot accepts "H:MM" or "HH:MM".
func ParseTimeSlot(s string) (TimeSlot, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return TimeSlot{}, fmt.Errorf("%w: malformed time slot %q", ErrInvalidFrequencyConfig, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: malformed time slot %q", ErrInvalidFrequencyConfig, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: malformed time slot %q", ErrInvalidFrequencyConfig, s)
	}
	slot := TimeSlot{Hour: h, Minute: m}
	if !slot.Valid() {
		return TimeSlot{}, fmt.Errorf("%w: time slot %q out of range", ErrInvalidFrequencyConfig, s)
	}
	return slot, nil
}

// ParseTimeSlots parses a comma separated list such as "08:00,20:30".
func ParseTimeSlots(s string) ([]TimeSlot, error) {
	var slots []TimeSlot
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		slot, err := ParseTimeSlot(part)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (t TimeSlot) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Compact returns the slot as HHMM, used in keys and callback data.
func (t TimeSlot) Compact() string {
	return fmt.Sprintf("%02d%02d", t.Hour, t.Minute)
}

// ParseCompactTimeSlot is the inverse of Compact.
func ParseCompactTimeSlot(s string) (TimeSlot, error) {
	if len(s) != 4 {
		return TimeSlot{}, fmt.Errorf("%w: malformed time slot %q", ErrInvalidFrequencyConfig, s)
	}
	return ParseTimeSlot(s[:2] + ":" + s[2:])
}

// Before orders slots by time of day.
func (t TimeSlot) Before(o TimeSlot) bool {
	if t.Hour != o.Hour {
		return t.Hour < o.Hour
	}
	return t.Minute < o.Minute
}

// On returns the instant of this slot on the calendar date of day, in loc.
func (t TimeSlot) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeSlot) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeSlot) UnmarshalText(b []byte) error {
	slot, err := ParseTimeSlot(string(b))
	if err != nil {
		return err
	}
	*t = slot
	return nil
}

// SortSlots sorts slots ascending in place.
func SortSlots(slots []TimeSlot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
}
