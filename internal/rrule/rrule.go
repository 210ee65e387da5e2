package rrule

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/medline/internal/models"
	"github.com/teambition/rrule-go"
)

// Builder assembles an RFC 5545 recurrence from components
type Builder struct {
	Freq       rrule.Frequency
	ByHour     []int
	ByMinute   []int
	BySecond   []int
	ByWeekday  []rrule.Weekday
	ByMonthDay []int
	BySetPos   []int
}

var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var weekdayCodes = map[rrule.Weekday]string{
	rrule.MO: "MO",
	rrule.TU: "TU",
	rrule.WE: "WE",
	rrule.TH: "TH",
	rrule.FR: "FR",
	rrule.SA: "SA",
	rrule.SU: "SU",
}

// Weekday converts a time.Weekday to its rrule counterpart
func Weekday(d time.Weekday) rrule.Weekday {
	return weekdays[d]
}

// ForSlot returns the builder for one slot of a frequency. The anchor fixes
// the weekday of weekly rules and the day-of-month of monthly rules.
// Returns false for frequencies without automatic occurrences.
func ForSlot(freq models.Frequency, anchor time.Time, slot models.TimeSlot, loc *time.Location) (*Builder, bool) {
	b := &Builder{
		ByHour:   []int{slot.Hour},
		ByMinute: []int{slot.Minute},
		BySecond: []int{0},
	}

	switch freq.Kind {
	case models.FrequencyDaily:
		b.Freq = rrule.DAILY
	case models.FrequencyWeekly:
		b.Freq = rrule.WEEKLY
		b.ByWeekday = []rrule.Weekday{Weekday(anchor.In(loc).Weekday())}
	case models.FrequencyCustom:
		b.Freq = rrule.WEEKLY
		for _, d := range freq.Weekdays {
			b.ByWeekday = append(b.ByWeekday, Weekday(d))
		}
	case models.FrequencyMonthly:
		b.Freq = rrule.MONTHLY
		day := anchor.In(loc).Day()
		if day <= 28 {
			b.ByMonthDay = []int{day}
		} else {
			// Days past the 28th clamp to the last day of shorter months:
			// take the latest existing day in 28..day.
			for d := 28; d <= day; d++ {
				b.ByMonthDay = append(b.ByMonthDay, d)
			}
			b.BySetPos = []int{-1}
		}
	default:
		return nil, false
	}
	return b, true
}

// WindowStart returns a dtstart early enough that the rule yields every
// occurrence at or after from, without iterating from the distant past.
func WindowStart(freq models.Frequency, slot models.TimeSlot, from time.Time, loc *time.Location) time.Time {
	local := from.In(loc)
	switch freq.Kind {
	case models.FrequencyMonthly:
		return time.Date(local.Year(), local.Month()-1, 1, slot.Hour, slot.Minute, 0, 0, loc)
	case models.FrequencyWeekly, models.FrequencyCustom:
		return slot.On(local.AddDate(0, 0, -7), loc)
	default:
		return slot.On(local.AddDate(0, 0, -1), loc)
	}
}

// Build creates the rrule-go rule starting at dtstart
func (b *Builder) Build(dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:     b.Freq,
		Interval: 1,
		Dtstart:  dtstart,
	}

	if len(b.ByHour) > 0 {
		opt.Byhour = b.ByHour
	}
	if len(b.ByMinute) > 0 {
		opt.Byminute = b.ByMinute
	}
	if len(b.BySecond) > 0 {
		opt.Bysecond = b.BySecond
	}
	if len(b.ByWeekday) > 0 {
		opt.Byweekday = b.ByWeekday
	}
	if len(b.ByMonthDay) > 0 {
		opt.Bymonthday = b.ByMonthDay
	}
	if len(b.BySetPos) > 0 {
		opt.Bysetpos = b.BySetPos
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build RRULE: %w", err)
	}
	return rule, nil
}

func (b *Builder) String() string {
	var parts []string

	freqMap := map[rrule.Frequency]string{
		rrule.DAILY:   "DAILY",
		rrule.WEEKLY:  "WEEKLY",
		rrule.MONTHLY: "MONTHLY",
	}
	parts = append(parts, fmt.Sprintf("FREQ=%s", freqMap[b.Freq]))

	if len(b.ByWeekday) > 0 {
		days := make([]string, len(b.ByWeekday))
		for i, d := range b.ByWeekday {
			days[i] = weekdayCodes[d]
		}
		parts = append(parts, fmt.Sprintf("BYDAY=%s", strings.Join(days, ",")))
	}
	if len(b.ByMonthDay) > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%s", joinInts(b.ByMonthDay)))
	}
	if len(b.BySetPos) > 0 {
		parts = append(parts, fmt.Sprintf("BYSETPOS=%s", joinInts(b.BySetPos)))
	}
	if len(b.ByHour) > 0 {
		parts = append(parts, fmt.Sprintf("BYHOUR=%s", joinInts(b.ByHour)))
	}
	if len(b.ByMinute) > 0 {
		parts = append(parts, fmt.Sprintf("BYMINUTE=%s", joinInts(b.ByMinute)))
	}

	return strings.Join(parts, ";")
}

func joinInts(values []int) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(out, ",")
}

// Rules returns the RRULE text of every slot of a scheduled medication.
func Rules(med *models.Medication, loc *time.Location) []string {
	var out []string
	for _, slot := range med.Slots {
		if b, ok := ForSlot(med.Frequency, med.CreatedAt, slot, loc); ok {
			out = append(out, b.String())
		}
	}
	return out
}

// Describe returns a short English description of a medication schedule
func Describe(med *models.Medication, loc *time.Location) string {
	var result strings.Builder

	switch med.Frequency.Kind {
	case models.FrequencyDaily:
		result.WriteString("every day")
	case models.FrequencyWeekly:
		result.WriteString("every " + med.CreatedAt.In(loc).Weekday().String())
	case models.FrequencyMonthly:
		result.WriteString(fmt.Sprintf("monthly on day %d", med.CreatedAt.In(loc).Day()))
	case models.FrequencyCustom:
		names := make([]string, len(med.Frequency.Weekdays))
		for i, d := range med.Frequency.Weekdays {
			names[i] = d.String()[:3]
		}
		result.WriteString("on " + strings.Join(names, ", "))
	case models.FrequencyAsNeeded:
		return "as needed"
	}

	if len(med.Slots) > 0 {
		slots := make([]string, len(med.Slots))
		for i, s := range med.Slots {
			slots[i] = s.String()
		}
		result.WriteString(" at " + strings.Join(slots, ", "))
	}

	return result.String()
}
