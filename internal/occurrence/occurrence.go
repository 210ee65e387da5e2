// Package occurrence computes when a medication's doses are due. Every
// function here is pure: results depend only on the medication, the
// reference instants and the calculator's location.
package occurrence

import (
	"iter"
	"time"

	"github.com/hray3182/medline/internal/models"
	"github.com/hray3182/medline/internal/rrule"
)

type Calculator struct {
	loc *time.Location
}

func New(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{loc: loc}
}

func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Next returns the first occurrence of slot strictly after the given instant.
// It returns false for as-needed medications, which never schedule.
func (c *Calculator) Next(med *models.Medication, slot models.TimeSlot, after time.Time) (time.Time, bool) {
	b, ok := rrule.ForSlot(med.Frequency, med.CreatedAt, slot, c.loc)
	if !ok {
		return time.Time{}, false
	}
	rule, err := b.Build(rrule.WindowStart(med.Frequency, slot, after, c.loc))
	if err != nil {
		return time.Time{}, false
	}
	next := rule.After(after, false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// NextN returns up to n upcoming occurrences across all slots.
func (c *Calculator) NextN(med *models.Medication, after time.Time, n int) []models.Occurrence {
	if n <= 0 {
		return nil
	}
	// A month-wide window always holds at least one occurrence of every
	// scheduled frequency; widen until n are collected.
	var out []models.Occurrence
	start := after.Add(time.Nanosecond)
	for window := 0; window < 24 && len(out) < n; window++ {
		end := start.AddDate(0, 1, 0)
		for occ := range c.InRange(med, start, end) {
			out = append(out, occ)
			if len(out) == n {
				break
			}
		}
		start = end
	}
	return out
}

// InRange yields every occurrence in [start, end) in chronological order.
// Simultaneous occurrences are yielded in ascending slot order. The sequence
// is recomputed on every iteration.
func (c *Calculator) InRange(med *models.Medication, start, end time.Time) iter.Seq[models.Occurrence] {
	return func(yield func(models.Occurrence) bool) {
		if !end.After(start) {
			return
		}

		type cursor struct {
			slot models.TimeSlot
			next func() (time.Time, bool)
			head time.Time
			ok   bool
		}

		var cursors []*cursor
		for _, slot := range med.Slots {
			b, ok := rrule.ForSlot(med.Frequency, med.CreatedAt, slot, c.loc)
			if !ok {
				return
			}
			rule, err := b.Build(rrule.WindowStart(med.Frequency, slot, start, c.loc))
			if err != nil {
				continue
			}
			cur := &cursor{slot: slot, next: rule.Iterator()}
			for cur.head, cur.ok = cur.next(); cur.ok && cur.head.Before(start); {
				cur.head, cur.ok = cur.next()
			}
			cursors = append(cursors, cur)
		}

		for {
			var best *cursor
			for _, cur := range cursors {
				if !cur.ok || !cur.head.Before(end) {
					continue
				}
				if best == nil || cur.head.Before(best.head) ||
					(cur.head.Equal(best.head) && cur.slot.Before(best.slot)) {
					best = cur
				}
			}
			if best == nil {
				return
			}
			if !yield(models.Occurrence{MedicationID: med.ID, Slot: best.slot, At: best.head}) {
				return
			}
			best.head, best.ok = best.next()
		}
	}
}
