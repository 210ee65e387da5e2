package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hray3182/medline/internal/delivery"
	"github.com/hray3182/medline/internal/models"
)

// DoseStatus is the state shown for one expected occurrence.
type DoseStatus string

const (
	DoseTaken     DoseStatus = "taken"
	DoseSnoozed   DoseStatus = "snoozed"
	DoseDismissed DoseStatus = "dismissed"
	DosePending   DoseStatus = "pending"
	DoseMissed    DoseStatus = "missed"
	DoseUpcoming  DoseStatus = "upcoming"
)

type Dose struct {
	Occurrence models.Occurrence `json:"occurrence"`
	Status     DoseStatus        `json:"status"`
}

type Adherence struct {
	MedicationID string    `json:"medication_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Expected     int       `json:"expected"`
	Taken        int       `json:"taken"`
	Snoozed      int       `json:"snoozed"`
	Dismissed    int       `json:"dismissed"`
	Missed       int       `json:"missed"`
	Upcoming     int       `json:"upcoming"`
	Rate         float64   `json:"rate"` // Taken over expected doses that are due
	Doses        []Dose    `json:"doses"`
}

// UpcomingDose is an armed alarm with its medication.
type UpcomingDose struct {
	Medication *models.Medication  `json:"medication"`
	Alarm      models.PendingAlarm `json:"alarm"`
}

type SummaryItem struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Dose   Dose   `json:"dose"`
}

type Summary struct {
	Date  time.Time     `json:"date"`
	Items []SummaryItem `json:"items"`
}

// Count returns how many items have the given status.
func (s *Summary) Count(status DoseStatus) int {
	n := 0
	for _, it := range s.Items {
		if it.Dose.Status == status {
			n++
		}
	}
	return n
}

// ==================== Queries ====================

func (e *Engine) Medication(ctx context.Context, id string) (*models.Medication, error) {
	return e.meds.Get(ctx, id)
}

func (e *Engine) Medications(ctx context.Context) ([]*models.Medication, error) {
	return e.meds.List(ctx)
}

// Alarms returns the armed alarms of one medication in slot order.
func (e *Engine) Alarms(id string) []models.PendingAlarm {
	return e.registry.Pending(id)
}

// Upcoming returns the next n armed alarms across all medications.
func (e *Engine) Upcoming(ctx context.Context, n int) ([]UpcomingDose, error) {
	alarms := e.registry.All()
	if n > 0 && len(alarms) > n {
		alarms = alarms[:n]
	}

	cache := make(map[string]*models.Medication)
	out := make([]UpcomingDose, 0, len(alarms))
	for _, alarm := range alarms {
		med, ok := cache[alarm.MedicationID]
		if !ok {
			var err error
			med, err = e.meds.Get(ctx, alarm.MedicationID)
			if err != nil {
				continue
			}
			cache[alarm.MedicationID] = med
		}
		out = append(out, UpcomingDose{Medication: med, Alarm: alarm})
	}
	return out, nil
}

// Occurrences lists a medication's scheduled doses in [start, end).
func (e *Engine) Occurrences(ctx context.Context, id string, start, end time.Time) ([]models.Occurrence, error) {
	med, err := e.meds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []models.Occurrence
	for occ := range e.calc.InRange(med, start, end) {
		out = append(out, occ)
	}
	return out, nil
}

// NextOccurrences returns the next n scheduled doses of a medication after now.
func (e *Engine) NextOccurrences(ctx context.Context, id string, n int) ([]models.Occurrence, error) {
	med, err := e.meds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.calc.NextN(med, e.now(), n), nil
}

// Stats aggregates acknowledgement records across medications.
func (e *Engine) Stats(ctx context.Context, start, end time.Time) (models.Counts, error) {
	return e.ledger.CountsInRange(ctx, start, end)
}

// MedicationStats is Stats restricted to one medication.
func (e *Engine) MedicationStats(ctx context.Context, id string, start, end time.Time) (models.Counts, error) {
	return e.ledger.CountsFor(ctx, id, start, end)
}

// History returns a medication's acknowledgement records in [start, end).
func (e *Engine) History(ctx context.Context, id string, start, end time.Time) ([]*models.AckRecord, error) {
	return e.ledger.History(ctx, id, start, end)
}

// Adherence joins the occurrences a medication was expected to produce in
// [start, end) with the recorded answers. Due occurrences with no answer
// count as missed. Occurrences before the medication was created are not
// expected.
func (e *Engine) Adherence(ctx context.Context, id string, start, end time.Time) (*Adherence, error) {
	med, err := e.meds.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	doses, err := e.doses(ctx, med, start, end)
	if err != nil {
		return nil, err
	}

	a := &Adherence{MedicationID: id, Start: start, End: end, Doses: doses}
	due := 0
	for _, d := range doses {
		a.Expected++
		switch d.Status {
		case DoseTaken:
			a.Taken++
		case DoseSnoozed:
			a.Snoozed++
		case DoseDismissed:
			a.Dismissed++
		case DoseMissed:
			a.Missed++
		case DoseUpcoming, DosePending:
			a.Upcoming++
			continue
		}
		due++
	}
	if due > 0 {
		a.Rate = float64(a.Taken) / float64(due)
	}
	return a, nil
}

func (e *Engine) doses(ctx context.Context, med *models.Medication, start, end time.Time) ([]Dose, error) {
	if start.Before(med.CreatedAt) {
		start = med.CreatedAt
	}
	if !start.Before(end) {
		return nil, nil
	}

	records, err := e.ledger.History(ctx, med.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	byInstant := make(map[int64]models.AckState, len(records))
	for _, rec := range records {
		byInstant[rec.OccurrenceAt.UnixNano()] = rec.State
	}

	now := e.now()
	var out []Dose
	for occ := range e.calc.InRange(med, start, end) {
		out = append(out, Dose{Occurrence: occ, Status: statusOf(byInstant, occ.At, now)})
	}
	return out, nil
}

func statusOf(records map[int64]models.AckState, at, now time.Time) DoseStatus {
	state, ok := records[at.UnixNano()]
	overdue := !at.After(now)
	switch {
	case !ok && overdue:
		return DoseMissed
	case !ok:
		return DoseUpcoming
	case state == models.AckTaken:
		return DoseTaken
	case state == models.AckSnoozed:
		return DoseSnoozed
	case state == models.AckDismissed:
		return DoseDismissed
	case overdue:
		return DoseMissed
	default:
		return DosePending
	}
}

// DailySummary lists every scheduled dose of active medications on day's
// calendar date.
func (e *Engine) DailySummary(ctx context.Context, day time.Time) (*Summary, error) {
	loc := e.opts.Location
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	meds, err := e.meds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load medications: %w", err)
	}

	s := &Summary{Date: start}
	for _, med := range meds {
		if !med.IsScheduled() {
			continue
		}
		doses, err := e.doses(ctx, med, start, end)
		if err != nil {
			return nil, err
		}
		for _, dose := range doses {
			s.Items = append(s.Items, SummaryItem{Name: med.Name, Dosage: med.Dosage, Dose: dose})
		}
	}
	sort.SliceStable(s.Items, func(i, j int) bool {
		return s.Items[i].Dose.Occurrence.At.Before(s.Items[j].Dose.Occurrence.At)
	})
	return s, nil
}

// presenterSwitch lets the presentation surface be replaced after start.
type presenterSwitch struct {
	mu      sync.RWMutex
	current delivery.Presenter
}

func (p *presenterSwitch) set(next delivery.Presenter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = next
}

func (p *presenterSwitch) Present(ctx context.Context, r models.Reminder) error {
	p.mu.RLock()
	current := p.current
	p.mu.RUnlock()
	return current.Present(ctx, r)
}
