// Package ledger records how the user responded to each fired occurrence.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hray3182/medline/internal/models"
)

// Store is the persistence the ledger needs. GetAck returns
// models.ErrNotFound for unknown keys.
type Store interface {
	GetAck(ctx context.Context, medicationID string, occurrenceAt time.Time) (*models.AckRecord, error)
	PutAck(ctx context.Context, rec *models.AckRecord) error
	ListAcks(ctx context.Context, start, end time.Time) ([]*models.AckRecord, error)
	AcksFor(ctx context.Context, medicationID string, start, end time.Time) ([]*models.AckRecord, error)
}

type Ledger struct {
	store Store
	now   func() time.Time
}

func New(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// Record writes state for (medicationID, occurrenceAt). Taken and dismissed
// are terminal; snoozed is accepted once; pending over pending is a no-op.
func (l *Ledger) Record(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time, state models.AckState) (*models.AckRecord, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", models.ErrInvalidTransition, state)
	}

	existing, err := l.store.GetAck(ctx, medicationID, occurrenceAt)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to load ack record: %w", err)
	}

	if existing != nil {
		if !existing.State.CanTransition(state) {
			return existing, fmt.Errorf("%w: %s -> %s for %s at %s", models.ErrInvalidTransition,
				existing.State, state, medicationID, occurrenceAt.Format(time.RFC3339))
		}
		if existing.State == state {
			return existing, nil
		}
	}

	rec := &models.AckRecord{
		MedicationID: medicationID,
		Slot:         slot,
		OccurrenceAt: occurrenceAt,
		State:        state,
		RecordedAt:   l.now(),
	}
	if err := l.store.PutAck(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save ack record: %w", err)
	}
	return rec, nil
}

// StatusOf returns the recorded state, or false when the occurrence has no record.
func (l *Ledger) StatusOf(ctx context.Context, medicationID string, occurrenceAt time.Time) (models.AckState, bool, error) {
	rec, err := l.store.GetAck(ctx, medicationID, occurrenceAt)
	if errors.Is(err, models.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.State, true, nil
}

// CountsInRange aggregates records whose occurrence lies in [start, end).
// Pending records for occurrences already in the past count as missed.
func (l *Ledger) CountsInRange(ctx context.Context, start, end time.Time) (models.Counts, error) {
	recs, err := l.store.ListAcks(ctx, start, end)
	if err != nil {
		return models.Counts{}, err
	}
	return l.count(recs), nil
}

// CountsFor is CountsInRange restricted to one medication.
func (l *Ledger) CountsFor(ctx context.Context, medicationID string, start, end time.Time) (models.Counts, error) {
	recs, err := l.store.AcksFor(ctx, medicationID, start, end)
	if err != nil {
		return models.Counts{}, err
	}
	return l.count(recs), nil
}

// History returns one medication's records in occurrence order.
func (l *Ledger) History(ctx context.Context, medicationID string, start, end time.Time) ([]*models.AckRecord, error) {
	recs, err := l.store.AcksFor(ctx, medicationID, start, end)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].OccurrenceAt.Before(recs[j].OccurrenceAt) })
	return recs, nil
}

func (l *Ledger) count(recs []*models.AckRecord) models.Counts {
	now := l.now()
	var c models.Counts
	for _, rec := range recs {
		switch rec.State {
		case models.AckTaken:
			c.Taken++
		case models.AckSnoozed:
			c.Snoozed++
		case models.AckDismissed:
			c.Dismissed++
		case models.AckPending:
			if rec.OccurrenceAt.Before(now) {
				c.Missed++
			} else {
				c.Pending++
			}
		}
	}
	return c
}
