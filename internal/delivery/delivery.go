// Package delivery reacts to fired alarms and to the user's answers.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hray3182/medline/internal/metrics"
	"github.com/hray3182/medline/internal/models"
	"go.uber.org/zap"
)

// Presenter shows a reminder to the user.
type Presenter interface {
	Present(ctx context.Context, r models.Reminder) error
}

type Medications interface {
	Get(ctx context.Context, id string) (*models.Medication, error)
}

type Registry interface {
	Schedule(ctx context.Context, med *models.Medication) error
	Cancel(ctx context.Context, medicationID string) error
	Snooze(ctx context.Context, medicationID string, slot models.TimeSlot, d time.Duration) (*models.PendingAlarm, error)
	Unsnooze(ctx context.Context, med *models.Medication, slot models.TimeSlot) error
	Fired(ctx context.Context, payload models.FirePayload)
}

type Ledger interface {
	Record(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time, state models.AckState) (*models.AckRecord, error)
	StatusOf(ctx context.Context, medicationID string, occurrenceAt time.Time) (models.AckState, bool, error)
}

// Outcome is what OnFire did with a firing.
type Outcome int

const (
	Presented Outcome = iota
	Suppressed
	Cancelled
	PresentFailed
)

func (o Outcome) String() string {
	switch o {
	case Presented:
		return "presented"
	case Suppressed:
		return "suppressed"
	case Cancelled:
		return "cancelled"
	case PresentFailed:
		return "present_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Coordinator struct {
	meds          Medications
	registry      Registry
	ledger        Ledger
	presenter     Presenter
	defaultSnooze time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

func New(meds Medications, registry Registry, ledger Ledger, presenter Presenter, defaultSnooze time.Duration, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if defaultSnooze <= 0 {
		defaultSnooze = 5 * time.Minute
	}
	return &Coordinator{
		meds:          meds,
		registry:      registry,
		ledger:        ledger,
		presenter:     presenter,
		defaultSnooze: defaultSnooze,
		logger:        logger,
		metrics:       m,
	}
}

// DefaultSnooze is the snooze used when the user does not pick one.
func (c *Coordinator) DefaultSnooze() time.Duration {
	return c.defaultSnooze
}

// OnFire handles a payload delivered by the timer. Occurrences the user has
// already answered are not presented again. The slot's next normal alarm is
// armed whether or not presentation succeeds.
func (c *Coordinator) OnFire(ctx context.Context, payload models.FirePayload) (Outcome, error) {
	log := c.logger.With(
		zap.String("medication_id", payload.MedicationID),
		zap.Stringer("slot", payload.Slot),
		zap.Time("occurrence_at", payload.OccurrenceAt),
	)
	c.metrics.Fired(payload.Snooze)
	c.registry.Fired(ctx, payload)

	med, err := c.meds.Get(ctx, payload.MedicationID)
	if errors.Is(err, models.ErrNotFound) {
		log.Info("Alarm fired for unknown medication, cancelling")
		return Cancelled, c.registry.Cancel(ctx, payload.MedicationID)
	}
	if err != nil {
		return PresentFailed, fmt.Errorf("failed to load medication: %w", err)
	}
	if !med.IsScheduled() || !med.HasSlot(payload.Slot) {
		log.Info("Alarm fired for a slot that is no longer scheduled")
		return Cancelled, c.registry.Schedule(ctx, med)
	}

	state, ok, err := c.ledger.StatusOf(ctx, med.ID, payload.OccurrenceAt)
	if err != nil {
		log.Warn("Failed to read ack status, presenting anyway", zap.Error(err))
	}
	if ok && state.Responded() {
		c.metrics.Suppressed()
		log.Info("Duplicate delivery suppressed", zap.String("state", string(state)))
		return Suppressed, c.registry.Schedule(ctx, med)
	}

	if _, err := c.ledger.Record(ctx, med.ID, payload.Slot, payload.OccurrenceAt, models.AckPending); err != nil {
		log.Warn("Failed to record pending ack", zap.Error(err))
	} else {
		c.metrics.Ack(string(models.AckPending))
	}

	outcome := Presented
	if err := c.presenter.Present(ctx, reminderFor(med, payload)); err != nil {
		outcome = PresentFailed
		c.metrics.PresentationFailure()
		log.Error("Failed to present reminder", zap.Error(err))
	} else {
		c.metrics.Presented()
		log.Info("Reminder presented", zap.String("name", med.Name))
	}

	if err := c.registry.Schedule(ctx, med); err != nil {
		return outcome, fmt.Errorf("failed to re-arm %s: %w", med.ID, err)
	}
	return outcome, nil
}

// Taken marks an occurrence as taken and drops any pending snooze for the slot.
func (c *Coordinator) Taken(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time) (*models.AckRecord, error) {
	return c.finish(ctx, medicationID, slot, occurrenceAt, models.AckTaken)
}

// Dismiss marks an occurrence as dismissed and drops any pending snooze for the slot.
func (c *Coordinator) Dismiss(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time) (*models.AckRecord, error) {
	return c.finish(ctx, medicationID, slot, occurrenceAt, models.AckDismissed)
}

func (c *Coordinator) finish(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time, state models.AckState) (*models.AckRecord, error) {
	rec, err := c.ledger.Record(ctx, medicationID, slot, occurrenceAt, state)
	if err != nil {
		return rec, err
	}
	c.metrics.Ack(string(state))

	med, err := c.meds.Get(ctx, medicationID)
	if errors.Is(err, models.ErrNotFound) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load medication: %w", err)
	}
	if err := c.registry.Unsnooze(ctx, med, slot); err != nil {
		c.logger.Error("Failed to clear snooze",
			zap.String("medication_id", medicationID),
			zap.Stringer("slot", slot),
			zap.Error(err),
		)
	}
	return rec, nil
}

// Snooze marks an occurrence as snoozed and arms a one-off alarm d from now.
// The alarm delivers a new occurrence at its own instant, recorded as pending
// right away. A non-positive d uses the default snooze.
func (c *Coordinator) Snooze(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time, d time.Duration) (*models.PendingAlarm, error) {
	if d <= 0 {
		d = c.defaultSnooze
	}

	med, err := c.meds.Get(ctx, medicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load medication: %w", err)
	}

	if _, err := c.ledger.Record(ctx, medicationID, slot, occurrenceAt, models.AckSnoozed); err != nil {
		return nil, err
	}
	c.metrics.Ack(string(models.AckSnoozed))

	if !med.IsScheduled() {
		return nil, nil
	}

	alarm, err := c.registry.Snooze(ctx, medicationID, slot, d)
	if err != nil {
		return nil, err
	}
	if _, err := c.ledger.Record(ctx, medicationID, slot, alarm.OccurrenceAt, models.AckPending); err != nil {
		c.logger.Warn("Failed to record pending ack for snooze",
			zap.String("medication_id", medicationID),
			zap.Error(err),
		)
	}

	c.logger.Info("Reminder snoozed",
		zap.String("medication_id", medicationID),
		zap.Stringer("slot", slot),
		zap.Time("until", alarm.ArmedAt),
	)
	return alarm, nil
}

func reminderFor(med *models.Medication, payload models.FirePayload) models.Reminder {
	return models.Reminder{
		MedicationID: med.ID,
		Slot:         payload.Slot,
		OccurrenceAt: payload.OccurrenceAt,
		Name:         med.Name,
		Dosage:       med.Dosage,
		Notes:        med.Notes,
		Color:        med.Color,
		Snoozed:      payload.Snooze,
	}
}
