// Package registry keeps exactly one pending alarm per (medication, slot),
// persists it, and arms it on the platform timer.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hray3182/medline/internal/metrics"
	"github.com/hray3182/medline/internal/models"
	"github.com/hray3182/medline/internal/occurrence"
	"go.uber.org/zap"
)

// Store persists alarms and stale flags.
type Store interface {
	PutAlarm(ctx context.Context, alarm *models.PendingAlarm) error
	DeleteAlarm(ctx context.Context, medicationID string, slot models.TimeSlot) error
	ListAlarms(ctx context.Context, medicationID string) ([]*models.PendingAlarm, error)
	AllAlarms(ctx context.Context) ([]*models.PendingAlarm, error)
	MarkStale(ctx context.Context, medicationID string) error
	ClearStale(ctx context.Context, medicationID string) error
	StaleIDs(ctx context.Context) ([]string, error)
}

// Timer is the platform capability that wakes the engine at an instant.
// Arming an id that is already armed replaces it.
type Timer interface {
	Arm(ctx context.Context, id string, at time.Time, payload models.FirePayload) error
	Disarm(ctx context.Context, id string) error
}

type Registry struct {
	store   Store
	timer   Timer
	calc    *occurrence.Calculator
	now     func() time.Time
	grace   time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	armed map[string]map[models.TimeSlot]*models.PendingAlarm
}

func New(store Store, timer Timer, calc *occurrence.Calculator, logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		store:   store,
		timer:   timer,
		calc:    calc,
		now:     time.Now,
		logger:  logger,
		metrics: m,
		armed:   make(map[string]map[models.TimeSlot]*models.PendingAlarm),
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// SetFireGrace sets how long a normal alarm that is due but has not been
// delivered yet survives a Schedule. It should match the timer's check
// interval. Zero always re-derives from now.
func (r *Registry) SetFireGrace(d time.Duration) {
	r.grace = d
}

// Schedule arms the next occurrence of every slot of med, replacing whatever
// was armed before. A snooze alarm that has not fired yet is kept, and so is
// a normal alarm that came due within the fire grace and is still part of the
// schedule. Inactive and as-needed medications are cancelled.
func (r *Registry) Schedule(ctx context.Context, med *models.Medication) error {
	if !med.IsScheduled() {
		return r.Cancel(ctx, med.ID)
	}

	now := r.now()
	previous := r.previous(ctx, med.ID)

	var errs []error
	for _, slot := range med.Slots {
		if prev, ok := previous[slot]; ok && prev.Snooze && prev.ArmedAt.After(now) {
			if err := r.arm(ctx, prev); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if prev, ok := previous[slot]; ok && r.dueUndelivered(med, prev, now) {
			if err := r.arm(ctx, prev); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		at, ok := r.calc.Next(med, slot, now)
		if !ok {
			continue
		}
		alarm := &models.PendingAlarm{
			MedicationID: med.ID,
			Slot:         slot,
			ArmedAt:      at,
			OccurrenceAt: at,
			CreatedAt:    now,
		}
		if err := r.arm(ctx, alarm); err != nil {
			errs = append(errs, err)
		}
	}

	// Slots removed by an edit.
	for slot, prev := range previous {
		if !med.HasSlot(slot) {
			r.disarm(ctx, prev)
		}
	}

	if len(errs) > 0 {
		r.markStale(ctx, med.ID)
		return errors.Join(errs...)
	}
	if err := r.store.ClearStale(ctx, med.ID); err != nil {
		r.logger.Warn("Failed to clear stale flag", zap.String("medication_id", med.ID), zap.Error(err))
	}
	return nil
}

// dueUndelivered reports whether prev is a normal alarm whose instant passed
// less than the fire grace ago and which med still schedules.
func (r *Registry) dueUndelivered(med *models.Medication, prev *models.PendingAlarm, now time.Time) bool {
	if r.grace <= 0 || prev.Snooze || prev.ArmedAt.After(now) || now.Sub(prev.ArmedAt) > r.grace {
		return false
	}
	at, ok := r.calc.Next(med, prev.Slot, prev.ArmedAt.Add(-time.Nanosecond))
	return ok && at.Equal(prev.ArmedAt)
}

// Fired forgets the alarm that produced payload so a later Schedule cannot
// arm it again. A different alarm armed for the slot since then is kept.
func (r *Registry) Fired(ctx context.Context, payload models.FirePayload) {
	r.mu.RLock()
	current := r.armed[payload.MedicationID][payload.Slot]
	r.mu.RUnlock()

	if current == nil || current.Snooze != payload.Snooze || !current.OccurrenceAt.Equal(payload.OccurrenceAt) {
		return
	}
	if err := r.disarm(ctx, current); err != nil {
		r.logger.Warn("Failed to drop fired alarm", zap.String("timer_id", current.TimerID()), zap.Error(err))
	}
}

// Cancel disarms and forgets every alarm of a medication. It is safe to call
// when nothing is armed.
func (r *Registry) Cancel(ctx context.Context, medicationID string) error {
	var errs []error
	for _, alarm := range r.previous(ctx, medicationID) {
		if err := r.disarm(ctx, alarm); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.store.ClearStale(ctx, medicationID); err != nil {
		r.logger.Warn("Failed to clear stale flag", zap.String("medication_id", medicationID), zap.Error(err))
	}
	return errors.Join(errs...)
}

// Snooze replaces the slot's alarm with one firing after d. The snooze
// alarm delivers a fresh occurrence bound to its own instant, truncated to
// the second so reminder buttons can carry it as a unix timestamp.
func (r *Registry) Snooze(ctx context.Context, medicationID string, slot models.TimeSlot, d time.Duration) (*models.PendingAlarm, error) {
	now := r.now()
	at := now.Add(d).Truncate(time.Second)
	if !at.After(now) {
		at = at.Add(time.Second)
	}
	alarm := &models.PendingAlarm{
		MedicationID: medicationID,
		Slot:         slot,
		ArmedAt:      at,
		OccurrenceAt: at,
		Snooze:       true,
		CreatedAt:    now,
	}
	if err := r.arm(ctx, alarm); err != nil {
		r.markStale(ctx, medicationID)
		return nil, err
	}
	return alarm, nil
}

// Unsnooze puts a slot that is currently snoozed back on its normal schedule.
func (r *Registry) Unsnooze(ctx context.Context, med *models.Medication, slot models.TimeSlot) error {
	r.mu.RLock()
	current := r.armed[med.ID][slot]
	r.mu.RUnlock()

	if current == nil || !current.Snooze {
		return nil
	}
	if !med.IsScheduled() || !med.HasSlot(slot) {
		return r.disarm(ctx, current)
	}

	now := r.now()
	at, ok := r.calc.Next(med, slot, now)
	if !ok {
		return r.disarm(ctx, current)
	}
	alarm := &models.PendingAlarm{
		MedicationID: med.ID,
		Slot:         slot,
		ArmedAt:      at,
		OccurrenceAt: at,
		CreatedAt:    now,
	}
	if err := r.arm(ctx, alarm); err != nil {
		r.markStale(ctx, med.ID)
		return err
	}
	return nil
}

// Reconcile rebuilds the armed set from the medication list after a restart.
// Alarms whose instant passed more than the fire grace ago are re-derived
// from now instead of firing, and alarms of unknown medications are dropped.
func (r *Registry) Reconcile(ctx context.Context, meds []*models.Medication) error {
	known := make(map[string]bool, len(meds))
	for _, med := range meds {
		known[med.ID] = true
	}

	stored, err := r.store.AllAlarms(ctx)
	if err != nil {
		r.logger.Warn("Failed to load persisted alarms, rebuilding from medications", zap.Error(err))
	}
	for _, alarm := range stored {
		if !known[alarm.MedicationID] {
			r.disarm(ctx, alarm)
			continue
		}
		r.remember(alarm)
	}

	var errs []error
	for _, med := range meds {
		if err := r.Schedule(ctx, med); err != nil {
			r.logger.Error("Failed to reconcile medication",
				zap.String("medication_id", med.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("medication %s: %w", med.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Stale lists medications left without alarms by a persistence failure.
func (r *Registry) Stale(ctx context.Context) ([]string, error) {
	return r.store.StaleIDs(ctx)
}

// Pending returns the armed alarms of a medication in slot order.
func (r *Registry) Pending(medicationID string) []models.PendingAlarm {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PendingAlarm, 0, len(r.armed[medicationID]))
	for _, alarm := range r.armed[medicationID] {
		out = append(out, *alarm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Before(out[j].Slot) })
	return out
}

// All returns every armed alarm ordered by firing instant.
func (r *Registry) All() []models.PendingAlarm {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.PendingAlarm
	for _, slots := range r.armed {
		for _, alarm := range slots {
			out = append(out, *alarm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArmedAt.Before(out[j].ArmedAt) })
	return out
}

// arm persists the alarm and then hands it to the timer. When the write
// fails twice the slot is left disarmed.
func (r *Registry) arm(ctx context.Context, alarm *models.PendingAlarm) error {
	id := alarm.TimerID()

	err := retryOnce(func() error { return r.store.PutAlarm(ctx, alarm) })
	if err != nil {
		r.metrics.PersistenceFailure()
		r.logger.Error("Failed to persist alarm",
			zap.String("timer_id", id),
			zap.Error(err),
		)
		if derr := r.timer.Disarm(ctx, id); derr != nil {
			r.logger.Warn("Failed to disarm timer", zap.String("timer_id", id), zap.Error(derr))
		}
		r.forget(alarm.MedicationID, alarm.Slot)
		return fmt.Errorf("%w: %s: %v", models.ErrSchedulingPersistence, id, err)
	}

	if err := r.timer.Arm(ctx, id, alarm.ArmedAt, alarm.Payload()); err != nil {
		return fmt.Errorf("failed to arm %s: %w", id, err)
	}
	r.remember(alarm)

	r.logger.Debug("Armed alarm",
		zap.String("timer_id", id),
		zap.Time("armed_at", alarm.ArmedAt),
		zap.Bool("snooze", alarm.Snooze),
	)
	return nil
}

// disarm stops the timer first so nothing fires for a removed alarm, then
// deletes the persisted copy.
func (r *Registry) disarm(ctx context.Context, alarm *models.PendingAlarm) error {
	id := alarm.TimerID()
	if err := r.timer.Disarm(ctx, id); err != nil {
		r.logger.Warn("Failed to disarm timer", zap.String("timer_id", id), zap.Error(err))
	}
	r.forget(alarm.MedicationID, alarm.Slot)

	err := retryOnce(func() error { return r.store.DeleteAlarm(ctx, alarm.MedicationID, alarm.Slot) })
	if err != nil {
		r.metrics.PersistenceFailure()
		r.logger.Error("Failed to delete alarm", zap.String("timer_id", id), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", models.ErrSchedulingPersistence, id, err)
	}
	return nil
}

// previous merges the in-memory and persisted alarms of a medication.
func (r *Registry) previous(ctx context.Context, medicationID string) map[models.TimeSlot]*models.PendingAlarm {
	out := make(map[models.TimeSlot]*models.PendingAlarm)

	stored, err := r.store.ListAlarms(ctx, medicationID)
	if err != nil {
		r.logger.Warn("Failed to load alarms", zap.String("medication_id", medicationID), zap.Error(err))
	}
	for _, alarm := range stored {
		out[alarm.Slot] = alarm
	}

	r.mu.RLock()
	for slot, alarm := range r.armed[medicationID] {
		out[slot] = alarm
	}
	r.mu.RUnlock()
	return out
}

func (r *Registry) remember(alarm *models.PendingAlarm) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, ok := r.armed[alarm.MedicationID]
	if !ok {
		slots = make(map[models.TimeSlot]*models.PendingAlarm)
		r.armed[alarm.MedicationID] = slots
	}
	slots[alarm.Slot] = alarm
}

func (r *Registry) forget(medicationID string, slot models.TimeSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.armed[medicationID], slot)
	if len(r.armed[medicationID]) == 0 {
		delete(r.armed, medicationID)
	}
}

func (r *Registry) markStale(ctx context.Context, medicationID string) {
	if err := r.store.MarkStale(ctx, medicationID); err != nil {
		r.logger.Error("Failed to flag medication stale", zap.String("medication_id", medicationID), zap.Error(err))
	}
}

func retryOnce(fn func() error) error {
	if err := fn(); err == nil {
		return nil
	}
	return fn()
}
