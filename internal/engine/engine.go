// Package engine ties the scheduling components together and serializes
// every change to a medication's alarms and acknowledgements.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/medline/internal/delivery"
	"github.com/hray3182/medline/internal/kvstore"
	"github.com/hray3182/medline/internal/ledger"
	"github.com/hray3182/medline/internal/metrics"
	"github.com/hray3182/medline/internal/models"
	"github.com/hray3182/medline/internal/occurrence"
	"github.com/hray3182/medline/internal/registry"
	"github.com/hray3182/medline/internal/scheduler"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MedicationStore is the user-facing medication persistence. Get and Delete
// return models.ErrNotFound for unknown ids.
type MedicationStore interface {
	List(ctx context.Context) ([]*models.Medication, error)
	Get(ctx context.Context, id string) (*models.Medication, error)
	Save(ctx context.Context, med *models.Medication) error
	Delete(ctx context.Context, id string) error
}

// Timer is the platform timer the engine runs. Start blocks until ctx is done.
type Timer interface {
	registry.Timer
	SetHandler(h scheduler.Handler)
	Start(ctx context.Context)
}

// SummarySink receives the daily summary.
type SummarySink interface {
	SendSummary(ctx context.Context, s *Summary) error
}

type Options struct {
	Location             *time.Location
	DefaultSnooze        time.Duration
	PersistTimeout       time.Duration
	FireGrace            time.Duration // Usually the timer's check interval
	ReconcileSchedule    string
	DailySummarySchedule string
}

type Engine struct {
	meds      MedicationStore
	timer     Timer
	calc      *occurrence.Calculator
	ledger    *ledger.Ledger
	registry  *registry.Registry
	delivery  *delivery.Coordinator
	presenter *presenterSwitch
	summary   SummarySink
	locks     *keyLock
	cron      *cron.Cron
	opts      Options
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func New(meds MedicationStore, kv *kvstore.Store, timer Timer, presenter delivery.Presenter, logger *zap.Logger, m *metrics.Metrics, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 3 * time.Second
	}

	e := &Engine{
		meds:      meds,
		timer:     timer,
		calc:      occurrence.New(opts.Location),
		presenter: &presenterSwitch{current: presenter},
		locks:     newKeyLock(),
		opts:      opts,
		now:       time.Now,
		logger:    logger,
		metrics:   m,
	}
	e.ledger = ledger.New(kv, e.clock)
	e.registry = registry.New(kv, timer, e.calc, logger.Named("registry"), m)
	e.registry.SetClock(e.clock)
	e.registry.SetFireGrace(opts.FireGrace)
	e.delivery = delivery.New(meds, e.registry, e.ledger, e.presenter, opts.DefaultSnooze, logger.Named("delivery"), m)
	timer.SetHandler(e.HandleFire)
	return e
}

// SetClock replaces the engine's time source, including the registry's and
// the ledger's.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) clock() time.Time {
	return e.now()
}

// Now is the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// SetPresenter swaps the presentation surface, e.g. once the chat bot is up.
func (e *Engine) SetPresenter(p delivery.Presenter) {
	e.presenter.set(p)
}

// SetSummarySink sets where the daily summary is sent.
func (e *Engine) SetSummarySink(s SummarySink) {
	e.summary = s
}

func (e *Engine) Location() *time.Location {
	return e.opts.Location
}

func (e *Engine) DefaultSnooze() time.Duration {
	return e.delivery.DefaultSnooze()
}

// Start reconciles alarms against the stored medications, starts the
// maintenance jobs and runs the timer until ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		e.logger.Error("Reconcile finished with errors", zap.Error(err))
	}

	if err := e.startMaintenance(ctx); err != nil {
		return err
	}
	defer func() {
		<-e.cron.Stop().Done()
	}()

	e.timer.Start(ctx)
	return nil
}

func (e *Engine) reconcile(ctx context.Context) error {
	meds, err := e.meds.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load medications: %w", err)
	}
	e.logger.Info("Reconciling alarms", zap.Int("medications", len(meds)))
	return e.registry.Reconcile(ctx, meds)
}

// persistCtx bounds a single persistence round trip.
func (e *Engine) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.PersistTimeout)
}

// ==================== Medication Mutations ====================

// SaveMedication validates and stores a medication, then arms its alarms.
// New medications get an id and creation time. The saved medication is
// returned even when arming fails.
func (e *Engine) SaveMedication(ctx context.Context, med *models.Medication) (*models.Medication, error) {
	med.Name = strings.TrimSpace(med.Name)
	if err := med.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	if med.ID == "" {
		med.ID = uuid.NewString()
	}

	unlock := e.locks.Lock(med.ID)
	defer unlock()

	pctx, cancel := e.persistCtx(ctx)
	defer cancel()

	existing, err := e.meds.Get(pctx, med.ID)
	switch {
	case err == nil:
		med.CreatedAt = existing.CreatedAt
	case errors.Is(err, models.ErrNotFound):
		if med.CreatedAt.IsZero() {
			med.CreatedAt = now
		}
	default:
		return nil, fmt.Errorf("failed to load medication: %w", err)
	}
	med.UpdatedAt = now

	if err := e.meds.Save(pctx, med); err != nil {
		return nil, fmt.Errorf("failed to save medication: %w", err)
	}
	e.logger.Info("Medication saved", zap.String("medication_id", med.ID), zap.String("name", med.Name))

	if err := e.registry.Schedule(ctx, med); err != nil {
		return med, err
	}
	return med, nil
}

// DeleteMedication disarms every alarm of the medication and then removes it.
// Past acknowledgement records are kept.
func (e *Engine) DeleteMedication(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	if err := e.registry.Cancel(ctx, id); err != nil {
		e.logger.Error("Failed to delete some alarms", zap.String("medication_id", id), zap.Error(err))
	}

	pctx, cancel := e.persistCtx(ctx)
	defer cancel()
	if err := e.meds.Delete(pctx, id); err != nil {
		return err
	}
	e.logger.Info("Medication deleted", zap.String("medication_id", id))
	return nil
}

// SetActive pauses or resumes a medication's reminders.
func (e *Engine) SetActive(ctx context.Context, id string, active bool) (*models.Medication, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	pctx, cancel := e.persistCtx(ctx)
	defer cancel()

	med, err := e.meds.Get(pctx, id)
	if err != nil {
		return nil, err
	}
	if med.Active != active {
		med.Active = active
		med.UpdatedAt = e.now()
		if err := e.meds.Save(pctx, med); err != nil {
			return nil, fmt.Errorf("failed to save medication: %w", err)
		}
	}
	return med, e.registry.Schedule(ctx, med)
}

// Reschedule re-arms a medication from its stored definition. Unknown ids
// are ignored.
func (e *Engine) Reschedule(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.reschedule(ctx, id)
}

func (e *Engine) reschedule(ctx context.Context, id string) error {
	pctx, cancel := e.persistCtx(ctx)
	defer cancel()

	med, err := e.meds.Get(pctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.registry.Schedule(ctx, med)
}

// ==================== Firing & User Actions ====================

// HandleFire is the timer callback.
func (e *Engine) HandleFire(ctx context.Context, payload models.FirePayload) {
	unlock := e.locks.Lock(payload.MedicationID)
	defer unlock()

	outcome, err := e.delivery.OnFire(ctx, payload)
	if err != nil {
		e.logger.Error("Alarm handling failed",
			zap.String("medication_id", payload.MedicationID),
			zap.Stringer("slot", payload.Slot),
			zap.Stringer("outcome", outcome),
			zap.Error(err),
		)
	}
}

func (e *Engine) Taken(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time) (*models.AckRecord, error) {
	unlock := e.locks.Lock(medicationID)
	defer unlock()
	return e.delivery.Taken(ctx, medicationID, slot, occurrenceAt)
}

func (e *Engine) Dismiss(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time) (*models.AckRecord, error) {
	unlock := e.locks.Lock(medicationID)
	defer unlock()
	return e.delivery.Dismiss(ctx, medicationID, slot, occurrenceAt)
}

func (e *Engine) Snooze(ctx context.Context, medicationID string, slot models.TimeSlot, occurrenceAt time.Time, d time.Duration) (*models.PendingAlarm, error) {
	unlock := e.locks.Lock(medicationID)
	defer unlock()
	return e.delivery.Snooze(ctx, medicationID, slot, occurrenceAt, d)
}

// ==================== Maintenance ====================

// RepairStale re-arms medications whose alarms were lost to a persistence
// failure.
func (e *Engine) RepairStale(ctx context.Context) error {
	ids, err := e.registry.Stale(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stale medications: %w", err)
	}

	var errs []error
	for _, id := range ids {
		unlock := e.locks.Lock(id)
		_, gerr := e.meds.Get(ctx, id)
		if errors.Is(gerr, models.ErrNotFound) {
			err = e.registry.Cancel(ctx, id)
		} else {
			err = e.reschedule(ctx, id)
		}
		unlock()

		if err != nil {
			errs = append(errs, fmt.Errorf("medication %s: %w", id, err))
			continue
		}
		e.logger.Info("Repaired stale medication", zap.String("medication_id", id))
	}
	return errors.Join(errs...)
}

func (e *Engine) startMaintenance(ctx context.Context) error {
	e.cron = cron.New(cron.WithLocation(e.opts.Location))

	if e.opts.ReconcileSchedule != "" {
		if _, err := e.cron.AddFunc(e.opts.ReconcileSchedule, func() {
			if err := e.RepairStale(ctx); err != nil {
				e.logger.Error("Stale repair failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", e.opts.ReconcileSchedule, err)
		}
	}

	if e.opts.DailySummarySchedule != "" {
		if _, err := e.cron.AddFunc(e.opts.DailySummarySchedule, func() {
			if err := e.SendDailySummary(ctx); err != nil {
				e.logger.Error("Daily summary failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("invalid daily summary schedule %q: %w", e.opts.DailySummarySchedule, err)
		}
	}

	e.cron.Start()
	return nil
}

// SendDailySummary builds today's summary and hands it to the summary sink.
func (e *Engine) SendDailySummary(ctx context.Context) error {
	if e.summary == nil {
		return nil
	}
	s, err := e.DailySummary(ctx, e.now())
	if err != nil {
		return err
	}
	return e.summary.SendSummary(ctx, s)
}
