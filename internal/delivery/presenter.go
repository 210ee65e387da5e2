package delivery

import (
	"context"
	"errors"

	"github.com/hray3182/medline/internal/models"
	"go.uber.org/zap"
)

// LogPresenter writes reminders to the log. It is used when no chat surface
// is configured.
type LogPresenter struct {
	logger *zap.Logger
}

func NewLogPresenter(logger *zap.Logger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

func (p *LogPresenter) Present(_ context.Context, r models.Reminder) error {
	p.logger.Info("Medication reminder",
		zap.String("medication_id", r.MedicationID),
		zap.String("name", r.Name),
		zap.String("dosage", r.Dosage),
		zap.Stringer("slot", r.Slot),
		zap.Time("occurrence_at", r.OccurrenceAt),
		zap.Bool("snoozed", r.Snoozed),
	)
	return nil
}

// Fallback presents through Primary and falls back to Secondary when it fails.
type Fallback struct {
	Primary   Presenter
	Secondary Presenter
}

func (f Fallback) Present(ctx context.Context, r models.Reminder) error {
	err := f.Primary.Present(ctx, r)
	if err == nil {
		return nil
	}
	if serr := f.Secondary.Present(ctx, r); serr != nil {
		return errors.Join(err, serr)
	}
	return nil
}
