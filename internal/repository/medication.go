package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/hray3182/medline/internal/database"
	"github.com/hray3182/medline/internal/models"
	"github.com/jackc/pgx/v5"
)

const medicationColumns = `medication_id, name, dosage, color, image_uri, notes, frequency, weekdays, slots, active, created_at, updated_at`

// MedicationRepository stores medications in Postgres.
type MedicationRepository struct {
	db *database.DB
}

func NewMedicationRepository(db *database.DB) *MedicationRepository {
	return &MedicationRepository{db: db}
}

// Save inserts the medication or replaces the stored one with the same id.
func (r *MedicationRepository) Save(ctx context.Context, med *models.Medication) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO medications (`+medicationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (medication_id) DO UPDATE SET
		   name = EXCLUDED.name, dosage = EXCLUDED.dosage, color = EXCLUDED.color,
		   image_uri = EXCLUDED.image_uri, notes = EXCLUDED.notes, frequency = EXCLUDED.frequency,
		   weekdays = EXCLUDED.weekdays, slots = EXCLUDED.slots, active = EXCLUDED.active,
		   updated_at = EXCLUDED.updated_at`,
		med.ID, med.Name, med.Dosage, med.Color, med.ImageURI, med.Notes,
		string(med.Frequency.Kind), encodeWeekdays(med.Frequency.Weekdays), encodeSlots(med.Slots),
		med.Active, med.CreatedAt, med.UpdatedAt,
	)
	return err
}

func (r *MedicationRepository) Get(ctx context.Context, id string) (*models.Medication, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+medicationColumns+` FROM medications WHERE medication_id = $1`,
		id,
	)
	med, err := scanMedication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return med, err
}

func (r *MedicationRepository) List(ctx context.Context) ([]*models.Medication, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+medicationColumns+` FROM medications ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meds []*models.Medication
	for rows.Next() {
		med, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		meds = append(meds, med)
	}
	return meds, rows.Err()
}

func (r *MedicationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM medications WHERE medication_id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanMedication(row pgx.Row) (*models.Medication, error) {
	var (
		med      models.Medication
		kind     string
		weekdays []int16
		slots    []string
	)
	if err := row.Scan(&med.ID, &med.Name, &med.Dosage, &med.Color, &med.ImageURI, &med.Notes,
		&kind, &weekdays, &slots, &med.Active, &med.CreatedAt, &med.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	med.Frequency = models.Frequency{Kind: models.FrequencyKind(kind), Weekdays: decodeWeekdays(weekdays)}
	if med.Slots, err = decodeSlots(slots); err != nil {
		return nil, fmt.Errorf("medication %s: %w", med.ID, err)
	}
	return &med, nil
}
