package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/medline/internal/database"
	"github.com/hray3182/medline/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRow returns the values of one medications row in column order.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *bool:
			*p = r.values[i].(bool)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *[]int16:
			*p = r.values[i].([]int16)
		case *[]string:
			*p = r.values[i].([]string)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

// rowOf lays med out the way Save writes it.
func rowOf(med *models.Medication) fakeRow {
	return fakeRow{values: []any{
		med.ID, med.Name, med.Dosage, med.Color, med.ImageURI, med.Notes,
		string(med.Frequency.Kind), encodeWeekdays(med.Frequency.Weekdays), encodeSlots(med.Slots),
		med.Active, med.CreatedAt, med.UpdatedAt,
	}}
}

func TestScanMedication(t *testing.T) {
	want := sampleMedication("med-1")

	got, err := scanMedication(rowOf(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScanMedication_Daily(t *testing.T) {
	want := sampleMedication("med-2")
	want.Frequency = models.Daily()
	want.Active = false

	got, err := scanMedication(rowOf(want))
	require.NoError(t, err)
	assert.Equal(t, models.Daily(), got.Frequency)
	assert.Nil(t, got.Frequency.Weekdays)
	assert.False(t, got.Active)
}

func TestScanMedication_BadSlot(t *testing.T) {
	row := rowOf(sampleMedication("med-3"))
	row.values[8] = []string{"08:00", "25:99"}

	_, err := scanMedication(row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "med-3")
}

func TestScanMedication_NoRows(t *testing.T) {
	_, err := scanMedication(fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

// Runs against a real server when MEDLINE_TEST_DATABASE_URL is set.
func TestMedicationRepository_Postgres(t *testing.T) {
	uri := os.Getenv("MEDLINE_TEST_DATABASE_URL")
	if uri == "" {
		t.Skip("MEDLINE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := database.New(ctx, uri, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	repo := NewMedicationRepository(db)
	med := sampleMedication(uuid.NewString())
	t.Cleanup(func() { _ = repo.Delete(context.Background(), med.ID) })

	require.NoError(t, repo.Save(ctx, med))
	got, err := repo.Get(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, med.Frequency, got.Frequency)
	assert.Equal(t, med.Slots, got.Slots)
	assert.True(t, med.CreatedAt.Equal(got.CreatedAt))

	med.Name = "Lisinopril XR"
	require.NoError(t, repo.Save(ctx, med))
	got, err = repo.Get(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lisinopril XR", got.Name)

	require.NoError(t, repo.Delete(ctx, med.ID))
	_, err = repo.Get(ctx, med.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, med.ID), models.ErrNotFound)
}
