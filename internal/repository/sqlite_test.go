package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hray3182/medline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *SQLiteMedicationRepository {
	t.Helper()
	repo, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleMedication(id string) *models.Medication {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.Medication{
		ID:        id,
		Name:      "Lisinopril",
		Dosage:    "10mg",
		Color:     "#ff0000",
		Notes:     "with water",
		Frequency: models.Custom(time.Monday, time.Wednesday, time.Friday),
		Slots:     []models.TimeSlot{{Hour: 8}, {Hour: 20, Minute: 30}},
		Active:    true,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestSQLite_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLite(t)

	med := sampleMedication("med-1")
	require.NoError(t, repo.Save(ctx, med))

	got, err := repo.Get(ctx, "med-1")
	require.NoError(t, err)
	assert.Equal(t, med.Name, got.Name)
	assert.Equal(t, med.Dosage, got.Dosage)
	assert.Equal(t, med.Color, got.Color)
	assert.Equal(t, med.Notes, got.Notes)
	assert.Equal(t, med.Frequency, got.Frequency)
	assert.Equal(t, med.Slots, got.Slots)
	assert.True(t, got.Active)
	assert.True(t, med.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLite_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLite(t)

	med := sampleMedication("med-1")
	require.NoError(t, repo.Save(ctx, med))

	med.Frequency = models.Daily()
	med.Slots = []models.TimeSlot{{Hour: 7}}
	med.Active = false
	require.NoError(t, repo.Save(ctx, med))

	got, err := repo.Get(ctx, "med-1")
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyDaily, got.Frequency.Kind)
	assert.Empty(t, got.Frequency.Weekdays)
	assert.Equal(t, []models.TimeSlot{{Hour: 7}}, got.Slots)
	assert.False(t, got.Active)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_ListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLite(t)

	later := sampleMedication("b")
	later.CreatedAt = later.CreatedAt.Add(time.Hour)
	require.NoError(t, repo.Save(ctx, later))
	require.NoError(t, repo.Save(ctx, sampleMedication("a")))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestSQLite_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLite(t)

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "missing"), models.ErrNotFound)
}

func TestSQLite_Delete(t *testing.T) {
	ctx := context.Background()
	repo := setupSQLite(t)

	require.NoError(t, repo.Save(ctx, sampleMedication("med-1")))
	require.NoError(t, repo.Delete(ctx, "med-1"))

	_, err := repo.Get(ctx, "med-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCodec(t *testing.T) {
	slots := []models.TimeSlot{{Hour: 8}, {Hour: 21, Minute: 15}}
	encoded := encodeSlots(slots)
	assert.Equal(t, []string{"08:00", "21:15"}, encoded)

	decoded, err := decodeSlots(encoded)
	require.NoError(t, err)
	assert.Equal(t, slots, decoded)

	_, err = decodeSlots([]string{"25:00"})
	assert.Error(t, err)

	days := []time.Weekday{time.Sunday, time.Saturday}
	assert.Equal(t, days, decodeWeekdays(encodeWeekdays(days)))
	assert.Nil(t, decodeWeekdays(nil))
}
