package rrule

import (
	"testing"
	"time"

	"github.com/hray3182/medline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForSlotString(t *testing.T) {
	anchor := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) // Wednesday
	slot := models.TimeSlot{Hour: 8, Minute: 30}

	tests := []struct {
		name string
		freq models.Frequency
		want string
	}{
		{"daily", models.Daily(), "FREQ=DAILY;BYHOUR=8;BYMINUTE=30"},
		{"weekly", models.Weekly(), "FREQ=WEEKLY;BYDAY=WE;BYHOUR=8;BYMINUTE=30"},
		{"custom", models.Custom(time.Monday, time.Friday), "FREQ=WEEKLY;BYDAY=MO,FR;BYHOUR=8;BYMINUTE=30"},
		{"monthly", models.Monthly(), "FREQ=MONTHLY;BYMONTHDAY=4;BYHOUR=8;BYMINUTE=30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := ForSlot(tt.freq, anchor, slot, time.UTC)
			require.True(t, ok)
			assert.Equal(t, tt.want, b.String())
		})
	}

	_, ok := ForSlot(models.AsNeeded(), anchor, slot, time.UTC)
	assert.False(t, ok)
}

func TestMonthlyClampsToLastDay(t *testing.T) {
	anchor := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	b, ok := ForSlot(models.Monthly(), anchor, models.TimeSlot{Hour: 9}, time.UTC)
	require.True(t, ok)
	assert.Equal(t, "FREQ=MONTHLY;BYMONTHDAY=28,29,30,31;BYSETPOS=-1;BYHOUR=9;BYMINUTE=0", b.String())

	rule, err := b.Build(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	got := rule.After(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), false)
	assert.Equal(t, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), got)
}

func TestDescribe(t *testing.T) {
	med := &models.Medication{
		Frequency: models.Custom(time.Monday, time.Wednesday),
		Slots:     []models.TimeSlot{{Hour: 8}, {Hour: 20, Minute: 15}},
		CreatedAt: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "on Mon, Wed at 08:00, 20:15", Describe(med, time.UTC))
	assert.Len(t, Rules(med, time.UTC), 2)

	med.Frequency = models.AsNeeded()
	assert.Equal(t, "as needed", Describe(med, time.UTC))
	assert.Empty(t, Rules(med, time.UTC))

	med.Frequency = models.Monthly()
	assert.Equal(t, "monthly on day 4 at 08:00, 20:15", Describe(med, time.UTC))
}
