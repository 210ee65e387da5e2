package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/hray3182/medline/internal/kvstore"
	"github.com/hray3182/medline/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	eight = models.TimeSlot{Hour: 8}
	occ   = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
)

func setupLedger(t *testing.T, now time.Time) *Ledger {
	store, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, func() time.Time { return now })
}

func TestRecord_TerminalStatesRejectWrites(t *testing.T) {
	for _, terminal := range []models.AckState{models.AckTaken, models.AckDismissed} {
		t.Run(string(terminal), func(t *testing.T) {
			l := setupLedger(t, occ.Add(time.Minute))
			ctx := context.Background()

			_, err := l.Record(ctx, "med-1", eight, occ, models.AckPending)
			require.NoError(t, err)
			_, err = l.Record(ctx, "med-1", eight, occ, terminal)
			require.NoError(t, err)

			for _, next := range []models.AckState{models.AckPending, models.AckSnoozed, models.AckTaken, models.AckDismissed} {
				_, err = l.Record(ctx, "med-1", eight, occ, next)
				assert.ErrorIs(t, err, models.ErrInvalidTransition, "%s -> %s", terminal, next)
			}

			state, ok, err := l.StatusOf(ctx, "med-1", occ)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, terminal, state)
		})
	}
}

func TestRecord_SnoozeOnlyOnce(t *testing.T) {
	l := setupLedger(t, occ.Add(time.Minute))
	ctx := context.Background()

	_, err := l.Record(ctx, "med-1", eight, occ, models.AckPending)
	require.NoError(t, err)
	_, err = l.Record(ctx, "med-1", eight, occ, models.AckSnoozed)
	require.NoError(t, err)

	_, err = l.Record(ctx, "med-1", eight, occ, models.AckSnoozed)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = l.Record(ctx, "med-1", eight, occ, models.AckPending)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// A snoozed dose can still be marked taken.
	rec, err := l.Record(ctx, "med-1", eight, occ, models.AckTaken)
	require.NoError(t, err)
	assert.Equal(t, models.AckTaken, rec.State)
}

func TestRecord_PendingTwiceIsNoop(t *testing.T) {
	l := setupLedger(t, occ)
	ctx := context.Background()

	first, err := l.Record(ctx, "med-1", eight, occ, models.AckPending)
	require.NoError(t, err)
	second, err := l.Record(ctx, "med-1", eight, occ, models.AckPending)
	require.NoError(t, err)
	assert.True(t, first.RecordedAt.Equal(second.RecordedAt))
}

func TestRecord_RejectsUnknownState(t *testing.T) {
	l := setupLedger(t, occ)

	_, err := l.Record(context.Background(), "med-1", eight, occ, models.AckState("lost"))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestStatusOf_Unknown(t *testing.T) {
	l := setupLedger(t, occ)

	_, ok, err := l.StatusOf(context.Background(), "med-1", occ)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountsInRange(t *testing.T) {
	now := occ.Add(26 * time.Hour)
	l := setupLedger(t, now)
	ctx := context.Background()

	record := func(med string, at time.Time, states ...models.AckState) {
		for _, s := range states {
			_, err := l.Record(ctx, med, eight, at, s)
			require.NoError(t, err)
		}
	}

	record("med-1", occ, models.AckPending, models.AckTaken)
	record("med-1", occ.Add(24*time.Hour), models.AckPending) // overdue
	record("med-2", occ, models.AckPending, models.AckSnoozed)
	record("med-2", occ.Add(5*time.Minute), models.AckPending, models.AckDismissed)
	record("med-2", now.Add(time.Hour), models.AckPending) // not yet due
	record("med-3", occ.Add(-72*time.Hour), models.AckTaken) // outside range

	counts, err := l.CountsInRange(ctx, occ, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Taken: 1, Snoozed: 1, Dismissed: 1, Pending: 1, Missed: 1}, counts)

	perMed, err := l.CountsFor(ctx, "med-1", occ, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Taken: 1, Missed: 1}, perMed)

	history, err := l.History(ctx, "med-2", occ, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.AckSnoozed, history[0].State)
	assert.Equal(t, models.AckPending, history[2].State)
}
