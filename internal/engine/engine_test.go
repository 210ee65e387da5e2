package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hray3182/medline/internal/kvstore"
	"github.com/hray3182/medline/internal/models"
	"github.com/hray3182/medline/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	meds map[string]*models.Medication
}

func newMemStore() *memStore {
	return &memStore{meds: map[string]*models.Medication{}}
}

func (s *memStore) List(context.Context) ([]*models.Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Medication
	for _, m := range s.meds {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, id string) (*models.Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meds[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) Save(_ context.Context, med *models.Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *med
	s.meds[med.ID] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meds[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.meds, id)
	return nil
}

type fakeTimer struct {
	mu      sync.Mutex
	armed   map[string]models.FirePayload
	at      map[string]time.Time
	handler scheduler.Handler
	started bool
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{armed: map[string]models.FirePayload{}, at: map[string]time.Time{}}
}

func (f *fakeTimer) Arm(_ context.Context, id string, at time.Time, p models.FirePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[id] = p
	f.at[id] = at
	return nil
}

func (f *fakeTimer) Disarm(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, id)
	delete(f.at, id)
	return nil
}

func (f *fakeTimer) SetHandler(h scheduler.Handler) { f.handler = h }

func (f *fakeTimer) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeTimer) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.armed)
}

func (f *fakeTimer) armedAt(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.at[id]
	return at, ok
}

// fire removes the alarm like the real timer does and runs the handler.
func (f *fakeTimer) fire(t *testing.T, id string) models.FirePayload {
	t.Helper()
	f.mu.Lock()
	p, ok := f.armed[id]
	delete(f.armed, id)
	delete(f.at, id)
	f.mu.Unlock()
	require.True(t, ok, "%s is armed", id)

	f.handler(context.Background(), p)
	return p
}

type recordingPresenter struct {
	mu    sync.Mutex
	shown []models.Reminder
}

func (p *recordingPresenter) Present(_ context.Context, r models.Reminder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, r)
	return nil
}

type testEngine struct {
	*Engine
	store     *memStore
	timer     *fakeTimer
	kv        *kvstore.Store
	presenter *recordingPresenter
	now       time.Time
}

func newTestEngine(t *testing.T, now time.Time) *testEngine {
	t.Helper()
	kv, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	te := &testEngine{
		store:     newMemStore(),
		timer:     newFakeTimer(),
		kv:        kv,
		presenter: &recordingPresenter{},
		now:       now,
	}
	te.Engine = New(te.store, kv, te.timer, te.presenter, zap.NewNop(), nil, Options{
		Location:      time.UTC,
		DefaultSnooze: 5 * time.Minute,
	})
	te.SetClock(func() time.Time { return te.now })
	return te
}

func day(d, h, m int) time.Time {
	return time.Date(2026, 3, d, h, m, 0, 0, time.UTC)
}

func aspirin(slots ...models.TimeSlot) *models.Medication {
	return &models.Medication{
		Name:      "Aspirin",
		Dosage:    "100mg",
		Frequency: models.Daily(),
		Slots:     slots,
		Active:    true,
	}
}

var (
	slot07 = models.TimeSlot{Hour: 7}
	slot08 = models.TimeSlot{Hour: 8}
	slot09 = models.TimeSlot{Hour: 9}
)

func TestSaveMedication_AssignsIDAndArms(t *testing.T) {
	te := newTestEngine(t, day(1, 7, 0))

	med, err := te.SaveMedication(context.Background(), aspirin(slot08))
	require.NoError(t, err)
	assert.NotEmpty(t, med.ID)
	assert.True(t, med.CreatedAt.Equal(day(1, 7, 0)))

	at, ok := te.timer.armedAt(models.AlarmTimerID(med.ID, slot08))
	require.True(t, ok)
	assert.True(t, at.Equal(day(1, 8, 0)), "today 08:00")
}

func TestSaveMedication_KeepsCreatedAtOnEdit(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)

	te.now = day(3, 7, 0)
	edit := *med
	edit.CreatedAt = time.Time{}
	edit.Slots = []models.TimeSlot{slot09}
	saved, err := te.SaveMedication(ctx, &edit)
	require.NoError(t, err)

	assert.True(t, saved.CreatedAt.Equal(day(1, 7, 0)))
	assert.True(t, saved.UpdatedAt.Equal(day(3, 7, 0)))
	assert.Equal(t, 1, te.timer.len())
	_, ok := te.timer.armedAt(models.AlarmTimerID(med.ID, slot09))
	assert.True(t, ok)
}

func TestSaveMedication_RejectsInvalidConfig(t *testing.T) {
	te := newTestEngine(t, day(1, 7, 0))

	med := aspirin(slot08)
	med.Frequency = models.Custom()
	_, err := te.SaveMedication(context.Background(), med)
	assert.ErrorIs(t, err, models.ErrInvalidFrequencyConfig)

	med = aspirin(slot08, slot08)
	_, err = te.SaveMedication(context.Background(), med)
	assert.ErrorIs(t, err, models.ErrInvalidFrequencyConfig)

	assert.Zero(t, te.timer.len())
}

// Aspirin, daily at 08:00, nobody answers the 08:00 reminder.
func TestScenario_UnansweredReminderIsMissed(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)
	id := models.AlarmTimerID(med.ID, slot08)

	te.now = day(1, 8, 0)
	fired := te.timer.fire(t, id)
	assert.True(t, fired.OccurrenceAt.Equal(day(1, 8, 0)))
	require.Len(t, te.presenter.shown, 1)

	te.now = day(1, 9, 0)
	counts, err := te.Stats(ctx, day(1, 0, 0), day(2, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Missed)

	require.NoError(t, te.Reschedule(ctx, med.ID))
	at, ok := te.timer.armedAt(id)
	require.True(t, ok)
	assert.True(t, at.Equal(day(2, 8, 0)), "tomorrow 08:00")

	history, err := te.History(ctx, med.ID, day(1, 0, 0), day(2, 0, 0))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AckPending, history[0].State)
}

// Fire at 08:00, snooze five minutes, let the snooze fire unanswered.
func TestScenario_SnoozeThenUnanswered(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)
	id := models.AlarmTimerID(med.ID, slot08)

	te.now = day(1, 8, 0)
	fired := te.timer.fire(t, id)

	alarm, err := te.Snooze(ctx, med.ID, slot08, fired.OccurrenceAt, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, alarm.ArmedAt.Equal(day(1, 8, 5)))
	assert.Equal(t, 1, te.timer.len(), "one timer per slot")

	_, err = te.Snooze(ctx, med.ID, slot08, fired.OccurrenceAt, 5*time.Minute)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	te.now = day(1, 8, 5)
	snoozed := te.timer.fire(t, id)
	assert.True(t, snoozed.Snooze)
	require.Len(t, te.presenter.shown, 2)
	assert.True(t, te.presenter.shown[1].Snoozed)

	history, err := te.History(ctx, med.ID, day(1, 0, 0), day(2, 0, 0))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.AckSnoozed, history[0].State)
	assert.True(t, history[1].OccurrenceAt.Equal(day(1, 8, 5)))
	assert.Equal(t, models.AckPending, history[1].State)

	at, ok := te.timer.armedAt(id)
	require.True(t, ok)
	assert.True(t, at.Equal(day(2, 8, 0)), "back on the daily schedule")
}

// Delete a medication with two armed slots.
func TestScenario_DeleteCancelsAllSlots(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 6, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot07, slot09))
	require.NoError(t, err)
	require.Equal(t, 2, te.timer.len())

	require.NoError(t, te.DeleteMedication(ctx, med.ID))
	assert.Zero(t, te.timer.len())
	assert.Empty(t, te.Alarms(med.ID))

	require.NoError(t, te.Reschedule(ctx, med.ID))
	assert.Zero(t, te.timer.len())

	assert.ErrorIs(t, te.DeleteMedication(ctx, med.ID), models.ErrNotFound)
}

func TestTaken_TerminalRejectsLaterWrites(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)
	te.now = day(1, 8, 0)
	fired := te.timer.fire(t, models.AlarmTimerID(med.ID, slot08))

	rec, err := te.Taken(ctx, med.ID, slot08, fired.OccurrenceAt)
	require.NoError(t, err)
	assert.Equal(t, models.AckTaken, rec.State)

	_, err = te.Dismiss(ctx, med.ID, slot08, fired.OccurrenceAt)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = te.Snooze(ctx, med.ID, slot08, fired.OccurrenceAt, time.Minute)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08, slot09))
	require.NoError(t, err)

	paused, err := te.SetActive(ctx, med.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.Active)
	assert.Zero(t, te.timer.len())

	resumed, err := te.SetActive(ctx, med.ID, true)
	require.NoError(t, err)
	assert.True(t, resumed.Active)
	assert.Equal(t, 2, te.timer.len())

	_, err = te.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStart_ReconcilesFromStore(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(2, 10, 0))

	require.NoError(t, te.store.Save(ctx, &models.Medication{
		ID: "med-1", Name: "Aspirin", Frequency: models.Daily(),
		Slots: []models.TimeSlot{slot08}, Active: true, CreatedAt: day(1, 0, 0),
	}))
	// Left behind by a previous run and overdue now.
	require.NoError(t, te.kv.PutAlarm(ctx, &models.PendingAlarm{
		MedicationID: "med-1", Slot: slot08, ArmedAt: day(1, 8, 0), OccurrenceAt: day(1, 8, 0),
	}))

	require.NoError(t, te.Start(ctx))
	assert.True(t, te.timer.started)

	at, ok := te.timer.armedAt("med-1/08:00")
	require.True(t, ok)
	assert.True(t, at.Equal(day(3, 8, 0)))
	assert.Empty(t, te.presenter.shown, "missed alarms are not fired in bulk")
}

func TestStart_InvalidCronSchedule(t *testing.T) {
	te := newTestEngine(t, day(1, 7, 0))
	te.opts.ReconcileSchedule = "not a schedule"
	assert.Error(t, te.Start(context.Background()))
}

func TestRepairStale(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)
	require.NoError(t, te.timer.Disarm(ctx, models.AlarmTimerID(med.ID, slot08)))
	require.NoError(t, te.kv.MarkStale(ctx, med.ID))
	require.NoError(t, te.kv.MarkStale(ctx, "deleted-med"))

	require.NoError(t, te.RepairStale(ctx))

	_, ok := te.timer.armedAt(models.AlarmTimerID(med.ID, slot08))
	assert.True(t, ok)
	stale, err := te.kv.StaleIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestAdherence(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 0, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)

	_, err = te.Taken(ctx, med.ID, slot08, day(1, 8, 0))
	require.NoError(t, err)
	_, err = te.Dismiss(ctx, med.ID, slot08, day(2, 8, 0))
	require.NoError(t, err)

	te.now = day(4, 12, 0)
	a, err := te.Adherence(ctx, med.ID, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), day(6, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, 5, a.Expected, "nothing before creation")
	assert.Equal(t, 1, a.Taken)
	assert.Equal(t, 1, a.Dismissed)
	assert.Equal(t, 2, a.Missed)
	assert.Equal(t, 1, a.Upcoming)
	assert.InDelta(t, 0.25, a.Rate, 1e-9)
	assert.Equal(t, DoseTaken, a.Doses[0].Status)
	assert.Equal(t, DoseUpcoming, a.Doses[4].Status)
}

func TestDailySummary(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 0, 0))

	a, err := te.SaveMedication(ctx, aspirin(slot08, slot09))
	require.NoError(t, err)
	vit := aspirin(slot07)
	vit.Name = "Vitamin D"
	_, err = te.SaveMedication(ctx, vit)
	require.NoError(t, err)
	paused := aspirin(slot07)
	paused.Name = "Paused"
	paused.Active = false
	_, err = te.SaveMedication(ctx, paused)
	require.NoError(t, err)

	_, err = te.Taken(ctx, a.ID, slot08, day(1, 8, 0))
	require.NoError(t, err)

	te.now = day(1, 8, 30)
	s, err := te.DailySummary(ctx, te.now)
	require.NoError(t, err)

	require.Len(t, s.Items, 3)
	assert.Equal(t, "Vitamin D", s.Items[0].Name)
	assert.Equal(t, DoseMissed, s.Items[0].Dose.Status)
	assert.Equal(t, DoseTaken, s.Items[1].Dose.Status)
	assert.Equal(t, DoseUpcoming, s.Items[2].Dose.Status)
	assert.Equal(t, 1, s.Count(DoseTaken))
}

func TestUpcoming(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 30))

	_, err := te.SaveMedication(ctx, aspirin(slot07, slot08, slot09))
	require.NoError(t, err)

	up, err := te.Upcoming(ctx, 2)
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, slot08, up[0].Alarm.Slot)
	assert.Equal(t, slot09, up[1].Alarm.Slot)
	assert.Equal(t, "Aspirin", up[0].Medication.Name)
}

func TestOccurrences(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 0, 0))

	med, err := te.SaveMedication(ctx, aspirin(slot08, slot09))
	require.NoError(t, err)

	occs, err := te.Occurrences(ctx, med.ID, day(1, 0, 0), day(3, 0, 0))
	require.NoError(t, err)
	assert.Len(t, occs, 4)

	next, err := te.NextOccurrences(ctx, med.ID, 3)
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.True(t, next[2].At.Equal(day(2, 8, 0)))

	_, err = te.Occurrences(ctx, "missing", day(1, 0, 0), day(2, 0, 0))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestKeyLock(t *testing.T) {
	k := newKeyLock()

	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("med-1")
			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, k.size())
}

// Buttons carry the occurrence in whole seconds; a snooze fired under a
// sub-second clock must still be answerable with that value.
func TestScenario_SnoozeSubSecondClock(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0).Add(250*time.Millisecond))

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)
	id := models.AlarmTimerID(med.ID, slot08)

	te.now = day(1, 8, 0).Add(123456789 * time.Nanosecond)
	fired := te.timer.fire(t, id)
	_, err = te.Snooze(ctx, med.ID, slot08, fired.OccurrenceAt, 5*time.Minute)
	require.NoError(t, err)

	te.now = day(1, 8, 5).Add(time.Millisecond)
	snoozed := te.timer.fire(t, id)
	require.True(t, snoozed.Snooze)
	assert.True(t, snoozed.OccurrenceAt.Equal(day(1, 8, 5)))

	_, err = te.Taken(ctx, med.ID, slot08, time.Unix(snoozed.OccurrenceAt.Unix(), 0))
	require.NoError(t, err)

	state, ok, err := te.ledger.StatusOf(ctx, med.ID, snoozed.OccurrenceAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.AckTaken, state)

	te.now = day(1, 12, 0)
	counts, err := te.Stats(ctx, day(1, 0, 0), day(2, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Taken: 1, Snoozed: 1}, counts)
}

// An edit that lands after 08:00 but before the timer delivered the 08:00
// alarm keeps today's dose.
func TestSetActive_KeepsDueAlarmWithinGrace(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, day(1, 7, 0))
	te.registry.SetFireGrace(5 * time.Second)

	med, err := te.SaveMedication(ctx, aspirin(slot08))
	require.NoError(t, err)
	id := models.AlarmTimerID(med.ID, slot08)

	te.now = day(1, 8, 0).Add(2 * time.Second)
	med.Notes = "after breakfast"
	_, err = te.SaveMedication(ctx, med)
	require.NoError(t, err)

	at, ok := te.timer.armedAt(id)
	require.True(t, ok)
	assert.True(t, at.Equal(day(1, 8, 0)), "still today 08:00")

	fired := te.timer.fire(t, id)
	assert.True(t, fired.OccurrenceAt.Equal(day(1, 8, 0)))
	require.Len(t, te.presenter.shown, 1)

	at, ok = te.timer.armedAt(id)
	require.True(t, ok)
	assert.True(t, at.Equal(day(2, 8, 0)), "delivered alarm is not armed again")
}
