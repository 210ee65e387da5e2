// Package scheduler is the in-process timer that wakes the engine when an
// armed alarm is due.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hray3182/medline/internal/metrics"
	"github.com/hray3182/medline/internal/models"
	"go.uber.org/zap"
)

// Handler receives a fired alarm. It runs on its own goroutine.
type Handler func(ctx context.Context, payload models.FirePayload)

type Options struct {
	CheckInterval time.Duration
	MaxConcurrent int
}

type entry struct {
	at      time.Time
	payload models.FirePayload
}

type Scheduler struct {
	logger        *zap.Logger
	metrics       *metrics.Metrics
	handler       Handler
	checkInterval time.Duration
	notifyCh      chan struct{}
	sem           chan struct{}
	now           func() time.Time

	mu    sync.Mutex
	armed map[string]entry

	inflight sync.WaitGroup
}

func New(logger *zap.Logger, m *metrics.Metrics, opts Options) *Scheduler {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 5 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Scheduler{
		logger:        logger,
		metrics:       m,
		checkInterval: opts.CheckInterval,
		notifyCh:      make(chan struct{}, 1),
		sem:           make(chan struct{}, opts.MaxConcurrent),
		now:           time.Now,
		armed:         make(map[string]entry),
	}
}

// SetHandler sets the callback for fired alarms. It must be called before Start.
func (s *Scheduler) SetHandler(h Handler) {
	s.handler = h
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Arm schedules payload to be delivered at the given instant, replacing any
// alarm armed under the same id.
func (s *Scheduler) Arm(_ context.Context, id string, at time.Time, payload models.FirePayload) error {
	if id == "" {
		return fmt.Errorf("empty timer id")
	}
	s.mu.Lock()
	s.armed[id] = entry{at: at, payload: payload}
	n := len(s.armed)
	s.mu.Unlock()

	s.metrics.SetArmed(n)
	s.Notify()
	return nil
}

// Disarm removes the alarm armed under id. Unknown ids are ignored.
func (s *Scheduler) Disarm(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.armed, id)
	n := len(s.armed)
	s.mu.Unlock()

	s.metrics.SetArmed(n)
	return nil
}

// Armed reports the instant an id is armed for.
func (s *Scheduler) Armed(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.armed[id]
	return e.at, ok
}

// Len returns the number of armed alarms.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// Notify triggers an immediate check. Non-blocking if a check is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
		// Channel already has a pending notification, skip
	}
}

// Start runs the timer loop until ctx is done, then waits for in-flight
// handlers.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Scheduler started", zap.Duration("check_interval", s.checkInterval))
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	wake := time.NewTimer(s.checkInterval)
	defer wake.Stop()

	for {
		s.check(ctx)
		wake.Reset(s.untilNext())

		select {
		case <-ctx.Done():
			s.inflight.Wait()
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
		case <-wake.C:
		case <-s.notifyCh:
		}
	}
}

// Wait blocks until every dispatched handler has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// untilNext is the delay before the earliest armed alarm, capped at the
// check interval.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.checkInterval
	now := s.now()
	for _, e := range s.armed {
		if until := e.at.Sub(now); until < d {
			d = until
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// check fires every alarm whose instant has been reached. A fired alarm is
// removed before dispatch so it is delivered once.
func (s *Scheduler) check(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []entry
	for id, e := range s.armed {
		if !e.at.After(now) {
			due = append(due, e)
			delete(s.armed, id)
		}
	}
	n := len(s.armed)
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}
	s.metrics.SetArmed(n)

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, e := range due {
		s.dispatch(ctx, e.payload)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, payload models.FirePayload) {
	if s.handler == nil {
		s.logger.Warn("Alarm fired with no handler", zap.String("medication_id", payload.MedicationID))
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-s.sem }()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Alarm handler panicked",
					zap.String("medication_id", payload.MedicationID),
					zap.Stringer("slot", payload.Slot),
					zap.Any("panic", r),
				)
			}
		}()

		s.handler(ctx, payload)
	}()
}
