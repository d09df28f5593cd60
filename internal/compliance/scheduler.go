package compliance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"licentra.org/internal/alert"
	"licentra.org/internal/obs"
)

// Scheduler runs the alert scan on a fixed cadence. A run that overlaps a
// still-active one is skipped rather than queued, so a slow store never
// causes scans to pile up.
type Scheduler struct {
	eval     *Evaluator
	notifier alert.Notifier
	interval time.Duration
	log      *zap.Logger

	running sync.Mutex
}

// NewScheduler wires the recurring scan. A non-positive interval falls back
// to six hours.
func NewScheduler(eval *Evaluator, notifier alert.Notifier, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{eval: eval, notifier: notifier, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, scanning once immediately and then on
// every tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// Trigger runs one scan out of band, e.g. after a bulk import. It reports
// whether the scan ran; false means another scan was already in flight.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	return s.scan(ctx)
}

func (s *Scheduler) scan(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.log.Debug("scan already in flight, skipping")
		return false
	}
	defer s.running.Unlock()

	start := time.Now()
	events, err := s.eval.EvaluateAlerts(ctx)
	obs.ScanDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Error("compliance scan failed", zap.Error(err))
		return true
	}
	if len(events) == 0 {
		return true
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, events); err != nil {
			s.log.Error("alert notification failed", zap.Int("events", len(events)), zap.Error(err))
		}
	}
	return true
}
