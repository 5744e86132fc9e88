package reports

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/alerts"
)

// Scheduler runs the periodic maintenance sweep: purge expired alert
// resolutions, generate the current month's report if missing, and
// purge expired report artifacts. Each step is isolated so a panic or
// error in one never skips the others or kills the loop.
type Scheduler struct {
	interval        time.Duration
	reportRetention time.Duration

	generator *Generator
	store     *alerts.Store
	logger    *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler. Start must be called to begin the
// sweep loop.
func NewScheduler(interval, reportRetention time.Duration, generator *Generator, store *alerts.Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval:        interval,
		reportRetention: reportRetention,
		generator:       generator,
		store:           store,
		logger:          logger,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately so a
// fresh deployment has the current month's report without waiting a
// full interval.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)

		s.logger.Info("scheduler started", "interval", s.interval)

		s.Sweep(context.Background())

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stop:
				s.logger.Info("scheduler stopped")
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Sweep runs one maintenance pass. Alert retention goes first so the
// monthly report never snapshots a resolution past its window.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.step("alert retention", func() error {
		s.store.PurgeExpired(ctx)
		return nil
	})

	s.step("monthly report", func() error {
		month := MonthKey(time.Now())
		if s.generator.Exists(month) {
			return nil
		}
		_, err := s.generator.Generate(ctx, month, false)
		return err
	})

	s.step("report retention", func() error {
		s.generator.PurgeOlderThan(s.reportRetention)
		return nil
	})
}

// step runs one sweep stage, containing panics and logging failures.
func (s *Scheduler) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler step panicked", "step", name, "panic", r)
		}
	}()

	if err := fn(); err != nil {
		s.logger.Error("scheduler step failed", "step", name, "error", err)
	}
}
