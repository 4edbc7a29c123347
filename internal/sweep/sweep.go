// Package sweep fails import batches and invoices left in PROCESSING by a
// crashed or restarted process.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultSchedule runs the sweep every 15 minutes.
	DefaultSchedule = "@every 15m"
	// DefaultStaleAfter is how long a record may stay in PROCESSING.
	DefaultStaleAfter = 30 * time.Minute
	// LockKey is shared by every replica running the sweep.
	LockKey = "expense-ingest:sweep"

	runTimeout = time.Minute
)

// ErrLockHeld is returned by a Locker when another process holds the lock.
var ErrLockHeld = errors.New("sweep lock held by another process")

// BatchSweeper fails stale import batches.
type BatchSweeper interface {
	FailStaleBatches(ctx context.Context, cutoff time.Time, reason string, now time.Time) (int64, error)
}

// InvoiceSweeper fails stale invoices.
type InvoiceSweeper interface {
	FailStaleInvoices(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// Locker serializes sweeps across replicas.
type Locker interface {
	// Obtain acquires key for ttl and returns a release function.
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Result summarizes one sweep run.
type Result struct {
	Batches  int64
	Invoices int64
	// Skipped is set when another replica held the lock.
	Skipped bool
}

// Sweeper runs the stale sweep once or on a cron schedule.
type Sweeper struct {
	batches    BatchSweeper
	invoices   InvoiceSweeper
	locker     Locker
	staleAfter time.Duration
	log        zerolog.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New builds a Sweeper. locker may be nil, in which case runs are unlocked.
func New(batches BatchSweeper, invoices InvoiceSweeper, locker Locker, staleAfter time.Duration, log zerolog.Logger) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Sweeper{
		batches:    batches,
		invoices:   invoices,
		locker:     locker,
		staleAfter: staleAfter,
		log:        log.With().Str("component", "sweep").Logger(),
		now:        time.Now,
	}
}

// Reason is the error line recorded on swept batches.
func Reason(staleAfter time.Duration) string {
	return fmt.Sprintf("processing abandoned: no completion after %s", staleAfter)
}

// RunOnce fails every batch and invoice that entered PROCESSING before
// now minus the stale-after duration.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, LockKey, s.staleAfter)
		if errors.Is(err, ErrLockHeld) {
			s.log.Info().Msg("sweep lock held elsewhere, skipping run")
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("RunOnce: obtain lock: %w", err)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}

	now := s.now().UTC()
	cutoff := now.Add(-s.staleAfter)

	var err error
	if s.batches != nil {
		res.Batches, err = s.batches.FailStaleBatches(ctx, cutoff, Reason(s.staleAfter), now)
		if err != nil {
			return res, fmt.Errorf("RunOnce: batches: %w", err)
		}
	}
	if s.invoices != nil {
		res.Invoices, err = s.invoices.FailStaleInvoices(ctx, cutoff, now)
		if err != nil {
			return res, fmt.Errorf("RunOnce: invoices: %w", err)
		}
	}

	if res.Batches > 0 || res.Invoices > 0 {
		s.log.Warn().
			Int64("batches", res.Batches).
			Int64("invoices", res.Invoices).
			Time("cutoff", cutoff).
			Msg("failed stale processing records")
	}
	return res, nil
}

// Start schedules RunOnce on a cron expression such as "@every 15m" or "*/10 * * * *".
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("Sweeper.Start: already started")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error().Err(err).Msg("stale sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("Sweeper.Start: schedule %q: %w", schedule, err)
	}

	c.Start()
	s.cron = c
	s.log.Info().Str("schedule", schedule).Dur("stale_after", s.staleAfter).Msg("stale sweep scheduled")
	return nil
}

// Stop stops the schedule and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
