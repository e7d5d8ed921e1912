// Package scheduler drives reconciliation cycles on a timer and on demand.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pauljones0/free-games-bot/internal/engine"
	"github.com/pauljones0/free-games-bot/internal/logging"
)

// Cycler runs one reconciliation cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (engine.Stats, error)
}

type Config struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	// CycleTimeout bounds one cycle. Zero means no bound.
	CycleTimeout time.Duration
}

// Scheduler runs at most one cycle at a time. A cycle that is in progress when
// the context is cancelled is allowed to finish.
type Scheduler struct {
	cycler  Cycler
	cfg     Config
	trigger chan struct{}
	done    chan struct{}
}

func New(c Cycler, cfg Config) *Scheduler {
	return &Scheduler{
		cycler:  c,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Trigger asks for a cycle as soon as the current wait ends. Requests made
// while one is already pending are merged into it.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run executes a cycle immediately and then one per interval until ctx is
// cancelled. After a failed cycle it waits ErrorBackoff instead of Interval.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	slog.Info("Scheduler started", "interval", s.cfg.Interval, "error_backoff", s.cfg.ErrorBackoff)

	for {
		wait := s.cfg.Interval
		if err := s.runOnce(ctx); err != nil {
			wait = s.cfg.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Scheduler stopped")
			return
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
			slog.Info("Cycle triggered manually")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (err error) {
	id := uuid.NewString()
	logger := logging.FromContext(ctx).With("cycle", id)
	start := time.Now()

	// Shutdown must not cut a cycle off between a post and its ledger write.
	cctx := logging.NewContext(context.WithoutCancel(ctx), logger)
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in cycle", "panic", r)
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	logger.Info("Cycle starting")
	stats, err := s.cycler.RunCycle(cctx)
	if err != nil {
		logger.Error("Cycle failed", "error", err, "duration", time.Since(start), "created", stats.Created, "ended", stats.Ended)
		return err
	}
	logger.Info("Cycle completed", "duration", time.Since(start), "created", stats.Created, "ended", stats.Ended, "activated", stats.Activated)
	return nil
}
