package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// Sweeper is the part of Service the scheduler drives.
type Sweeper interface {
	Sweep(ctx context.Context) (*SweepResult, error)
}

// StatusScheduler runs the status sweep on a fixed interval.
type StatusScheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStatusScheduler creates a new status scheduler.
func NewStatusScheduler(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *StatusScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &StatusScheduler{
		cron:     cron.New(cron.WithSeconds()),
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With("component", "status_scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one sweep immediately and then every interval.
func (s *StatusScheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.runSweep); err != nil {
		return errors.Wrap(err, "scheduling status sweep")
	}

	s.cron.Start()
	go s.runSweep()

	s.logger.Info("status scheduler started", "interval", s.interval)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *StatusScheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("status scheduler stopped")
}

func (s *StatusScheduler) runSweep() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.sweeper.Sweep(s.ctx); err != nil {
		s.logger.Error("status sweep failed", "error", err)
	}
}
