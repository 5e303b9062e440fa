// Package scheduler closes each month by generating bills for the month that
// just ended.
package scheduler

import (
	"context"
	"time"

	"github.com/tiffinledger/tiffin/internal/ledger"
	"go.uber.org/zap"
)

const DefaultInterval = time.Hour

// Biller is implemented by apiapp.Service.
type Biller interface {
	GenerateBills(ctx context.Context, month ledger.Month) (int, error)
	LastBilledMonth(ctx context.Context) (ledger.Month, bool, error)
	MarkBilled(ctx context.Context, month ledger.Month) error
}

type Scheduler struct {
	biller   Biller
	interval time.Duration
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

func New(biller Biller, interval time.Duration, location *time.Location, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		biller:   biller,
		interval: interval,
		location: location,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
	}
}

// Run checks once immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("billing scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("billing run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("billing scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick bills the previous month unless that already happened. It reports
// whether bills were generated.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	target := ledger.MonthOf(s.now().In(s.location)).Prev()
	last, ok, err := s.biller.LastBilledMonth(ctx)
	if err != nil {
		return false, err
	}
	if ok && !last.Before(target) {
		return false, nil
	}
	count, err := s.biller.GenerateBills(ctx, target)
	if err != nil {
		return false, err
	}
	if err := s.biller.MarkBilled(ctx, target); err != nil {
		return false, err
	}
	s.logger.Info("month closed", zap.String("month", target.String()), zap.Int("bills", count))
	return true, nil
}
