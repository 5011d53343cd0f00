package rebalance

import (
	"context"
	"log/slog"
	"time"

	"github.com/basketfi/fund-backend/internal/domain"
)

// Scheduler triggers a rebalance cycle on a fixed interval. Cycles that
// lose the global operation slot are skipped, not queued.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

// NewScheduler creates a scheduler around the rebalance service.
func NewScheduler(svc *Service, log *slog.Logger) *Scheduler {
	return &Scheduler{svc: svc, interval: svc.cfg.Interval, log: log}
}

// Run blocks until the context is cancelled, triggering one cycle per tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("rebalance scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("rebalance scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.svc.Trigger(ctx)
	if err == nil {
		return
	}
	if domain.IsKind(err, domain.KindConcurrency) || domain.IsKind(err, domain.KindValidation) {
		s.log.Debug("rebalance cycle skipped", "reason", err.Error())
		return
	}
	s.log.Error("rebalance trigger failed", "error", err)
}
