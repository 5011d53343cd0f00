package mint

import (
	"context"
	"time"

	"github.com/basketfi/fund-backend/internal/domain"
)

// Sweep expires abandoned non-terminal records and removes old terminal
// ones. A pending mint never completed within PendingTTL is treated as
// abandoned and marked Expired (terminal, so it is removed once TerminalTTL
// passes).
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()

	stale, err := s.mints.ListStale(ctx, now.Add(-s.cfg.PendingTTL))
	if err != nil {
		return domain.WrapError(domain.KindLedger, "mint.sweep", "stale listing failed", err)
	}
	for _, pending := range stale {
		status := domain.MintStatus{
			State:  domain.MintExpired,
			Reason: "abandoned: not completed within " + s.cfg.PendingTTL.String(),
		}
		if err := pending.Transition(now, status); err != nil {
			continue
		}
		if err := s.mints.Update(ctx, pending); err != nil {
			s.log.Error("failed to expire pending mint", "mint_id", pending.ID, "error", err)
			continue
		}
		s.log.Info("pending mint expired", "mint_id", pending.ID, "account", string(pending.Account))
	}

	removed, err := s.mints.DeleteTerminalBefore(ctx, now.Add(-s.cfg.TerminalTTL))
	if err != nil {
		return domain.WrapError(domain.KindLedger, "mint.sweep", "terminal cleanup failed", err)
	}
	if removed > 0 {
		s.log.Info("removed old terminal mints", "count", removed)
	}
	return nil
}

// RunSweeper drives Sweep on a fixed interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("mint sweep failed", "error", err)
			}
		}
	}
}
