// Package consistency provides the atomic paired read of supply and total
// value that substitutes for cross-account locking: both queries are issued
// concurrently to minimize the window between them, and impossible states
// fail hard.
package consistency

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/basketfi/fund-backend/internal/domain"
)

// maxRetries is the number of additional attempts after the first failure.
// Retries cover transient query failure only, never validation failures.
const maxRetries = 2

// Valuer computes the fund's current total value in reserve units
// (ledger balances × oracle prices, reserve balance included).
type Valuer interface {
	TotalValue(ctx context.Context) (*big.Int, error)
}

// Snapshotter takes atomic (supply, totalValue) snapshots.
type Snapshotter struct {
	ledger     domain.Ledger
	valuer     Valuer
	shareAsset domain.Asset
	now        func() time.Time
	log        *slog.Logger
}

// NewSnapshotter creates a Snapshotter reading supply from the ledger and
// value from the valuer.
func NewSnapshotter(ledger domain.Ledger, valuer Valuer, shareAsset domain.Asset, log *slog.Logger) *Snapshotter {
	return &Snapshotter{
		ledger:     ledger,
		valuer:     valuer,
		shareAsset: shareAsset,
		now:        time.Now,
		log:        log,
	}
}

// Take queries supply and total value concurrently, retrying the pair up to
// two more times on failure. A state where exactly one of the two is zero is
// data corruption: it is returned as a hard consistency error and never
// retried.
func (s *Snapshotter) Take(ctx context.Context) (domain.Snapshot, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying atomic snapshot",
				"attempt", attempt+1, "max", maxRetries+1, "error", lastErr)
		}

		var supply, totalValue *big.Int
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			supply, err = s.ledger.TotalSupply(gctx, s.shareAsset)
			return err
		})
		g.Go(func() error {
			var err error
			totalValue, err = s.valuer.TotalValue(gctx)
			return err
		})

		if err := g.Wait(); err != nil {
			// Retries are for transient query failure. A cancelled caller
			// context means nobody is waiting for the result.
			if ctx.Err() != nil {
				return domain.Snapshot{}, domain.WrapError(domain.KindLedger, "snapshot.take",
					"snapshot abandoned: context cancelled", err)
			}
			lastErr = err
			continue
		}

		snapshot := domain.Snapshot{
			Supply:     supply,
			TotalValue: totalValue,
			TakenAt:    s.now(),
		}
		if err := validate(snapshot); err != nil {
			return domain.Snapshot{}, err
		}

		s.log.Debug("atomic snapshot taken",
			"supply", supply.String(), "total_value", totalValue.String())
		return snapshot, nil
	}

	return domain.Snapshot{}, domain.WrapError(domain.KindLedger, "snapshot.take",
		"supply/value queries failed after 3 attempts", lastErr)
}

// validate enforces the invariant that supply and total value are both zero
// (bootstrap) or both positive. Anything else means the ledger and the
// portfolio disagree about whether the fund exists.
func validate(s domain.Snapshot) error {
	supplyPositive := s.Supply.Sign() > 0
	valuePositive := s.TotalValue.Sign() > 0

	if supplyPositive && !valuePositive {
		return domain.Errorf(domain.KindConsistency, "snapshot.validate",
			"supply is %s but total value is zero: data corruption, operator intervention required",
			s.Supply)
	}
	if !supplyPositive && valuePositive {
		return domain.Errorf(domain.KindConsistency, "snapshot.validate",
			"total value is %s but supply is zero: data corruption, operator intervention required",
			s.TotalValue)
	}
	return nil
}
