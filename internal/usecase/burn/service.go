// Package burn implements single-phase atomic redemption: pulling shares
// into the fund account destroys them, then the underlying assets are paid
// out proportionally.
package burn

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/basketfi/fund-backend/internal/domain"
	"github.com/basketfi/fund-backend/internal/fundmath"
	"github.com/basketfi/fund-backend/internal/guard"
)

// Config carries the burn policy knobs.
type Config struct {
	ShareAsset   domain.Asset
	ReserveAsset domain.Asset
	Assets       []domain.Asset // basket assets; reserve is paid out as well
	FundAccount  domain.Account

	Fee           *big.Int // fixed fee in reserve units
	MinBurn       *big.Int
	DustThreshold *big.Int // net payouts at or below this are skipped

	RateLimitWindow time.Duration
}

// Service executes burns.
type Service struct {
	cfg    Config
	ledger domain.Ledger
	guards *guard.AccountGuards
	coord  *guard.Coordinator
	log    *slog.Logger
	now    func() time.Time

	rateMu   sync.Mutex
	lastBurn map[domain.Account]time.Time
}

// NewService creates a burn service.
func NewService(cfg Config, ledger domain.Ledger, guards *guard.AccountGuards, coord *guard.Coordinator, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		ledger:   ledger,
		guards:   guards,
		coord:    coord,
		log:      log,
		now:      time.Now,
		lastBurn: make(map[domain.Account]time.Time),
	}
}

// Burn redeems amount shares for a proportional slice of every holding.
// The share transfer into the fund account IS the burn: supply drops
// atomically with it. Distribution tolerates partial failure; the call only
// errors when nothing was redeemed.
func (s *Service) Burn(ctx context.Context, account domain.Account, amount *big.Int) (*domain.BurnReceipt, error) {
	if err := s.coord.CheckNotPaused(); err != nil {
		return nil, err
	}
	if err := s.coord.TryStart(guard.OpBurn); err != nil {
		return nil, err
	}
	defer s.coord.End(guard.OpBurn)

	release, err := s.guards.Acquire(account, "burn")
	if err != nil {
		return nil, err
	}
	defer release()

	if account.IsAnonymous() {
		return nil, domain.Errorf(domain.KindValidation, "burn", "anonymous accounts cannot burn")
	}
	if amount == nil || amount.Cmp(s.cfg.MinBurn) < 0 {
		return nil, domain.Errorf(domain.KindValidation, "burn",
			"amount %s below minimum %s", amount, s.cfg.MinBurn)
	}
	if err := s.checkRateLimit(account); err != nil {
		return nil, err
	}

	// Fee approval is checked first, before anything the caller would pay
	// for, so a user who cannot afford the fee finds out immediately.
	if err := s.checkFeeAllowance(ctx, account); err != nil {
		return nil, err
	}

	supply, err := s.ledger.TotalSupply(ctx, s.cfg.ShareAsset)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "burn", "supply query failed", err)
	}
	if supply.Sign() == 0 {
		return nil, domain.Errorf(domain.KindConsistency, "burn", "no shares in circulation")
	}

	// Max 10% of supply per call, integer comparison only.
	if !fundmath.WithinBurnLimit(amount, supply) {
		max := new(big.Int).Quo(supply, big.NewInt(10))
		return nil, domain.Errorf(domain.KindValidation, "burn",
			"amount %s exceeds 10%% of supply %s (max %s per call)", amount, supply, max)
	}

	balance, err := s.ledger.BalanceOf(ctx, s.cfg.ShareAsset, account)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "burn", "share balance query failed", err)
	}
	if balance.Cmp(amount) < 0 {
		return nil, domain.Errorf(domain.KindValidation, "burn",
			"insufficient shares: have %s, burning %s", balance, amount)
	}

	if err := s.ledger.TransferFrom(ctx, s.cfg.ReserveAsset, account, s.cfg.FundAccount, s.cfg.Fee); err != nil {
		return nil, domain.WrapError(domain.KindLedger, "burn", "fee collection failed", err)
	}

	// The burn itself. The fund is the share authority: shares transferred
	// into it leave circulation immediately.
	if err := s.ledger.TransferFrom(ctx, s.cfg.ShareAsset, account, s.cfg.FundAccount, amount); err != nil {
		return nil, domain.WrapError(domain.KindLedger, "burn",
			fmt.Sprintf("share transfer of %s failed", amount), err)
	}

	postBurnSupply, err := s.ledger.TotalSupply(ctx, s.cfg.ShareAsset)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "burn", "post-burn supply query failed", err)
	}

	payouts, err := s.calculatePayouts(ctx, amount, postBurnSupply)
	if err != nil {
		return nil, err
	}
	if len(payouts) == 0 {
		return nil, domain.Errorf(domain.KindValidation, "burn",
			"burn of %s yields no payout above the dust threshold", amount)
	}

	receipt := s.distribute(ctx, account, payouts)
	receipt.TotalBurned = amount
	receipt.Timestamp = s.now()

	if len(receipt.Successes) == 0 {
		return receipt, domain.Errorf(domain.KindLedger, "burn",
			"all %d redemption transfers failed, nothing redeemed", len(receipt.Failures))
	}

	s.log.Info("burn complete",
		"account", string(account), "burned", amount.String(),
		"payouts", len(receipt.Successes), "failures", len(receipt.Failures))
	return receipt, nil
}

type payout struct {
	asset  domain.Asset
	amount *big.Int
}

// calculatePayouts computes the net per-asset redemption using the
// post-burn supply, deducting each asset's transfer fee and skipping dust.
func (s *Service) calculatePayouts(ctx context.Context, burnAmount, postBurnSupply *big.Int) ([]payout, error) {
	assets := append([]domain.Asset{s.cfg.ReserveAsset}, s.cfg.Assets...)

	var payouts []payout
	for _, asset := range assets {
		balance, err := s.ledger.BalanceOf(ctx, asset, s.cfg.FundAccount)
		if err != nil {
			return nil, domain.WrapError(domain.KindLedger, "burn.calculate",
				"balance query failed for "+asset.Symbol, err)
		}
		if balance.Sign() == 0 {
			continue
		}
		share, err := fundmath.RedemptionShare(burnAmount, balance, postBurnSupply)
		if err != nil {
			return nil, err
		}
		net := new(big.Int).Sub(share, asset.TransferFee)
		if net.Cmp(s.cfg.DustThreshold) <= 0 {
			s.log.Debug("skipping dust payout", "asset", asset.Symbol, "net", net.String())
			continue
		}
		payouts = append(payouts, payout{asset: asset, amount: net})
	}
	return payouts, nil
}

// distribute sends every payout concurrently and records each outcome
// individually.
func (s *Service) distribute(ctx context.Context, account domain.Account, payouts []payout) *domain.BurnReceipt {
	results := make([]error, len(payouts))

	var wg sync.WaitGroup
	for i, p := range payouts {
		wg.Add(1)
		go func(i int, p payout) {
			defer wg.Done()
			results[i] = s.ledger.Transfer(ctx, p.asset, account, p.amount)
		}(i, p)
	}
	wg.Wait()

	receipt := &domain.BurnReceipt{}
	for i, p := range payouts {
		if results[i] != nil {
			s.log.Error("redemption transfer failed",
				"asset", p.asset.Symbol, "amount", p.amount.String(), "error", results[i])
			receipt.Failures = append(receipt.Failures, domain.RedemptionFailure{
				Asset:  p.asset.Symbol,
				Amount: p.amount,
				Reason: results[i].Error(),
			})
			continue
		}
		receipt.Successes = append(receipt.Successes, domain.RedemptionPayout{
			Asset:  p.asset.Symbol,
			Amount: p.amount,
		})
	}
	return receipt
}

// checkFeeAllowance verifies the caller pre-approved the fixed fee. A
// failed allowance query is logged and tolerated: collection will fail with
// a clear error if the approval is really missing.
func (s *Service) checkFeeAllowance(ctx context.Context, account domain.Account) error {
	allowance, err := s.ledger.Allowance(ctx, s.cfg.ReserveAsset, account, s.cfg.FundAccount)
	if err != nil {
		s.log.Warn("could not check fee allowance, proceeding", "account", string(account), "error", err)
		return nil
	}
	if allowance.Cmp(s.cfg.Fee) < 0 {
		return domain.Errorf(domain.KindLedger, "burn",
			"insufficient fee approval: required %s, approved %s", s.cfg.Fee, allowance)
	}
	return nil
}

func (s *Service) checkRateLimit(account domain.Account) error {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	now := s.now()
	// Entries past the window no longer limit anything; drop them so the
	// map stays bounded by the accounts active within one window.
	for acct, last := range s.lastBurn {
		if now.Sub(last) >= s.cfg.RateLimitWindow {
			delete(s.lastBurn, acct)
		}
	}
	if last, ok := s.lastBurn[account]; ok && now.Sub(last) < s.cfg.RateLimitWindow {
		return domain.Errorf(domain.KindValidation, "burn",
			"rate limit: one burn per %s per account", s.cfg.RateLimitWindow)
	}
	s.lastBurn[account] = now
	return nil
}
