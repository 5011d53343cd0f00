// Package mint implements the two-phase mint orchestrator: initiate creates
// a durable pending record, complete turns the deposit into newly issued
// shares using a pre-deposit snapshot.
package mint

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basketfi/fund-backend/internal/consistency"
	"github.com/basketfi/fund-backend/internal/domain"
	"github.com/basketfi/fund-backend/internal/fundmath"
	"github.com/basketfi/fund-backend/internal/guard"
)

// Config carries the mint policy knobs.
type Config struct {
	ShareAsset   domain.Asset
	ReserveAsset domain.Asset
	FundAccount  domain.Account

	Fee     *big.Int // fixed fee in reserve units, never refunded
	MinMint *big.Int
	MaxMint *big.Int

	RateLimitWindow time.Duration
	SnapshotWarnAge time.Duration
	SnapshotFailAge time.Duration

	PendingTTL  time.Duration // non-terminal records older than this are abandoned
	TerminalTTL time.Duration // terminal records older than this are removed
}

// Service orchestrates mints.
type Service struct {
	cfg       Config
	ledger    domain.Ledger
	snapshots *consistency.Snapshotter
	mints     domain.PendingMintRepository
	guards    *guard.AccountGuards
	coord     *guard.Coordinator
	log       *slog.Logger
	now       func() time.Time

	rateMu       sync.Mutex
	lastInitiate map[domain.Account]time.Time
}

// NewService creates a mint service.
func NewService(
	cfg Config,
	ledger domain.Ledger,
	snapshots *consistency.Snapshotter,
	mints domain.PendingMintRepository,
	guards *guard.AccountGuards,
	coord *guard.Coordinator,
	log *slog.Logger,
) *Service {
	return &Service{
		cfg:          cfg,
		ledger:       ledger,
		snapshots:    snapshots,
		mints:        mints,
		guards:       guards,
		coord:        coord,
		log:          log,
		now:          time.Now,
		lastInitiate: make(map[domain.Account]time.Time),
	}
}

// Initiate validates the request and creates a Pending record. No funds
// move yet; the caller later calls Complete with the returned id.
func (s *Service) Initiate(ctx context.Context, account domain.Account, amount *big.Int) (string, error) {
	if account.IsAnonymous() {
		return "", domain.Errorf(domain.KindValidation, "mint.initiate",
			"anonymous accounts cannot mint")
	}
	if amount == nil || amount.Cmp(s.cfg.MinMint) < 0 {
		return "", domain.Errorf(domain.KindValidation, "mint.initiate",
			"amount %s below minimum %s", amount, s.cfg.MinMint)
	}
	if amount.Cmp(s.cfg.MaxMint) > 0 {
		return "", domain.Errorf(domain.KindValidation, "mint.initiate",
			"amount %s above maximum %s", amount, s.cfg.MaxMint)
	}
	if err := s.checkRateLimit(account); err != nil {
		return "", err
	}

	now := s.now()
	pending := &domain.PendingMint{
		ID:        uuid.NewString(),
		Account:   account,
		Amount:    new(big.Int).Set(amount),
		Status:    domain.MintStatus{State: domain.MintPending},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.mints.Create(ctx, pending); err != nil {
		return "", domain.WrapError(domain.KindLedger, "mint.initiate",
			"failed to store pending mint", err)
	}

	s.log.Info("mint initiated",
		"mint_id", pending.ID, "account", string(account), "amount", amount.String())
	return pending.ID, nil
}

// Complete executes a pending mint end to end and returns the issued share
// amount. Retrying a completed mint returns the recorded amount; any other
// terminal state is rejected.
func (s *Service) Complete(ctx context.Context, account domain.Account, id string) (*big.Int, error) {
	if err := s.coord.CheckNotPaused(); err != nil {
		return nil, err
	}
	if err := s.coord.TryStart(guard.OpMint); err != nil {
		return nil, err
	}
	defer s.coord.End(guard.OpMint)

	release, err := s.guards.Acquire(account, "mint")
	if err != nil {
		return nil, err
	}
	defer release()

	pending, err := s.mints.GetByID(ctx, id)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, "mint.complete",
			fmt.Sprintf("unknown mint id %s", id), err)
	}
	if pending.Account != account {
		return nil, domain.Errorf(domain.KindValidation, "mint.complete",
			"mint %s is not owned by %s", id, account)
	}
	if pending.Status.State == domain.MintComplete {
		return pending.Status.Minted, nil
	}
	if pending.Status.IsTerminal() {
		return nil, domain.Errorf(domain.KindValidation, "mint.complete",
			"mint %s already ended as %s", id, pending.Status.State)
	}

	// A non-terminal record past fee collection is an interrupted earlier
	// attempt: the fee was already charged, so it is not charged again.
	// The snapshot is retaken below either way.
	feeCollected := pending.Status.State.Reached(domain.MintSnapshotting)
	if pending.Status.State != domain.MintPending {
		s.log.Info("resuming interrupted mint",
			"mint_id", id, "state", string(pending.Status.State))
	}

	// Step 1: collect the fee. Not refunded on any later failure.
	if !feeCollected {
		if err := s.advance(ctx, pending, domain.MintCollectingFee); err != nil {
			return nil, err
		}
		if err := s.ledger.TransferFrom(ctx, s.cfg.ReserveAsset, account, s.cfg.FundAccount, s.cfg.Fee); err != nil {
			s.markFailed(ctx, pending, fmt.Sprintf("fee collection failed: %v", err))
			return nil, domain.WrapError(domain.KindLedger, "mint.complete", "fee collection failed", err)
		}
	}

	// Step 2: snapshot supply and total value BEFORE touching the deposit.
	// If the snapshot included the incoming deposit the depositor would be
	// charged against a value base already containing their own
	// contribution, under-minting them.
	if err := s.advance(ctx, pending, domain.MintSnapshotting); err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.Take(ctx)
	if err != nil {
		s.markFailed(ctx, pending, fmt.Sprintf("snapshot failed: %v", err))
		return nil, err
	}
	if stale, err := snapshot.Validate(s.now(), s.cfg.SnapshotWarnAge, s.cfg.SnapshotFailAge); err != nil {
		s.markFailed(ctx, pending, fmt.Sprintf("snapshot too old: %v", err))
		return nil, err
	} else if stale {
		s.log.Warn("using stale snapshot", "mint_id", id, "taken_at", snapshot.TakenAt)
	}
	pending.SetSnapshot(snapshot)
	if err := s.mints.Update(ctx, pending); err != nil {
		return nil, domain.WrapError(domain.KindLedger, "mint.complete",
			"failed to persist snapshot", err)
	}

	// Step 3: collect the deposit itself.
	if err := s.advance(ctx, pending, domain.MintCollectingDeposit); err != nil {
		return nil, err
	}
	if err := s.ledger.TransferFrom(ctx, s.cfg.ReserveAsset, account, s.cfg.FundAccount, pending.Amount); err != nil {
		s.markFailed(ctx, pending, fmt.Sprintf("deposit collection failed: %v", err))
		return nil, domain.WrapError(domain.KindLedger, "mint.complete", "deposit collection failed", err)
	}

	// Step 4: compute shares from the pre-deposit snapshot. The deposit has
	// moved, so every failure from here on attempts a refund.
	if err := s.advance(ctx, pending, domain.MintCalculating); err != nil {
		s.failWithRefund(ctx, pending, fmt.Sprintf("status persistence failed: %v", err))
		return nil, err
	}
	minted, err := fundmath.MintAmount(
		pending.Amount, snapshot.Supply, snapshot.TotalValue,
		s.cfg.ReserveAsset.Decimals, s.cfg.ShareAsset.Decimals,
	)
	if err != nil {
		s.failWithRefund(ctx, pending, fmt.Sprintf("mint calculation failed: %v", err))
		return nil, err
	}

	// Step 5: issue the shares. The fund is the share authority, so a
	// transfer out of the fund account creates new supply.
	if err := s.advance(ctx, pending, domain.MintMinting); err != nil {
		s.failWithRefund(ctx, pending, fmt.Sprintf("status persistence failed: %v", err))
		return nil, err
	}
	if err := s.ledger.Transfer(ctx, s.cfg.ShareAsset, account, minted); err != nil {
		s.failWithRefund(ctx, pending, fmt.Sprintf("share issuance failed: %v", err))
		return nil, domain.WrapError(domain.KindLedger, "mint.complete", "share issuance failed", err)
	}

	if err := pending.Transition(s.now(), domain.MintStatus{State: domain.MintComplete, Minted: minted}); err != nil {
		return nil, err
	}
	if err := s.mints.Update(ctx, pending); err != nil {
		s.log.Error("minted but failed to persist completion", "mint_id", id, "error", err)
	}

	s.log.Info("mint complete",
		"mint_id", id, "account", string(account), "minted", minted.String())
	return minted, nil
}

// Status returns the current status of a pending mint.
func (s *Service) Status(ctx context.Context, id string) (domain.MintStatus, error) {
	pending, err := s.mints.GetByID(ctx, id)
	if err != nil {
		return domain.MintStatus{}, domain.WrapError(domain.KindValidation, "mint.status",
			fmt.Sprintf("unknown mint id %s", id), err)
	}
	return pending.Status, nil
}

// advance moves the record to the next status and persists it.
func (s *Service) advance(ctx context.Context, pending *domain.PendingMint, next domain.MintState) error {
	if err := pending.Transition(s.now(), domain.MintStatus{State: next}); err != nil {
		return err
	}
	if err := s.mints.Update(ctx, pending); err != nil {
		return domain.WrapError(domain.KindLedger, "mint.advance",
			"failed to persist status "+string(next), err)
	}
	return nil
}

// markFailed records a failure from before the deposit moved. Nothing to
// refund: only the (non-refundable) fee may have been collected.
func (s *Service) markFailed(ctx context.Context, pending *domain.PendingMint, reason string) {
	if err := pending.Transition(s.now(), domain.MintStatus{State: domain.MintFailed, Reason: reason}); err != nil {
		s.log.Error("failed to mark mint failed", "mint_id", pending.ID, "error", err)
		return
	}
	if err := s.mints.Update(ctx, pending); err != nil {
		s.log.Error("failed to persist mint failure", "mint_id", pending.ID, "error", err)
	}
}

// failWithRefund handles failures after the deposit was collected: attempt
// to send it back, and record whether the refund itself went through.
// FailedNoRefund means stuck funds and requires manual intervention.
func (s *Service) failWithRefund(ctx context.Context, pending *domain.PendingMint, reason string) {
	state := domain.MintFailedRefunded
	detail := reason + "; deposit refunded"

	if err := s.ledger.Transfer(ctx, s.cfg.ReserveAsset, pending.Account, pending.Amount); err != nil {
		state = domain.MintFailedNoRefund
		detail = fmt.Sprintf("%s; refund of %s failed: %v; operator intervention required",
			reason, pending.Amount, err)
		s.log.Error("mint refund failed, funds stuck",
			"mint_id", pending.ID, "account", string(pending.Account),
			"amount", pending.Amount.String(), "error", err)
	} else {
		s.log.Info("mint deposit refunded",
			"mint_id", pending.ID, "amount", pending.Amount.String())
	}

	if err := pending.Transition(s.now(), domain.MintStatus{State: state, Reason: detail}); err != nil {
		s.log.Error("failed to mark mint refund outcome", "mint_id", pending.ID, "error", err)
		return
	}
	if err := s.mints.Update(ctx, pending); err != nil {
		s.log.Error("failed to persist mint refund outcome", "mint_id", pending.ID, "error", err)
	}
}

func (s *Service) checkRateLimit(account domain.Account) error {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	now := s.now()
	// Entries past the window no longer limit anything; drop them so the
	// map stays bounded by the accounts active within one window.
	for acct, last := range s.lastInitiate {
		if now.Sub(last) >= s.cfg.RateLimitWindow {
			delete(s.lastInitiate, acct)
		}
	}
	if last, ok := s.lastInitiate[account]; ok && now.Sub(last) < s.cfg.RateLimitWindow {
		return domain.Errorf(domain.KindValidation, "mint.initiate",
			"rate limit: one initiate per %s per account", s.cfg.RateLimitWindow)
	}
	s.lastInitiate[account] = now
	return nil
}
