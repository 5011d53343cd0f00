// Package rebalance periodically trades the fund back toward the
// externally-observed target weights, one bounded, slippage-protected trade
// per cycle.
package rebalance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basketfi/fund-backend/internal/consistency"
	"github.com/basketfi/fund-backend/internal/domain"
	"github.com/basketfi/fund-backend/internal/fundmath"
	"github.com/basketfi/fund-backend/internal/guard"
)

// Config carries the rebalancing policy. TradeIntensityBps and
// MaxSlippageBps are deployment policy, tuned empirically, not derivable
// from the data model.
type Config struct {
	ReserveAsset    domain.Asset
	Assets          []domain.Asset
	FundAccount     domain.Account
	ExchangeAccount domain.Account

	TradeIntensityBps int64    // fraction of the deviation traded per cycle
	MaxSlippageBps    int64    // swap tolerance
	MinTradeSize      *big.Int // reserve units; smaller trades are not issued
	HistorySize       int      // ring buffer length
	Interval          time.Duration
}

// Service computes deviations and executes at most one trade per trigger.
type Service struct {
	cfg      Config
	ledger   domain.Ledger
	oracle   domain.Oracle
	exchange domain.Exchange
	valuer   *consistency.PortfolioValuer
	coord    *guard.Coordinator
	archive  domain.RebalanceLogRepository
	log      *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	history       []domain.RebalanceRecord
	lastRebalance *time.Time
}

// NewService creates a rebalance service.
func NewService(
	cfg Config,
	ledger domain.Ledger,
	oracle domain.Oracle,
	exchange domain.Exchange,
	valuer *consistency.PortfolioValuer,
	coord *guard.Coordinator,
	archive domain.RebalanceLogRepository,
	log *slog.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		ledger:   ledger,
		oracle:   oracle,
		exchange: exchange,
		valuer:   valuer,
		coord:    coord,
		archive:  archive,
		log:      log,
		now:      time.Now,
	}
}

// portfolioView is one fresh read of everything a cycle reasons about:
// positions and targets aligned with cfg.Assets, plus the totals.
type portfolioView struct {
	positions      []domain.CurrentPosition
	targets        []domain.TargetAllocation
	totalValue     *big.Int
	totalLocked    *big.Int
	reserveBalance *big.Int
}

// snapshotPortfolio recomputes current positions (ledger balances × oracle
// prices) and target allocations (oracle locked-value shares) from
// scratch. Nothing here is cached.
func (s *Service) snapshotPortfolio(ctx context.Context) (*portfolioView, error) {
	locked, err := s.oracle.LockedValuePerAsset(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "rebalance.portfolio",
			"locked value query failed", err)
	}
	lockedByAsset := make(map[string]*big.Int, len(locked))
	totalLocked := new(big.Int)
	for _, lv := range locked {
		lockedByAsset[lv.Asset] = lv.Value
		totalLocked.Add(totalLocked, lv.Value)
	}
	if totalLocked.Sign() == 0 {
		return nil, domain.Errorf(domain.KindConsistency, "rebalance.portfolio",
			"oracle reports zero locked value for every asset")
	}

	totalValue, err := s.valuer.TotalValue(ctx)
	if err != nil {
		return nil, err
	}
	reserveBalance, err := s.ledger.BalanceOf(ctx, s.cfg.ReserveAsset, s.cfg.FundAccount)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "rebalance.portfolio",
			"reserve balance query failed", err)
	}

	view := &portfolioView{
		positions:      make([]domain.CurrentPosition, 0, len(s.cfg.Assets)),
		targets:        make([]domain.TargetAllocation, 0, len(s.cfg.Assets)),
		totalValue:     totalValue,
		totalLocked:    totalLocked,
		reserveBalance: reserveBalance,
	}
	totalValueDec := decimal.NewFromBigInt(totalValue, 0)
	totalLockedDec := decimal.NewFromBigInt(totalLocked, 0)

	for _, asset := range s.cfg.Assets {
		lockedValue, ok := lockedByAsset[asset.Symbol]
		if !ok {
			lockedValue = big.NewInt(0)
		}
		view.targets = append(view.targets, domain.TargetAllocation{
			Asset:       asset,
			LockedValue: lockedValue,
			Weight:      decimal.NewFromBigInt(lockedValue, 0).Div(totalLockedDec),
		})

		balance, err := s.ledger.BalanceOf(ctx, asset, s.cfg.FundAccount)
		if err != nil {
			return nil, domain.WrapError(domain.KindLedger, "rebalance.portfolio",
				"balance query failed for "+asset.Symbol, err)
		}
		value, err := s.valuer.AssetValue(ctx, asset)
		if err != nil {
			return nil, err
		}
		var weight decimal.Decimal
		if totalValue.Sign() > 0 {
			weight = decimal.NewFromBigInt(value, 0).Div(totalValueDec)
		}
		view.positions = append(view.positions, domain.CurrentPosition{
			Asset:   asset,
			Balance: balance,
			Value:   value,
			Weight:  weight,
		})
	}
	return view, nil
}

// Positions returns the fund's current holdings next to the targets the
// oracle implies, index-aligned per asset.
func (s *Service) Positions(ctx context.Context) ([]domain.CurrentPosition, []domain.TargetAllocation, error) {
	if err := s.coord.CheckNotPaused(); err != nil {
		return nil, nil, err
	}
	view, err := s.snapshotPortfolio(ctx)
	if err != nil {
		return nil, nil, err
	}
	return view.positions, view.targets, nil
}

// Deviations returns the signed per-asset gap between target and current
// value, plus the reserve balance available for buys.
func (s *Service) Deviations(ctx context.Context) ([]domain.AllocationDeviation, *big.Int, error) {
	if err := s.coord.CheckNotPaused(); err != nil {
		return nil, nil, err
	}
	view, err := s.snapshotPortfolio(ctx)
	if err != nil {
		return nil, nil, err
	}

	deviations := make([]domain.AllocationDeviation, 0, len(view.positions))
	for i, pos := range view.positions {
		// targetValue = totalValue × lockedShare
		targetValue, err := fundmath.MulDiv(view.totalValue, view.targets[i].LockedValue, view.totalLocked)
		if err != nil {
			return nil, nil, err
		}

		deviationValue := new(big.Int).Sub(targetValue, pos.Value)
		tradeSize, err := fundmath.ApplyBps(new(big.Int).Abs(deviationValue), s.cfg.TradeIntensityBps)
		if err != nil {
			return nil, nil, err
		}

		var pct decimal.Decimal
		if view.totalValue.Sign() > 0 {
			pct = decimal.NewFromBigInt(deviationValue, 0).
				Div(decimal.NewFromBigInt(view.totalValue, 0)).
				Mul(decimal.NewFromInt(100))
		}

		deviations = append(deviations, domain.AllocationDeviation{
			Asset:          pos.Asset,
			DeviationPct:   pct,
			DeviationValue: deviationValue,
			TradeSize:      tradeSize,
		})
	}
	return deviations, view.reserveBalance, nil
}

// decide picks at most one action. Buy priority: with reserve on hand, top
// up the most underweight asset; otherwise trim the most overweight one.
func (s *Service) decide(deviations []domain.AllocationDeviation, reserveBalance *big.Int) domain.RebalanceAction {
	var underweight, overweight *domain.AllocationDeviation
	for i := range deviations {
		d := &deviations[i]
		if d.DeviationValue.Sign() > 0 {
			if underweight == nil || d.DeviationValue.Cmp(underweight.DeviationValue) > 0 {
				underweight = d
			}
		}
		if d.DeviationValue.Sign() < 0 {
			if overweight == nil || d.DeviationValue.Cmp(overweight.DeviationValue) < 0 {
				overweight = d
			}
		}
	}

	if reserveBalance.Cmp(s.cfg.MinTradeSize) >= 0 && underweight != nil &&
		underweight.DeviationValue.Cmp(s.cfg.MinTradeSize) > 0 &&
		underweight.TradeSize.Cmp(s.cfg.MinTradeSize) >= 0 {
		amount := underweight.TradeSize
		if amount.Cmp(reserveBalance) > 0 {
			amount = reserveBalance
		}
		return domain.RebalanceAction{Kind: domain.ActionBuy, Asset: underweight.Asset.Symbol, Amount: amount}
	}

	if overweight != nil {
		excess := new(big.Int).Abs(overweight.DeviationValue)
		if excess.Cmp(s.cfg.MinTradeSize) > 0 && overweight.TradeSize.Cmp(s.cfg.MinTradeSize) >= 0 {
			return domain.RebalanceAction{Kind: domain.ActionSell, Asset: overweight.Asset.Symbol, Amount: overweight.TradeSize}
		}
	}

	return domain.RebalanceAction{Kind: domain.ActionNone}
}

// Trigger runs one rebalance cycle. A concurrency rejection (slot held or
// grace period) is returned to the caller; the scheduler treats it as a
// silent skip. The global slot is released unconditionally.
func (s *Service) Trigger(ctx context.Context) (*domain.RebalanceRecord, error) {
	if err := s.coord.CheckNotPaused(); err != nil {
		return nil, err
	}
	if err := s.coord.TryStart(guard.OpRebalance); err != nil {
		return nil, err
	}
	defer s.coord.End(guard.OpRebalance)

	deviations, reserveBalance, err := s.Deviations(ctx)
	if err != nil {
		record := s.record(domain.RebalanceAction{Kind: domain.ActionNone}, false,
			fmt.Sprintf("deviation computation failed: %v", err))
		return record, nil
	}

	action := s.decide(deviations, reserveBalance)
	switch action.Kind {
	case domain.ActionNone:
		return s.record(action, true, "portfolio within tolerance, no trade issued"), nil
	case domain.ActionBuy:
		return s.executeBuy(ctx, action), nil
	default:
		return s.executeSell(ctx, action), nil
	}
}

// executeBuy spends reserve to buy the underweight asset.
func (s *Service) executeBuy(ctx context.Context, action domain.RebalanceAction) *domain.RebalanceRecord {
	asset, ok := s.assetBySymbol(action.Asset)
	if !ok {
		return s.record(action, false, "unknown asset "+action.Asset)
	}
	actual, err := s.swap(ctx, s.cfg.ReserveAsset, action.Amount, asset)
	if err != nil {
		return s.record(action, false, fmt.Sprintf("buy failed: %v", err))
	}
	return s.record(action, true,
		fmt.Sprintf("bought %s %s for %s reserve units", actual, asset.Symbol, action.Amount))
}

// executeSell converts the overweight asset's excess reserve value into
// asset units via the oracle price, then sells that amount.
func (s *Service) executeSell(ctx context.Context, action domain.RebalanceAction) *domain.RebalanceRecord {
	asset, ok := s.assetBySymbol(action.Asset)
	if !ok {
		return s.record(action, false, "unknown asset "+action.Asset)
	}

	price, err := s.oracle.Price(ctx, asset)
	if err != nil {
		return s.record(action, false, fmt.Sprintf("price query failed: %v", err))
	}
	if price.Sign() == 0 {
		return s.record(action, false, "oracle price for "+asset.Symbol+" is zero")
	}
	wholeToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil)
	tokenAmount, err := fundmath.MulDiv(action.Amount, wholeToken, price)
	if err != nil {
		return s.record(action, false, fmt.Sprintf("sell sizing failed: %v", err))
	}

	balance, err := s.ledger.BalanceOf(ctx, asset, s.cfg.FundAccount)
	if err != nil {
		return s.record(action, false, fmt.Sprintf("balance query failed: %v", err))
	}
	if balance.Cmp(tokenAmount) < 0 {
		return s.record(action, false, fmt.Sprintf(
			"insufficient %s balance: have %s, selling %s", asset.Symbol, balance, tokenAmount))
	}

	sellAction := domain.RebalanceAction{Kind: domain.ActionSell, Asset: asset.Symbol, Amount: tokenAmount}
	actual, err := s.swap(ctx, asset, tokenAmount, s.cfg.ReserveAsset)
	if err != nil {
		return s.record(sellAction, false, fmt.Sprintf("sell failed: %v", err))
	}
	return s.record(sellAction, true,
		fmt.Sprintf("sold %s %s for %s reserve units", tokenAmount, asset.Symbol, actual))
}

// swap approves the exchange, quotes, executes and validates slippage by
// integer cross-multiplication. Positive slippage always passes.
func (s *Service) swap(ctx context.Context, pay domain.Asset, payAmount *big.Int, receive domain.Asset) (*big.Int, error) {
	if err := s.ledger.Approve(ctx, pay, s.cfg.ExchangeAccount, payAmount); err != nil {
		return nil, domain.WrapError(domain.KindExchange, "rebalance.swap",
			"exchange approval failed", err)
	}
	expected, err := s.exchange.Quote(ctx, pay, payAmount, receive)
	if err != nil {
		return nil, domain.WrapError(domain.KindExchange, "rebalance.swap", "quote failed", err)
	}
	actual, err := s.exchange.Swap(ctx, pay, payAmount, receive, s.cfg.MaxSlippageBps)
	if err != nil {
		return nil, domain.WrapError(domain.KindExchange, "rebalance.swap", "swap failed", err)
	}
	ok, err := fundmath.SlippageAcceptable(expected, actual, s.cfg.MaxSlippageBps)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Errorf(domain.KindExchange, "rebalance.swap",
			"slippage exceeded: expected %s, received %s, tolerance %d bps",
			expected, actual, s.cfg.MaxSlippageBps)
	}
	return actual, nil
}

// record appends the outcome to the bounded ring and the archival log, and
// updates the last-rebalance timestamp.
func (s *Service) record(action domain.RebalanceAction, success bool, details string) *domain.RebalanceRecord {
	now := s.now()
	rec := domain.RebalanceRecord{
		Timestamp: now,
		Action:    action,
		Success:   success,
		Details:   details,
	}

	s.mu.Lock()
	s.lastRebalance = &now
	s.history = append(s.history, rec)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.Append(context.Background(), &rec); err != nil {
			s.log.Error("failed to archive rebalance record", "error", err)
		}
	}

	if success {
		s.log.Info("rebalance cycle recorded",
			"action", string(action.Kind), "asset", action.Asset, "details", details)
	} else {
		s.log.Error("rebalance cycle failed",
			"action", string(action.Kind), "asset", action.Asset, "details", details)
	}
	return &rec
}

// LoadHistory seeds the in-memory ring from the archival log so History
// and Status survive a restart. Called once at startup, before the
// scheduler runs.
func (s *Service) LoadHistory(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	records, err := s.archive.ListRecent(ctx, s.cfg.HistorySize)
	if err != nil {
		return domain.WrapError(domain.KindLedger, "rebalance.history",
			"archive read failed", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = s.history[:0]
	// Stored newest first; the ring holds oldest first.
	for i := len(records) - 1; i >= 0; i-- {
		s.history = append(s.history, *records[i])
	}
	if n := len(s.history); n > 0 {
		last := s.history[n-1].Timestamp
		s.lastRebalance = &last
	}
	return nil
}

// History returns a copy of the recent records, oldest first.
func (s *Service) History() []domain.RebalanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RebalanceRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Status returns the scheduler monitoring view.
func (s *Service) Status() domain.RebalanceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.RebalanceStatus{
		RecentHistory: make([]domain.RebalanceRecord, len(s.history)),
	}
	copy(status.RecentHistory, s.history)
	if s.lastRebalance != nil {
		last := *s.lastRebalance
		next := last.Add(s.cfg.Interval)
		status.LastRebalance = &last
		status.NextRebalance = &next
	}
	return status
}

func (s *Service) assetBySymbol(symbol string) (domain.Asset, bool) {
	for _, asset := range s.cfg.Assets {
		if asset.Symbol == symbol {
			return asset, true
		}
	}
	return domain.Asset{}, false
}
