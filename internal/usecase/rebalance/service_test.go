package rebalance

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/basketfi/fund-backend/internal/consistency"
	"github.com/basketfi/fund-backend/internal/domain"
	"github.com/basketfi/fund-backend/internal/guard"
)

// MockLedger is a mock implementation of domain.Ledger for testing
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) BalanceOf(ctx context.Context, asset domain.Asset, account domain.Account) (*big.Int, error) {
	args := m.Called(ctx, asset, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockLedger) TotalSupply(ctx context.Context, asset domain.Asset) (*big.Int, error) {
	args := m.Called(ctx, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockLedger) Transfer(ctx context.Context, asset domain.Asset, to domain.Account, amount *big.Int) error {
	args := m.Called(ctx, asset, to, amount)
	return args.Error(0)
}

func (m *MockLedger) TransferFrom(ctx context.Context, asset domain.Asset, from, to domain.Account, amount *big.Int) error {
	args := m.Called(ctx, asset, from, to, amount)
	return args.Error(0)
}

func (m *MockLedger) Approve(ctx context.Context, asset domain.Asset, spender domain.Account, amount *big.Int) error {
	args := m.Called(ctx, asset, spender, amount)
	return args.Error(0)
}

func (m *MockLedger) Allowance(ctx context.Context, asset domain.Asset, owner, spender domain.Account) (*big.Int, error) {
	args := m.Called(ctx, asset, owner, spender)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

// MockRebalanceLog is a mock implementation of domain.RebalanceLogRepository
// for testing
type MockRebalanceLog struct {
	mock.Mock
}

func (m *MockRebalanceLog) Append(ctx context.Context, record *domain.RebalanceRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRebalanceLog) ListRecent(ctx context.Context, limit int) ([]*domain.RebalanceRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RebalanceRecord), args.Error(1)
}

// MockOracle is a mock implementation of domain.Oracle for testing
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) LockedValuePerAsset(ctx context.Context) ([]domain.LockedValue, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LockedValue), args.Error(1)
}

func (m *MockOracle) Price(ctx context.Context, asset domain.Asset) (*big.Int, error) {
	args := m.Called(ctx, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

// MockExchange is a mock implementation of domain.Exchange for testing
type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) Quote(ctx context.Context, pay domain.Asset, payAmount *big.Int, receive domain.Asset) (*big.Int, error) {
	args := m.Called(ctx, pay, payAmount, receive)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockExchange) Swap(ctx context.Context, pay domain.Asset, payAmount *big.Int, receive domain.Asset, maxSlippageBps int64) (*big.Int, error) {
	args := m.Called(ctx, pay, payAmount, receive, maxSlippageBps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

var (
	reserveAsset = domain.Asset{Symbol: "ckUSDT", Decimals: 6, TransferFee: big.NewInt(10)}
	alexAsset    = domain.Asset{Symbol: "ALEX", Decimals: 8, TransferFee: big.NewInt(10000)}
	zeroAsset    = domain.Asset{Symbol: "ZERO", Decimals: 8, TransferFee: big.NewInt(10000)}
)

func newTestService(ledger *MockLedger, oracle *MockOracle, exchange *MockExchange) *Service {
	cfg := Config{
		ReserveAsset:      reserveAsset,
		Assets:            []domain.Asset{alexAsset, zeroAsset},
		FundAccount:       "fund",
		ExchangeAccount:   "dex",
		TradeIntensityBps: 1000, // 10% of the deviation per cycle
		MaxSlippageBps:    200,
		MinTradeSize:      big.NewInt(1_000_000),
		HistorySize:       10,
		Interval:          time.Hour,
	}
	valuer := consistency.NewPortfolioValuer(ledger, oracle, cfg.FundAccount, reserveAsset, cfg.Assets)
	coord := guard.NewCoordinator(0)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(cfg, ledger, oracle, exchange, valuer, coord, nil, log)
}

func TestTrigger_BuysMostUnderweightAsset(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	oracle := new(MockOracle)
	exchange := new(MockExchange)
	svc := newTestService(ledger, oracle, exchange)

	// Fund holds 100 ALEX at 1 ckUSDT each (100e6 value), no ZERO, and
	// 100 ckUSDT of reserve. Targets are 50/50, so ZERO is underweight by
	// its full 100e6 target.
	oracle.On("LockedValuePerAsset", ctx).Return([]domain.LockedValue{
		{Asset: "ALEX", Value: big.NewInt(50)},
		{Asset: "ZERO", Value: big.NewInt(50)},
	}, nil)
	ledger.On("BalanceOf", ctx, reserveAsset, domain.Account("fund")).Return(big.NewInt(100_000_000), nil)
	ledger.On("BalanceOf", ctx, alexAsset, domain.Account("fund")).Return(big.NewInt(100_00000000), nil)
	ledger.On("BalanceOf", ctx, zeroAsset, domain.Account("fund")).Return(big.NewInt(0), nil)
	oracle.On("Price", ctx, alexAsset).Return(big.NewInt(1_000_000), nil)

	// 10% of the 100e6 deviation.
	tradeSize := big.NewInt(10_000_000)
	ledger.On("Approve", ctx, reserveAsset, domain.Account("dex"), tradeSize).Return(nil)
	exchange.On("Quote", ctx, reserveAsset, tradeSize, zeroAsset).Return(big.NewInt(10_00000000), nil)
	exchange.On("Swap", ctx, reserveAsset, tradeSize, zeroAsset, int64(200)).Return(big.NewInt(10_00000000), nil)

	rec, err := svc.Trigger(ctx)

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Success)
	assert.Equal(t, domain.ActionBuy, rec.Action.Kind)
	assert.Equal(t, "ZERO", rec.Action.Asset)
	assert.Equal(t, 0, rec.Action.Amount.Cmp(tradeSize))
	exchange.AssertExpectations(t)
	ledger.AssertExpectations(t)
}

func TestTrigger_SellsOverweightAssetWhenReserveEmpty(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	oracle := new(MockOracle)
	exchange := new(MockExchange)
	svc := newTestService(ledger, oracle, exchange)

	// 200 ALEX at 1 ckUSDT (200e6 value), nothing else. Targets 50/50, so
	// ALEX carries a 100e6 excess and no reserve is available to buy ZERO.
	oracle.On("LockedValuePerAsset", ctx).Return([]domain.LockedValue{
		{Asset: "ALEX", Value: big.NewInt(50)},
		{Asset: "ZERO", Value: big.NewInt(50)},
	}, nil)
	ledger.On("BalanceOf", ctx, reserveAsset, domain.Account("fund")).Return(big.NewInt(0), nil)
	ledger.On("BalanceOf", ctx, alexAsset, domain.Account("fund")).Return(big.NewInt(200_00000000), nil)
	ledger.On("BalanceOf", ctx, zeroAsset, domain.Account("fund")).Return(big.NewInt(0), nil)
	oracle.On("Price", ctx, alexAsset).Return(big.NewInt(1_000_000), nil)

	// 10% of the 100e6 excess is 10e6 reserve units, which at 1 ckUSDT per
	// token converts to 10e8 ALEX base units.
	tokenAmount := big.NewInt(10_00000000)
	ledger.On("Approve", ctx, alexAsset, domain.Account("dex"), tokenAmount).Return(nil)
	exchange.On("Quote", ctx, alexAsset, tokenAmount, reserveAsset).Return(big.NewInt(10_000_000), nil)
	exchange.On("Swap", ctx, alexAsset, tokenAmount, reserveAsset, int64(200)).Return(big.NewInt(10_000_000), nil)

	rec, err := svc.Trigger(ctx)

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Success)
	assert.Equal(t, domain.ActionSell, rec.Action.Kind)
	assert.Equal(t, "ALEX", rec.Action.Asset)
	assert.Equal(t, 0, rec.Action.Amount.Cmp(tokenAmount))
	exchange.AssertExpectations(t)
}

func TestTrigger_BalancedPortfolioIssuesNoTrade(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	oracle := new(MockOracle)
	exchange := new(MockExchange)
	svc := newTestService(ledger, oracle, exchange)

	// Both assets sit exactly on their 50/50 targets.
	oracle.On("LockedValuePerAsset", ctx).Return([]domain.LockedValue{
		{Asset: "ALEX", Value: big.NewInt(50)},
		{Asset: "ZERO", Value: big.NewInt(50)},
	}, nil)
	ledger.On("BalanceOf", ctx, reserveAsset, domain.Account("fund")).Return(big.NewInt(0), nil)
	ledger.On("BalanceOf", ctx, alexAsset, domain.Account("fund")).Return(big.NewInt(100_00000000), nil)
	ledger.On("BalanceOf", ctx, zeroAsset, domain.Account("fund")).Return(big.NewInt(100_00000000), nil)
	oracle.On("Price", ctx, alexAsset).Return(big.NewInt(1_000_000), nil)
	oracle.On("Price", ctx, zeroAsset).Return(big.NewInt(1_000_000), nil)

	rec, err := svc.Trigger(ctx)

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Success)
	assert.Equal(t, domain.ActionNone, rec.Action.Kind)
	exchange.AssertNotCalled(t, "Swap", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTrigger_RejectsExcessiveSlippage(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	oracle := new(MockOracle)
	exchange := new(MockExchange)
	svc := newTestService(ledger, oracle, exchange)

	oracle.On("LockedValuePerAsset", ctx).Return([]domain.LockedValue{
		{Asset: "ALEX", Value: big.NewInt(50)},
		{Asset: "ZERO", Value: big.NewInt(50)},
	}, nil)
	ledger.On("BalanceOf", ctx, reserveAsset, domain.Account("fund")).Return(big.NewInt(100_000_000), nil)
	ledger.On("BalanceOf", ctx, alexAsset, domain.Account("fund")).Return(big.NewInt(100_00000000), nil)
	ledger.On("BalanceOf", ctx, zeroAsset, domain.Account("fund")).Return(big.NewInt(0), nil)
	oracle.On("Price", ctx, alexAsset).Return(big.NewInt(1_000_000), nil)

	tradeSize := big.NewInt(10_000_000)
	ledger.On("Approve", ctx, reserveAsset, domain.Account("dex"), tradeSize).Return(nil)
	// Quoted 10 tokens, received 9.7: a 3% shortfall against a 2% tolerance.
	exchange.On("Quote", ctx, reserveAsset, tradeSize, zeroAsset).Return(big.NewInt(10_00000000), nil)
	exchange.On("Swap", ctx, reserveAsset, tradeSize, zeroAsset, int64(200)).Return(big.NewInt(9_70000000), nil)

	rec, err := svc.Trigger(ctx)

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Details, "slippage exceeded")
}

func TestTrigger_BlockedWhileMintActive(t *testing.T) {
	ledger := new(MockLedger)
	oracle := new(MockOracle)
	exchange := new(MockExchange)
	svc := newTestService(ledger, oracle, exchange)

	require.NoError(t, svc.coord.TryStart(guard.OpMint))
	defer svc.coord.End(guard.OpMint)

	rec, err := svc.Trigger(context.Background())

	assert.Nil(t, rec)
	assert.True(t, domain.IsKind(err, domain.KindConcurrency))
	oracle.AssertNotCalled(t, "LockedValuePerAsset", mock.Anything)
}

func TestTrigger_BlockedWhilePaused(t *testing.T) {
	svc := newTestService(new(MockLedger), new(MockOracle), new(MockExchange))
	svc.coord.Pause()

	rec, err := svc.Trigger(context.Background())

	assert.Nil(t, rec)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestHistory_BoundedRing(t *testing.T) {
	svc := newTestService(new(MockLedger), new(MockOracle), new(MockExchange))
	svc.cfg.HistorySize = 3

	for i := 0; i < 5; i++ {
		svc.record(domain.RebalanceAction{Kind: domain.ActionNone}, true, "cycle")
	}

	history := svc.History()
	assert.Len(t, history, 3)

	status := svc.Status()
	require.NotNil(t, status.LastRebalance)
	require.NotNil(t, status.NextRebalance)
	assert.Equal(t, status.LastRebalance.Add(svc.cfg.Interval), *status.NextRebalance)
	assert.Len(t, status.RecentHistory, 3)
}

func TestPositions_ReportsCurrentAndTargetWeights(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	oracle := new(MockOracle)
	svc := newTestService(ledger, oracle, new(MockExchange))

	// 100 ALEX at 1 ckUSDT plus 100 ckUSDT reserve: ALEX holds half the
	// portfolio value but the oracle wants a 50/50 ALEX/ZERO split.
	oracle.On("LockedValuePerAsset", ctx).Return([]domain.LockedValue{
		{Asset: "ALEX", Value: big.NewInt(50)},
		{Asset: "ZERO", Value: big.NewInt(50)},
	}, nil)
	ledger.On("BalanceOf", ctx, reserveAsset, domain.Account("fund")).Return(big.NewInt(100_000_000), nil)
	ledger.On("BalanceOf", ctx, alexAsset, domain.Account("fund")).Return(big.NewInt(100_00000000), nil)
	ledger.On("BalanceOf", ctx, zeroAsset, domain.Account("fund")).Return(big.NewInt(0), nil)
	oracle.On("Price", ctx, alexAsset).Return(big.NewInt(1_000_000), nil)

	positions, targets, err := svc.Positions(ctx)

	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Len(t, targets, 2)

	assert.Equal(t, "ALEX", positions[0].Asset.Symbol)
	assert.Equal(t, 0, positions[0].Balance.Cmp(big.NewInt(100_00000000)))
	assert.Equal(t, 0, positions[0].Value.Cmp(big.NewInt(100_000_000)))
	assert.True(t, positions[0].Weight.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, positions[1].Weight.IsZero())

	assert.True(t, targets[0].Weight.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, targets[1].Weight.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 0, targets[1].LockedValue.Cmp(big.NewInt(50)))
}

func TestLoadHistory_RestoresRingAfterRestart(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(new(MockLedger), new(MockOracle), new(MockExchange))

	older := &domain.RebalanceRecord{
		Timestamp: time.Now().Add(-2 * time.Hour),
		Action:    domain.RebalanceAction{Kind: domain.ActionNone},
		Success:   true,
		Details:   "portfolio within tolerance, no trade issued",
	}
	newer := &domain.RebalanceRecord{
		Timestamp: time.Now().Add(-time.Hour),
		Action:    domain.RebalanceAction{Kind: domain.ActionBuy, Asset: "ZERO", Amount: big.NewInt(10_000_000)},
		Success:   true,
		Details:   "bought 10_00000000 ZERO for 10_000_000 reserve units",
	}

	archive := new(MockRebalanceLog)
	archive.On("ListRecent", ctx, svc.cfg.HistorySize).
		Return([]*domain.RebalanceRecord{newer, older}, nil)
	svc.archive = archive

	require.NoError(t, svc.LoadHistory(ctx))

	history := svc.History()
	require.Len(t, history, 2)
	assert.Equal(t, older.Timestamp, history[0].Timestamp)
	assert.Equal(t, newer.Timestamp, history[1].Timestamp)

	status := svc.Status()
	require.NotNil(t, status.LastRebalance)
	assert.Equal(t, newer.Timestamp, *status.LastRebalance)
	archive.AssertExpectations(t)
}

func TestDeviations_ZeroLockedValueFailsClosed(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	oracle := new(MockOracle)
	svc := newTestService(ledger, oracle, new(MockExchange))

	oracle.On("LockedValuePerAsset", ctx).Return([]domain.LockedValue{
		{Asset: "ALEX", Value: big.NewInt(0)},
		{Asset: "ZERO", Value: big.NewInt(0)},
	}, nil)

	_, _, err := svc.Deviations(ctx)

	assert.True(t, domain.IsKind(err, domain.KindConsistency))
}
