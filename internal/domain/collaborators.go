package domain

import (
	"context"
	"math/big"
)

// Ledger is the external service holding all share and asset balances.
// The engine never caches balances as writable state; every mutation goes
// through these primitives.
type Ledger interface {
	// BalanceOf returns the account's balance in base units.
	BalanceOf(ctx context.Context, asset Asset, account Account) (*big.Int, error)

	// TotalSupply returns the circulating supply of the asset.
	TotalSupply(ctx context.Context, asset Asset) (*big.Int, error)

	// Transfer moves funds from the fund's own account.
	Transfer(ctx context.Context, asset Asset, to Account, amount *big.Int) error

	// TransferFrom moves funds between accounts using a prior approval.
	TransferFrom(ctx context.Context, asset Asset, from, to Account, amount *big.Int) error

	// Approve authorizes spender to pull up to amount from the fund account.
	Approve(ctx context.Context, asset Asset, spender Account, amount *big.Int) error

	// Allowance returns how much spender may still pull from owner.
	Allowance(ctx context.Context, asset Asset, owner, spender Account) (*big.Int, error)
}

// LockedValue is the oracle's externally-observed locked value for one asset,
// in reserve units.
type LockedValue struct {
	Asset string
	Value *big.Int
}

// Oracle reports externally-locked value per asset (the source of target
// weights) and spot prices. Caching is the oracle's concern, not ours.
type Oracle interface {
	// LockedValuePerAsset returns the locked value for every tracked asset.
	LockedValuePerAsset(ctx context.Context) ([]LockedValue, error)

	// Price returns the value of one whole token in reserve base units.
	Price(ctx context.Context, asset Asset) (*big.Int, error)
}

// Exchange executes trades at quoted prices.
type Exchange interface {
	// Quote returns the expected output of a swap without executing it.
	Quote(ctx context.Context, pay Asset, payAmount *big.Int, receive Asset) (*big.Int, error)

	// Swap executes the trade and returns the actual output. maxSlippageBps
	// is the tolerance in basis points forwarded to the venue.
	Swap(ctx context.Context, pay Asset, payAmount *big.Int, receive Asset, maxSlippageBps int64) (*big.Int, error)
}
