package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TargetAllocation is the weight an asset should hold, derived from the
// oracle-reported externally-locked value. Weights are recomputed fresh on
// every read.
type TargetAllocation struct {
	Asset       Asset
	LockedValue *big.Int        // reserve units
	Weight      decimal.Decimal // fraction of total locked value, [0,1]
}

// CurrentPosition is what the fund actually holds in one asset.
type CurrentPosition struct {
	Asset   Asset
	Balance *big.Int        // asset base units
	Value   *big.Int        // reserve units (balance × price)
	Weight  decimal.Decimal // fraction of total portfolio value, [0,1]
}

// AllocationDeviation is the signed difference between target and current,
// in both percentage and reserve-currency terms. Positive means the asset is
// underweight (the fund should buy).
type AllocationDeviation struct {
	Asset          Asset
	DeviationPct   decimal.Decimal
	DeviationValue *big.Int // reserve units, signed
	TradeSize      *big.Int // |DeviationValue| × trade intensity, reserve units
}

// RebalanceActionKind tags the action variants.
type RebalanceActionKind string

const (
	ActionNone RebalanceActionKind = "NONE"
	ActionBuy  RebalanceActionKind = "BUY"
	ActionSell RebalanceActionKind = "SELL"
)

// RebalanceAction is the single bounded trade chosen for one cycle.
// Amount is in reserve units for a buy and asset base units for a sell.
type RebalanceAction struct {
	Kind   RebalanceActionKind
	Asset  string
	Amount *big.Int
}

// RebalanceRecord is an immutable log entry for one rebalance cycle.
type RebalanceRecord struct {
	Timestamp time.Time
	Action    RebalanceAction
	Success   bool
	Details   string
}

// RebalanceStatus is the scheduler's monitoring view.
type RebalanceStatus struct {
	LastRebalance *time.Time
	NextRebalance *time.Time
	RecentHistory []RebalanceRecord
}
