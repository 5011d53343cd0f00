package domain

import (
	"math/big"
	"time"
)

// RedemptionPayout is one asset slice successfully transferred during a burn.
type RedemptionPayout struct {
	Asset  string
	Amount *big.Int
}

// RedemptionFailure is one asset slice whose transfer failed. The shares are
// already burned at this point, so failures are reported per asset rather
// than rolled back.
type RedemptionFailure struct {
	Asset  string
	Amount *big.Int
	Reason string
}

// BurnReceipt is the partitioned outcome of a burn call.
type BurnReceipt struct {
	Successes   []RedemptionPayout
	Failures    []RedemptionFailure
	TotalBurned *big.Int
	Timestamp   time.Time
}
