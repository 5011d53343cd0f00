// Package fundmath holds the pure arithmetic shared by mint, burn and
// rebalance. All functions use arbitrary-precision integers, are
// deterministic, do no I/O and never panic.
package fundmath

import (
	"math/big"

	"github.com/basketfi/fund-backend/internal/domain"
)

// MulDiv computes floor(a*b/c) with arbitrary precision. Inputs must be
// non-negative and c must be non-zero.
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	if a == nil || b == nil || c == nil {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.muldiv", "nil operand")
	}
	if a.Sign() < 0 || b.Sign() < 0 || c.Sign() < 0 {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.muldiv",
			"negative operand in (%s * %s) / %s", a, b, c)
	}
	if c.Sign() == 0 {
		return nil, domain.Errorf(domain.KindConsistency, "fundmath.muldiv",
			"division by zero in (%s * %s) / %s", a, b, c)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c), nil
}

// Rescale converts an amount between decimal precisions. Scaling down
// detects precision loss: a non-zero amount that would truncate to zero is
// an error rather than a silent loss.
func Rescale(amount *big.Int, fromDecimals, toDecimals uint32) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.rescale",
			"amount must be non-negative")
	}
	if fromDecimals == toDecimals {
		return new(big.Int).Set(amount), nil
	}
	if fromDecimals < toDecimals {
		factor := pow10(toDecimals - fromDecimals)
		return new(big.Int).Mul(amount, factor), nil
	}
	divisor := pow10(fromDecimals - toDecimals)
	if amount.Sign() != 0 && amount.Cmp(divisor) < 0 {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.rescale",
			"rescaling %s from %d to %d decimals would truncate to zero",
			amount, fromDecimals, toDecimals)
	}
	return new(big.Int).Quo(amount, divisor), nil
}

// MintAmount computes the shares to issue for a deposit.
//
// Bootstrap (zero supply or zero total value): the deposit rescaled to
// share decimals, a 1:1 seed. Otherwise proportional ownership:
// floor(rescale(deposit) * supply / rescale(totalValue)).
func MintAmount(deposit, supply, totalValue *big.Int, depositDecimals, shareDecimals uint32) (*big.Int, error) {
	if deposit == nil || deposit.Sign() <= 0 {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.mint",
			"deposit amount must be positive")
	}
	if supply == nil || totalValue == nil || supply.Sign() == 0 || totalValue.Sign() == 0 {
		return Rescale(deposit, depositDecimals, shareDecimals)
	}

	depositScaled, err := Rescale(deposit, depositDecimals, shareDecimals)
	if err != nil {
		return nil, err
	}
	valueScaled, err := Rescale(totalValue, depositDecimals, shareDecimals)
	if err != nil {
		return nil, err
	}
	minted, err := MulDiv(depositScaled, supply, valueScaled)
	if err != nil {
		return nil, err
	}
	if minted.Sign() == 0 {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.mint",
			"deposit %s too small: proportional share rounds to zero", deposit)
	}
	return minted, nil
}

// RedemptionShare computes the slice of one asset owed for burning
// burnAmount shares out of totalSupply: floor(burn * balance / supply).
func RedemptionShare(burnAmount, assetBalance, totalSupply *big.Int) (*big.Int, error) {
	if burnAmount == nil || burnAmount.Sign() <= 0 {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.redemption",
			"burn amount must be positive")
	}
	if totalSupply == nil || totalSupply.Sign() == 0 {
		return nil, domain.Errorf(domain.KindConsistency, "fundmath.redemption",
			"total supply is zero: no redemptions possible")
	}
	return MulDiv(burnAmount, assetBalance, totalSupply)
}

// WithinBurnLimit reports whether amount is at most 10% of supply, using
// integer cross-multiplication only: amount*100 <= supply*10.
func WithinBurnLimit(amount, supply *big.Int) bool {
	if amount == nil || supply == nil {
		return false
	}
	lhs := new(big.Int).Mul(amount, big.NewInt(100))
	rhs := new(big.Int).Mul(supply, big.NewInt(10))
	return lhs.Cmp(rhs) <= 0
}

// SlippageAcceptable reports whether actual output satisfies
// actual >= expected * (1 - maxSlippageBps/10000), by cross-multiplication.
// Positive slippage (actual above expected) always passes. A zero expected
// amount is invalid.
func SlippageAcceptable(expected, actual *big.Int, maxSlippageBps int64) (bool, error) {
	if expected == nil || expected.Sign() <= 0 {
		return false, domain.Errorf(domain.KindValidation, "fundmath.slippage",
			"expected amount must be positive")
	}
	if actual == nil || actual.Sign() < 0 {
		return false, domain.Errorf(domain.KindValidation, "fundmath.slippage",
			"actual amount must be non-negative")
	}
	if maxSlippageBps < 0 || maxSlippageBps > 10000 {
		return false, domain.Errorf(domain.KindValidation, "fundmath.slippage",
			"slippage tolerance %d bps out of range [0,10000]", maxSlippageBps)
	}
	if actual.Cmp(expected) >= 0 {
		return true, nil
	}
	// actual*10000 >= expected*(10000-bps)
	lhs := new(big.Int).Mul(actual, big.NewInt(10000))
	rhs := new(big.Int).Mul(expected, big.NewInt(10000-maxSlippageBps))
	return lhs.Cmp(rhs) >= 0, nil
}

// ApplyBps computes floor(amount * bps / 10000). Used for trade-intensity
// scaling.
func ApplyBps(amount *big.Int, bps int64) (*big.Int, error) {
	if bps < 0 {
		return nil, domain.Errorf(domain.KindValidation, "fundmath.bps",
			"basis points must be non-negative, got %d", bps)
	}
	return MulDiv(amount, big.NewInt(bps), big.NewInt(10000))
}

func pow10(n uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
