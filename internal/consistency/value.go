package consistency

import (
	"context"
	"math/big"

	"github.com/basketfi/fund-backend/internal/domain"
	"github.com/basketfi/fund-backend/internal/fundmath"
)

// PortfolioValuer computes the fund's total value by walking its ledger
// balances and pricing them through the oracle. Values are never cached:
// every call reads fresh balances and prices.
type PortfolioValuer struct {
	ledger  domain.Ledger
	oracle  domain.Oracle
	fund    domain.Account
	reserve domain.Asset
	assets  []domain.Asset
}

// NewPortfolioValuer creates a valuer over the fund's tracked assets plus
// its reserve-asset balance.
func NewPortfolioValuer(ledger domain.Ledger, oracle domain.Oracle, fund domain.Account, reserve domain.Asset, assets []domain.Asset) *PortfolioValuer {
	return &PortfolioValuer{
		ledger:  ledger,
		oracle:  oracle,
		fund:    fund,
		reserve: reserve,
		assets:  assets,
	}
}

// TotalValue returns the portfolio value in reserve base units.
func (v *PortfolioValuer) TotalValue(ctx context.Context) (*big.Int, error) {
	total, err := v.ledger.BalanceOf(ctx, v.reserve, v.fund)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "valuer.total",
			"reserve balance query failed", err)
	}
	total = new(big.Int).Set(total)

	for _, asset := range v.assets {
		value, err := v.AssetValue(ctx, asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// AssetValue returns the reserve-unit value of the fund's holding in one
// asset: balance × price / 10^decimals.
func (v *PortfolioValuer) AssetValue(ctx context.Context, asset domain.Asset) (*big.Int, error) {
	balance, err := v.ledger.BalanceOf(ctx, asset, v.fund)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "valuer.asset",
			"balance query failed for "+asset.Symbol, err)
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := v.oracle.Price(ctx, asset)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "valuer.asset",
			"price query failed for "+asset.Symbol, err)
	}
	wholeToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil)
	return fundmath.MulDiv(balance, price, wholeToken)
}
