package extclient

import (
	"context"
	"math/big"

	"github.com/basketfi/fund-backend/internal/domain"
)

// OracleClient implements domain.Oracle against the oracle gateway.
type OracleClient struct {
	*client
	baseURL string
}

// NewOracleClient creates an oracle client.
func NewOracleClient(cfg Config) *OracleClient {
	return &OracleClient{client: newClient(cfg), baseURL: cfg.OracleURL}
}

type lockedValueEntry struct {
	Asset string `json:"asset"`
	Value string `json:"value"`
}

func (o *OracleClient) LockedValuePerAsset(ctx context.Context) ([]domain.LockedValue, error) {
	var resp struct {
		Values []lockedValueEntry `json:"values"`
	}
	if err := o.call(ctx, o.baseURL+"/locked_values", struct{}{}, &resp); err != nil {
		return nil, domain.WrapError(domain.KindLedger, "oracle.locked_values",
			"locked value query failed", err)
	}

	values := make([]domain.LockedValue, 0, len(resp.Values))
	for _, entry := range resp.Values {
		value, err := parseAmount("oracle.locked_values", "value", entry.Value)
		if err != nil {
			return nil, err
		}
		values = append(values, domain.LockedValue{Asset: entry.Asset, Value: value})
	}
	return values, nil
}

func (o *OracleClient) Price(ctx context.Context, asset domain.Asset) (*big.Int, error) {
	var resp struct {
		Price string `json:"price"`
	}
	err := o.call(ctx, o.baseURL+"/price", struct {
		Asset string `json:"asset"`
	}{asset.Symbol}, &resp)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "oracle.price",
			"price query failed for "+asset.Symbol, err)
	}
	return parseAmount("oracle.price", "price", resp.Price)
}
