package extclient

import (
	"context"
	"math/big"

	"github.com/basketfi/fund-backend/internal/domain"
)

// ExchangeClient implements domain.Exchange against the trading venue
// gateway.
type ExchangeClient struct {
	*client
	baseURL string
}

// NewExchangeClient creates an exchange client.
func NewExchangeClient(cfg Config) *ExchangeClient {
	return &ExchangeClient{client: newClient(cfg), baseURL: cfg.ExchangeURL}
}

type quoteRequest struct {
	PayAsset     string `json:"pay_asset"`
	PayAmount    string `json:"pay_amount"`
	ReceiveAsset string `json:"receive_asset"`
}

type swapRequest struct {
	PayAsset       string `json:"pay_asset"`
	PayAmount      string `json:"pay_amount"`
	ReceiveAsset   string `json:"receive_asset"`
	MaxSlippageBps int64  `json:"max_slippage_bps"`
}

func (e *ExchangeClient) Quote(ctx context.Context, pay domain.Asset, payAmount *big.Int, receive domain.Asset) (*big.Int, error) {
	var resp amountResponse
	err := e.call(ctx, e.baseURL+"/quote", quoteRequest{
		PayAsset: pay.Symbol, PayAmount: payAmount.String(), ReceiveAsset: receive.Symbol,
	}, &resp)
	if err != nil {
		return nil, domain.WrapError(domain.KindExchange, "exchange.quote",
			"quote failed for "+pay.Symbol+"->"+receive.Symbol, err)
	}
	return parseAmount("exchange.quote", "amount", resp.Amount)
}

func (e *ExchangeClient) Swap(ctx context.Context, pay domain.Asset, payAmount *big.Int, receive domain.Asset, maxSlippageBps int64) (*big.Int, error) {
	var resp amountResponse
	err := e.call(ctx, e.baseURL+"/swap", swapRequest{
		PayAsset: pay.Symbol, PayAmount: payAmount.String(),
		ReceiveAsset: receive.Symbol, MaxSlippageBps: maxSlippageBps,
	}, &resp)
	if err != nil {
		return nil, domain.WrapError(domain.KindExchange, "exchange.swap",
			"swap failed for "+pay.Symbol+"->"+receive.Symbol, err)
	}
	return parseAmount("exchange.swap", "amount", resp.Amount)
}
