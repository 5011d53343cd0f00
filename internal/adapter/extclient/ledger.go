package extclient

import (
	"context"
	"math/big"

	"github.com/basketfi/fund-backend/internal/domain"
)

// LedgerClient implements domain.Ledger against the ledger gateway.
type LedgerClient struct {
	*client
	baseURL string
}

// NewLedgerClient creates a ledger client.
func NewLedgerClient(cfg Config) *LedgerClient {
	return &LedgerClient{client: newClient(cfg), baseURL: cfg.LedgerURL}
}

type balanceRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

func (l *LedgerClient) BalanceOf(ctx context.Context, asset domain.Asset, account domain.Account) (*big.Int, error) {
	var resp amountResponse
	err := l.call(ctx, l.baseURL+"/balance", balanceRequest{Asset: asset.Symbol, Account: string(account)}, &resp)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "ledger.balance_of",
			"balance query failed for "+asset.Symbol, err)
	}
	return parseAmount("ledger.balance_of", "balance", resp.Amount)
}

func (l *LedgerClient) TotalSupply(ctx context.Context, asset domain.Asset) (*big.Int, error) {
	var resp amountResponse
	err := l.call(ctx, l.baseURL+"/supply", struct {
		Asset string `json:"asset"`
	}{asset.Symbol}, &resp)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "ledger.total_supply",
			"supply query failed for "+asset.Symbol, err)
	}
	return parseAmount("ledger.total_supply", "supply", resp.Amount)
}

type transferRequest struct {
	Asset  string `json:"asset"`
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (l *LedgerClient) Transfer(ctx context.Context, asset domain.Asset, to domain.Account, amount *big.Int) error {
	err := l.call(ctx, l.baseURL+"/transfer", transferRequest{
		Asset: asset.Symbol, To: string(to), Amount: amount.String(),
	}, nil)
	if err != nil {
		return domain.WrapError(domain.KindLedger, "ledger.transfer",
			"transfer failed for "+asset.Symbol, err)
	}
	return nil
}

func (l *LedgerClient) TransferFrom(ctx context.Context, asset domain.Asset, from, to domain.Account, amount *big.Int) error {
	err := l.call(ctx, l.baseURL+"/transfer_from", transferRequest{
		Asset: asset.Symbol, From: string(from), To: string(to), Amount: amount.String(),
	}, nil)
	if err != nil {
		return domain.WrapError(domain.KindLedger, "ledger.transfer_from",
			"transfer_from failed for "+asset.Symbol, err)
	}
	return nil
}

type approveRequest struct {
	Asset   string `json:"asset"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (l *LedgerClient) Approve(ctx context.Context, asset domain.Asset, spender domain.Account, amount *big.Int) error {
	err := l.call(ctx, l.baseURL+"/approve", approveRequest{
		Asset: asset.Symbol, Spender: string(spender), Amount: amount.String(),
	}, nil)
	if err != nil {
		return domain.WrapError(domain.KindLedger, "ledger.approve",
			"approve failed for "+asset.Symbol, err)
	}
	return nil
}

type allowanceRequest struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

func (l *LedgerClient) Allowance(ctx context.Context, asset domain.Asset, owner, spender domain.Account) (*big.Int, error) {
	var resp amountResponse
	err := l.call(ctx, l.baseURL+"/allowance", allowanceRequest{
		Asset: asset.Symbol, Owner: string(owner), Spender: string(spender),
	}, &resp)
	if err != nil {
		return nil, domain.WrapError(domain.KindLedger, "ledger.allowance",
			"allowance query failed for "+asset.Symbol, err)
	}
	return parseAmount("ledger.allowance", "allowance", resp.Amount)
}
