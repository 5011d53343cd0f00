package domain

import "math/big"

// Account identifies a caller or holder on the external ledger.
type Account string

// Anonymous is the unauthenticated caller identity. Mutating operations
// reject it.
const Anonymous Account = "anonymous"

// IsAnonymous reports whether the account may not perform mutating operations.
func (a Account) IsAnonymous() bool {
	return a == "" || a == Anonymous
}

// Asset describes one token held by the fund.
// TransferFee is charged by the asset's ledger on every transfer and is
// deducted from redemption payouts.
type Asset struct {
	Symbol      string
	Decimals    uint32
	TransferFee *big.Int
}

// NewAsset creates an asset with the given ledger transfer fee in base units.
func NewAsset(symbol string, decimals uint32, transferFee int64) Asset {
	return Asset{
		Symbol:      symbol,
		Decimals:    decimals,
		TransferFee: big.NewInt(transferFee),
	}
}
