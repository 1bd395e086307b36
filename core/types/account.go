package types

import "math/big"

// Account is the substrate record stored per 20-byte address. Balances are
// kept per asset outside the record so new assets never rewrite it.
type Account struct {
	// Owner is the authority allowed to move funds out of the account. A zero
	// owner means the account is controlled by the key behind its own address.
	Owner [20]byte `json:"owner"`
	Nonce uint64   `json:"nonce"`
}

// Controller resolves the effective signing authority for addr.
func (a *Account) Controller(addr [20]byte) [20]byte {
	if a == nil || a.Owner == ([20]byte{}) {
		return addr
	}
	return a.Owner
}

// TokenMetadata describes an asset registered with the substrate.
type TokenMetadata struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// Balance pairs an asset symbol with an amount in base units.
type Balance struct {
	Asset  string   `json:"asset"`
	Amount *big.Int `json:"amount"`
}
