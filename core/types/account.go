package types

import "math/big"

// Account tracks the native balances held by a ledger identity. The lockbox
// vault accounts use the same shape as regular participant accounts.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance table.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Balance returns the balance for denom, treating missing entries as zero.
func (a *Account) Balance(denom string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[denom]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// SetBalance stores a copy of amount under denom.
func (a *Account) SetBalance(denom string, amount *big.Int) {
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[denom] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	clone.Nonce = a.Nonce
	for denom, bal := range a.Balances {
		if bal != nil {
			clone.Balances[denom] = new(big.Int).Set(bal)
		}
	}
	return clone
}
