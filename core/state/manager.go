package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lockboxd/core/types"
	"lockboxd/crypto"
	"lockboxd/storage"
)

// ErrInsufficientBalance is returned when a transfer would overdraw the
// source account.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

// Manager is the ledger store: lockbox records, the creation sequence and
// the native-currency accounts all live behind one keyed database. The
// Manager performs no locking; the hosting node serializes every
// read-modify-write sequence.
type Manager struct {
	db storage.Database
}

// NewManager wraps a database handle.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountStorageKey(addr crypto.Address) []byte {
	payload := addr.Bytes()
	buf := make([]byte, len(accountPrefix)+len(payload))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], payload)
	return ethcrypto.Keccak256(buf)
}

type storedBalance struct {
	Denom  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

// GetAccount loads an account, treating a missing record as an empty one.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	data, err := m.db.Get(accountStorageKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := types.NewAccount()
	account.Nonce = stored.Nonce
	for _, bal := range stored.Balances {
		account.SetBalance(bal.Denom, bal.Amount)
	}
	return account, nil
}

// PutAccount persists an account with a deterministic balance ordering.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	denoms := make([]string, 0, len(account.Balances))
	for denom := range account.Balances {
		denoms = append(denoms, denom)
	}
	sort.Strings(denoms)
	stored := &storedAccount{Nonce: account.Nonce}
	for _, denom := range denoms {
		stored.Balances = append(stored.Balances, storedBalance{Denom: denom, Amount: account.Balance(denom)})
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(accountStorageKey(addr), encoded)
}

// Credit adds amount to the account's balance. Used for genesis funding and
// settling inbound deposits into the vault.
func (m *Manager) Credit(addr crypto.Address, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.SetBalance(denom, new(big.Int).Add(account.Balance(denom), amount))
	return m.PutAccount(addr, account)
}

// Transfer moves amount between two accounts, failing without any write when
// the source balance cannot cover it.
func (m *Manager) Transfer(from, to crypto.Address, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	balance := fromAcc.Balance(denom)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	prev := new(big.Int).Set(balance)
	fromAcc.SetBalance(denom, balance.Sub(balance, amount))
	toAcc.SetBalance(denom, new(big.Int).Add(toAcc.Balance(denom), amount))
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	if err := m.PutAccount(to, toAcc); err != nil {
		// Re-credit the debited side so a failed second write does not
		// destroy value. Best effort: the backend that failed the credit
		// may fail this write too.
		fromAcc.SetBalance(denom, prev)
		_ = m.PutAccount(from, fromAcc)
		return err
	}
	return nil
}

// VaultAddress derives the deterministic module account holding deposited
// native value for a denomination.
func VaultAddress(denom string) crypto.Address {
	hash := ethcrypto.Keccak256(append(vaultPrefix, []byte(denom)...))
	return crypto.MustNewAddress(crypto.LBXPrefix, hash[12:])
}
