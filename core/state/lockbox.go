package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lockboxd/crypto"
	"lockboxd/native/lockbox"
	"lockboxd/storage"
)

// Pagination bounds for LockboxList.
const (
	DefaultListLimit = 10
	MaxListLimit     = 30
)

func lockboxStorageKey(id uint64) []byte {
	buf := make([]byte, len(lockboxRecordPrefix)+8)
	copy(buf, lockboxRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(lockboxRecordPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

type storedClaim struct {
	AddrPrefix string
	Addr       []byte
	Amount     *big.Int
	Claimed    bool
}

type storedLockbox struct {
	ID             uint64
	OwnerPrefix    string
	Owner          []byte
	Claims         []storedClaim
	ScheduleKind   uint8
	ScheduleHeight uint64
	ScheduleTime   uint64
	TotalAmount    *big.Int
	Reset          bool
	FundingKind    uint8
	Denom          string
	LedgerPrefix   string
	Ledger         []byte
}

func newStoredLockbox(box *lockbox.Lockbox) (*storedLockbox, error) {
	stored := &storedLockbox{
		ID:          box.ID,
		OwnerPrefix: string(box.Owner.Prefix()),
		Owner:       box.Owner.Bytes(),
		TotalAmount: new(big.Int).Set(box.TotalAmount),
		Reset:       box.Reset,
		FundingKind: uint8(box.Funding.Kind()),
	}
	for _, c := range box.Claims {
		stored.Claims = append(stored.Claims, storedClaim{
			AddrPrefix: string(c.Addr.Prefix()),
			Addr:       c.Addr.Bytes(),
			Amount:     new(big.Int).Set(c.Amount),
			Claimed:    c.Claimed,
		})
	}
	stored.ScheduleKind = uint8(box.Expiration.Kind())
	stored.ScheduleHeight = box.Expiration.Height()
	if t := box.Expiration.Time(); t > 0 {
		stored.ScheduleTime = uint64(t)
	}
	if denom, ok := box.Funding.Denom(); ok {
		stored.Denom = denom
	}
	if ledger, ok := box.Funding.Ledger(); ok {
		stored.LedgerPrefix = string(ledger.Prefix())
		stored.Ledger = ledger.Bytes()
	}
	return stored, nil
}

func (s *storedLockbox) toLockbox() (*lockbox.Lockbox, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil lockbox record")
	}
	owner, err := crypto.NewAddress(crypto.AddressPrefix(s.OwnerPrefix), s.Owner)
	if err != nil {
		return nil, fmt.Errorf("state: lockbox owner: %w", err)
	}
	var funding lockbox.FundingMode
	switch lockbox.FundingKind(s.FundingKind) {
	case lockbox.FundingNative:
		funding, err = lockbox.NativeFunding(s.Denom)
	case lockbox.FundingToken:
		var ledger crypto.Address
		ledger, err = crypto.NewAddress(crypto.AddressPrefix(s.LedgerPrefix), s.Ledger)
		if err == nil {
			funding, err = lockbox.TokenFunding(ledger)
		}
	default:
		err = fmt.Errorf("state: unknown funding kind %d", s.FundingKind)
	}
	if err != nil {
		return nil, err
	}
	var expiration lockbox.Schedule
	switch lockbox.ScheduleKind(s.ScheduleKind) {
	case lockbox.ScheduleAtHeight:
		expiration = lockbox.AtHeight(s.ScheduleHeight)
	case lockbox.ScheduleAtTime:
		expiration = lockbox.AtTime(int64(s.ScheduleTime))
	default:
		return nil, fmt.Errorf("state: unknown schedule kind %d", s.ScheduleKind)
	}
	box := &lockbox.Lockbox{
		ID:          s.ID,
		Owner:       owner,
		Expiration:  expiration,
		TotalAmount: big.NewInt(0),
		Reset:       s.Reset,
		Funding:     funding,
	}
	if s.TotalAmount != nil {
		box.TotalAmount = new(big.Int).Set(s.TotalAmount)
	}
	for _, c := range s.Claims {
		addr, err := crypto.NewAddress(crypto.AddressPrefix(c.AddrPrefix), c.Addr)
		if err != nil {
			return nil, fmt.Errorf("state: claim address: %w", err)
		}
		amount := big.NewInt(0)
		if c.Amount != nil {
			amount = new(big.Int).Set(c.Amount)
		}
		box.Claims = append(box.Claims, lockbox.Claim{Addr: addr, Amount: amount, Claimed: c.Claimed})
	}
	return box, nil
}

// LockboxPut sanitizes and persists a lockbox record.
func (m *Manager) LockboxPut(box *lockbox.Lockbox) error {
	sanitized, err := lockbox.SanitizeLockbox(box)
	if err != nil {
		return err
	}
	stored, err := newStoredLockbox(sanitized)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(lockboxStorageKey(sanitized.ID), encoded)
}

// LockboxGet loads a lockbox record by id.
func (m *Manager) LockboxGet(id uint64) (*lockbox.Lockbox, bool) {
	data, err := m.db.Get(lockboxStorageKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedLockbox)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	box, err := stored.toLockbox()
	if err != nil {
		return nil, false
	}
	return box, true
}

// CurrentSequence reads the creation counter without advancing it.
func (m *Manager) CurrentSequence() (uint64, error) {
	data, err := m.db.Get(lockboxSeqKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("state: malformed sequence record")
	}
	return binary.BigEndian.Uint64(data), nil
}

// NextLockboxID advances the creation counter and returns the new id. The
// first allocation yields 1; ids are never reused.
func (m *Manager) NextLockboxID() (uint64, error) {
	current, err := m.CurrentSequence()
	if err != nil {
		return 0, err
	}
	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := m.db.Put(lockboxSeqKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

// LockboxList returns records in ascending id order, starting strictly
// after startAfter (0 means from the beginning). The limit defaults to
// DefaultListLimit and is capped at MaxListLimit. Ids are dense because
// records are never deleted, so the scan walks the sequence directly.
func (m *Manager) LockboxList(startAfter uint64, limit int) ([]*lockbox.Lockbox, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	seq, err := m.CurrentSequence()
	if err != nil {
		return nil, err
	}
	// A cursor at or past the end yields an empty page; this also keeps
	// startAfter+1 from wrapping at the uint64 boundary.
	if startAfter >= seq {
		return []*lockbox.Lockbox{}, nil
	}
	boxes := make([]*lockbox.Lockbox, 0, limit)
	for id := startAfter + 1; id <= seq && len(boxes) < limit; id++ {
		box, ok := m.LockboxGet(id)
		if !ok {
			return nil, fmt.Errorf("state: missing lockbox record %d", id)
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}
