package lockbox

import (
	"fmt"
	"math/big"
	"strings"

	"lockboxd/crypto"
)

// FundingKind discriminates how a lockbox moves value.
type FundingKind uint8

const (
	// FundingUnspecified is the invalid zero value. A lockbox can only be
	// built through NativeFunding or TokenFunding, so this kind never
	// reaches the store.
	FundingUnspecified FundingKind = iota
	// FundingNative locks value in a native denomination held by the
	// ledger's own vault.
	FundingNative
	// FundingToken delegates value movement to an external fungible-token
	// ledger contract.
	FundingToken
)

// FundingMode is a validated two-case union: exactly one of a native
// denomination or an external token-ledger address. The zero value is
// invalid, which removes the both-set and neither-set combinations from
// every downstream branch.
type FundingMode struct {
	kind   FundingKind
	denom  string
	ledger crypto.Address
}

// NativeFunding builds a native-denomination funding mode.
func NativeFunding(denom string) (FundingMode, error) {
	trimmed := strings.TrimSpace(denom)
	if trimmed == "" {
		return FundingMode{}, ErrDenomNotSupported
	}
	return FundingMode{kind: FundingNative, denom: trimmed}, nil
}

// TokenFunding builds a token-ledger funding mode.
func TokenFunding(ledger crypto.Address) (FundingMode, error) {
	if ledger.IsZero() {
		return FundingMode{}, ErrDenomNotSupported
	}
	return FundingMode{kind: FundingToken, ledger: ledger}, nil
}

// NewFundingMode resolves the raw create parameters into a funding mode.
// Supplying both or neither option fails with ErrDenomNotSupported.
func NewFundingMode(nativeDenom, tokenLedger string) (FundingMode, error) {
	hasDenom := strings.TrimSpace(nativeDenom) != ""
	hasLedger := strings.TrimSpace(tokenLedger) != ""
	switch {
	case hasDenom && hasLedger:
		return FundingMode{}, ErrDenomNotSupported
	case !hasDenom && !hasLedger:
		return FundingMode{}, ErrDenomNotSupported
	case hasDenom:
		return NativeFunding(nativeDenom)
	default:
		addr, err := crypto.DecodeAddress(tokenLedger)
		if err != nil {
			return FundingMode{}, fmt.Errorf("lockbox: token ledger address: %w", err)
		}
		return TokenFunding(addr)
	}
}

// Kind returns the funding discriminator.
func (m FundingMode) Kind() FundingKind { return m.kind }

// Valid reports whether the mode was built through a constructor.
func (m FundingMode) Valid() bool {
	switch m.kind {
	case FundingNative:
		return m.denom != ""
	case FundingToken:
		return !m.ledger.IsZero()
	default:
		return false
	}
}

// Denom returns the native denomination when the mode is native.
func (m FundingMode) Denom() (string, bool) {
	if m.kind != FundingNative {
		return "", false
	}
	return m.denom, true
}

// Ledger returns the token-ledger address when the mode is token backed.
func (m FundingMode) Ledger() (crypto.Address, bool) {
	if m.kind != FundingToken {
		return crypto.Address{}, false
	}
	return m.ledger, true
}

// BlockInfo is the ledger's view of the current chain position, supplied by
// an external block source. It is the only input to schedule evaluation.
type BlockInfo struct {
	Height uint64
	Time   int64
}

// ScheduleKind discriminates expiration triggers.
type ScheduleKind uint8

const (
	ScheduleAtHeight ScheduleKind = iota + 1
	ScheduleAtTime
)

// Schedule is a one-shot trigger at a block height or a unix timestamp.
type Schedule struct {
	kind   ScheduleKind
	height uint64
	time   int64
}

// AtHeight schedules the trigger for a block height.
func AtHeight(height uint64) Schedule {
	return Schedule{kind: ScheduleAtHeight, height: height}
}

// AtTime schedules the trigger for a unix timestamp in seconds.
func AtTime(unix int64) Schedule {
	return Schedule{kind: ScheduleAtTime, time: unix}
}

// Kind returns the schedule discriminator.
func (s Schedule) Kind() ScheduleKind { return s.kind }

// Height returns the trigger height for height schedules.
func (s Schedule) Height() uint64 { return s.height }

// Time returns the trigger timestamp for time schedules.
func (s Schedule) Time() int64 { return s.time }

// Valid reports whether the schedule was built through AtHeight or AtTime.
func (s Schedule) Valid() bool {
	return s.kind == ScheduleAtHeight || s.kind == ScheduleAtTime
}

// Triggered reports whether the schedule has fired at the given block.
func (s Schedule) Triggered(info BlockInfo) bool {
	switch s.kind {
	case ScheduleAtHeight:
		return info.Height >= s.height
	case ScheduleAtTime:
		return info.Time >= s.time
	default:
		return false
	}
}

// Claim is a single claimant's fixed entitlement within a lockbox.
type Claim struct {
	Addr    crypto.Address
	Amount  *big.Int
	Claimed bool
}

// RawClaim is the unvalidated create-time shape of a claim.
type RawClaim struct {
	Addr   string   `json:"addr"`
	Amount *big.Int `json:"amount"`
}

// Lockbox is the escrow unit: a funding target plus a fixed claimant list.
// TotalAmount is the outstanding amount still owed before the lockbox is
// fully funded; it only ever decreases.
type Lockbox struct {
	ID          uint64
	Owner       crypto.Address
	Claims      []Claim
	Expiration  Schedule
	TotalAmount *big.Int
	Reset       bool
	Funding     FundingMode
}

// Clone returns a deep copy so callers can mutate safely.
func (l *Lockbox) Clone() *Lockbox {
	if l == nil {
		return nil
	}
	clone := *l
	if l.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(l.TotalAmount)
	} else {
		clone.TotalAmount = big.NewInt(0)
	}
	clone.Claims = make([]Claim, len(l.Claims))
	for i, c := range l.Claims {
		clone.Claims[i] = Claim{Addr: c.Addr, Claimed: c.Claimed, Amount: big.NewInt(0)}
		if c.Amount != nil {
			clone.Claims[i].Amount = new(big.Int).Set(c.Amount)
		}
	}
	return &clone
}

// ClaimTotal sums the per-claim entitlements.
func ClaimTotal(claims []Claim) *big.Int {
	total := big.NewInt(0)
	for _, c := range claims {
		if c.Amount != nil {
			total.Add(total, c.Amount)
		}
	}
	return total
}

// SanitizeLockbox validates and normalises a lockbox before it is persisted.
// It returns a cloned instance and never mutates the original.
func SanitizeLockbox(l *Lockbox) (*Lockbox, error) {
	if l == nil {
		return nil, fmt.Errorf("lockbox: nil lockbox")
	}
	if l.ID == 0 {
		return nil, fmt.Errorf("lockbox: id not assigned")
	}
	if l.Owner.IsZero() {
		return nil, fmt.Errorf("lockbox: owner required")
	}
	if !l.Funding.Valid() {
		return nil, ErrDenomNotSupported
	}
	if !l.Expiration.Valid() {
		return nil, fmt.Errorf("lockbox: expiration schedule required")
	}
	clone := l.Clone()
	if clone.TotalAmount.Sign() < 0 {
		return nil, fmt.Errorf("lockbox: negative total amount")
	}
	for _, c := range clone.Claims {
		if c.Addr.IsZero() {
			return nil, fmt.Errorf("lockbox: claim address required")
		}
		if c.Amount.Sign() < 0 {
			return nil, fmt.Errorf("lockbox: negative claim amount")
		}
	}
	return clone, nil
}
