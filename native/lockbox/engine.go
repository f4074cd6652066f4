package lockbox

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"lockboxd/core/events"
	"lockboxd/core/types"
	"lockboxd/crypto"
)

var (
	errNilState   = errors.New("lockbox engine: state not configured")
	errNilGateway = errors.New("lockbox engine: gateway not configured")
)

// engineState is the narrow store contract the engine depends on. The
// sequence allocation and the record write happen under the host's
// serialization, so the engine itself never locks.
type engineState interface {
	LockboxPut(*Lockbox) error
	LockboxGet(id uint64) (*Lockbox, bool)
	NextLockboxID() (uint64, error)
}

// IntentKind discriminates outbound transfer intents.
type IntentKind uint8

const (
	// IntentNative moves native currency out of the ledger's vault.
	IntentNative IntentKind = iota + 1
	// IntentLedger asks an external token ledger to move value.
	IntentLedger
)

// TransferIntent is an outbound value movement the engine has decided on.
// The engine never executes transfers itself; the host settles intents only
// after the record write commits.
type TransferIntent struct {
	Kind   IntentKind
	Ledger crypto.Address
	To     crypto.Address
	Denom  string
	Amount *big.Int
}

// Gateway abstracts "send N units of asset X to address Y". Implementations
// construct intents and report the vault balance; they must not move value.
type Gateway interface {
	SendNative(to crypto.Address, denom string, amount *big.Int) (TransferIntent, error)
	SendViaLedger(ledger, to crypto.Address, amount *big.Int) (TransferIntent, error)
	NativeBalance(denom string) (*big.Int, error)
}

// Receipt reports the observable outcome of a lifecycle operation:
// structured attributes for callers and the transfer intents the host must
// settle after commit.
type Receipt struct {
	Attributes map[string]string
	Intents    []TransferIntent
	Deposited  *types.Coin
}

func newReceipt(method string) *Receipt {
	return &Receipt{Attributes: map[string]string{"method": method}}
}

type lockboxEvent struct {
	evt *types.Event
}

func (e lockboxEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lockboxEvent) Event() *types.Event { return e.evt }

// Engine implements the lockbox lifecycle transitions against a keyed store
// and a value-transfer gateway. All authorization, schedule and accounting
// checks live here.
type Engine struct {
	state   engineState
	gateway Gateway
	emitter events.Emitter
	blockFn func() BlockInfo
}

// NewEngine creates an engine with a no-op emitter and a wall-clock block
// source. Hosts override both during wiring.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		blockFn: func() BlockInfo { return BlockInfo{Time: time.Now().Unix()} },
	}
}

// SetState configures the store backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetGateway configures the value-transfer gateway.
func (e *Engine) SetGateway(gateway Gateway) { e.gateway = gateway }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetBlockFunc overrides the block source used for schedule evaluation.
// Primarily intended for tests to pin height and time.
func (e *Engine) SetBlockFunc(blockFn func() BlockInfo) {
	if blockFn == nil {
		e.blockFn = func() BlockInfo { return BlockInfo{Time: time.Now().Unix()} }
		return
	}
	e.blockFn = blockFn
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lockboxEvent{evt: event})
}

func (e *Engine) block() BlockInfo {
	if e == nil || e.blockFn == nil {
		return BlockInfo{Time: time.Now().Unix()}
	}
	return e.blockFn()
}

func (e *Engine) loadLockbox(id uint64) (*Lockbox, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	box, ok := e.state.LockboxGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return box, nil
}

// Create validates and persists a new lockbox. The claimant list and the
// funding mode are fixed for the lifetime of the record; the outstanding
// total starts at the sum of the claim amounts. No value moves at creation.
func (e *Engine) Create(owner string, rawClaims []RawClaim, expiration Schedule, funding FundingMode) (*Lockbox, *Receipt, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	ownerAddr, err := crypto.DecodeAddress(owner)
	if err != nil {
		return nil, nil, fmt.Errorf("lockbox: owner: %w", err)
	}
	if !expiration.Valid() {
		return nil, nil, fmt.Errorf("lockbox: expiration schedule required")
	}
	if expiration.Triggered(e.block()) {
		return nil, nil, ErrLockboxExpired
	}
	if !funding.Valid() {
		return nil, nil, ErrDenomNotSupported
	}
	claims := make([]Claim, 0, len(rawClaims))
	for _, raw := range rawClaims {
		addr, err := crypto.DecodeAddress(raw.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("lockbox: claim address: %w", err)
		}
		if raw.Amount == nil || raw.Amount.Sign() < 0 {
			return nil, nil, fmt.Errorf("lockbox: claim amount must be non-negative")
		}
		claims = append(claims, Claim{Addr: addr, Amount: new(big.Int).Set(raw.Amount)})
	}
	id, err := e.state.NextLockboxID()
	if err != nil {
		return nil, nil, err
	}
	box := &Lockbox{
		ID:          id,
		Owner:       ownerAddr,
		Claims:      claims,
		Expiration:  expiration,
		TotalAmount: ClaimTotal(claims),
		Funding:     funding,
	}
	if err := e.state.LockboxPut(box); err != nil {
		return nil, nil, err
	}
	receipt := newReceipt("create_lockbox")
	receipt.Attributes["id"] = strconv.FormatUint(id, 10)
	e.emit(NewCreatedEvent(box))
	return box.Clone(), receipt, nil
}

// Reset permanently revokes a lockbox and pays any already-deposited value
// back to the owner. Once reset, every further mutation fails.
//
// TODO: decide whether Reset should require the caller to be the lockbox
// owner; today anyone holding the id can revoke.
func (e *Engine) Reset(id uint64) (*Receipt, error) {
	box, err := e.loadLockbox(id)
	if err != nil {
		return nil, err
	}
	if box.Expiration.Triggered(e.block()) {
		return nil, ErrLockboxExpired
	}
	if box.Reset {
		return nil, ErrLockboxReset
	}
	payback := ClaimTotal(box.Claims)
	payback.Sub(payback, box.TotalAmount)
	receipt := newReceipt("reset")
	receipt.Attributes["payback_amount"] = payback.String()
	if payback.Sign() > 0 {
		intent, err := e.sendFunds(box.Funding, box.Owner, payback)
		if err != nil {
			return nil, err
		}
		receipt.Intents = append(receipt.Intents, intent)
	}
	box.Reset = true
	if err := e.state.LockboxPut(box); err != nil {
		return nil, err
	}
	e.emit(NewResetEvent(box, payback))
	return receipt, nil
}

// DepositNative applies an attached native payment to the outstanding total.
// The value has already arrived with the request, so no intent is emitted;
// the host credits the vault once the operation commits.
func (e *Engine) DepositNative(id uint64, funds []types.Coin) (*Receipt, error) {
	box, err := e.loadLockbox(id)
	if err != nil {
		return nil, err
	}
	if box.Expiration.Triggered(e.block()) {
		return nil, ErrLockboxExpired
	}
	if box.Reset {
		return nil, ErrLockboxReset
	}
	denom, ok := box.Funding.Denom()
	if !ok {
		return nil, ErrCW20TokensRequired
	}
	coin, ok := types.FindCoin(funds, denom)
	if !ok {
		return nil, ErrDenomNotSupported
	}
	if err := coin.Validate(); err != nil {
		return nil, err
	}
	if err := e.applyDeposit(box, coin.Amount); err != nil {
		return nil, err
	}
	receipt := newReceipt("deposit")
	receipt.Attributes["amount"] = coin.Amount.String()
	receipt.Deposited = &coin
	e.emit(NewDepositedEvent(box, coin.Amount))
	return receipt, nil
}

// Receive handles a deposit notification forwarded by an external token
// ledger. Anyone may call, but only the configured ledger contract's
// notifications are honored; that equality check is the authorization
// boundary for the token funding path.
func (e *Engine) Receive(sender string, amount *big.Int, payload []byte) (*Receipt, error) {
	senderAddr, err := crypto.DecodeAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("lockbox: notification sender: %w", err)
	}
	id, err := DecodeDepositNotification(payload)
	if err != nil {
		return nil, err
	}
	box, err := e.loadLockbox(id)
	if err != nil {
		return nil, err
	}
	if box.Expiration.Triggered(e.block()) {
		return nil, ErrLockboxExpired
	}
	if box.Reset {
		return nil, ErrLockboxReset
	}
	ledger, ok := box.Funding.Ledger()
	if !ok {
		return nil, ErrDenomNotSupported
	}
	if !senderAddr.Equal(ledger) {
		return nil, ErrUnauthorized
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("lockbox: notification amount must be non-negative")
	}
	if err := e.applyDeposit(box, amount); err != nil {
		return nil, err
	}
	receipt := newReceipt("deposit")
	receipt.Attributes["amount"] = amount.String()
	e.emit(NewDepositedEvent(box, amount))
	return receipt, nil
}

// Claim settles a single claimant's entitlement. Preconditions run in a
// fixed order: not reset, expiration fired, fully funded, claimant matches
// an unclaimed entry. Exactly one transfer intent results.
func (e *Engine) Claim(id uint64, claimant string) (*Receipt, error) {
	if e == nil || e.gateway == nil {
		return nil, errNilGateway
	}
	claimantAddr, err := crypto.DecodeAddress(claimant)
	if err != nil {
		return nil, fmt.Errorf("lockbox: claimant: %w", err)
	}
	box, err := e.loadLockbox(id)
	if err != nil {
		return nil, err
	}
	if box.Reset {
		return nil, ErrLockboxReset
	}
	if !box.Expiration.Triggered(e.block()) {
		return nil, ErrLockboxNotExpired
	}
	if box.TotalAmount.Sign() != 0 {
		return nil, ErrDepositClaimImbalance
	}
	idx := -1
	for i, c := range box.Claims {
		if c.Addr.Equal(claimantAddr) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrUnauthorized
	}
	if box.Claims[idx].Claimed {
		return nil, ErrAlreadyClaimed
	}
	amount := new(big.Int).Set(box.Claims[idx].Amount)
	if denom, ok := box.Funding.Denom(); ok {
		balance, err := e.gateway.NativeBalance(denom)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(amount) < 0 {
			return nil, ErrInsufficientFunds
		}
	}
	intent, err := e.sendFunds(box.Funding, box.Claims[idx].Addr, amount)
	if err != nil {
		return nil, err
	}
	box.Claims[idx].Claimed = true
	if err := e.state.LockboxPut(box); err != nil {
		return nil, err
	}
	receipt := newReceipt("claim")
	receipt.Attributes["amount"] = amount.String()
	receipt.Intents = append(receipt.Intents, intent)
	e.emit(NewClaimedEvent(box, box.Claims[idx].Addr, amount))
	return receipt, nil
}

// applyDeposit decrements the outstanding total, rejecting over-deposits
// with a typed error instead of letting the subtraction go negative.
func (e *Engine) applyDeposit(box *Lockbox, amount *big.Int) error {
	if amount.Cmp(box.TotalAmount) > 0 {
		return ErrDepositOverflow
	}
	box.TotalAmount = new(big.Int).Sub(box.TotalAmount, amount)
	return e.state.LockboxPut(box)
}

func (e *Engine) sendFunds(funding FundingMode, to crypto.Address, amount *big.Int) (TransferIntent, error) {
	if e.gateway == nil {
		return TransferIntent{}, errNilGateway
	}
	if denom, ok := funding.Denom(); ok {
		return e.gateway.SendNative(to, denom, amount)
	}
	ledger, ok := funding.Ledger()
	if !ok {
		return TransferIntent{}, ErrDenomNotSupported
	}
	return e.gateway.SendViaLedger(ledger, to, amount)
}
