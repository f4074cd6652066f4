package core

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"lockboxd/core/events"
	"lockboxd/core/state"
	"lockboxd/core/types"
	"lockboxd/crypto"
	"lockboxd/native/lockbox"
)

// BlockSource supplies the current chain position for expiration-schedule
// evaluation. It is read-only and side-effect free.
type BlockSource interface {
	BlockInfo() lockbox.BlockInfo
}

// TickingSource derives a monotonically increasing height from wall-clock
// time: one block per interval since the configured start. It stands in for
// a consensus-provided height oracle when the daemon runs standalone.
type TickingSource struct {
	start    time.Time
	interval time.Duration
}

// NewTickingSource creates a block source advancing one height per interval.
func NewTickingSource(start time.Time, interval time.Duration) *TickingSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &TickingSource{start: start, interval: interval}
}

func (s *TickingSource) BlockInfo() lockbox.BlockInfo {
	now := time.Now()
	elapsed := now.Sub(s.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return lockbox.BlockInfo{
		Height: uint64(elapsed/s.interval) + 1,
		Time:   now.Unix(),
	}
}

// Node hosts the lifecycle engine: it serializes every operation behind one
// mutex, hands the engine its store and gateway, and settles the returned
// transfer intents only after the record write has committed. If settling
// fails the prior record is restored, keeping each request all-or-nothing.
type Node struct {
	mu      sync.Mutex
	state   *state.Manager
	engine  *lockbox.Engine
	blocks  BlockSource
	emitter events.Emitter
}

// NewNode wires a node over the given ledger store.
func NewNode(manager *state.Manager) (*Node, error) {
	if manager == nil {
		return nil, fmt.Errorf("core: state manager required")
	}
	node := &Node{
		state:   manager,
		blocks:  NewTickingSource(time.Now(), time.Second),
		emitter: events.NoopEmitter{},
	}
	engine := lockbox.NewEngine()
	engine.SetState(manager)
	engine.SetGateway(node)
	engine.SetBlockFunc(node.blockInfo)
	node.engine = engine
	return node, nil
}

// SetBlockSource overrides the height/time oracle.
func (n *Node) SetBlockSource(source BlockSource) {
	if source == nil {
		return
	}
	n.blocks = source
}

// SetEmitter configures where lifecycle events are broadcast.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
	n.engine.SetEmitter(emitter)
}

func (n *Node) blockInfo() lockbox.BlockInfo {
	return n.blocks.BlockInfo()
}

// --- lockbox.Gateway ---

// SendNative constructs a vault-to-recipient native transfer intent.
func (n *Node) SendNative(to crypto.Address, denom string, amount *big.Int) (lockbox.TransferIntent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return lockbox.TransferIntent{}, fmt.Errorf("core: transfer amount must be positive")
	}
	return lockbox.TransferIntent{
		Kind:   lockbox.IntentNative,
		To:     to,
		Denom:  denom,
		Amount: new(big.Int).Set(amount),
	}, nil
}

// SendViaLedger constructs a transfer request addressed to an external token
// ledger. The ledger contract executes it; nothing settles locally.
func (n *Node) SendViaLedger(ledger, to crypto.Address, amount *big.Int) (lockbox.TransferIntent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return lockbox.TransferIntent{}, fmt.Errorf("core: transfer amount must be positive")
	}
	return lockbox.TransferIntent{
		Kind:   lockbox.IntentLedger,
		Ledger: ledger,
		To:     to,
		Amount: new(big.Int).Set(amount),
	}, nil
}

// NativeBalance reports the vault balance backing a denomination.
func (n *Node) NativeBalance(denom string) (*big.Int, error) {
	account, err := n.state.GetAccount(state.VaultAddress(denom))
	if err != nil {
		return nil, err
	}
	return account.Balance(denom), nil
}

// --- lifecycle operations ---

// LockboxCreate creates a new lockbox and reports its id.
func (n *Node) LockboxCreate(owner string, claims []lockbox.RawClaim, expiration lockbox.Schedule, funding lockbox.FundingMode) (*lockbox.Lockbox, *lockbox.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Create(owner, claims, expiration, funding)
}

// LockboxReset revokes a lockbox and settles the payback intent, if any.
func (n *Node) LockboxReset(id uint64) (*lockbox.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	before, _ := n.state.LockboxGet(id)
	receipt, err := n.engine.Reset(id)
	if err != nil {
		return nil, err
	}
	if err := n.settleIntents(receipt.Intents); err != nil {
		n.restore(before)
		return nil, err
	}
	return receipt, nil
}

// LockboxDeposit applies an attached native payment from a depositor
// account. The depositor is debited into the denomination's vault in the
// same serialized section as the record update.
func (n *Node) LockboxDeposit(id uint64, from string, funds []types.Coin) (*lockbox.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fromAddr, err := crypto.DecodeAddress(from)
	if err != nil {
		return nil, fmt.Errorf("core: depositor: %w", err)
	}
	before, _ := n.state.LockboxGet(id)
	receipt, err := n.engine.DepositNative(id, funds)
	if err != nil {
		return nil, err
	}
	if receipt.Deposited != nil && receipt.Deposited.Amount.Sign() > 0 {
		coin := receipt.Deposited
		if err := n.state.Transfer(fromAddr, state.VaultAddress(coin.Denom), coin.Denom, coin.Amount); err != nil {
			n.restore(before)
			return nil, err
		}
	}
	return receipt, nil
}

// LockboxReceive applies a deposit notification forwarded by a token ledger.
// The value moved on the external ledger already, so nothing settles here.
func (n *Node) LockboxReceive(sender string, amount *big.Int, payload []byte) (*lockbox.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Receive(sender, amount, payload)
}

// LockboxClaim settles one claimant's entitlement.
func (n *Node) LockboxClaim(id uint64, claimant string) (*lockbox.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	before, _ := n.state.LockboxGet(id)
	receipt, err := n.engine.Claim(id, claimant)
	if err != nil {
		return nil, err
	}
	if err := n.settleIntents(receipt.Intents); err != nil {
		n.restore(before)
		return nil, err
	}
	return receipt, nil
}

// --- queries ---

// LockboxGet returns a point-read snapshot of a lockbox.
func (n *Node) LockboxGet(id uint64) (*lockbox.Lockbox, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	box, ok := n.state.LockboxGet(id)
	if !ok {
		return nil, lockbox.ErrNotFound
	}
	return box, nil
}

// LockboxList returns lockboxes in ascending id order.
func (n *Node) LockboxList(startAfter uint64, limit int) ([]*lockbox.Lockbox, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.LockboxList(startAfter, limit)
}

// Credit funds an account directly. Used for genesis allocations.
func (n *Node) Credit(addr string, denom string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	decoded, err := crypto.DecodeAddress(addr)
	if err != nil {
		return err
	}
	return n.state.Credit(decoded, denom, amount)
}

// AccountBalance reports an account's balance for a denomination.
func (n *Node) AccountBalance(addr string, denom string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	decoded, err := crypto.DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	account, err := n.state.GetAccount(decoded)
	if err != nil {
		return nil, err
	}
	return account.Balance(denom), nil
}

func (n *Node) settleIntents(intents []lockbox.TransferIntent) error {
	for _, intent := range intents {
		switch intent.Kind {
		case lockbox.IntentNative:
			if err := n.state.Transfer(state.VaultAddress(intent.Denom), intent.To, intent.Denom, intent.Amount); err != nil {
				return err
			}
		case lockbox.IntentLedger:
			// Executed by the external token ledger; the intent itself is
			// the observable output.
		default:
			return fmt.Errorf("core: unknown intent kind %d", intent.Kind)
		}
	}
	return nil
}

func (n *Node) restore(before *lockbox.Lockbox) {
	if before == nil {
		return
	}
	_ = n.state.LockboxPut(before)
}
