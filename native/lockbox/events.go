package lockbox

import (
	"math/big"
	"strconv"

	"lockboxd/core/types"
	"lockboxd/crypto"
)

const (
	EventTypeLockboxCreated   = "lockbox.created"
	EventTypeLockboxDeposited = "lockbox.deposited"
	EventTypeLockboxReset     = "lockbox.reset"
	EventTypeLockboxClaimed   = "lockbox.claimed"
)

// NewCreatedEvent returns the canonical event payload for a new lockbox.
func NewCreatedEvent(box *Lockbox) *types.Event {
	evt := newLockboxEvent(EventTypeLockboxCreated, box)
	if box != nil {
		evt.Attributes["claims"] = strconv.Itoa(len(box.Claims))
	}
	return evt
}

// NewDepositedEvent returns the event payload for an applied deposit.
func NewDepositedEvent(box *Lockbox, amount *big.Int) *types.Event {
	evt := newLockboxEvent(EventTypeLockboxDeposited, box)
	evt.Attributes["amount"] = formatAmount(amount)
	return evt
}

// NewResetEvent returns the event payload emitted when a lockbox is revoked.
func NewResetEvent(box *Lockbox, payback *big.Int) *types.Event {
	evt := newLockboxEvent(EventTypeLockboxReset, box)
	evt.Attributes["payback_amount"] = formatAmount(payback)
	return evt
}

// NewClaimedEvent returns the event payload for a settled claim.
func NewClaimedEvent(box *Lockbox, claimant crypto.Address, amount *big.Int) *types.Event {
	evt := newLockboxEvent(EventTypeLockboxClaimed, box)
	evt.Attributes["claimant"] = claimant.String()
	evt.Attributes["amount"] = formatAmount(amount)
	return evt
}

func newLockboxEvent(eventType string, box *Lockbox) *types.Event {
	attrs := make(map[string]string)
	if box == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(box.ID, 10)
	attrs["owner"] = box.Owner.String()
	attrs["total_amount"] = formatAmount(box.TotalAmount)
	if denom, ok := box.Funding.Denom(); ok {
		attrs["denom"] = denom
	}
	if ledger, ok := box.Funding.Ledger(); ok {
		attrs["token_ledger"] = ledger.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
