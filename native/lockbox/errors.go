package lockbox

import "errors"

var (
	// ErrNotFound is returned when the referenced lockbox id does not exist.
	ErrNotFound = errors.New("lockbox: not found")
	// ErrUnauthorized covers a claimant that matches no claim and a token
	// deposit whose sender is not the configured ledger contract.
	ErrUnauthorized = errors.New("lockbox: unauthorized")
	// ErrLockboxExpired rejects creation and pre-expiration mutations once
	// the expiration schedule has already fired.
	ErrLockboxExpired = errors.New("lockbox: expired")
	// ErrLockboxNotExpired rejects claims before the schedule fires.
	ErrLockboxNotExpired = errors.New("lockbox: not expired")
	// ErrLockboxReset rejects any mutation of a revoked lockbox.
	ErrLockboxReset = errors.New("lockbox: has been reset")
	// ErrDenomNotSupported covers an ambiguous or missing funding mode and
	// deposits whose currency does not match the configured denomination.
	ErrDenomNotSupported = errors.New("lockbox: denom not supported")
	// ErrCW20TokensRequired rejects a native deposit on a token-funded
	// lockbox.
	ErrCW20TokensRequired = errors.New("lockbox: cw20 tokens required")
	// ErrDepositClaimImbalance rejects claims while deposits have not yet
	// covered the claim total.
	ErrDepositClaimImbalance = errors.New("lockbox: deposits do not cover the claims")
	// ErrAlreadyClaimed rejects a second settlement by the same claimant.
	ErrAlreadyClaimed = errors.New("lockbox: already claimed")
	// ErrInsufficientFunds is returned when the vault balance cannot cover
	// a native claim payout.
	ErrInsufficientFunds = errors.New("lockbox: insufficient funds")
	// ErrDepositOverflow rejects a deposit that would drive the outstanding
	// total negative.
	ErrDepositOverflow = errors.New("lockbox: deposit exceeds outstanding amount")
	// ErrInvalidNotification is returned for malformed deposit notification
	// payloads forwarded by a token ledger.
	ErrInvalidNotification = errors.New("lockbox: invalid deposit notification")
)
