package lockbox

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"lockboxd/core/types"
	"lockboxd/crypto"
)

type mockState struct {
	boxes map[uint64]*Lockbox
	seq   uint64
}

func newMockState() *mockState {
	return &mockState{boxes: make(map[uint64]*Lockbox)}
}

func (m *mockState) LockboxPut(box *Lockbox) error {
	sanitized, err := SanitizeLockbox(box)
	if err != nil {
		return err
	}
	m.boxes[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) LockboxGet(id uint64) (*Lockbox, bool) {
	box, ok := m.boxes[id]
	if !ok {
		return nil, false
	}
	return box.Clone(), true
}

func (m *mockState) NextLockboxID() (uint64, error) {
	m.seq++
	return m.seq, nil
}

type mockGateway struct {
	balances map[string]*big.Int
}

func newMockGateway() *mockGateway {
	return &mockGateway{balances: make(map[string]*big.Int)}
}

func (g *mockGateway) SendNative(to crypto.Address, denom string, amount *big.Int) (TransferIntent, error) {
	return TransferIntent{Kind: IntentNative, To: to, Denom: denom, Amount: new(big.Int).Set(amount)}, nil
}

func (g *mockGateway) SendViaLedger(ledger, to crypto.Address, amount *big.Int) (TransferIntent, error) {
	return TransferIntent{Kind: IntentLedger, Ledger: ledger, To: to, Amount: new(big.Int).Set(amount)}, nil
}

func (g *mockGateway) NativeBalance(denom string) (*big.Int, error) {
	if bal, ok := g.balances[denom]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func testAddress(fill byte) crypto.Address {
	return crypto.MustNewAddress(crypto.LBXPrefix, bytes.Repeat([]byte{fill}, 20))
}

type testEnv struct {
	engine  *Engine
	state   *mockState
	gateway *mockGateway
	block   BlockInfo
}

func newTestEnv() *testEnv {
	env := &testEnv{
		state:   newMockState(),
		gateway: newMockGateway(),
		block:   BlockInfo{Height: 500_000, Time: 1_600_000_000},
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetGateway(env.gateway)
	env.engine.SetBlockFunc(func() BlockInfo { return env.block })
	return env
}

func mustNative(t *testing.T, denom string) FundingMode {
	t.Helper()
	funding, err := NativeFunding(denom)
	if err != nil {
		t.Fatalf("native funding: %v", err)
	}
	return funding
}

func mustToken(t *testing.T, ledger crypto.Address) FundingMode {
	t.Helper()
	funding, err := TokenFunding(ledger)
	if err != nil {
		t.Fatalf("token funding: %v", err)
	}
	return funding
}

func defaultClaims() []RawClaim {
	return []RawClaim{
		{Addr: testAddress(0x0A).String(), Amount: big.NewInt(5)},
		{Addr: testAddress(0x0B).String(), Amount: big.NewInt(10)},
	}
}

func TestCreateLockbox(t *testing.T) {
	env := newTestEnv()
	owner := testAddress(0x01)

	box, receipt, err := env.engine.Create(owner.String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if box.ID != 1 {
		t.Fatalf("expected id 1, got %d", box.ID)
	}
	if box.TotalAmount.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("expected total 15, got %s", box.TotalAmount)
	}
	if box.Reset {
		t.Fatal("new lockbox must not be reset")
	}
	for _, c := range box.Claims {
		if c.Claimed {
			t.Fatal("new claims must be unclaimed")
		}
	}
	if receipt.Attributes["id"] != "1" {
		t.Fatalf("expected id attribute 1, got %q", receipt.Attributes["id"])
	}
	if len(receipt.Intents) != 0 {
		t.Fatal("creation must not move value")
	}

	second, _, err := env.engine.Create(owner.String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.ID != 2 {
		t.Fatalf("expected sequential id 2, got %d", second.ID)
	}
}

func TestCreateRejectsTriggeredSchedule(t *testing.T) {
	env := newTestEnv()
	_, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(64), mustNative(t, "atom"))
	if !errors.Is(err, ErrLockboxExpired) {
		t.Fatalf("expected ErrLockboxExpired, got %v", err)
	}
	_, _, err = env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtTime(1_500_000_000), mustNative(t, "atom"))
	if !errors.Is(err, ErrLockboxExpired) {
		t.Fatalf("expected ErrLockboxExpired for time schedule, got %v", err)
	}

	// The schedule check outranks funding validation.
	_, _, err = env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(64), FundingMode{})
	if !errors.Is(err, ErrLockboxExpired) {
		t.Fatalf("expected ErrLockboxExpired to outrank funding validation, got %v", err)
	}
}

func TestCreateRejectsAmbiguousFunding(t *testing.T) {
	if _, err := NewFundingMode("atom", testAddress(0x0C).String()); !errors.Is(err, ErrDenomNotSupported) {
		t.Fatalf("expected ErrDenomNotSupported for both modes, got %v", err)
	}
	if _, err := NewFundingMode("", ""); !errors.Is(err, ErrDenomNotSupported) {
		t.Fatalf("expected ErrDenomNotSupported for neither mode, got %v", err)
	}

	env := newTestEnv()
	_, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), FundingMode{})
	if !errors.Is(err, ErrDenomNotSupported) {
		t.Fatalf("expected ErrDenomNotSupported for zero value, got %v", err)
	}
}

func TestCreateValidatesIdentities(t *testing.T) {
	env := newTestEnv()
	_, _, err := env.engine.Create("not-an-address", defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err == nil {
		t.Fatal("expected owner validation error")
	}
	claims := []RawClaim{{Addr: "bogus", Amount: big.NewInt(5)}}
	_, _, err = env.engine.Create(testAddress(0x01).String(), claims, AtHeight(1_000_000), mustNative(t, "atom"))
	if err == nil {
		t.Fatal("expected claim validation error")
	}
}

func TestDepositNative(t *testing.T) {
	env := newTestEnv()
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	receipt, err := env.engine.DepositNative(box.ID, []types.Coin{types.NewCoin("atom", big.NewInt(15))})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if receipt.Attributes["amount"] != "15" {
		t.Fatalf("expected amount attribute 15, got %q", receipt.Attributes["amount"])
	}
	stored, _ := env.state.LockboxGet(box.ID)
	if stored.TotalAmount.Sign() != 0 {
		t.Fatalf("expected zero outstanding, got %s", stored.TotalAmount)
	}

	_, err = env.engine.DepositNative(box.ID, []types.Coin{types.NewCoin("atom", big.NewInt(1))})
	if !errors.Is(err, ErrDepositOverflow) {
		t.Fatalf("expected ErrDepositOverflow, got %v", err)
	}
}

func TestDepositNativeDenomMismatch(t *testing.T) {
	env := newTestEnv()
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.engine.DepositNative(box.ID, []types.Coin{types.NewCoin("osmo", big.NewInt(5))})
	if !errors.Is(err, ErrDenomNotSupported) {
		t.Fatalf("expected ErrDenomNotSupported, got %v", err)
	}
}

func TestDepositNativeOnTokenLockbox(t *testing.T) {
	env := newTestEnv()
	ledger := testAddress(0xCC)
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustToken(t, ledger))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.engine.DepositNative(box.ID, []types.Coin{types.NewCoin("atom", big.NewInt(5))})
	if !errors.Is(err, ErrCW20TokensRequired) {
		t.Fatalf("expected ErrCW20TokensRequired, got %v", err)
	}
}

func TestDepositMissingLockbox(t *testing.T) {
	env := newTestEnv()
	_, err := env.engine.DepositNative(42, []types.Coin{types.NewCoin("atom", big.NewInt(5))})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReceive(t *testing.T) {
	env := newTestEnv()
	ledger := testAddress(0xCC)
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustToken(t, ledger))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	payload := []byte(`{"deposit":{"id":1}}`)

	_, err = env.engine.Receive(testAddress(0xDD).String(), big.NewInt(15), payload)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for impostor sender, got %v", err)
	}

	receipt, err := env.engine.Receive(ledger.String(), big.NewInt(15), payload)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if receipt.Attributes["amount"] != "15" {
		t.Fatalf("expected amount attribute 15, got %q", receipt.Attributes["amount"])
	}
	stored, _ := env.state.LockboxGet(box.ID)
	if stored.TotalAmount.Sign() != 0 {
		t.Fatalf("expected zero outstanding, got %s", stored.TotalAmount)
	}
}

func TestReceiveOnNativeLockbox(t *testing.T) {
	env := newTestEnv()
	_, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.engine.Receive(testAddress(0xCC).String(), big.NewInt(5), []byte(`{"deposit":{"id":1}}`))
	if !errors.Is(err, ErrDenomNotSupported) {
		t.Fatalf("expected ErrDenomNotSupported, got %v", err)
	}
}

func TestReceiveMalformedPayload(t *testing.T) {
	env := newTestEnv()
	for _, payload := range [][]byte{nil, []byte("   "), []byte(`{"mint":{}}`), []byte("{")} {
		_, err := env.engine.Receive(testAddress(0xCC).String(), big.NewInt(5), payload)
		if !errors.Is(err, ErrInvalidNotification) {
			t.Fatalf("payload %q: expected ErrInvalidNotification, got %v", payload, err)
		}
	}
}

func TestClaimLifecycle(t *testing.T) {
	env := newTestEnv()
	claimantA := testAddress(0x0A)
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Not funded and not expired yet.
	_, err = env.engine.Claim(box.ID, claimantA.String())
	if !errors.Is(err, ErrLockboxNotExpired) {
		t.Fatalf("expected ErrLockboxNotExpired, got %v", err)
	}

	// A second box stays only partially funded to exercise the imbalance
	// check after expiration.
	partial, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create partial: %v", err)
	}
	if _, err := env.engine.DepositNative(partial.ID, []types.Coin{types.NewCoin("atom", big.NewInt(10))}); err != nil {
		t.Fatalf("partial deposit: %v", err)
	}
	if _, err := env.engine.DepositNative(box.ID, []types.Coin{types.NewCoin("atom", big.NewInt(15))}); err != nil {
		t.Fatalf("full deposit: %v", err)
	}
	env.block.Height = 1_000_001

	// Deposits stop once the schedule fires, even on an underfunded box.
	_, err = env.engine.DepositNative(partial.ID, []types.Coin{types.NewCoin("atom", big.NewInt(5))})
	if !errors.Is(err, ErrLockboxExpired) {
		t.Fatalf("expected ErrLockboxExpired on late deposit, got %v", err)
	}
	_, err = env.engine.Claim(partial.ID, claimantA.String())
	if !errors.Is(err, ErrDepositClaimImbalance) {
		t.Fatalf("expected ErrDepositClaimImbalance, got %v", err)
	}

	env.gateway.balances["atom"] = big.NewInt(4)
	_, err = env.engine.Claim(box.ID, claimantA.String())
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	env.gateway.balances["atom"] = big.NewInt(25)
	receipt, err := env.engine.Claim(box.ID, claimantA.String())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(receipt.Intents) != 1 {
		t.Fatalf("expected one transfer intent, got %d", len(receipt.Intents))
	}
	intent := receipt.Intents[0]
	if intent.Kind != IntentNative || !intent.To.Equal(claimantA) || intent.Amount.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected intent %+v", intent)
	}
	stored, _ := env.state.LockboxGet(box.ID)
	if !stored.Claims[0].Claimed {
		t.Fatal("claim must be marked claimed")
	}
	if stored.Claims[1].Claimed {
		t.Fatal("other claim must stay unclaimed")
	}

	_, err = env.engine.Claim(box.ID, claimantA.String())
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	_, err = env.engine.Claim(box.ID, testAddress(0xEE).String())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for stranger, got %v", err)
	}
}

func TestClaimTokenLockbox(t *testing.T) {
	env := newTestEnv()
	ledger := testAddress(0xCC)
	claimantA := testAddress(0x0A)
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustToken(t, ledger))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.Receive(ledger.String(), big.NewInt(15), []byte(`{"deposit":{"id":1}}`)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	env.block.Height = 1_000_001

	// Token claims carry no balance pre-check; the external ledger settles.
	receipt, err := env.engine.Claim(box.ID, claimantA.String())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	intent := receipt.Intents[0]
	if intent.Kind != IntentLedger || !intent.Ledger.Equal(ledger) || intent.Amount.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestResetWithoutDeposits(t *testing.T) {
	env := newTestEnv()
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	receipt, err := env.engine.Reset(box.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(receipt.Intents) != 0 {
		t.Fatal("reset before any deposit must not emit a transfer")
	}
	if receipt.Attributes["payback_amount"] != "0" {
		t.Fatalf("expected payback 0, got %q", receipt.Attributes["payback_amount"])
	}
	stored, _ := env.state.LockboxGet(box.ID)
	if !stored.Reset {
		t.Fatal("lockbox must be reset")
	}
}

func TestResetPaysBackDeposits(t *testing.T) {
	env := newTestEnv()
	owner := testAddress(0x01)
	box, _, err := env.engine.Create(owner.String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.DepositNative(box.ID, []types.Coin{types.NewCoin("atom", big.NewInt(6))}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	receipt, err := env.engine.Reset(box.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(receipt.Intents) != 1 {
		t.Fatalf("expected one payback intent, got %d", len(receipt.Intents))
	}
	intent := receipt.Intents[0]
	if !intent.To.Equal(owner) || intent.Amount.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("unexpected payback intent %+v", intent)
	}
}

func TestResetIsTerminal(t *testing.T) {
	env := newTestEnv()
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.Reset(box.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := env.engine.Reset(box.ID); !errors.Is(err, ErrLockboxReset) {
		t.Fatalf("expected ErrLockboxReset on double reset, got %v", err)
	}
	if _, err := env.engine.DepositNative(box.ID, []types.Coin{types.NewCoin("atom", big.NewInt(1))}); !errors.Is(err, ErrLockboxReset) {
		t.Fatalf("expected ErrLockboxReset on deposit, got %v", err)
	}
	env.block.Height = 1_000_001
	if _, err := env.engine.Claim(box.ID, testAddress(0x0A).String()); !errors.Is(err, ErrLockboxReset) {
		t.Fatalf("expected ErrLockboxReset on claim, got %v", err)
	}
}

func TestResetAfterExpiration(t *testing.T) {
	env := newTestEnv()
	box, _, err := env.engine.Create(testAddress(0x01).String(), defaultClaims(), AtHeight(1_000_000), mustNative(t, "atom"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.block.Height = 1_000_000
	if _, err := env.engine.Reset(box.ID); !errors.Is(err, ErrLockboxExpired) {
		t.Fatalf("expected ErrLockboxExpired, got %v", err)
	}
}
