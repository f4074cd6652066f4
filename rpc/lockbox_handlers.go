package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"lockboxd/core/state"
	"lockboxd/core/types"
	"lockboxd/native/lockbox"
	"lockboxd/observability/metrics"
)

const (
	codeLockboxNotFound  = -32051
	codeLockboxForbidden = -32052
	codeLockboxConflict  = -32053
	codeLockboxFunding   = -32054
	codeLockboxInternal  = -32055
)

type rawClaimParams struct {
	Addr   string `json:"addr"`
	Amount string `json:"amount"`
}

type scheduleParams struct {
	Height *uint64 `json:"height,omitempty"`
	Time   *int64  `json:"time,omitempty"`
}

type lockboxCreateParams struct {
	Owner       string           `json:"owner"`
	Claims      []rawClaimParams `json:"claims"`
	Expiration  scheduleParams   `json:"expiration"`
	NativeDenom string           `json:"nativeDenom,omitempty"`
	TokenLedger string           `json:"tokenLedger,omitempty"`
}

type lockboxIDParams struct {
	ID uint64 `json:"id"`
}

type lockboxDepositParams struct {
	ID     uint64 `json:"id"`
	From   string `json:"from"`
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type lockboxReceiveParams struct {
	Sender string          `json:"sender"`
	Amount string          `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

type lockboxClaimParams struct {
	ID       uint64 `json:"id"`
	Claimant string `json:"claimant"`
}

type lockboxListParams struct {
	StartAfter *uint64 `json:"startAfter,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

type lockboxCreateResult struct {
	ID         uint64            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

type lockboxOpResult struct {
	OK         bool              `json:"ok"`
	Attributes map[string]string `json:"attributes"`
	Transfers  []transferJSON    `json:"transfers,omitempty"`
}

type transferJSON struct {
	Mode   string `json:"mode"`
	Ledger string `json:"ledger,omitempty"`
	To     string `json:"to"`
	Denom  string `json:"denom,omitempty"`
	Amount string `json:"amount"`
}

type claimJSON struct {
	Addr    string `json:"addr"`
	Amount  string `json:"amount"`
	Claimed bool   `json:"claimed"`
}

type lockboxJSON struct {
	ID          uint64         `json:"id"`
	Owner       string         `json:"owner"`
	Claims      []claimJSON    `json:"claims"`
	Expiration  scheduleParams `json:"expiration"`
	TotalAmount string         `json:"totalAmount"`
	Reset       bool           `json:"reset"`
	NativeDenom string         `json:"nativeDenom,omitempty"`
	TokenLedger string         `json:"tokenLedger,omitempty"`
}

type lockboxListResult struct {
	Lockboxes []lockboxJSON `json:"lockboxes"`
}

func (s *Server) handleLockboxCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lockboxCreateParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	expiration, err := parseSchedule(params.Expiration)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	claims := make([]lockbox.RawClaim, 0, len(params.Claims))
	for _, raw := range params.Claims {
		amount, err := parseAmount(raw.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("claim amount: %v", err))
			return
		}
		claims = append(claims, lockbox.RawClaim{Addr: raw.Addr, Amount: amount})
	}
	funding, err := lockbox.NewFundingMode(params.NativeDenom, params.TokenLedger)
	if err != nil {
		s.finishMutation(r, "lockbox_create", req.Params, err)
		writeLockboxError(w, req.ID, err)
		return
	}
	box, receipt, err := s.node.LockboxCreate(params.Owner, claims, expiration, funding)
	s.finishMutation(r, "lockbox_create", req.Params, err)
	if err != nil {
		writeLockboxError(w, req.ID, err)
		return
	}
	metrics.Lockbox().SetSequence(box.ID)
	writeResult(w, req.ID, lockboxCreateResult{ID: box.ID, Attributes: receipt.Attributes})
}

func (s *Server) handleLockboxReset(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lockboxIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.node.LockboxReset(params.ID)
	s.finishMutation(r, "lockbox_reset", req.Params, err)
	if err != nil {
		writeLockboxError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOpResult(receipt))
}

func (s *Server) handleLockboxDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lockboxDepositParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	funds := []types.Coin{types.NewCoin(params.Denom, amount)}
	receipt, err := s.node.LockboxDeposit(params.ID, params.From, funds)
	s.finishMutation(r, "lockbox_deposit", req.Params, err)
	if err != nil {
		writeLockboxError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOpResult(receipt))
}

func (s *Server) handleLockboxReceive(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lockboxReceiveParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.node.LockboxReceive(params.Sender, amount, params.Msg)
	s.finishMutation(r, "lockbox_receive", req.Params, err)
	if err != nil {
		writeLockboxError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOpResult(receipt))
}

func (s *Server) handleLockboxClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lockboxClaimParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	receipt, err := s.node.LockboxClaim(params.ID, params.Claimant)
	s.finishMutation(r, "lockbox_claim", req.Params, err)
	if err != nil {
		writeLockboxError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOpResult(receipt))
}

func (s *Server) handleLockboxGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params lockboxIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	box, err := s.node.LockboxGet(params.ID)
	if err != nil {
		writeLockboxError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newLockboxJSON(box))
}

func (s *Server) handleLockboxList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := lockboxListParams{}
	if len(req.Params) > 0 {
		if err := singleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	startAfter := uint64(0)
	if params.StartAfter != nil {
		startAfter = *params.StartAfter
	}
	boxes, err := s.node.LockboxList(startAfter, params.Limit)
	if err != nil {
		writeLockboxError(w, req.ID, err)
		return
	}
	result := lockboxListResult{Lockboxes: make([]lockboxJSON, 0, len(boxes))}
	for _, box := range boxes {
		result.Lockboxes = append(result.Lockboxes, newLockboxJSON(box))
	}
	writeResult(w, req.ID, result)
}

func (s *Server) finishMutation(r *http.Request, method string, params []json.RawMessage, err error) {
	metrics.Lockbox().ObserveOperation(method, err == nil)
	status := http.StatusOK
	if err != nil {
		status = http.StatusUnprocessableEntity
	}
	var payload []byte
	if len(params) > 0 {
		payload = params[0]
	}
	if s.audit != nil {
		if auditErr := s.audit.Record(r.Context(), method, payload, status, err); auditErr != nil {
			s.log.Warn("audit record failed", "method", method, "err", auditErr)
		}
	}
}

func newOpResult(receipt *lockbox.Receipt) lockboxOpResult {
	result := lockboxOpResult{OK: true, Attributes: receipt.Attributes}
	for _, intent := range receipt.Intents {
		entry := transferJSON{
			To:     intent.To.String(),
			Amount: intent.Amount.String(),
		}
		switch intent.Kind {
		case lockbox.IntentNative:
			entry.Mode = "native"
			entry.Denom = intent.Denom
			metrics.Lockbox().ObserveIntent("native")
		case lockbox.IntentLedger:
			entry.Mode = "ledger"
			entry.Ledger = intent.Ledger.String()
			metrics.Lockbox().ObserveIntent("ledger")
		}
		result.Transfers = append(result.Transfers, entry)
	}
	return result
}

func newLockboxJSON(box *lockbox.Lockbox) lockboxJSON {
	out := lockboxJSON{
		ID:          box.ID,
		Owner:       box.Owner.String(),
		TotalAmount: box.TotalAmount.String(),
		Reset:       box.Reset,
		Claims:      make([]claimJSON, 0, len(box.Claims)),
	}
	for _, c := range box.Claims {
		out.Claims = append(out.Claims, claimJSON{Addr: c.Addr.String(), Amount: c.Amount.String(), Claimed: c.Claimed})
	}
	switch box.Expiration.Kind() {
	case lockbox.ScheduleAtHeight:
		height := box.Expiration.Height()
		out.Expiration.Height = &height
	case lockbox.ScheduleAtTime:
		at := box.Expiration.Time()
		out.Expiration.Time = &at
	}
	if denom, ok := box.Funding.Denom(); ok {
		out.NativeDenom = denom
	}
	if ledger, ok := box.Funding.Ledger(); ok {
		out.TokenLedger = ledger.String()
	}
	return out
}

func parseSchedule(params scheduleParams) (lockbox.Schedule, error) {
	switch {
	case params.Height != nil && params.Time != nil:
		return lockbox.Schedule{}, fmt.Errorf("expiration must set exactly one of height or time")
	case params.Height != nil:
		return lockbox.AtHeight(*params.Height), nil
	case params.Time != nil:
		return lockbox.AtTime(*params.Time), nil
	default:
		return lockbox.Schedule{}, fmt.Errorf("expiration required")
	}
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func writeLockboxError(w http.ResponseWriter, id int, err error) {
	switch {
	case errors.Is(err, lockbox.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeLockboxNotFound, "not_found", err.Error())
	case errors.Is(err, lockbox.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeLockboxForbidden, "unauthorized", err.Error())
	case errors.Is(err, lockbox.ErrDenomNotSupported),
		errors.Is(err, lockbox.ErrCW20TokensRequired),
		errors.Is(err, lockbox.ErrInvalidNotification):
		writeError(w, http.StatusBadRequest, id, codeLockboxFunding, "funding_mismatch", err.Error())
	case errors.Is(err, lockbox.ErrLockboxExpired),
		errors.Is(err, lockbox.ErrLockboxNotExpired),
		errors.Is(err, lockbox.ErrLockboxReset),
		errors.Is(err, lockbox.ErrDepositClaimImbalance),
		errors.Is(err, lockbox.ErrAlreadyClaimed),
		errors.Is(err, lockbox.ErrDepositOverflow),
		errors.Is(err, lockbox.ErrInsufficientFunds),
		errors.Is(err, state.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, id, codeLockboxConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeLockboxInternal, "internal_error", err.Error())
	}
}
