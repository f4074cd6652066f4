package lockbox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type depositInstruction struct {
	ID uint64 `json:"id"`
}

type receiveEnvelope struct {
	Deposit *depositInstruction `json:"deposit"`
}

// DecodeDepositNotification parses the opaque payload attached to a
// token-ledger transfer into the target lockbox id. A payload that is not a
// well-formed deposit instruction aborts the whole request.
func DecodeDepositNotification(payload []byte) (uint64, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return 0, ErrInvalidNotification
	}
	var envelope receiveEnvelope
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&envelope); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if envelope.Deposit == nil || envelope.Deposit.ID == 0 {
		return 0, ErrInvalidNotification
	}
	return envelope.Deposit.ID, nil
}
