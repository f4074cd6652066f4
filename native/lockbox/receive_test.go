package lockbox

import (
	"errors"
	"testing"
)

func TestDecodeDepositNotification(t *testing.T) {
	id, err := DecodeDepositNotification([]byte(`{"deposit":{"id":42}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %d", id)
	}
}

func TestDecodeDepositNotificationRejects(t *testing.T) {
	cases := map[string][]byte{
		"empty":         nil,
		"blank":         []byte("  "),
		"truncated":     []byte(`{"deposit":`),
		"wrong variant": []byte(`{"mint":{"id":1}}`),
		"extra field":   []byte(`{"deposit":{"id":1},"mint":{}}`),
		"zero id":       []byte(`{"deposit":{"id":0}}`),
		"missing id":    []byte(`{"deposit":{}}`),
	}
	for name, payload := range cases {
		if _, err := DecodeDepositNotification(payload); !errors.Is(err, ErrInvalidNotification) {
			t.Fatalf("%s: expected ErrInvalidNotification, got %v", name, err)
		}
	}
}
