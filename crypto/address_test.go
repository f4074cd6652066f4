package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 20)
	addr, err := NewAddress(LBXPrefix, raw)
	require.NoError(t, err)

	encoded := addr.String()
	require.True(t, len(encoded) > 0)

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.True(t, decoded.Equal(addr))
	require.Equal(t, LBXPrefix, decoded.Prefix())
	require.Equal(t, raw, decoded.Bytes())
}

func TestNewAddressLength(t *testing.T) {
	_, err := NewAddress(LBXPrefix, bytes.Repeat([]byte{0x01}, 19))
	require.Error(t, err)
	_, err = NewAddress(LBXPrefix, bytes.Repeat([]byte{0x01}, 21))
	require.Error(t, err)
	_, err = NewAddress(LBXPrefix, nil)
	require.Error(t, err)
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "lbx1notbech32!!!", "just-words"} {
		_, err := DecodeAddress(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestAddressZeroAndEqual(t *testing.T) {
	var zero Address
	require.True(t, zero.IsZero())

	a := MustNewAddress(LBXPrefix, bytes.Repeat([]byte{0x01}, 20))
	b := MustNewAddress(LBXPrefix, bytes.Repeat([]byte{0x01}, 20))
	c := MustNewAddress(LBXPrefix, bytes.Repeat([]byte{0x02}, 20))
	require.False(t, a.IsZero())
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(MustNewAddress("other", bytes.Repeat([]byte{0x01}, 20))))
}

func TestBytesReturnsCopy(t *testing.T) {
	a := MustNewAddress(LBXPrefix, bytes.Repeat([]byte{0x01}, 20))
	leaked := a.Bytes()
	leaked[0] = 0xFF
	require.Equal(t, byte(0x01), a.Bytes()[0])
}
