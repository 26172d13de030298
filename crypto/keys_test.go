package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := FromRaw(raw)
	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "anc1"))

	decoded, err := DecodeAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded.Raw())
	require.Equal(t, LedgerPrefix, decoded.Prefix())

	parsed, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, parsed)
}

func TestParseAddressHex(t *testing.T) {
	var raw [20]byte
	raw[19] = 0xAB
	parsed, err := ParseAddress("0x" + hex.EncodeToString(raw[:]))
	require.NoError(t, err)
	require.Equal(t, raw, parsed)

	parsed, err = ParseAddress(hex.EncodeToString(raw[:]))
	require.NoError(t, err)
	require.Equal(t, raw, parsed)

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
	_, err = ParseAddress(strings.Repeat("zz", 20))
	require.Error(t, err)
}

func TestGeneratedKeyAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()
	require.Len(t, addr.Bytes(), 20)
	require.Len(t, key.Bytes(), 32)
}
