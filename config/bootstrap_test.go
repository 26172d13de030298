package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"anchorledger/native/pledge"
)

func writeBootstrap(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadBootstrap(t *testing.T) {
	path := writeBootstrap(t, `anchors:
  - document: "genesis charter"
    label: charter
    sealed: true
  - hash: "0x0101010101010101010101010101010101010101010101010101010101010101"
    label: second
balances:
  - address: "`+testAdminHex+`"
    amount_wei: "5000000000000000000"
`)

	b, err := LoadBootstrap(path)
	require.NoError(t, err)
	require.Len(t, b.Anchors, 2)
	require.Len(t, b.Balances, 1)

	first, err := b.Anchors[0].AnchorHash()
	require.NoError(t, err)
	require.Equal(t, pledge.AnchorHashFor([]byte("genesis charter")), first)
	require.True(t, b.Anchors[0].Sealed)

	second, err := b.Anchors[1].AnchorHash()
	require.NoError(t, err)
	require.Equal(t, byte(0x01), second[0])

	addr, amount, err := b.Balances[0].Parse()
	require.NoError(t, err)
	require.Equal(t, byte(0xad), addr[19])
	require.Equal(t, "5000000000000000000", amount.String())
}

func TestLoadBootstrapEmptyFile(t *testing.T) {
	b, err := LoadBootstrap(writeBootstrap(t, ""))
	require.NoError(t, err)
	require.Empty(t, b.Anchors)
	require.Empty(t, b.Balances)
}

func TestLoadBootstrapRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": "anchors:\n  - document: a\n    owner: b\n",
		"both keys":     "anchors:\n  - document: a\n    hash: \"0x0101010101010101010101010101010101010101010101010101010101010101\"\n",
		"no key":        "anchors:\n  - label: nothing\n",
		"duplicate":     "anchors:\n  - document: a\n  - document: a\n",
		"bad amount":    "balances:\n  - address: \"" + testAdminHex + "\"\n    amount_wei: \"ten\"\n",
		"bad address":   "balances:\n  - address: \"0x12\"\n    amount_wei: \"1\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBootstrap(writeBootstrap(t, contents))
			require.Error(t, err)
		})
	}
}
