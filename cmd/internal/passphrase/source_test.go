package passphrase

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("ANCHORLEDGER_TEST_PASS", "hunter2")
	src := NewSource("ANCHORLEDGER_TEST_PASS", "admin keystore")

	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)

	// Cached after the first read.
	require.NoError(t, os.Setenv("ANCHORLEDGER_TEST_PASS", "changed"))
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
}

func TestSourceAcceptsEmptyEnvironmentValue(t *testing.T) {
	t.Setenv("ANCHORLEDGER_TEST_PASS", "")
	value, err := NewSource("ANCHORLEDGER_TEST_PASS", "").Get()
	require.NoError(t, err)
	require.Empty(t, value)
}
