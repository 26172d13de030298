package main

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anchorledger/config"
	"anchorledger/core/state"
	"anchorledger/native/pledge"
	"anchorledger/storage"
)

var (
	testAdmin = [20]byte{19: 0xAD}
	testSelf  = [20]byte{19: 0x1E}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:           t.TempDir(),
		DBBackend:         backend,
		ChainID:           7,
		BlockIntervalSecs: 5,
		LogLevel:          "info",
		Auth:              config.AuthConfig{HMACSecret: "secret", AllowAnonymousReads: true},
		RateLimit:         config.RateLimitConfig{RequestsPerSecond: 10, Burst: 10},
	}
}

func testParams() pledge.Config {
	params := pledge.DefaultConfig(testAdmin)
	params.Self = testSelf
	return params
}

func TestAssembleServesHealth(t *testing.T) {
	cfg := testConfig(t, storage.BackendMemory)
	n, err := assemble(cfg, testParams(), storage.NewMemDB(), discardLogger())
	require.NoError(t, err)

	res := httptest.NewRecorder()
	n.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, uint64(1), n.chain.BlockNumber())
	require.Equal(t, "7", n.chain.ChainID().String())
}

func TestChainGenesisSurvivesRestart(t *testing.T) {
	cfg := testConfig(t, storage.BackendLevelDB)

	db, err := storage.Open(cfg.DBBackend, cfg.DataDir, false)
	require.NoError(t, err)
	first, err := assemble(cfg, testParams(), db, discardLogger())
	require.NoError(t, err)
	genesis := first.chain.Genesis()
	domain, err := first.engine.DomainID()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	db, err = storage.Open(cfg.DBBackend, cfg.DataDir, false)
	require.NoError(t, err)
	second, err := assemble(cfg, testParams(), db, discardLogger())
	require.NoError(t, err)
	defer second.Close()
	require.True(t, genesis.Equal(second.chain.Genesis()))
	reopened, err := second.engine.DomainID()
	require.NoError(t, err)
	require.Equal(t, domain, reopened)
}

func TestOpenChainRejectsChainIDChange(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	_, err := openChain(mgr, 1, 0)
	require.Error(t, err)

	_, err = openChain(mgr, 1, 5e9)
	require.NoError(t, err)
	_, err = openChain(mgr, 2, 5e9)
	require.ErrorContains(t, err, "does not match")
}

func TestApplyBootstrapIsIdempotent(t *testing.T) {
	cfg := testConfig(t, storage.BackendMemory)
	n, err := assemble(cfg, testParams(), storage.NewMemDB(), discardLogger())
	require.NoError(t, err)

	b := &config.Bootstrap{
		Anchors: []config.BootstrapAnchor{
			{Document: "charter", Label: "charter", Sealed: true},
			{Document: "open", Label: "open"},
		},
		Balances: []config.BootstrapBalance{
			{Address: "0x00000000000000000000000000000000000000d1", AmountWei: "1000"},
		},
	}
	require.NoError(t, n.applyBootstrap(b, discardLogger()))
	require.NoError(t, n.applyBootstrap(b, discardLogger()))

	snap, err := n.engine.StateSnapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.TotalAnchors)
	require.True(t, n.engine.IsSealed(pledge.AnchorHashFor([]byte("charter"))))
	require.False(t, n.engine.IsSealed(pledge.AnchorHashFor([]byte("open"))))
	require.Equal(t, "1000", n.book.BalanceOf([20]byte{19: 0xD1}).String())
}

func TestBalancesAndPledgesSurviveRestart(t *testing.T) {
	cfg := testConfig(t, storage.BackendLevelDB)
	params := testParams()
	params.VestHorizonBlocks = 2
	params.HorizonGraceBlocks = 0
	depositor := [20]byte{19: 0xD1}
	hash := pledge.AnchorHashFor([]byte("charter"))
	b := &config.Bootstrap{
		Anchors:  []config.BootstrapAnchor{{Document: "charter", Label: "charter"}},
		Balances: []config.BootstrapBalance{{Address: "0x00000000000000000000000000000000000000d1", AmountWei: "800"}},
	}

	db, err := storage.Open(cfg.DBBackend, cfg.DataDir, false)
	require.NoError(t, err)
	first, err := assemble(cfg, params, db, discardLogger())
	require.NoError(t, err)
	genesis := first.chain.Genesis()
	first.chain.SetNowFunc(func() time.Time { return genesis })
	require.NoError(t, first.applyBootstrap(b, discardLogger()))
	index, err := first.engine.Pledge(depositor, hash, 0, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, "300", first.book.BalanceOf(depositor).String())
	require.Equal(t, "500", first.book.BalanceOf(testSelf).String())
	require.NoError(t, first.Close())

	db, err = storage.Open(cfg.DBBackend, cfg.DataDir, false)
	require.NoError(t, err)
	second, err := assemble(cfg, params, db, discardLogger())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.applyBootstrap(b, discardLogger()))
	require.Equal(t, "300", second.book.BalanceOf(depositor).String())
	require.Equal(t, "500", second.book.BalanceOf(testSelf).String())

	second.chain.SetNowFunc(func() time.Time { return genesis.Add(time.Hour) })
	require.True(t, second.engine.CanClaim(depositor, index))
	amount, err := second.engine.Claim(context.Background(), depositor, index)
	require.NoError(t, err)
	require.Equal(t, "500", amount.String())
	require.Equal(t, "800", second.book.BalanceOf(depositor).String())
	require.Equal(t, "0", second.book.BalanceOf(testSelf).String())
}
