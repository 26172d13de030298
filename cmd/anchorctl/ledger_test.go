package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anchorledger/config"
	"anchorledger/core/chain"
	"anchorledger/core/state"
	"anchorledger/crypto"
	"anchorledger/gateway/middleware"
	"anchorledger/native/pledge"
	"anchorledger/storage"
)

const (
	adminHex     = "0x00000000000000000000000000000000000000ad"
	selfHex      = "0x000000000000000000000000000000000000001e"
	depositorHex = "0x00000000000000000000000000000000000000d1"
)

func writeNodeConfig(t *testing.T, dir, admin, keystore string) string {
	t.Helper()
	path := filepath.Join(dir, "anchord.toml")
	contents := fmt.Sprintf(`DataDir = %q
AdminKeystorePath = %q

[auth]
HMACSecret = "ctl-secret"
Issuer = "anchord"

[ledger]
Admin = %q
Self = %q
`, filepath.Join(dir, "data"), keystore, admin, selfHex)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// seedStore writes a ledger with one anchor and one recorded pledge the way a
// running node would.
func seedStore(t *testing.T, dataDir string) [32]byte {
	t.Helper()
	db, err := storage.Open(storage.BackendLevelDB, dataDir, false)
	require.NoError(t, err)
	defer db.Close()

	mgr := state.NewManager(db)
	require.NoError(t, mgr.PutChainGenesis(time.Now().Add(-time.Minute), big.NewInt(1)))
	require.NoError(t, mgr.Commit())

	admin, err := crypto.ParseAddress(adminHex)
	require.NoError(t, err)
	depositor, err := crypto.ParseAddress(depositorHex)
	require.NoError(t, err)
	params := pledge.DefaultConfig(admin)
	params.Self, err = crypto.ParseAddress(selfHex)
	require.NoError(t, err)

	engine, err := pledge.NewEngine(params, mgr, chain.NewManualChain(1, time.Now().Unix()), nil)
	require.NoError(t, err)
	hash := pledge.AnchorHashFor([]byte("charter"))
	_, err = engine.CreateAnchor(admin, hash, "charter")
	require.NoError(t, err)
	_, err = engine.RecordPledge(admin, depositor, hash, 0, big.NewInt(5000))
	require.NoError(t, err)
	return hash
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var obj map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &obj))
		out = append(out, obj)
	}
	return out
}

func TestInspectStoppedNode(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeNodeConfig(t, dir, adminHex, "")
	hash := seedStore(t, filepath.Join(dir, "data"))

	l, err := openLedger(cfgPath)
	require.NoError(t, err)
	defer l.Close()

	var buf bytes.Buffer
	out := &printer{w: &buf}

	require.NoError(t, l.printState(out))
	st := jsonLines(t, &buf)[0]
	require.Equal(t, float64(1), st["totalAnchors"])
	require.Equal(t, float64(1), st["totalPledges"])
	require.Equal(t, float64(1), st["genesisBlock"])

	buf.Reset()
	require.NoError(t, l.printAnchors(out, 1, 10))
	anchors := jsonLines(t, &buf)
	require.Len(t, anchors, 1)
	require.Equal(t, "charter", anchors[0]["label"])
	require.Equal(t, "5000", anchors[0]["totalWei"])
	require.True(t, strings.EqualFold(fmt.Sprintf("0x%x", hash[:]), anchors[0]["hash"].(string)))

	buf.Reset()
	require.NoError(t, l.printPledges(out, depositorHex, 0, 10))
	slots := jsonLines(t, &buf)
	require.Len(t, slots, 1)
	require.Equal(t, "unlocking", slots[0]["status"])
	require.Equal(t, float64(1+pledge.DefaultVestHorizonBlocks+pledge.DefaultHorizonGraceBlocks), slots[0]["claimableAt"])

	buf.Reset()
	require.NoError(t, l.printSealHash(out))
	seal, err := l.engine.SealHash()
	require.NoError(t, err)
	require.True(t, strings.EqualFold(fmt.Sprintf("0x%x", seal[:]), jsonLines(t, &buf)[0]["sealHash"].(string)))
}

func TestOpenLedgerRequiresExistingState(t *testing.T) {
	dir := t.TempDir()
	_, err := openLedger(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, "missing.toml"))
	require.True(t, os.IsNotExist(err))

	cfgPath := writeNodeConfig(t, dir, adminHex, "")
	_, err = openLedger(cfgPath)
	require.Error(t, err)

	db, err := storage.Open(storage.BackendLevelDB, filepath.Join(dir, "data"), false)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = openLedger(cfgPath)
	require.ErrorContains(t, err, "no ledger state")
}

func TestPrintAddress(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printAddress(&printer{w: &buf}, depositorHex))
	obj := jsonLines(t, &buf)[0]
	require.True(t, strings.HasPrefix(obj["bech32"].(string), string(crypto.LedgerPrefix)+"1"))

	buf.Reset()
	require.NoError(t, printAddress(&printer{w: &buf}, obj["bech32"].(string)))
	require.True(t, strings.EqualFold(depositorHex, jsonLines(t, &buf)[0]["hex"].(string)))

	require.Error(t, printAddress(&printer{w: &buf}, "0x12"))
}

func TestTableOutput(t *testing.T) {
	var buf bytes.Buffer
	out := &printer{w: &buf, table: true}
	require.NoError(t, out.rows(nil))
	require.Equal(t, "(none)\n", buf.String())

	buf.Reset()
	require.NoError(t, out.rows([]row{{{"id", 1}, {"label", "charter"}}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
}

func TestIssueAdminToken(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	keystore := filepath.Join(dir, "admin.keystore")
	require.NoError(t, crypto.SaveToKeystore(keystore, key, "pw", crypto.ScryptLight))
	admin := key.PubKey().Address().Raw()
	cfgPath := writeNodeConfig(t, dir, fmt.Sprintf("0x%x", admin[:]), keystore)
	t.Setenv(config.AdminKeystoreEnv, "pw")

	var buf bytes.Buffer
	require.NoError(t, issueAdminToken(&printer{w: &buf}, cfgPath, "", time.Minute))
	token := jsonLines(t, &buf)[0]["token"].(string)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: "ctl-secret", Issuer: "anchord"}, nil)
	handler := auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, admin, caller)
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/anchors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)

	// A keystore for a different account is refused.
	other := writeNodeConfig(t, dir, adminHex, keystore)
	require.ErrorContains(t, issueAdminToken(&printer{w: &buf}, other, "", time.Minute), "ledger admin")
}
