package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"anchorledger/core/chain"
	"anchorledger/core/events"
	"anchorledger/core/state"
	"anchorledger/core/types"
	"anchorledger/gateway/middleware"
	"anchorledger/native/bank"
	"anchorledger/native/pledge"
	"anchorledger/storage"
)

const testSecret = "routes-test-secret"

var (
	adminAddr     = [20]byte{19: 0xAD}
	treasuryAddr  = [20]byte{19: 0x7E}
	ledgerAddr    = [20]byte{19: 0x1E}
	depositorAddr = [20]byte{19: 0xD1}
	oneEther      = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type gatewayEnv struct {
	t       *testing.T
	handler http.Handler
	engine  *pledge.Engine
	chain   *chain.ManualChain
	book    *bank.Book
	bus     *events.Broadcaster
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	clock := chain.NewManualChain(100, 1_700_000_000)
	mgr := state.NewManager(storage.NewMemDB())
	book := bank.NewBook(mgr)
	cfg := pledge.DefaultConfig(adminAddr)
	cfg.Treasury = treasuryAddr
	cfg.Self = ledgerAddr
	engine, err := pledge.NewEngine(cfg, mgr, clock, book.Account(ledgerAddr))
	require.NoError(t, err)
	bus := events.NewBroadcaster(16)
	engine.SetEmitter(bus)

	handler, err := New(Config{
		Engine:        engine,
		Book:          book,
		Broadcaster:   bus,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret, AllowAnonymous: true}, nil),
		RateLimiter:   middleware.NewRateLimiter(middleware.RateLimit{RequestsPerSecond: 1000, Burst: 1000}, nil),
	})
	require.NoError(t, err)
	return &gatewayEnv{t: t, handler: handler, engine: engine, chain: clock, book: book, bus: bus}
}

func (env *gatewayEnv) do(method, path string, as *[20]byte, body interface{}) *httptest.ResponseRecorder {
	env.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(env.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	if as != nil {
		token, err := middleware.IssueToken(testSecret, *as, "", "", time.Minute)
		require.NoError(env.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	env.handler.ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	return out
}

func (env *gatewayEnv) createAnchor(document string) string {
	env.t.Helper()
	res := env.do(http.MethodPost, "/v1/anchors", &adminAddr, map[string]string{"document": document, "label": document})
	require.Equal(env.t, http.StatusCreated, res.Code, res.Body.String())
	return decode[map[string]interface{}](env.t, res)["hash"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newGatewayEnv(t)
	res := env.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "ok", res.Body.String())
	require.NotEmpty(t, res.Header().Get(middleware.RequestIDHeader))

	env.do(http.MethodGet, "/v1/state", nil, nil)
	res = env.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "anchorledger_gateway_requests_total")
}

func TestAnchorLifecycle(t *testing.T) {
	env := newGatewayEnv(t)
	hash := env.createAnchor("charter")

	res := env.do(http.MethodPost, "/v1/anchors", &depositorAddr, map[string]string{"document": "other"})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = env.do(http.MethodPost, "/v1/anchors", &adminAddr, map[string]string{"document": "charter"})
	require.Equal(t, http.StatusConflict, res.Code)

	res = env.do(http.MethodPost, "/v1/anchors", &adminAddr, map[string]string{"label": "no key"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(http.MethodPost, "/v1/anchors", nil, map[string]string{"document": "anon"})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = env.do(http.MethodGet, "/v1/anchors/"+hash, nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	anchor := decode[anchorResponse](t, res)
	require.Equal(t, uint64(1), anchor.ID)
	require.Equal(t, "charter", anchor.Label)
	require.Equal(t, uint64(100), anchor.CreatedAtBlock)

	res = env.do(http.MethodGet, "/v1/anchors/id/1", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, anchor, decode[anchorResponse](t, res))

	res = env.do(http.MethodGet, "/v1/anchors/id/2", nil, nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(http.MethodGet, "/v1/anchors/0x1234", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	env.createAnchor("second")
	res = env.do(http.MethodGet, "/v1/anchors?from=2&count=10", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	listed := decode[[]anchorResponse](t, res)
	require.Len(t, listed, 1)
	require.Equal(t, uint64(2), listed[0].ID)

	res = env.do(http.MethodPost, "/v1/anchors/"+hash+"/seal", &adminAddr, nil)
	require.Equal(t, http.StatusNoContent, res.Code)
	res = env.do(http.MethodPost, "/v1/anchors/"+hash+"/seal", &adminAddr, nil)
	require.Equal(t, http.StatusLocked, res.Code)
}

func TestPledgeAndClaimThroughGateway(t *testing.T) {
	env := newGatewayEnv(t)
	hash := env.createAnchor("charter")
	require.NoError(t, env.book.Credit(depositorAddr, new(big.Int).Mul(oneEther, big.NewInt(3))))

	res := env.do(http.MethodPost, "/v1/pledges", &depositorAddr, map[string]interface{}{
		"anchor":    hash,
		"amountWei": oneEther.String(),
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	slot := decode[slotResponse](t, res)
	require.Equal(t, uint64(0), slot.Index)
	require.Equal(t, uint64(17_380), slot.LockedUntilBlock)
	require.Equal(t, uint64(17_444), slot.ClaimableAt)
	require.Equal(t, "unlocking", slot.Status)
	require.False(t, slot.CanClaim)
	require.Equal(t, oneEther.String(), env.book.BalanceOf(ledgerAddr).String())
	require.Equal(t, new(big.Int).Mul(oneEther, big.NewInt(2)).String(), env.book.BalanceOf(depositorAddr).String())

	// A rejected pledge returns the attached value.
	missing := "0x" + strings.Repeat("ab", 32)
	res = env.do(http.MethodPost, "/v1/pledges", &depositorAddr, map[string]interface{}{
		"anchor":    missing,
		"amountWei": oneEther.String(),
	})
	require.Equal(t, http.StatusNotFound, res.Code)
	require.Equal(t, oneEther.String(), env.book.BalanceOf(ledgerAddr).String())

	res = env.do(http.MethodPost, "/v1/pledges", &depositorAddr, map[string]interface{}{
		"anchor":    hash,
		"amountWei": "0",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	// More than the caller holds.
	res = env.do(http.MethodPost, "/v1/pledges", &depositorAddr, map[string]interface{}{
		"anchor":    hash,
		"amountWei": new(big.Int).Mul(oneEther, big.NewInt(5)).String(),
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, oneEther.String(), env.book.BalanceOf(ledgerAddr).String())

	res = env.do(http.MethodPost, "/v1/claims", &depositorAddr, map[string]uint64{"index": 0})
	require.Equal(t, statusTooEarly, res.Code)

	require.NoError(t, env.chain.SetBlock(17_444))
	res = env.do(http.MethodGet, "/v1/pledges/0x00000000000000000000000000000000000000d1/0", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	slot = decode[slotResponse](t, res)
	require.True(t, slot.CanClaim)
	require.Equal(t, "claimable", slot.Status)

	res = env.do(http.MethodPost, "/v1/claims", &depositorAddr, map[string]uint64{"index": 0})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, oneEther.String(), decode[map[string]string](t, res)["amountWei"])
	require.Equal(t, new(big.Int).Mul(oneEther, big.NewInt(3)).String(), env.book.BalanceOf(depositorAddr).String())

	res = env.do(http.MethodPost, "/v1/claims", &depositorAddr, map[string]uint64{"index": 0})
	require.Equal(t, http.StatusConflict, res.Code)
	res = env.do(http.MethodPost, "/v1/claims", &depositorAddr, map[string]uint64{"index": 7})
	require.Equal(t, http.StatusNotFound, res.Code)

	res = env.do(http.MethodGet, "/v1/pledges/0x00000000000000000000000000000000000000d1", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	listed := decode[struct {
		Total   uint64         `json:"total"`
		Pledges []slotResponse `json:"pledges"`
	}](t, res)
	require.Equal(t, uint64(1), listed.Total)
	require.Len(t, listed.Pledges, 1)
	require.Equal(t, "claimed", listed.Pledges[0].Status)
}

func TestClaimTransferFailureMapsToBadGateway(t *testing.T) {
	env := newGatewayEnv(t)
	hash := env.createAnchor("charter")
	res := env.do(http.MethodPost, "/v1/pledges/record", &adminAddr, map[string]interface{}{
		"depositor": "0x00000000000000000000000000000000000000d1",
		"anchor":    hash,
		"amountWei": oneEther.String(),
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	require.Equal(t, hexAddress(adminAddr), decode[slotResponse](t, res).RecordedBy)

	// Recorded pledges are not backed by vault funds.
	require.NoError(t, env.chain.SetBlock(17_444))
	res = env.do(http.MethodPost, "/v1/claims", &depositorAddr, map[string]uint64{"index": 0})
	require.Equal(t, http.StatusBadGateway, res.Code)
	require.True(t, env.engine.CanClaim(depositorAddr, 0))
}

func TestTreasuryRoutes(t *testing.T) {
	env := newGatewayEnv(t)
	require.NoError(t, env.book.Credit(ledgerAddr, oneEther))

	res := env.do(http.MethodPost, "/v1/treasury/sweep", &depositorAddr, map[string]string{"amountWei": "1"})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = env.do(http.MethodPost, "/v1/treasury/sweep", &adminAddr, map[string]string{"amountWei": "2000000000000000000"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(http.MethodPost, "/v1/treasury/sweep", &adminAddr, map[string]string{"amountWei": "400"})
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, big.NewInt(400).String(), env.book.BalanceOf(treasuryAddr).String())

	// No fallback address configured.
	res = env.do(http.MethodPost, "/v1/fallback/forward", &adminAddr, map[string]string{"amountWei": "1"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(http.MethodPost, "/v1/treasury/sweep", &adminAddr, map[string]string{"amountWei": "-1"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = env.do(http.MethodGet, "/v1/state", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	snap := decode[stateResponse](t, res)
	require.Equal(t, new(big.Int).Sub(oneEther, big.NewInt(400)).String(), snap.VaultBalanceWei)
	require.Equal(t, uint64(100), snap.CurrentBlock)

	res = env.do(http.MethodGet, "/v1/config", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	cfg := decode[configResponse](t, res)
	require.Equal(t, uint64(17_280), cfg.VestHorizonBlocks)
	require.Equal(t, hexAddress(ledgerAddr), cfg.Self)
}

func TestSealHashRoute(t *testing.T) {
	env := newGatewayEnv(t)
	env.createAnchor("charter")
	res := env.do(http.MethodGet, "/v1/seal-hash", nil, nil)
	require.Equal(t, http.StatusOK, res.Code)
	want, err := env.engine.SealHash()
	require.NoError(t, err)
	require.Equal(t, hexHash(want), decode[map[string]string](t, res)["sealHash"])
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{pledge.ErrUnauthorized, http.StatusForbidden},
		{pledge.ErrInvalidIndex, http.StatusNotFound},
		{pledge.ErrAlreadySealed, http.StatusLocked},
		{pledge.ErrReentrancy, http.StatusConflict},
		{pledge.ErrHorizonNotReached, statusTooEarly},
		{pledge.ErrCapacityExceeded, http.StatusBadRequest},
		{bank.ErrInsufficientFunds, http.StatusBadRequest},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestEventStream(t *testing.T) {
	env := newGatewayEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/v1/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	env.createAnchor("charter")

	var evt types.Event
	require.NoError(t, wsjson.Read(ctx, conn, &evt))
	require.Equal(t, events.TypeAnchorCreated, evt.Type)
	require.Equal(t, "1", evt.Attr("anchorId"))
}
