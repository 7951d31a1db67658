package rewardd

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"capsupply/config"
	"capsupply/core"
	"capsupply/core/events"
	"capsupply/core/rewards"
	"capsupply/native/access"
	"capsupply/native/stream"
	"capsupply/native/supply"
	"capsupply/services/rewardd/audit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	testGenesis = time.Unix(1_700_000_000, 0).UTC()
	adminAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	updaterAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	listerAddr  = common.HexToAddress("0x000000000000000000000000000000000000011d")
	aliceAddr   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type harness struct {
	t       *testing.T
	now     time.Time
	engine  *core.Engine
	audit   *audit.Store
	handler http.Handler
}

func newHarness(t *testing.T, limits RateLimitConfig) *harness {
	t.Helper()
	schedule, err := rewards.NewSchedule(testGenesis, 30*24*time.Hour, []*big.Int{big.NewInt(10), big.NewInt(5)})
	require.NoError(t, err)
	yield := stream.YieldParams()
	yield.SizeUnit = big.NewInt(1)
	params := &config.Params{
		Cap:              big.NewInt(1_000_000_000),
		ListingFee:       big.NewInt(50),
		NFTTransferPrice: big.NewInt(0),
		Schedule:         schedule,
		Streams:          []stream.Params{yield},
		ScoreUnit:        big.NewInt(1),
		Roles: map[access.Role][]common.Address{
			access.RoleAdmin:   {adminAddr},
			access.RoleUpdater: {updaterAddr},
			access.RoleListing: {listerAddr},
		},
		Allocations: []supply.Balance{
			{Principal: supply.DistributorPoolAddress, Amount: big.NewInt(10_000)},
			{Principal: listerAddr, Amount: big.NewInt(500)},
		},
	}

	db, err := audit.Open("")
	require.NoError(t, err)
	store, err := audit.New(db, nil)
	require.NoError(t, err)

	h := &harness{t: t, now: testGenesis, audit: store}
	h.engine, err = core.NewEngine(params,
		core.WithClock(func() time.Time { return h.now }),
		core.WithEmitter(events.MultiEmitter{store}))
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{
		Engine:    h.engine,
		Auth:      AuthConfig{HMACSecret: testSecret},
		RateLimit: limits,
		Audit:     store,
	})
	require.NoError(t, err)
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(method, path string, principal *common.Address, body interface{}) (int, map[string]interface{}) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader([]byte("{}"))
	}
	req := httptest.NewRequest(method, path, reader)
	if principal != nil {
		token, err := IssueToken(testSecret, *principal, "", "", time.Hour, time.Now())
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestStreamRoutes(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 6000, Burst: 100})

	code, body := h.do(http.MethodPost, "/v1/streams/yield/positions", nil,
		map[string]interface{}{"principal": aliceAddr.Hex(), "amount": "1000", "durationSeconds": 45 * 24 * 3600})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "unauthenticated", body["reason"])

	code, body = h.do(http.MethodPost, "/v1/streams/yield/positions", &aliceAddr,
		map[string]interface{}{"principal": aliceAddr.Hex(), "amount": "1000", "durationSeconds": 45 * 24 * 3600})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "unauthorized", body["reason"])

	code, body = h.do(http.MethodPost, "/v1/streams/yield/positions", &updaterAddr,
		map[string]interface{}{"principal": aliceAddr.Hex(), "amount": "1000", "durationSeconds": 45 * 24 * 3600})
	require.Equal(t, http.StatusCreated, code)
	require.EqualValues(t, 1, body["positionId"])

	h.now = h.now.Add(100 * time.Second)
	code, body = h.do(http.MethodGet, "/v1/streams/yield/principals/"+aliceAddr.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1500000", body["pending"])

	code, body = h.do(http.MethodPost, "/v1/streams/yield/claim", &aliceAddr, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1500000", body["amount"])

	code, body = h.do(http.MethodPost, "/v1/streams/yield/claim", &aliceAddr, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "nothing_to_claim", body["reason"])

	code, body = h.do(http.MethodPost, "/v1/streams/liquidity/claim", &aliceAddr, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "unknown_stream", body["reason"])

	code, body = h.do(http.MethodPost, "/v1/streams/yield/positions/1/close", &updaterAddr,
		map[string]interface{}{"principal": aliceAddr.Hex()})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["early"])
	require.Equal(t, "500", body["returned"])
}

func TestDistributorAndSupplyRoutes(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 6000, Burst: 100})

	code, _ := h.do(http.MethodPost, "/v1/distributor/principals", &updaterAddr,
		map[string]string{"principal": aliceAddr.Hex(), "score": "2"})
	require.Equal(t, http.StatusCreated, code)

	h.now = h.now.Add(50 * time.Second)
	code, body := h.do(http.MethodGet, "/v1/distributor/principals/"+aliceAddr.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1000", body["pending"])

	code, _ = h.do(http.MethodPut, "/v1/distributor/principals/"+aliceAddr.Hex()+"/activity", &updaterAddr,
		map[string]string{"score": "4"})
	require.Equal(t, http.StatusOK, code)

	code, body = h.do(http.MethodPost, "/v1/distributor/claim", &aliceAddr, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1000", body["amount"])

	code, body = h.do(http.MethodPost, "/v1/listings/burn", &listerAddr, map[string]string{"amount": "50", "tag": "pair"})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["listingCount"])

	code, body = h.do(http.MethodPost, "/v1/listings/burn", &listerAddr, map[string]string{"amount": "10", "tag": "pair"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "listing_fee_mismatch", body["reason"])

	code, body = h.do(http.MethodGet, "/v1/supply", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "10450", body["circulating"])
	require.Equal(t, "50", body["burned"])
	require.Equal(t, "9000", body["poolBalance"])

	code, body = h.do(http.MethodGet, "/v1/phase", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "10", body["rate"])
	require.Equal(t, true, body["active"])
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 6000, Burst: 100})

	code, _ := h.do(http.MethodPost, "/admin/pause", &updaterAddr, nil)
	require.Equal(t, http.StatusForbidden, code)
	code, body := h.do(http.MethodPost, "/admin/pause", &adminAddr, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["paused"])

	code, body = h.do(http.MethodPost, "/v1/burn", &listerAddr, map[string]string{"amount": "1"})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "paused", body["reason"])

	code, body = h.do(http.MethodPost, "/admin/roles", &adminAddr,
		map[string]interface{}{"principal": aliceAddr.Hex(), "role": "listing", "grant": true})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["granted"])

	code, body = h.do(http.MethodPost, "/admin/roles", &adminAddr,
		map[string]interface{}{"principal": adminAddr.Hex(), "role": "admin", "grant": false})
	require.Equal(t, http.StatusForbidden, code, "last admin cannot be revoked: %v", body)

	code, _ = h.do(http.MethodPost, "/admin/resume", &adminAddr, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = h.do(http.MethodPost, "/admin/nft/mint", &adminAddr, map[string]string{"owner": aliceAddr.Hex()})
	require.Equal(t, http.StatusCreated, code)
	require.EqualValues(t, 1, body["tokenId"])

	code, body = h.do(http.MethodPost, "/v1/nft/transfer", &listerAddr,
		map[string]interface{}{"tokenId": 1, "payment": "0"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "transfer_rejected", body["reason"])

	code, _ = h.do(http.MethodPost, "/v1/nft/approve", &aliceAddr,
		map[string]interface{}{"tokenId": 1, "buyer": listerAddr.Hex()})
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodPost, "/v1/nft/transfer", &listerAddr,
		map[string]interface{}{"tokenId": 1, "payment": "0"})
	require.Equal(t, http.StatusOK, code)
	owner, ok := h.engine.NFTOwner(1)
	require.True(t, ok)
	require.Equal(t, listerAddr, owner)

	code, body = h.do(http.MethodPost, "/admin/listing-fee", &adminAddr, map[string]string{"fee": "75"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "75", body["listingFee"])

	code, body = h.do(http.MethodGet, "/admin/audit?type="+events.TypeAccessPause, &adminAddr, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["events"], 2)

	code, _ = h.do(http.MethodGet, "/admin/audit", &aliceAddr, nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestRateLimitThrottlesCaller(t *testing.T) {
	h := newHarness(t, RateLimitConfig{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		code, _ := h.do(http.MethodPost, "/v1/burn", &listerAddr, map[string]string{"amount": "1"})
		require.Equal(t, http.StatusOK, code)
	}
	code, body := h.do(http.MethodPost, "/v1/burn", &listerAddr, map[string]string{"amount": "1"})
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, "rate_limited", body["reason"])

	// Buckets are per principal.
	code, _ = h.do(http.MethodPost, "/v1/burn", &adminAddr, map[string]string{"amount": "1"})
	require.Equal(t, http.StatusConflict, code)
}

func TestRejectsBadTokens(t *testing.T) {
	h := newHarness(t, RateLimitConfig{})
	req := httptest.NewRequest(http.MethodPost, "/v1/burn", bytes.NewReader([]byte(`{"amount":"1"}`)))
	token, err := IssueToken("another-secret-value-entirely", listerAddr, "", "", time.Hour, time.Now())
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, listerAddr, "", "", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/burn", bytes.NewReader([]byte(`{"amount":"1"}`)))
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
