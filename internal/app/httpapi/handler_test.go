package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	app "github.com/R3E-Network/issuance_ledger/internal/app"
	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/R3E-Network/issuance_ledger/internal/app/rail"
	"github.com/R3E-Network/issuance_ledger/internal/app/services/issuance"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner    = "owner"
	testCurrency = "d2a4cff31913016155e38e474a2c06d08be276cf"
)

var testSecret = []byte("test-secret")

type testServer struct {
	handler  http.Handler
	payments *rail.Memory
	now      time.Time
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ts := &testServer{
		payments: rail.NewMemory(),
		now:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	application, err := app.New(app.Stores{}, app.Options{
		Rail:       ts.payments,
		Authorizer: auth.NewOwnerPolicy(testOwner),
		Clock:      func() time.Time { return ts.now },
	}, nil)
	require.NoError(t, err)

	if cfg.JWTSecret == nil {
		cfg.JWTSecret = testSecret
	}
	ts.handler, err = Wrap(application, cfg, nil)
	require.NoError(t, err)

	resp := ts.do(authedRequest(t, http.MethodPut, "/settings/payment-currency", marshal(map[string]any{"reference": testCurrency}), testOwner))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	ts.handler.ServeHTTP(resp, req)
	return resp
}

func (ts *testServer) launch(t *testing.T) uint64 {
	t.Helper()
	body := marshal(map[string]any{
		"start_mint_time": ts.now,
		"end_mint_time":   ts.now.Add(100 * time.Second),
		"display_name":    "Helm",
		"unit_price":      "1000000000000000000000",
		"max_supply":      20,
		"public_supply":   10,
		"max_per_address": 1,
	})
	resp := ts.do(authedRequest(t, http.MethodPost, "/items", body, testOwner))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var out struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out.ID
}

func signToken(t *testing.T, caller string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func authedRequest(t *testing.T, method, url string, body []byte, caller string) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signToken(t, caller))
	return req
}

func marshal(v any) []byte {
	buf, _ := json.Marshal(v)
	return buf
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	ts := newTestServer(t, Config{})
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusOK, ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
}

func TestMutationsRequireToken(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(httptest.NewRequest(http.MethodPost, "/items", bytes.NewReader(marshal(map[string]any{}))))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodPost, "/items", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/items", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)
}

func TestLaunchRequiresAuthority(t *testing.T) {
	ts := newTestServer(t, Config{})
	resp := ts.do(authedRequest(t, http.MethodPost, "/items", marshal(map[string]any{"display_name": "x"}), "mallory"))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestIssuanceLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{})
	id := ts.launch(t)
	assert.Equal(t, uint64(1), id)

	price, _ := new(big.Int).SetString("1000000000000000000000", 10)
	require.NoError(t, ts.payments.Deposit(testCurrency, "alice", price))
	require.NoError(t, ts.payments.Approve(testCurrency, "alice", price))

	// wrong payment
	resp := ts.do(authedRequest(t, http.MethodPost, "/items/1/mint", marshal(map[string]any{"quantity": 1, "payment": "1"}), "alice"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = ts.do(authedRequest(t, http.MethodPost, "/items/1/mint", marshal(map[string]any{"quantity": 1, "payment": price.String()}), "alice"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/accounts/alice/items/1", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, decodeBody(t, resp)["balance"])

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/items/1/minted", nil))
	assert.EqualValues(t, 1, decodeBody(t, resp)["minted"])

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/treasury", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, price.String(), decodeBody(t, resp)["custody"])

	// second mint has no funds left
	require.NoError(t, ts.payments.Approve(testCurrency, "alice", price))
	resp = ts.do(authedRequest(t, http.MethodPost, "/items/1/mint", marshal(map[string]any{"quantity": 1, "payment": price.String()}), "alice"))
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)

	// privileged mint inside the window
	resp = ts.do(authedRequest(t, http.MethodPost, "/items/1/owner-mint", marshal(map[string]any{"recipient": "bob", "quantity": 2}), testOwner))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	ts.now = ts.now.Add(time.Hour)
	resp = ts.do(authedRequest(t, http.MethodPost, "/items/1/owner-mint", marshal(map[string]any{"recipient": "bob", "quantity": 2}), testOwner))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/items/1/mints", nil))
	var mints []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &mints))
	assert.Len(t, mints, 2)

	resp = ts.do(authedRequest(t, http.MethodPost, "/treasury/withdraw", marshal(map[string]any{"amount": price.String(), "destination": "vault"}), testOwner))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 0, ts.payments.BalanceOf(testCurrency, "vault").Cmp(price))
}

func TestAmountsTravelAsStrings(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.launch(t)
	const price = "1000000000000000000000"

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/items/1", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"unit_price":"`+price+`"`)

	// what a client reads back can be written again unchanged
	got := decodeBody(t, resp)
	delete(got, "id")
	delete(got, "minted_total")
	resp = ts.do(authedRequest(t, http.MethodPut, "/items/1", marshal(got), testOwner))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"unit_price":"`+price+`"`)

	amount, _ := new(big.Int).SetString(price, 10)
	require.NoError(t, ts.payments.Deposit(testCurrency, "alice", amount))
	require.NoError(t, ts.payments.Approve(testCurrency, "alice", amount))
	resp = ts.do(authedRequest(t, http.MethodPost, "/items/1/mint", marshal(map[string]any{"quantity": 1, "payment": price}), "alice"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"payment":"`+price+`"`)
}

func TestUpdatePreservesCounterOverHTTP(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.launch(t)
	ts.now = ts.now.Add(-time.Hour)
	resp := ts.do(authedRequest(t, http.MethodPost, "/items/1/owner-mint", marshal(map[string]any{"recipient": "bob", "quantity": 3}), testOwner))
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = ts.do(authedRequest(t, http.MethodPut, "/items/1", marshal(map[string]any{
		"display_name": "Helm II",
		"unit_price":   "5",
		"max_supply":   50,
	}), testOwner))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decodeBody(t, resp)
	assert.Equal(t, "Helm II", body["display_name"])
	assert.EqualValues(t, 3, body["minted_total"])
}

func TestMetadataURI(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/items/1/uri", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	ts.launch(t)
	resp = ts.do(authedRequest(t, http.MethodPut, "/settings/metadata-base", marshal(map[string]any{"location": "ipfs://meta/"}), testOwner))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(httptest.NewRequest(http.MethodGet, "/items/1/uri", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ipfs://meta/1", decodeBody(t, resp)["uri"])
}

func TestBadInput(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.launch(t)

	cases := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "/items/1/mint", `{"quantity":1,"surprise":true}`},
		{"malformed json", "/items/1/mint", `{"quantity":`},
		{"non numeric payment", "/items/1/mint", `{"quantity":1,"payment":"ten"}`},
		{"negative payment", "/items/1/mint", `{"quantity":1,"payment":"-1"}`},
		{"missing withdraw amount", "/treasury/withdraw", `{"destination":"vault"}`},
		{"id overflow", "/items/99999999999999999999/mint", `{"quantity":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := authedRequest(t, http.MethodPost, tc.path, []byte(tc.body), testOwner)
			assert.Equal(t, http.StatusBadRequest, ts.do(req).Code)
		})
	}

	resp := ts.do(authedRequest(t, http.MethodPut, "/settings/payment-currency", marshal(map[string]any{"reference": "nope"}), testOwner))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 2})
	// the setup request in newTestServer used the owner's first token
	resp := ts.do(authedRequest(t, http.MethodPut, "/settings/metadata-base", marshal(map[string]any{"location": "a"}), testOwner))
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = ts.do(authedRequest(t, http.MethodPut, "/settings/metadata-base", marshal(map[string]any{"location": "b"}), testOwner))
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)

	resp = ts.do(authedRequest(t, http.MethodGet, "/settings", nil, "someone-else"))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAuditRecordsMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ts := newTestServer(t, Config{AuditPath: path})
	ts.do(authedRequest(t, http.MethodPost, "/items", marshal(map[string]any{"display_name": "x"}), "mallory"))

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(authedRequest(t, http.MethodGet, "/audit?limit=1", nil, testOwner))
	require.Equal(t, http.StatusOK, resp.Code)
	var entries []auditEntry
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "mallory", entries[0].Caller)
	assert.Equal(t, http.StatusForbidden, entries[0].Status)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.Canceled))
	assert.Equal(t, http.StatusPaymentRequired, statusFor(rail.ErrInsufficientCustody))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(issuance.ErrStopped))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"example.org"}})

	req := httptest.NewRequest(http.MethodOptions, "/items", nil)
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := ts.do(req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "https://app.example.org", resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Origin", "https://evil.test")
	resp = ts.do(req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagates(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, resp.Header().Get(requestIDHeader))

	req := authedRequest(t, http.MethodPost, "/items", marshal(map[string]any{"display_name": "x"}), "mallory")
	req.Header.Set(requestIDHeader, "req-42")
	resp = ts.do(req)
	assert.Equal(t, "req-42", resp.Header().Get(requestIDHeader))

	resp = ts.do(authedRequest(t, http.MethodGet, "/audit?limit=1", nil, testOwner))
	var entries []auditEntry
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "req-42", entries[0].RequestID)
}
