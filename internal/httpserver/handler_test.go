package httpserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"papertrade/internal/engine"
	"papertrade/internal/httpserver"
	"papertrade/internal/ledgerstore"
	"papertrade/internal/metrics"
	"papertrade/internal/model"
	"papertrade/internal/notify"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: userID,
	}).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func newTestServer(t *testing.T) (*httptest.Server, ledgerstore.Store) {
	t.Helper()
	store := ledgerstore.NewMemory()
	bus := notify.NewBus()
	eng := engine.NewService(store, bus, zerolog.Nop())
	agg := metrics.NewAggregator(store)
	handler := httpserver.NewHandler(eng, agg, store, decimal.NewFromInt(10000), "standard")
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Handler:       handler,
		WSHandler:     httpserver.NewWSHandler(bus, testSecret, "*"),
		JWTSecret:     testSecret,
		InternalToken: "internal-token",
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAuthIsRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/portfolios")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/portfolios", "garbage-token", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPortfolioLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, "user-1")

	// create (or fetch) the default portfolio
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/portfolios", token, map[string]any{"name": "default"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pf := decode[model.Portfolio](t, resp)
	assert.Equal(t, "user-1", pf.UserID)
	assert.True(t, pf.CashBalance.Equal(decimal.NewFromInt(10000)))

	// execute a market order
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/orders/market", token, map[string]any{
		"portfolio_id":  pf.ID,
		"symbol":        "AAPL",
		"side":          "buy",
		"quantity":      "10",
		"current_price": "100",
		"product_type":  "stock",
		"leverage":      1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[engine.ExecuteResult](t, resp)
	assert.True(t, res.Success)
	require.NotNil(t, res.Position)

	// close it
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/positions/"+res.Position.ID+"/close", token, map[string]any{
		"current_price": "110",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closeRes := decode[engine.CloseResult](t, resp)
	assert.True(t, closeRes.Success)
	assert.True(t, closeRes.RealizedPnL.GreaterThan(decimal.Zero))

	// metrics reflect the win
	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/portfolios/"+pf.ID+"/metrics", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[metrics.PortfolioMetrics](t, resp)
	assert.Equal(t, 1, m.ClosedPositions)
	assert.True(t, m.WinRate.Equal(decimal.NewFromInt(100)))

	// history is visible
	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/portfolios/"+pf.ID+"/transactions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	txns := decode[[]model.Transaction](t, resp)
	assert.Len(t, txns, 2)
}

func TestEngineFailuresMapToStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/portfolios", token, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pf := decode[model.Portfolio](t, resp)

	order := func(portfolioID, qty string) *http.Response {
		return doJSON(t, http.MethodPost, srv.URL+"/v1/orders/market", token, map[string]any{
			"portfolio_id":  portfolioID,
			"symbol":        "AAPL",
			"side":          "buy",
			"quantity":      qty,
			"current_price": "100",
			"product_type":  "stock",
			"leverage":      1,
		})
	}

	// unknown portfolio
	resp = order("missing", "1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	res := decode[engine.ExecuteResult](t, resp)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	// not enough cash
	resp = order(pf.ID, "10000")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// invalid payload field
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/orders/market", token, map[string]any{"bogus": true})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUsersCannotSeeEachOther(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := signToken(t, "alice")
	bob := signToken(t, "bob")

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/portfolios", alice, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pf := decode[model.Portfolio](t, resp)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/portfolios/"+pf.ID, bob, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/portfolios/"+pf.ID+"/transactions", bob, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInternalEndpointNeedsToken(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/internal/overnight", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("X-Internal-Token", "internal-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestProfilesArePublic(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/profiles")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var profiles []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profiles))
	assert.Len(t, profiles, 4)
}
