package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/pkg/lx"
	"github.com/luxfi/perps/pkg/metrics"
	"github.com/luxfi/perps/pkg/node"
	"github.com/luxfi/perps/pkg/oracle"
	"github.com/luxfi/perps/pkg/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      interface{}     `json:"id"`
}

func newTestServer(t *testing.T, cfg Config) (*JSONRPCServer, *node.Node) {
	t.Helper()
	level, _ := log.ToLevel("info")
	logger := log.NewTestLogger(level)

	feed := oracle.NewFeed(0)
	require.NoError(t, feed.SetPrice(0, d("100")))
	require.NoError(t, feed.SetCollateralPrice(0, d("1")))

	n, err := node.New(store.New(memdb.New(), "perps", logger), feed, logger)
	require.NoError(t, err)
	require.NoError(t, n.ApplyGenesis([]lx.Command{
		lx.SetCollaterals{Collaterals: map[uint32]lx.Collateral{0: {Denom: "uusdc"}}},
		lx.SetGroups{Groups: map[uint32]lx.Group{0: {Name: "crypto", MinLeverage: d("1"), MaxLeverage: d("100")}}},
		lx.SetFees{Fees: map[uint32]lx.Fee{0: {
			Name:               "crypto",
			OpenFeeP:           d("0.0003"),
			CloseFeeP:          d("0.0006"),
			TriggerOrderFeeP:   d("0.0002"),
			MinPositionSizeUsd: d("1500"),
		}}},
		lx.SetPairs{Pairs: map[uint32]lx.Pair{0: {From: "BTC", To: "USD"}}},
		lx.SetAddresses{Addresses: lx.Addresses{Gov: "lux1gov", Staking: "lux1staking"}},
		lx.SetVaultClosingFeeP{VaultClosingFeeP: d("0.8")},
		lx.SetOpenInterestCaps{Pairs: map[uint32]decimal.Decimal{0: d("1000000")}},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		n.Wait()
	})
	return NewJSONRPCServer(n, cfg, logger), n
}

func call(t *testing.T, h http.Handler, method string, params interface{}) rpcResponse {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": 1}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func result[T any](t *testing.T, resp rpcResponse) T {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	var v T
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	return v
}

func TestJSONRPCServer_Ping(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	assert.Equal(t, "pong", result[string](t, call(t, s, "perps_ping", nil)))
}

func TestJSONRPCServer_ProtocolErrors(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString("{not json"))
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ParseError, resp.Error.Code)

	req = httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"1.0","method":"perps_ping","id":1}`))
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, InvalidRequest, resp.Error.Code)

	assert.Equal(t, MethodNotFound, call(t, s, "perps_nope", nil).Error.Code)
	assert.Equal(t, InvalidParams, call(t, s, "perps_getTrade", nil).Error.Code)
	assert.Equal(t, InvalidParams, call(t, s, "perps_getTrade", []int{1}).Error.Code)
}

func TestJSONRPCServer_AdminDisabled(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	resp := call(t, s, "admin_deposit", map[string]string{"address": "lux1alice", "denom": "uusdc", "amount": "10"})
	assert.Equal(t, MethodNotFound, resp.Error.Code)
	resp = call(t, s, "oracle_setPrice", map[string]string{"index": "0", "price": "1"})
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestJSONRPCServer_TradeLifecycle(t *testing.T) {
	require := require.New(t)
	s, _ := newTestServer(t, Config{Admin: true})

	funds := result[map[string]interface{}](t, call(t, s, "admin_deposit",
		map[string]string{"address": "lux1alice", "denom": "uusdc", "amount": "1000"}))
	require.Equal("1000", funds["balance"])

	open := call(t, s, "perps_openTrade", map[string]interface{}{
		"trade": map[string]interface{}{
			"user":              "lux1alice",
			"collateral_amount": "1000",
			"leverage":          "10",
			"long":              true,
			"trade_type":        "market",
			"open_price":        "100",
		},
		"max_slippage_p": "0.01",
	})
	receipt := result[node.Receipt](t, open)
	require.NotNil(receipt.Trade)
	require.True(d("992").Equal(receipt.Trade.CollateralAmount))
	require.NotEmpty(receipt.Events)

	trades := result[[]lx.Trade](t, call(t, s, "perps_getOpenTrades", map[string]string{"user": "lux1alice"}))
	require.Len(trades, 1)

	liq := result[map[string]decimal.Decimal](t, call(t, s, "perps_getLiquidationPrice", map[string]interface{}{"user": "lux1alice", "index": 0}))
	require.True(liq["liquidation_price"].IsPositive())

	oi := result[lx.BorrowingView](t, call(t, s, "perps_getPairBorrowing", map[string]interface{}{"collateral_index": 0, "pair_index": 0}))
	require.True(d("9920").Equal(oi.OpenInterest.Long))

	result[map[string]interface{}](t, call(t, s, "oracle_setPrice", map[string]interface{}{"index": 0, "price": "110"}))
	value := result[lx.Settlement](t, call(t, s, "perps_getTradeValue", map[string]interface{}{"user": "lux1alice", "index": 0}))
	require.True(value.Value.GreaterThan(d("992")))

	info := result[map[string]interface{}](t, call(t, s, "perps_getInfo", nil))
	require.Equal("activated", info["trading_state"])
	require.Equal(node.DefaultVault, info["vault"])

	// the vault pays the profit
	result[map[string]interface{}](t, call(t, s, "admin_deposit",
		map[string]string{"address": node.DefaultVault, "denom": "uusdc", "amount": "5000"}))

	closed := result[node.Receipt](t, call(t, s, "perps_closeTradeMarket", map[string]interface{}{"user": "lux1alice", "index": 0}))
	require.False(closed.Trade.IsOpen)

	balance := result[map[string]interface{}](t, call(t, s, "perps_getBalance", map[string]string{"address": "lux1alice", "denom": "uusdc"}))
	require.Equal(value.Value.String(), balance["balance"])

	gov := result[map[string]decimal.Decimal](t, call(t, s, "perps_getPendingGovFees", map[string]int{"collateral_index": 0}))
	require.True(d("3").Equal(gov["pending_gov_fees"]))
	result[node.Receipt](t, call(t, s, "admin_claimGovFees", map[string]int{"collateral_index": 0}))

	block := result[node.Block](t, call(t, s, "perps_getBlock", map[string]int{"height": 1}))
	require.Equal(uint64(1), block.Height)
}

func TestJSONRPCServer_ErrorClasses(t *testing.T) {
	s, _ := newTestServer(t, Config{Admin: true})

	resp := call(t, s, "perps_openTrade", map[string]interface{}{
		"trade": map[string]interface{}{
			"user": "lux1bob", "collateral_amount": "1000", "leverage": "10",
			"long": true, "trade_type": "market", "open_price": "100",
		},
		"max_slippage_p": "0.01",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code, "unfunded trader")

	resp = call(t, s, "perps_closeTradeMarket", map[string]interface{}{"user": "lux1bob", "index": 3})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalError, resp.Error.Code)
	assert.Equal(t, map[string]interface{}{"class": "sequencing"}, resp.Error.Data)

	resp = call(t, s, "admin_setVaultClosingFeeP", map[string]string{"vault_closing_fee_p": "1.5"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)

	resp = call(t, s, "oracle_setPrice", map[string]interface{}{"index": 0, "price": "0"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)

	resp = call(t, s, "perps_getBlock", map[string]int{"height": 99})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestJSONRPCServer_RateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		assert.Nil(t, call(t, s, "perps_ping", nil).Error, fmt.Sprintf("request %d", i))
	}
	resp := call(t, s, "perps_ping", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, LimitExceeded, resp.Error.Code)
}

func TestRouter(t *testing.T) {
	s, n := newTestServer(t, Config{})
	m := metrics.New("perps")
	m.SetBlockHeight(n.Height())

	ts := httptest.NewServer(NewRouter(s, nil, m))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["height"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/rpc", "application/json", bytes.NewBufferString(`{"jsonrpc":"2.0","method":"perps_ping","id":7}`))
	require.NoError(t, err)
	var rpc rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpc))
	resp.Body.Close()
	assert.Equal(t, `"pong"`, string(rpc.Result))

	resp, err = http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
