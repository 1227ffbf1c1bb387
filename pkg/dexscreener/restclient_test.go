package dexscreener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTClient(srv.URL, 5*time.Second, "")
}

// go test -v --run TestGetTokenPairs
func TestGetTokenPairs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/0xtoken", r.URL.Path)
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":[
		  {"chainId":"ethereum","pairAddress":"0xA","baseToken":{"address":"0xtoken"},"priceUsd":"0.001","liquidity":{"usd":50000}},
		  {"chainId":"bsc","pairAddress":"0xB","baseToken":{"address":"0xtoken"},"priceUsd":"0.002","liquidity":{"usd":90000}},
		  {"chainId":"ethereum","pairAddress":"0xC","baseToken":{"address":"0xtoken"},"priceUsd":"0.05","liquidity":{"usd":500}}]}`))
	})

	pairs, err := client.GetTokenPairs(context.Background(), "ethereum", "0xtoken")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "0xA", pairs[0].PairAddress)
	assert.InDelta(t, 500, pairs[1].LiquidityUSD(), 1e-9)
}

func TestGetTokenPairsNull(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":null}`))
	})

	pairs, err := client.GetTokenPairs(context.Background(), "ethereum", "0xdead")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestGetPair(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/pairs/solana/PoolX", r.URL.Path)
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":[{"chainId":"solana","pairAddress":"PoolX",
		  "baseToken":{"address":"So11111111111111111111111111111111111111112"},
		  "quoteToken":{"address":"MintQ"},
		  "priceNative":"20000","priceUsd":"150","liquidity":{"usd":12000},"marketCap":0,"fdv":777}],"pair":null}`))
	})

	pair, err := client.GetPair(context.Background(), "solana", "PoolX")
	require.NoError(t, err)
	require.NotNil(t, pair)

	// MintQ is the quote side: 150 / 20000
	assert.InDelta(t, 0.0075, pair.TokenPriceUSD("MintQ"), 1e-12)
	assert.InDelta(t, 150, pair.TokenPriceUSD("So11111111111111111111111111111111111111112"), 1e-9)
	assert.InDelta(t, 777, pair.MarketCapUSD(), 1e-9)
}

func TestGetPairMissing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":null,"pair":null}`))
	})

	pair, err := client.GetPair(context.Background(), "ethereum", "0xgone")
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestGetPairHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetPair(context.Background(), "ethereum", "0xA")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}
