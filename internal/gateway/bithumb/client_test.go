package bithumb

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"maru/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.ExchangeConfig{
		BaseURL:                baseURL,
		AccessKey:              "test-access",
		SecretKey:              "test-secret",
		TimeoutSeconds:         5,
		RateLimitPerSec:        1000,
		BreakerThreshold:       5,
		BreakerCooldownSeconds: 1,
	})
	require.NoError(t, err)
	return client
}

func parseAuthClaims(t *testing.T, r *http.Request) jwt.MapClaims {
	t.Helper()
	header := r.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(header, "Bearer "))
	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(tok *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

func TestCurrentPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("markets"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"market":"KRW-BTC","trade_price":50000000.0}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	price, err := client.CurrentPrice(context.Background(), "btc")
	assert.NoError(t, err)
	assert.Equal(t, 50000000.0, price)
}

func TestCurrentPriceMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CurrentPrice(context.Background(), "BTC")
	assert.Error(t, err)
}

func TestBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		claims := parseAuthClaims(t, r)
		assert.Equal(t, "test-access", claims["access_key"])
		assert.NotEmpty(t, claims["nonce"])
		assert.NotNil(t, claims["timestamp"])
		// 无参数请求不带 query_hash。
		_, hasHash := claims["query_hash"]
		assert.False(t, hasHash)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"currency":"KRW","balance":"1000000.0","locked":"0.0","avg_buy_price":"0"},
			{"currency":"BTC","balance":"0.5","locked":"0.1","avg_buy_price":"48000000"}
		]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	accounts, err := client.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "KRW", accounts[0].Currency)
	assert.Equal(t, 1000000.0, accounts[0].Available)
	assert.Equal(t, "BTC", accounts[1].Currency)
	assert.InDelta(t, 0.6, accounts[1].Total(), 1e-9)
	assert.Equal(t, 48000000.0, accounts[1].AvgBuyPrice)
}

func TestBalanceMissingCoin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"currency":"KRW","balance":"1000","locked":"0","avg_buy_price":"0"}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	acct, err := client.Balance(context.Background(), "ETH")
	assert.NoError(t, err)
	assert.Equal(t, "ETH", acct.Currency)
	assert.Zero(t, acct.Total())
	assert.Zero(t, acct.AvgBuyPrice)
}

func TestPlaceMarketBuy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "KRW-BTC", body["market"])
		assert.Equal(t, "bid", body["side"])
		assert.Equal(t, "price", body["ord_type"])
		assert.Equal(t, "10000", body["price"])

		// query_hash 覆盖请求参数的 urlencode 形式。
		values := url.Values{}
		for k, v := range body {
			values.Set(k, v)
		}
		sum := sha512.Sum512([]byte(values.Encode()))
		claims := parseAuthClaims(t, r)
		assert.Equal(t, hex.EncodeToString(sum[:]), claims["query_hash"])
		assert.Equal(t, "SHA512", claims["query_hash_alg"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"uuid":"order-1","market":"KRW-BTC","side":"bid"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.PlaceMarketBuy(context.Background(), "BTC", 10000)
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "order-1", res.OrderID)
}

func TestPlaceMarketSellRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ask", body["side"])
		assert.Equal(t, "market", body["ord_type"])
		assert.Equal(t, "0.005", body["volume"])

		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"name":"insufficient_funds","message":"주문가능한 수량이 부족합니다."}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	res, err := client.PlaceMarketSell(context.Background(), "BTC", 0.005)
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, "주문가능한 수량이 부족합니다.", res.Message)
}

func TestPlaceOrderWithoutCredentials(t *testing.T) {
	client, err := NewClient(config.ExchangeConfig{BaseURL: "https://api.bithumb.com"})
	require.NoError(t, err)
	_, err = client.PlaceMarketBuy(context.Background(), "BTC", 10000)
	assert.Error(t, err)
}

func TestCandlesReversed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/minutes/1", r.URL.Path)
		assert.Equal(t, "KRW-ETH", r.URL.Query().Get("market"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		// 接口按新到旧返回。
		_, _ = w.Write([]byte(`[
			{"candle_date_time_utc":"2024-05-01T00:02:00","opening_price":102,"high_price":103,"low_price":101,"trade_price":102.5,"candle_acc_trade_volume":30},
			{"candle_date_time_utc":"2024-05-01T00:01:00","opening_price":101,"high_price":102,"low_price":100,"trade_price":101.5,"candle_acc_trade_volume":20},
			{"candle_date_time_utc":"2024-05-01T00:00:00","opening_price":100,"high_price":101,"low_price":99,"trade_price":100.5,"candle_acc_trade_volume":10}
		]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	candles, err := client.Candles(context.Background(), "ETH", "1m", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.True(t, candles[0].OpenTime < candles[1].OpenTime)
	assert.True(t, candles[1].OpenTime < candles[2].OpenTime)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 102.5, candles[2].Close)
	assert.Equal(t, candles[0].OpenTime+60_000-1, candles[0].CloseTime)
}

func TestCandlePath(t *testing.T) {
	cases := []struct {
		interval string
		path     string
		ok       bool
	}{
		{"1m", "/v1/candles/minutes/1", true},
		{"30m", "/v1/candles/minutes/30", true},
		{"1h", "/v1/candles/minutes/60", true},
		{"4h", "/v1/candles/minutes/240", true},
		{"1d", "/v1/candles/days", true},
		{"1w", "/v1/candles/weeks", true},
		{"7m", "", false},
		{"bogus", "", false},
	}
	for _, tc := range cases {
		path, err := candlePath(tc.interval)
		if tc.ok {
			assert.NoError(t, err, tc.interval)
			assert.Equal(t, tc.path, path)
		} else {
			assert.Error(t, err, tc.interval)
		}
	}
}

func TestCircuitOpensAfterServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"internal"}}`))
	}))
	defer server.Close()

	client, err := NewClient(config.ExchangeConfig{
		BaseURL:                server.URL,
		TimeoutSeconds:         5,
		RateLimitPerSec:        1000,
		BreakerThreshold:       1,
		BreakerCooldownSeconds: 60,
	})
	require.NoError(t, err)

	_, err = client.CurrentPrice(context.Background(), "BTC")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)

	_, err = client.CurrentPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
