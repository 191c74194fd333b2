package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/subcent_bot/internal/domain"
)

// Key and expected signature from Kraken's API documentation example.
const (
	krakenTestSecret = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	krakenTestSig    = "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ=="
)

func newTestKraken(t *testing.T, baseURL string) *Kraken {
	t.Helper()
	k, err := NewKraken("test-key", krakenTestSecret, baseURL)
	require.NoError(t, err)
	return k
}

func TestKrakenSignKnownVector(t *testing.T) {
	k := newTestKraken(t, "")

	postdata := "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"
	sig := k.sign("/0/private/AddOrder", 1616492376594, postdata)
	assert.Equal(t, krakenTestSig, sig)
}

func TestKrakenRejectsInvalidSecret(t *testing.T) {
	_, err := NewKraken("key", "not base64!!!", "")
	assert.Error(t, err)
}

func TestKrakenNonceStrictlyIncreasing(t *testing.T) {
	k := newTestKraken(t, "")

	last := int64(0)
	for i := 0; i < 1000; i++ {
		n := k.nextNonce()
		assert.Greater(t, n, last)
		last = n
	}
}

func TestKrakenPairRoundTrip(t *testing.T) {
	k := newTestKraken(t, "")

	for _, pair := range []string{"SHIBUSDT", "BTCUSDT", "KASUSDT", "XDGUSD"} {
		assert.Equal(t, pair, k.NormalizePair(k.PairFormat(pair)))
		// Applying the conversion twice changes nothing.
		assert.Equal(t, k.PairFormat(pair), k.PairFormat(k.PairFormat(pair)))
	}
	assert.Equal(t, "BTCUSDT", k.NormalizePair("BTC_USDT"))
}

func TestKrakenGetTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		fmt.Fprint(w, `{"error":[],"result":{"SHIBUSDT":{"c":["0.0000125","100"],"v":["1000000","2500000"]}}}`)
	}))
	defer srv.Close()

	k := newTestKraken(t, srv.URL)
	ticker, err := k.GetTicker(context.Background(), "SHIBUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.0000125, ticker.LastPrice, 1e-12)
	assert.InDelta(t, 2500000.0, ticker.QuoteVolume24h, 1e-6)
}

func TestKrakenRateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":["EAPI:Rate limit exceeded"],"result":null}`)
	}))
	defer srv.Close()

	k := newTestKraken(t, srv.URL)
	_, err := k.GetBalance(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRateLimited(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestKrakenRejectionClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":["EGeneral:Invalid arguments"],"result":null}`)
	}))
	defer srv.Close()

	k := newTestKraken(t, srv.URL)
	_, err := k.GetBalance(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestKrakenGetOpenOrdersReadsDescrPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"result":{"open":{"TX-1":{
			"opentm":1700000000.5,"status":"open","vol":"1000","vol_exec":"0",
			"descr":{"pair":"SHIBUSDT","type":"buy","price":"0.0000120"}}}}}`)
	}))
	defer srv.Close()

	k := newTestKraken(t, srv.URL)
	orders, err := k.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "TX-1", o.ID)
	assert.Equal(t, "SHIBUSDT", o.Pair)
	assert.Equal(t, domain.SideBuy, o.Side)
	assert.InDelta(t, 0.000012, o.Price, 1e-12)
	assert.InDelta(t, 1000.0, o.Volume, 1e-9)
	assert.Equal(t, time.Unix(1700000000, 0), o.OpenedAt)
}

func TestKrakenGetClosedOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.Form.Get("start"))
		fmt.Fprint(w, `{"error":[],"result":{"closed":{"TX-2":{
			"opentm":1700000000,"closetm":1700000100,"status":"closed",
			"vol":"1000","vol_exec":"1000","cost":"0.012","fee":"0.00003","price":"0.000012",
			"descr":{"pair":"SHIBUSDT","type":"buy","price":"0.000012"}}}}}`)
	}))
	defer srv.Close()

	k := newTestKraken(t, srv.URL)
	orders, err := k.GetClosedOrders(context.Background(), time.Unix(1699999000, 0))
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "closed", o.Status)
	assert.InDelta(t, 1.0, o.FillRatio(), 1e-9)
	assert.InDelta(t, 0.012, o.Cost, 1e-9)
	assert.InDelta(t, 0.00003, o.Fee, 1e-9)
}

func TestKrakenPlaceOrderLeverage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2:1", r.Form.Get("leverage"))
		assert.Equal(t, "fciq", r.Form.Get("oflags"))
		assert.Equal(t, "buy", r.Form.Get("type"))
		fmt.Fprint(w, `{"error":[],"result":{"txid":["TX-3"]}}`)
	}))
	defer srv.Close()

	k := newTestKraken(t, srv.URL)
	id, err := k.PlaceBuyOrder(context.Background(), "SHIBUSDT", 1000, 0.000012, 2)
	require.NoError(t, err)
	assert.Equal(t, "TX-3", id)
}

func TestKrakenCancelNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"result":{"count":0}}`)
	}))
	defer srv.Close()

	k := newTestKraken(t, srv.URL)
	err := k.CancelOrder(context.Background(), "TX-404")
	assert.Error(t, err)
}

func TestKrakenCurrencyCodeFallback(t *testing.T) {
	k := newTestKraken(t, "")
	k.pairCache = map[string]domain.PairInfo{
		"SHIBUSDT": {Base: "SHIB", Quote: "USDT"},
	}

	assert.Equal(t, "SHIB", k.CurrencyCode(context.Background(), "SHIBUSDT"))
	// Legacy asset code fallback for pairs missing from the cache.
	assert.Equal(t, "XXBT", k.CurrencyCode(context.Background(), "BTCUSDT"))
}
