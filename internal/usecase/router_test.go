package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

func bookWithVolume(pair string, price, totalVolume float64) *domain.OrderBook {
	return &domain.OrderBook{
		Pair: pair,
		Bids: []domain.BookLevel{{Price: price * 0.999, Volume: totalVolume / 2}},
		Asks: []domain.BookLevel{{Price: price * 1.001, Volume: totalVolume / 2}},
	}
}

func TestSelectBestLiquidityDominates(t *testing.T) {
	a := newMockExchange("a")
	a.tickers["ABCUSDT"] = &domain.Ticker{Pair: "ABCUSDT", LastPrice: 0.010}
	a.books["ABCUSDT"] = bookWithVolume("ABCUSDT", 0.010, 200/0.010) // liquidity_usd = 200

	b := newMockExchange("b")
	b.tickers["ABCUSDT"] = &domain.Ticker{Pair: "ABCUSDT", LastPrice: 0.0102}
	b.books["ABCUSDT"] = bookWithVolume("ABCUSDT", 0.0102, 5000/0.0102) // liquidity_usd = 5000

	router := NewRouter(0.001, zap.NewNop())
	best := router.SelectBest(context.Background(), "ABCUSDT",
		map[string]domain.Exchange{"a": a, "b": b})

	require.NotNil(t, best)
	// B has a slightly worse price but far more liquidity, so it wins.
	assert.Equal(t, "b", best.Exchange)
	assert.Greater(t, best.Score, 400000.0)
}

func TestSelectBestSkipsInvalidPrice(t *testing.T) {
	a := newMockExchange("a")
	a.tickers["ABCUSDT"] = &domain.Ticker{Pair: "ABCUSDT", LastPrice: 0}

	b := newMockExchange("b")
	b.tickers["ABCUSDT"] = &domain.Ticker{Pair: "ABCUSDT", LastPrice: 0.01}
	b.books["ABCUSDT"] = bookWithVolume("ABCUSDT", 0.01, 1000)

	router := NewRouter(0.001, zap.NewNop())
	best := router.SelectBest(context.Background(), "ABCUSDT",
		map[string]domain.Exchange{"a": a, "b": b})

	require.NotNil(t, best)
	assert.Equal(t, "b", best.Exchange)
}

func TestSelectBestNoValidData(t *testing.T) {
	a := newMockExchange("a")
	b := newMockExchange("b")

	router := NewRouter(0.001, zap.NewNop())
	best := router.SelectBest(context.Background(), "ABCUSDT",
		map[string]domain.Exchange{"a": a, "b": b})
	assert.Nil(t, best)
}

func TestCompareRetriesRateLimitedTicker(t *testing.T) {
	ex := newMockExchange("kraken")
	ex.tickers["ABCUSDT"] = &domain.Ticker{Pair: "ABCUSDT", LastPrice: 0.01}
	ex.books["ABCUSDT"] = bookWithVolume("ABCUSDT", 0.01, 1000)
	ex.tickerFailures = 1

	router := NewRouter(0.001, zap.NewNop())
	router.sleepFn = noSleep
	quotes := router.Compare(context.Background(), "ABCUSDT",
		map[string]domain.Exchange{"kraken": ex})

	// A momentary rate limit must not drop a venue holding valid data.
	require.Len(t, quotes, 1)
	assert.Equal(t, "kraken", quotes[0].Exchange)
	assert.Equal(t, 2, ex.tickerCalls)
}

func TestCompareDropsVenueOnTerminalError(t *testing.T) {
	ex := newMockExchange("kraken")
	// No ticker scripted: the mock answers with a terminal rejection.
	router := NewRouter(0.001, zap.NewNop())
	router.sleepFn = noSleep
	quotes := router.Compare(context.Background(), "ABCUSDT",
		map[string]domain.Exchange{"kraken": ex})

	assert.Empty(t, quotes)
	// Terminal rejections abort immediately, without retries.
	assert.Equal(t, 1, ex.tickerCalls)
}

func TestCompareSortsByScore(t *testing.T) {
	a := newMockExchange("a")
	a.tickers["ABCUSDT"] = &domain.Ticker{Pair: "ABCUSDT", LastPrice: 0.01}
	a.books["ABCUSDT"] = bookWithVolume("ABCUSDT", 0.01, 100)

	b := newMockExchange("b")
	b.tickers["ABCUSDT"] = &domain.Ticker{Pair: "ABCUSDT", LastPrice: 0.01}
	b.books["ABCUSDT"] = bookWithVolume("ABCUSDT", 0.01, 10000)

	router := NewRouter(0.001, zap.NewNop())
	quotes := router.Compare(context.Background(), "ABCUSDT",
		map[string]domain.Exchange{"a": a, "b": b})

	require.Len(t, quotes, 2)
	assert.Equal(t, "b", quotes[0].Exchange)
	assert.Equal(t, "a", quotes[1].Exchange)
}
