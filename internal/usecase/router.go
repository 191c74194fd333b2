package usecase

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

const routerBookDepth = 10

// ExchangeQuote is one exchange's view of a pair, scored for execution.
type ExchangeQuote struct {
	Exchange     string
	Handle       domain.Exchange
	Price        float64
	LiquidityUSD float64
	Score        float64
}

// Router picks the execution venue for a pair by comparing price and
// order-book liquidity across the live exchanges.
type Router struct {
	priceDiffThreshold float64
	logger             *zap.Logger

	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewRouter(priceDiffThreshold float64, logger *zap.Logger) *Router {
	return &Router{priceDiffThreshold: priceDiffThreshold, logger: logger, sleepFn: sleepCtx}
}

// Compare fetches ticker and top-of-book depth on every exchange and returns
// quotes sorted best-first. Market data calls are retried through the shared
// backoff policy so a momentary rate limit does not discard a venue holding
// valid data. Exchanges without a positive price, or whose calls exhaust
// retries, are dropped for the cycle.
func (r *Router) Compare(ctx context.Context, pair string, exchanges map[string]domain.Exchange) []ExchangeQuote {
	var quotes []ExchangeQuote

	for name, ex := range exchanges {
		formatted := ex.PairFormat(pair)

		ticker, err := withRetry(ctx, r.logger, r.sleepFn, "ticker", func() (*domain.Ticker, error) {
			return ex.GetTicker(ctx, formatted)
		})
		if err != nil {
			r.logger.Debug("Ticker unavailable",
				zap.String("exchange", name), zap.String("pair", pair), zap.Error(err))
			continue
		}
		if ticker.LastPrice <= 0 {
			continue
		}

		book, err := withRetry(ctx, r.logger, r.sleepFn, "orderbook", func() (*domain.OrderBook, error) {
			return ex.GetOrderBook(ctx, formatted, routerBookDepth)
		})
		if err != nil {
			r.logger.Debug("Order book unavailable",
				zap.String("exchange", name), zap.String("pair", pair), zap.Error(err))
			continue
		}

		var bookVolume float64
		for _, lvl := range book.Bids {
			bookVolume += lvl.Volume
		}
		for _, lvl := range book.Asks {
			bookVolume += lvl.Volume
		}

		liquidity := bookVolume * ticker.LastPrice
		quotes = append(quotes, ExchangeQuote{
			Exchange:     name,
			Handle:       ex,
			Price:        ticker.LastPrice,
			LiquidityUSD: liquidity,
			Score:        liquidity / ticker.LastPrice,
		})
	}

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Score > quotes[j].Score })
	return quotes
}

// SelectBest returns the best venue for the pair, or nil when no exchange
// has valid market data. Callers skip the pair for the cycle in that case.
func (r *Router) SelectBest(ctx context.Context, pair string, exchanges map[string]domain.Exchange) *ExchangeQuote {
	quotes := r.Compare(ctx, pair, exchanges)
	if len(quotes) == 0 {
		return nil
	}

	best := quotes[0]
	if len(quotes) > 1 {
		// Liquidity already dominates the score; when the top two prices are
		// within the threshold the ranking stands as-is.
		diff := math.Abs(best.Price-quotes[1].Price) / quotes[1].Price
		if diff < r.priceDiffThreshold {
			r.logger.Debug("Prices within threshold, ranking by liquidity",
				zap.String("pair", pair),
				zap.String("best", best.Exchange),
				zap.Float64("price_diff", diff))
		}
	}

	r.logger.Debug("Selected exchange",
		zap.String("pair", pair),
		zap.String("exchange", best.Exchange),
		zap.Float64("price", best.Price),
		zap.Float64("liquidity_usd", best.LiquidityUSD))
	return &best
}
