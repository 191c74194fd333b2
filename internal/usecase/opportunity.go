package usecase

import (
	"context"
	"errors"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

// predictorConfidence is the minimum confidence at which the ML verdict is
// trusted without consulting the rule-based gate.
const predictorConfidence = 0.6

type trend int

const (
	trendNeutral trend = iota
	trendRising
	trendFalling
)

// OpportunityGate decides whether a routed candidate is worth buying. The
// ML collaborator is consulted first; an unknown verdict or low confidence
// falls back to the rule-based evaluation.
type OpportunityGate struct {
	predictor domain.Predictor // nil when no model is attached
	logger    *zap.Logger
}

func NewOpportunityGate(predictor domain.Predictor, logger *zap.Logger) *OpportunityGate {
	return &OpportunityGate{predictor: predictor, logger: logger}
}

// ShouldBuy gates a candidate on the ML verdict or, failing that, on 24h
// volume, spread and near-book liquidity thresholds scaled by price tier.
func (g *OpportunityGate) ShouldBuy(ctx context.Context, ex domain.Exchange, pair string, fees float64) bool {
	formatted := ex.PairFormat(pair)

	ticker, err := ex.GetTicker(ctx, formatted)
	if err != nil || ticker.LastPrice <= 0 {
		return false
	}

	if g.predictor != nil {
		decision, confidence, err := g.predictor.Predict(ctx, pair, ticker.LastPrice, ticker.QuoteVolume24h, fees)
		if err == nil && decision != domain.DecisionUnknown && confidence >= predictorConfidence {
			g.logger.Debug("Predictor verdict",
				zap.String("pair", pair),
				zap.Bool("buy", decision == domain.DecisionBuy),
				zap.Float64("confidence", confidence))
			return decision == domain.DecisionBuy
		}
	}

	return g.ruleBasedEvaluation(ctx, ex, pair, ticker)
}

// ruleBasedEvaluation applies the tiered volume/spread/depth thresholds.
// Cheaper tokens must show more turnover and tighter books to qualify.
func (g *OpportunityGate) ruleBasedEvaluation(ctx context.Context, ex domain.Exchange, pair string, ticker *domain.Ticker) bool {
	price := ticker.LastPrice

	var minVolume, maxSpread, minTopDepth float64
	switch {
	case price < 0.001:
		minVolume, maxSpread, minTopDepth = 500_000, 0.08, 50
	case price < 0.01:
		minVolume, maxSpread, minTopDepth = 200_000, 0.05, 25
	default:
		minVolume, maxSpread, minTopDepth = 100_000, 0.03, 10
	}

	if ticker.QuoteVolume24h < minVolume {
		g.logger.Debug("Rejected: low 24h volume",
			zap.String("pair", pair), zap.Float64("volume", ticker.QuoteVolume24h))
		return false
	}

	book, err := ex.GetOrderBook(ctx, ex.PairFormat(pair), 5)
	if err != nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return false
	}

	bestBid, bestAsk := book.Bids[0].Price, book.Asks[0].Price
	if bestBid <= 0 || bestAsk <= bestBid {
		return false
	}
	spread := (bestAsk - bestBid) / bestBid

	var topDepthUSD float64
	for i := 0; i < len(book.Bids) && i < 3; i++ {
		topDepthUSD += book.Bids[i].Volume * book.Bids[i].Price
	}
	if topDepthUSD < minTopDepth {
		g.logger.Debug("Rejected: thin book",
			zap.String("pair", pair), zap.Float64("top_depth_usd", topDepthUSD))
		return false
	}

	tr := g.recentTrend(ctx, ex, pair)
	switch tr {
	case trendFalling:
		g.logger.Debug("Rejected: falling trend", zap.String("pair", pair))
		return false
	case trendRising:
		// A rising market tolerates a slightly wider spread.
		maxSpread *= 1.5
	}

	if spread > maxSpread {
		g.logger.Debug("Rejected: wide spread",
			zap.String("pair", pair), zap.Float64("spread", spread))
		return false
	}

	return true
}

// recentTrend compares the older and newer halves of recent public trades.
// Exchanges that do not expose trade history report neutral.
func (g *OpportunityGate) recentTrend(ctx context.Context, ex domain.Exchange, pair string) trend {
	trades, err := ex.GetRecentTrades(ctx, ex.PairFormat(pair), 50)
	if err != nil {
		if !errors.Is(err, domain.ErrUnsupported) {
			g.logger.Debug("Trend data unavailable", zap.String("pair", pair), zap.Error(err))
		}
		return trendNeutral
	}
	if len(trades) < 10 {
		return trendNeutral
	}

	half := len(trades) / 2
	var older, newer float64
	for i, t := range trades {
		if i < half {
			older += t.Price
		} else {
			newer += t.Price
		}
	}
	older /= float64(half)
	newer /= float64(len(trades) - half)
	if older <= 0 {
		return trendNeutral
	}

	switch {
	case newer > older*1.005:
		return trendRising
	case newer < older*0.995:
		return trendFalling
	default:
		return trendNeutral
	}
}
