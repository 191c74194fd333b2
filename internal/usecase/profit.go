package usecase

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

// ProfitCalculator reconciles sell fills against the trade ledger using
// FIFO matching. Cost and revenue accounting runs on decimals so sub-cent
// prices do not accumulate float drift.
type ProfitCalculator struct {
	trades domain.TradeLedger
	logger *zap.Logger
}

func NewProfitCalculator(trades domain.TradeLedger, logger *zap.Logger) *ProfitCalculator {
	return &ProfitCalculator{trades: trades, logger: logger}
}

// MatchSell consumes unmatched buy volume oldest-first and returns the
// realized profit over the matched portion. The consumed buys' bookkeeping
// is persisted so a later sell cannot reuse them. The second return is
// false when no buy volume could be matched at all.
func (c *ProfitCalculator) MatchSell(sell *domain.TradeRecord) (float64, bool, error) {
	records, err := c.trades.All()
	if err != nil {
		return 0, false, err
	}

	var buys []*domain.TradeRecord
	for _, rec := range records {
		if rec.Type != domain.SideBuy || rec.Pair != sell.Pair {
			continue
		}
		if rec.FullyMatched || rec.RemainingVolume() <= 0 {
			continue
		}
		buys = append(buys, rec)
	}
	sort.Slice(buys, func(i, j int) bool { return buys[i].Timestamp.Before(buys[j].Timestamp) })

	remaining := decimal.NewFromFloat(sell.Volume)
	matchedCost := decimal.Zero
	matchedVolume := decimal.Zero
	var consumed []*domain.TradeRecord

	for _, buy := range buys {
		if remaining.IsZero() {
			break
		}
		available := decimal.NewFromFloat(buy.RemainingVolume())
		take := decimal.Min(available, remaining)

		price := decimal.NewFromFloat(buy.Price)
		cost := price.Mul(take)
		if buy.Fees > 0 && buy.Volume > 0 {
			feeShare := decimal.NewFromFloat(buy.Fees).
				Mul(take).
				Div(decimal.NewFromFloat(buy.Volume))
			cost = cost.Add(feeShare)
		}
		matchedCost = matchedCost.Add(cost)
		matchedVolume = matchedVolume.Add(take)
		remaining = remaining.Sub(take)

		newMatched := decimal.NewFromFloat(buy.MatchedVolume).Add(take)
		buy.MatchedVolume = newMatched.InexactFloat64()
		if newMatched.GreaterThanOrEqual(decimal.NewFromFloat(buy.Volume)) {
			buy.FullyMatched = true
		}
		consumed = append(consumed, buy)
	}

	if matchedVolume.IsZero() {
		c.logger.Warn("Sell has no matchable buys",
			zap.String("pair", sell.Pair),
			zap.String("order_id", sell.OrderID),
			zap.Float64("volume", sell.Volume))
		return 0, false, nil
	}

	if remaining.IsPositive() {
		c.logger.Warn("Sell volume exceeds unmatched buys, matching partially",
			zap.String("pair", sell.Pair),
			zap.String("order_id", sell.OrderID),
			zap.Float64("unmatched", remaining.InexactFloat64()))
	}

	revenue := decimal.NewFromFloat(sell.Price).Mul(matchedVolume)
	sellFeeShare := decimal.Zero
	if sell.Fees > 0 && sell.Volume > 0 {
		sellFeeShare = decimal.NewFromFloat(sell.Fees).
			Mul(matchedVolume).
			Div(decimal.NewFromFloat(sell.Volume))
	}
	profit := revenue.Sub(sellFeeShare).Sub(matchedCost)

	if err := c.trades.UpdateMatched(consumed); err != nil {
		return 0, false, err
	}

	c.logger.Info("Sell matched",
		zap.String("pair", sell.Pair),
		zap.String("order_id", sell.OrderID),
		zap.Float64("matched_volume", matchedVolume.InexactFloat64()),
		zap.Float64("profit", profit.InexactFloat64()))
	return profit.InexactFloat64(), true, nil
}
