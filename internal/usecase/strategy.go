package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vitos/subcent_bot/internal/config"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

// marginHeadroomMin is the minimum margin level required before a leveraged
// order is attempted; below it the strategy falls back to spot sizing.
const marginHeadroomMin = 1.1

// Strategy sizes and places buy orders under the per-exchange risk budget.
type Strategy struct {
	cfg       config.TradingConfig
	logger    *zap.Logger
	ledger    *OpenOrderLedger
	positions domain.PositionRepository
	marks     domain.OrderMarkRepository

	nowFn func() time.Time
}

func NewStrategy(cfg config.TradingConfig, ledger *OpenOrderLedger, positions domain.PositionRepository, marks domain.OrderMarkRepository, logger *zap.Logger) *Strategy {
	return &Strategy{
		cfg:       cfg,
		logger:    logger,
		ledger:    ledger,
		positions: positions,
		marks:     marks,
		nowFn:     time.Now,
	}
}

// RiskMultiplier buckets a price into its tier's risk multiplier. Cheaper
// tokens get the full multiplier, pricier ones taper off.
func (s *Strategy) RiskMultiplier(price float64) float64 {
	switch {
	case price < s.cfg.TierMed:
		return s.cfg.RiskMultiplierLow
	case price < s.cfg.TierHigh:
		return s.cfg.RiskMultiplierMed
	default:
		return s.cfg.RiskMultiplierHigh
	}
}

// ProfitMargin returns the tier's profit margin constant.
func (s *Strategy) ProfitMargin(price float64) float64 {
	switch {
	case price < s.cfg.TierMed:
		return s.cfg.ProfitMarginLow
	case price < s.cfg.TierHigh:
		return s.cfg.ProfitMarginMed
	default:
		return s.cfg.ProfitMarginHigh
	}
}

// RemainingBudget is what the exchange may still spend on new orders:
// balance x usage fraction x tier multiplier, minus the open-order ledger.
func (s *Strategy) RemainingBudget(exchange string, usdtBalance, price float64) float64 {
	maxTradable := usdtBalance * s.cfg.MaxAccountUsage * s.RiskMultiplier(price)
	return maxTradable - s.ledger.Value(exchange)
}

// OrderVolume sizes a buy inside the remaining budget, rounded down to the
// pair's lot precision. Returns 0 when the result would violate the
// exchange minimum.
func (s *Strategy) OrderVolume(budget, price float64, info domain.PairInfo) float64 {
	if budget <= 0 || price <= 0 {
		return 0
	}
	volume := budget / (price * (1 + s.cfg.TakerFee)) * s.cfg.MaxTradeSize
	if volume < info.OrderMin {
		volume = info.OrderMin
	}
	volume = roundDown(volume, info.LotDecimals)
	if volume < info.OrderMin {
		return 0
	}
	// Never size past what the budget can actually pay for.
	if volume*price*(1+s.cfg.TakerFee) > budget {
		volume = roundDown(budget/(price*(1+s.cfg.TakerFee)), info.LotDecimals)
		if volume < info.OrderMin {
			return 0
		}
	}
	return volume
}

// BuyPrice computes an aggressive limit price for fast fills: one tick above
// the best bid when book data exists, else a small offset above last price,
// clamped to at most 1% above last, rounded to price precision.
func (s *Strategy) BuyPrice(ctx context.Context, ex domain.Exchange, pair string, lastPrice float64, info domain.PairInfo) float64 {
	price := lastPrice * 1.0002

	book, err := ex.GetOrderBook(ctx, ex.PairFormat(pair), 5)
	if err == nil && len(book.Bids) > 0 && book.Bids[0].Price > 0 {
		price = book.Bids[0].Price * 1.0001
	}

	if ceiling := lastPrice * 1.01; price > ceiling {
		price = ceiling
	}
	return roundDown(price, info.PairDecimals)
}

// leverageFor returns the leverage to request, checking margin headroom
// first. Any problem with the margin account falls back to spot.
func (s *Strategy) leverageFor(ctx context.Context, ex domain.Exchange) int {
	if !s.cfg.MarginEnabled || s.cfg.DefaultLeverage <= 1 {
		return 0
	}
	tb, err := ex.GetTradeBalance(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrUnsupported) {
			s.logger.Warn("Margin check failed, using spot",
				zap.String("exchange", ex.Name()), zap.Error(err))
		}
		return 0
	}
	if tb.MarginLevel > 0 && tb.MarginLevel < marginHeadroomMin {
		s.logger.Warn("Insufficient margin headroom, using spot",
			zap.String("exchange", ex.Name()),
			zap.Float64("margin_level", tb.MarginLevel))
		return 0
	}
	return s.cfg.DefaultLeverage
}

// ExecuteBuy runs the full sizing pass for one candidate and places the
// order when everything checks out. Budget refusals return nil without any
// order placement; the pair is simply skipped this cycle.
func (s *Strategy) ExecuteBuy(ctx context.Context, ex domain.Exchange, pair string, lastPrice, usdtBalance float64, metrics *domain.SessionMetrics) error {
	exchange := ex.Name()

	budget := s.RemainingBudget(exchange, usdtBalance, lastPrice)
	if budget <= 0 {
		s.logger.Debug("No remaining budget",
			zap.String("exchange", exchange), zap.String("pair", pair),
			zap.Float64("ledger", s.ledger.Value(exchange)))
		return nil
	}

	pairs, err := ex.GetTradablePairs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pair info: %w", err)
	}
	info, ok := pairs[ex.PairFormat(pair)]
	if !ok {
		info, ok = pairs[pair]
	}
	if !ok {
		s.logger.Debug("Pair not tradable", zap.String("exchange", exchange), zap.String("pair", pair))
		return nil
	}

	volume := s.OrderVolume(budget, lastPrice, info)
	if volume <= 0 {
		s.logger.Debug("Volume below exchange minimum",
			zap.String("exchange", exchange), zap.String("pair", pair),
			zap.Float64("budget", budget), zap.Float64("ordermin", info.OrderMin))
		return nil
	}

	buyPrice := s.BuyPrice(ctx, ex, pair, lastPrice, info)
	if buyPrice <= 0 {
		return nil
	}

	leverage := s.leverageFor(ctx, ex)

	orderID, err := ex.PlaceBuyOrder(ctx, ex.PairFormat(pair), volume, buyPrice, leverage)
	if err != nil {
		metrics.RecordError()
		return fmt.Errorf("failed to place buy order for %s: %w", pair, err)
	}

	s.ledger.Add(exchange, volume*buyPrice)
	metrics.RecordOrderPlaced()

	pos := &domain.Position{
		Pair:      pair,
		OrderID:   orderID,
		Side:      domain.SideBuy,
		Volume:    volume,
		Price:     buyPrice,
		Exchange:  exchange,
		Timestamp: s.nowFn(),
		Status:    domain.PositionOpen,
	}
	if err := s.positions.Add(pos); err != nil {
		s.logger.Error("Failed to persist position",
			zap.String("order_id", orderID), zap.Error(err))
	}
	s.recordOpenMark(orderID, exchange)

	s.logger.Info("Buy order placed",
		zap.String("exchange", exchange),
		zap.String("pair", pair),
		zap.String("order_id", orderID),
		zap.Float64("price", buyPrice),
		zap.Float64("volume", volume),
		zap.Int("leverage", leverage))
	return nil
}

// recordOpenMark writes an open-status mark at placement so the mark file
// mirrors the full order lifecycle. Settlement flips it to closed when the
// fill is recorded; an open mark never suppresses fill recording.
func (s *Strategy) recordOpenMark(orderID, exchange string) {
	marks, err := s.marks.Load()
	if err != nil {
		s.logger.Error("Failed to load order marks",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}
	marks[orderID] = &domain.OrderMark{
		OrderID:   orderID,
		Timestamp: s.nowFn(),
		Exchange:  exchange,
		Status:    domain.MarkOpen,
	}
	if err := s.marks.Save(marks); err != nil {
		s.logger.Error("Failed to record open order mark",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

// roundDown truncates v to the given number of decimal places.
func roundDown(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Floor(v*p) / p
}

// roundUp rounds v up at the given number of decimal places.
func roundUp(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Ceil(v*p) / p
}
