package usecase

import (
	"context"
	"time"

	"github.com/vitos/subcent_bot/internal/config"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	// closedOrderLookback bounds the fill scan each cycle.
	closedOrderLookback = 30 * time.Minute
	// fillRatioMin is the executed fraction above which a closed order
	// counts as filled.
	fillRatioMin = 0.95

	// sellBalanceClampRatio tolerates fee and rounding drift between the
	// bought volume and what actually settles.
	sellBalanceClampRatio = 0.99
	// sellAbandonRatio: below this fraction of the expected volume the
	// discrepancy is real, not rounding, and the sell is skipped.
	sellAbandonRatio = 0.10
)

// settlementWaits are the balance poll delays after a buy fill, giving the
// exchange ledger time to propagate.
var settlementWaits = []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second}

// Settlement records completed trades from closed orders and places sells
// for newly filled buys.
type Settlement struct {
	cfg       config.TradingConfig
	logger    *zap.Logger
	ledger    *OpenOrderLedger
	positions domain.PositionRepository
	marks     domain.OrderMarkRepository
	trades    domain.TradeLedger
	profit    *ProfitCalculator
	balances  *BalanceService
	strategy  *Strategy

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewSettlement(
	cfg config.TradingConfig,
	ledger *OpenOrderLedger,
	positions domain.PositionRepository,
	marks domain.OrderMarkRepository,
	trades domain.TradeLedger,
	profit *ProfitCalculator,
	balances *BalanceService,
	strategy *Strategy,
	logger *zap.Logger,
) *Settlement {
	return &Settlement{
		cfg:       cfg,
		logger:    logger,
		ledger:    ledger,
		positions: positions,
		marks:     marks,
		trades:    trades,
		profit:    profit,
		balances:  balances,
		strategy:  strategy,
		nowFn:     time.Now,
		sleepFn:   sleepCtx,
	}
}

// RecordCompletedTrades scans recently closed orders, appends unseen fills
// to the trade ledger, reconciles sell profit, flips positions to filled and
// releases buy value from the ledger. The order-mark file guards against
// recording the same fill twice across cycles and restarts.
func (s *Settlement) RecordCompletedTrades(ctx context.Context, ex domain.Exchange, metrics *domain.SessionMetrics) error {
	exchange := ex.Name()

	marks, err := s.marks.Load()
	if err != nil {
		return err
	}

	closed, err := ex.GetClosedOrders(ctx, s.nowFn().Add(-closedOrderLookback))
	if err != nil {
		return err
	}

	changed := false
	for _, order := range closed {
		if order.FillRatio() < fillRatioMin {
			continue
		}
		// Open marks are written at placement; only a closed mark means the
		// fill itself was already recorded.
		if mark, seen := marks[order.ID]; seen && mark.Status == domain.MarkClosed {
			continue
		}

		price := order.Price
		if order.VolumeExec > 0 && order.Cost > 0 {
			price = order.Cost / order.VolumeExec
		}
		rec := &domain.TradeRecord{
			Type:      order.Side,
			Pair:      ex.NormalizePair(order.Pair),
			Price:     price,
			Volume:    order.VolumeExec,
			Fees:      order.Fee,
			OrderID:   order.ID,
			Timestamp: order.ClosedAt,
		}

		if rec.Type == domain.SideSell {
			profit, matched, err := s.profit.MatchSell(rec)
			if err != nil {
				s.logger.Error("Profit reconciliation failed",
					zap.String("order_id", order.ID), zap.Error(err))
			} else if matched {
				rec.ActualProfit = &profit
			}
		}

		if err := s.trades.Append(rec); err != nil {
			s.logger.Error("Failed to append trade record",
				zap.String("order_id", order.ID), zap.Error(err))
			continue
		}

		metrics.RecordTrade(rec, exchange)
		metrics.RecordOrderFilled()

		if updated, err := s.positions.UpdateStatus(order.ID, exchange, domain.PositionFilled); err != nil {
			s.logger.Error("Failed to update position status",
				zap.String("order_id", order.ID), zap.Error(err))
		} else if updated && rec.Type == domain.SideBuy {
			s.ledger.Release(exchange, order.Price*order.Volume)
		}

		marks[order.ID] = &domain.OrderMark{
			OrderID:   order.ID,
			Timestamp: s.nowFn(),
			Exchange:  exchange,
			Status:    domain.MarkClosed,
		}
		changed = true

		s.logger.Info("Recorded completed trade",
			zap.String("exchange", exchange),
			zap.String("pair", rec.Pair),
			zap.String("side", string(rec.Type)),
			zap.String("order_id", order.ID),
			zap.Float64("price", rec.Price),
			zap.Float64("volume", rec.Volume))
	}

	if changed {
		if err := s.marks.Save(marks); err != nil {
			return err
		}
	}
	return nil
}

// PlaceSellOrders walks recently filled buy positions and places a
// profitable sell for each, after the account balance confirms settlement.
func (s *Settlement) PlaceSellOrders(ctx context.Context, ex domain.Exchange, metrics *domain.SessionMetrics) error {
	exchange := ex.Name()

	positions, err := s.positions.Load(exchange)
	if err != nil {
		return err
	}

	now := s.nowFn()
	var pairInfos map[string]domain.PairInfo

	for _, pos := range positions {
		if pos.Side != domain.SideBuy || pos.Status != domain.PositionFilled {
			continue
		}
		if pos.FilledAt.IsZero() || now.Sub(pos.FilledAt) > closedOrderLookback {
			continue
		}
		if s.hasOpenSell(positions, pos.Pair) {
			continue
		}

		available, err := s.awaitSettledBalance(ctx, ex, pos)
		if err != nil {
			s.logger.Warn("Balance unavailable for settlement",
				zap.String("pair", pos.Pair), zap.Error(err))
			continue
		}

		sellVolume := pos.Volume
		if clamp := available * sellBalanceClampRatio; clamp < sellVolume {
			sellVolume = clamp
		}
		if sellVolume < pos.Volume*sellAbandonRatio {
			s.logger.Warn("Settled balance far below expected, skipping sell",
				zap.String("exchange", exchange),
				zap.String("pair", pos.Pair),
				zap.Float64("expected", pos.Volume),
				zap.Float64("available", available))
			metrics.RecordError()
			continue
		}

		if pairInfos == nil {
			pairInfos, err = ex.GetTradablePairs(ctx)
			if err != nil {
				return err
			}
		}
		info, ok := pairInfos[ex.PairFormat(pos.Pair)]
		if !ok {
			info, ok = pairInfos[pos.Pair]
		}
		if !ok {
			s.logger.Warn("Pair info missing, skipping sell",
				zap.String("exchange", exchange), zap.String("pair", pos.Pair))
			continue
		}

		sellVolume = roundDown(sellVolume, info.LotDecimals)
		if sellVolume <= 0 || sellVolume < info.OrderMin {
			s.logger.Warn("Sell volume below minimum",
				zap.String("pair", pos.Pair), zap.Float64("volume", sellVolume))
			continue
		}

		margin := s.strategy.ProfitMargin(pos.Price)
		sellPrice := roundUp(pos.Price*(1+2*s.cfg.TakerFee+margin), info.PairDecimals)

		buyValue := pos.Volume * pos.Price
		sellValue := sellVolume * sellPrice
		if sellValue < buyValue*0.95 || sellValue-buyValue > buyValue*2 {
			s.logger.Error("Sell sanity check failed",
				zap.String("pair", pos.Pair),
				zap.Float64("buy_value", buyValue),
				zap.Float64("sell_value", sellValue))
			metrics.RecordError()
			continue
		}

		orderID, err := ex.PlaceSellOrder(ctx, ex.PairFormat(pos.Pair), sellVolume, sellPrice, 0)
		if err != nil {
			s.logger.Error("Failed to place sell order",
				zap.String("exchange", exchange),
				zap.String("pair", pos.Pair), zap.Error(err))
			metrics.RecordError()
			continue
		}

		metrics.RecordOrderPlaced()
		sellPos := &domain.Position{
			Pair:      pos.Pair,
			OrderID:   orderID,
			Side:      domain.SideSell,
			Volume:    sellVolume,
			Price:     sellPrice,
			Exchange:  exchange,
			Timestamp: s.nowFn(),
			Status:    domain.PositionOpen,
		}
		if err := s.positions.Add(sellPos); err != nil {
			s.logger.Error("Failed to persist sell position",
				zap.String("order_id", orderID), zap.Error(err))
		}
		positions = append(positions, sellPos)

		s.logger.Info("Sell order placed",
			zap.String("exchange", exchange),
			zap.String("pair", pos.Pair),
			zap.String("order_id", orderID),
			zap.Float64("price", sellPrice),
			zap.Float64("volume", sellVolume))
	}
	return nil
}

func (s *Settlement) hasOpenSell(positions []*domain.Position, pair string) bool {
	for _, p := range positions {
		if p.Pair == pair && p.Side == domain.SideSell && p.Status == domain.PositionOpen {
			return true
		}
	}
	return false
}

// awaitSettledBalance polls the base-currency balance with increasing waits
// until it covers a meaningful fraction of the filled volume. Funds never
// settle instantly, so each poll is preceded by its wait and the last poll
// returns without a trailing sleep.
func (s *Settlement) awaitSettledBalance(ctx context.Context, ex domain.Exchange, pos *domain.Position) (float64, error) {
	currency := ex.CurrencyCode(ctx, pos.Pair)

	var available float64
	for _, wait := range settlementWaits {
		s.logger.Debug("Waiting for settlement",
			zap.String("pair", pos.Pair),
			zap.Float64("available", available),
			zap.Duration("wait", wait))
		if err := s.sleepFn(ctx, wait); err != nil {
			return available, err
		}

		balances, err := s.balances.Get(ctx, ex, true)
		if err != nil {
			return 0, err
		}
		available = balances[currency]
		if available >= pos.Volume*sellAbandonRatio {
			return available, nil
		}
	}
	return available, nil
}
