package usecase

import (
	"context"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	// orderActiveWindow is how long a fresh order is left alone.
	orderActiveWindow = 10 * time.Minute
	// orderExpireWindow is the hard age limit; older orders are always
	// canceled.
	orderExpireWindow = 30 * time.Minute

	// Review-window thresholds. A buy whose price sits 5% above the market
	// has been run away from; a market 2% above the order price means the
	// order should be canceled and re-quoted on the next sizing pass.
	reviewMarketDropRatio = 0.95
	reviewMarketRiseRatio = 1.02
)

// OrderManager runs the open-order lifecycle for one exchange per cycle:
// classify by age, recompute the open-order-value ledger from live orders,
// then execute cancellations and release their value.
type OrderManager struct {
	logger *zap.Logger
	ledger *OpenOrderLedger

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewOrderManager(ledger *OpenOrderLedger, logger *zap.Logger) *OrderManager {
	return &OrderManager{logger: logger, ledger: ledger, nowFn: time.Now, sleepFn: sleepCtx}
}

// ManageOpenOrders returns the orders still open after reconciliation and
// whether any cancellation was executed. Callers use the latter to insert a
// cooldown before spending the freed budget.
func (m *OrderManager) ManageOpenOrders(ctx context.Context, ex domain.Exchange) ([]domain.OpenOrder, bool, error) {
	exchange := ex.Name()

	orders, err := withRetry(ctx, m.logger, m.sleepFn, "open orders", func() ([]domain.OpenOrder, error) {
		return ex.GetOpenOrders(ctx)
	})
	if err != nil {
		return nil, false, err
	}

	now := m.nowFn()
	var keep []domain.OpenOrder
	var toCancel []domain.OpenOrder
	var totalValue float64

	for _, order := range orders {
		if order.Price <= 0 || order.Volume <= 0 {
			m.logger.Warn("Skipping order with invalid fields",
				zap.String("exchange", exchange), zap.String("order_id", order.ID))
			continue
		}
		totalValue += order.Price * order.Volume

		age := now.Sub(order.OpenedAt)
		switch {
		case age <= orderActiveWindow:
			keep = append(keep, order)

		case age <= orderExpireWindow:
			if m.shouldCancelOnReview(ctx, ex, order) {
				toCancel = append(toCancel, order)
			} else {
				keep = append(keep, order)
			}

		default:
			m.logger.Info("Order expired",
				zap.String("exchange", exchange),
				zap.String("order_id", order.ID),
				zap.Duration("age", age))
			toCancel = append(toCancel, order)
		}
	}

	// The ledger is rebuilt from what the exchange reports as live, then
	// decremented only by cancellations we actually executed.
	m.ledger.Set(exchange, totalValue)

	canceled := false
	for _, order := range toCancel {
		orderID := order.ID
		_, err := withRetry(ctx, m.logger, m.sleepFn, "cancel order", func() (struct{}, error) {
			return struct{}{}, ex.CancelOrder(ctx, orderID)
		})
		if err != nil {
			m.logger.Error("Failed to cancel order",
				zap.String("exchange", exchange),
				zap.String("order_id", order.ID), zap.Error(err))
			keep = append(keep, order)
			continue
		}
		m.ledger.Release(exchange, order.Price*order.Volume)
		canceled = true
		m.logger.Info("Order canceled",
			zap.String("exchange", exchange), zap.String("order_id", order.ID))
	}

	return keep, canceled, nil
}

// shouldCancelOnReview refetches the market and decides whether an order in
// the 10-30 minute window should go. Replacement is not atomic: the next
// cycle's sizing pass re-quotes if the pair still qualifies.
func (m *OrderManager) shouldCancelOnReview(ctx context.Context, ex domain.Exchange, order domain.OpenOrder) bool {
	if order.Side != domain.SideBuy {
		return false
	}

	ticker, err := withRetry(ctx, m.logger, m.sleepFn, "review ticker", func() (*domain.Ticker, error) {
		return ex.GetTicker(ctx, ex.PairFormat(ex.NormalizePair(order.Pair)))
	})
	if err != nil || ticker.LastPrice <= 0 {
		return false
	}
	market := ticker.LastPrice

	if market < order.Price*reviewMarketDropRatio {
		m.logger.Info("Market moved against order",
			zap.String("order_id", order.ID),
			zap.Float64("order_price", order.Price),
			zap.Float64("market", market))
		return true
	}
	if market >= order.Price*reviewMarketRiseRatio {
		m.logger.Info("Market outran order, canceling for re-quote",
			zap.String("order_id", order.ID),
			zap.Float64("order_price", order.Price),
			zap.Float64("market", market))
		return true
	}
	return false
}
