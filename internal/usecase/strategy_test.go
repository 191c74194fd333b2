package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/subcent_bot/internal/config"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

func testTradingConfig() config.TradingConfig {
	return config.Default().Trading
}

func TestRiskMultiplierTiers(t *testing.T) {
	s := NewStrategy(testTradingConfig(), NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())

	assert.Equal(t, 1.0, s.RiskMultiplier(0.01))
	assert.Equal(t, 0.7, s.RiskMultiplier(0.05))
	assert.Equal(t, 0.7, s.RiskMultiplier(0.10))
	assert.Equal(t, 0.4, s.RiskMultiplier(0.15))
	assert.Equal(t, 0.4, s.RiskMultiplier(0.19))
}

func TestProfitMarginTiers(t *testing.T) {
	s := NewStrategy(testTradingConfig(), NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())

	assert.Equal(t, 0.003, s.ProfitMargin(0.01))
	assert.Equal(t, 0.002, s.ProfitMargin(0.08))
	assert.Equal(t, 0.001, s.ProfitMargin(0.18))
}

func TestBudgetRefusalWithoutNetworkCalls(t *testing.T) {
	ledger := NewOpenOrderLedger()
	ledger.Set("kraken", 10)

	s := NewStrategy(testTradingConfig(), ledger, &memPositions{}, &memMarks{}, zap.NewNop())

	// balance=100, usage=10%, multiplier=1.0 -> max 10; ledger already at 10.
	budget := s.RemainingBudget("kraken", 100, 0.01)
	assert.LessOrEqual(t, budget, 0.0)

	ex := newMockExchange("kraken")
	err := s.ExecuteBuy(context.Background(), ex, "ABCUSDT", 0.01, 100, domain.NewSessionMetrics(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, ex.placedBuys)
	assert.Equal(t, 0, ex.balanceCalls)
}

func TestOrderVolumeSizing(t *testing.T) {
	s := NewStrategy(testTradingConfig(), NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())
	info := domain.PairInfo{OrderMin: 10, LotDecimals: 0}

	// Budget small enough that the raw size falls below ordermin but the
	// floor still fits the budget.
	vol := s.OrderVolume(1, 0.005, info)
	assert.Equal(t, 10.0, vol)

	// Budget cannot even pay for the minimum.
	vol = s.OrderVolume(0.01, 0.005, info)
	assert.Zero(t, vol)

	// Zero or negative budget refuses outright.
	assert.Zero(t, s.OrderVolume(0, 0.005, info))
	assert.Zero(t, s.OrderVolume(-5, 0.005, info))
}

func TestOrderVolumeLotRounding(t *testing.T) {
	s := NewStrategy(testTradingConfig(), NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())
	info := domain.PairInfo{OrderMin: 1, LotDecimals: 2}

	vol := s.OrderVolume(100, 0.01, info)
	assert.Greater(t, vol, 0.0)
	// Rounded down to two decimals.
	assert.InDelta(t, vol, roundDown(vol, 2), 1e-12)
}

func TestBuyPriceFromBook(t *testing.T) {
	s := NewStrategy(testTradingConfig(), NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())
	info := domain.PairInfo{PairDecimals: 8}

	ex := newMockExchange("kraken")
	ex.books["ABCUSDT"] = &domain.OrderBook{
		Pair: "ABCUSDT",
		Bids: []domain.BookLevel{{Price: 0.0100, Volume: 1000}},
		Asks: []domain.BookLevel{{Price: 0.0102, Volume: 1000}},
	}

	price := s.BuyPrice(context.Background(), ex, "ABCUSDT", 0.0101, info)
	assert.InDelta(t, 0.0100*1.0001, price, 1e-9)
}

func TestBuyPriceFallbackAndClamp(t *testing.T) {
	s := NewStrategy(testTradingConfig(), NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())
	info := domain.PairInfo{PairDecimals: 8}

	// No book: small offset above last.
	ex := newMockExchange("kraken")
	price := s.BuyPrice(context.Background(), ex, "ABCUSDT", 0.01, info)
	assert.InDelta(t, 0.01*1.0002, price, 1e-9)

	// A bid far above last is clamped to 1% over last.
	ex.books["ABCUSDT"] = &domain.OrderBook{
		Pair: "ABCUSDT",
		Bids: []domain.BookLevel{{Price: 0.02, Volume: 1000}},
	}
	price = s.BuyPrice(context.Background(), ex, "ABCUSDT", 0.01, info)
	assert.InDelta(t, 0.0101, price, 1e-9)
}

func TestExecuteBuyPlacesOrderAndUpdatesState(t *testing.T) {
	ledger := NewOpenOrderLedger()
	positions := &memPositions{}
	marks := &memMarks{}
	s := NewStrategy(testTradingConfig(), ledger, positions, marks, zap.NewNop())
	s.nowFn = func() time.Time { return time.Unix(50000, 0) }

	ex := newMockExchange("kraken")
	ex.nextOrderID = "order-1"
	ex.pairs["ABCUSDT"] = domain.PairInfo{Base: "ABC", Quote: "USDT", OrderMin: 10, LotDecimals: 0, PairDecimals: 8}
	ex.books["ABCUSDT"] = &domain.OrderBook{
		Pair: "ABCUSDT",
		Bids: []domain.BookLevel{{Price: 0.0099, Volume: 5000}},
		Asks: []domain.BookLevel{{Price: 0.0101, Volume: 5000}},
	}

	metrics := domain.NewSessionMetrics(time.Unix(40000, 0))
	err := s.ExecuteBuy(context.Background(), ex, "ABCUSDT", 0.01, 1000, metrics)
	require.NoError(t, err)

	require.Len(t, ex.placedBuys, 1)
	placed := ex.placedBuys[0]
	assert.Equal(t, "ABCUSDT", placed.pair)
	assert.Equal(t, 0, placed.leverage)

	assert.InDelta(t, placed.volume*placed.price, ledger.Value("kraken"), 1e-9)
	assert.Equal(t, 1, metrics.OrdersPlaced)

	open := positions.OpenForPair("kraken", "ABCUSDT")
	require.Len(t, open, 1)
	assert.Equal(t, "order-1", open[0].OrderID)
	assert.Equal(t, domain.SideBuy, open[0].Side)

	// Placement also leaves an open-status mark for the order.
	saved, err := marks.Load()
	require.NoError(t, err)
	require.Contains(t, saved, "order-1")
	assert.Equal(t, domain.MarkOpen, saved["order-1"].Status)
	assert.Equal(t, "kraken", saved["order-1"].Exchange)
}

func TestExecuteBuyMarginFallsBackToSpot(t *testing.T) {
	cfg := testTradingConfig()
	cfg.MarginEnabled = true
	cfg.DefaultLeverage = 2

	s := NewStrategy(cfg, NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())

	ex := newMockExchange("kraken")
	ex.nextOrderID = "order-1"
	ex.pairs["ABCUSDT"] = domain.PairInfo{OrderMin: 10, LotDecimals: 0, PairDecimals: 8}
	// Headroom below the minimum: leverage must not be requested.
	ex.tradeBalance = &domain.TradeBalance{Equity: 100, MarginLevel: 1.05}

	err := s.ExecuteBuy(context.Background(), ex, "ABCUSDT", 0.01, 1000, domain.NewSessionMetrics(time.Now()))
	require.NoError(t, err)
	require.Len(t, ex.placedBuys, 1)
	assert.Equal(t, 0, ex.placedBuys[0].leverage)
}

func TestExecuteBuyMarginWithHeadroom(t *testing.T) {
	cfg := testTradingConfig()
	cfg.MarginEnabled = true
	cfg.DefaultLeverage = 2

	s := NewStrategy(cfg, NewOpenOrderLedger(), &memPositions{}, &memMarks{}, zap.NewNop())

	ex := newMockExchange("kraken")
	ex.nextOrderID = "order-1"
	ex.pairs["ABCUSDT"] = domain.PairInfo{OrderMin: 10, LotDecimals: 0, PairDecimals: 8}
	ex.tradeBalance = &domain.TradeBalance{Equity: 100, MarginLevel: 2.5}

	err := s.ExecuteBuy(context.Background(), ex, "ABCUSDT", 0.01, 1000, domain.NewSessionMetrics(time.Now()))
	require.NoError(t, err)
	require.Len(t, ex.placedBuys, 1)
	assert.Equal(t, 2, ex.placedBuys[0].leverage)
}
