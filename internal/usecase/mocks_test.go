package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
)

type placedOrder struct {
	pair     string
	volume   float64
	price    float64
	leverage int
}

// mockExchange is a hand-rolled domain.Exchange for tests.
type mockExchange struct {
	mu sync.Mutex

	name         string
	balances     map[string]float64
	balanceErr   error
	balanceCalls int

	pairs    map[string]domain.PairInfo
	pairsErr error

	tickers map[string]*domain.Ticker
	books   map[string]*domain.OrderBook
	trades  map[string][]domain.PublicTrade

	// Failure injection: the first N calls answer with a rate-limit error
	// before the scripted data is served.
	tickerFailures int
	cancelFailures int
	tickerCalls    int

	tradeBalance *domain.TradeBalance

	openOrders   []domain.OpenOrder
	closedOrders []domain.ClosedOrder

	nextOrderID string
	placeErr    error
	placedBuys  []placedOrder
	placedSells []placedOrder

	cancelErr error
	canceled  []string
}

func newMockExchange(name string) *mockExchange {
	return &mockExchange{
		name:    name,
		pairs:   make(map[string]domain.PairInfo),
		tickers: make(map[string]*domain.Ticker),
		books:   make(map[string]*domain.OrderBook),
		trades:  make(map[string][]domain.PublicTrade),
	}
}

func (m *mockExchange) Name() string { return m.name }

func (m *mockExchange) GetBalance(context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balances, nil
}

func (m *mockExchange) GetTradeBalance(context.Context) (*domain.TradeBalance, error) {
	if m.tradeBalance == nil {
		return nil, domain.ErrUnsupported
	}
	return m.tradeBalance, nil
}

func (m *mockExchange) GetTradablePairs(context.Context) (map[string]domain.PairInfo, error) {
	if m.pairsErr != nil {
		return nil, m.pairsErr
	}
	return m.pairs, nil
}

func (m *mockExchange) GetTicker(_ context.Context, pair string) (*domain.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickerCalls++
	if m.tickerFailures > 0 {
		m.tickerFailures--
		return nil, &domain.APIError{Exchange: m.name, Kind: domain.ErrKindRateLimited, Message: "rate limited"}
	}
	t, ok := m.tickers[pair]
	if !ok {
		return nil, &domain.APIError{Exchange: m.name, Kind: domain.ErrKindRejected, Message: "no ticker"}
	}
	return t, nil
}

func (m *mockExchange) GetOrderBook(_ context.Context, pair string, _ int) (*domain.OrderBook, error) {
	b, ok := m.books[pair]
	if !ok {
		return nil, &domain.APIError{Exchange: m.name, Kind: domain.ErrKindRejected, Message: "no book"}
	}
	return b, nil
}

func (m *mockExchange) GetRecentTrades(_ context.Context, pair string, _ int) ([]domain.PublicTrade, error) {
	t, ok := m.trades[pair]
	if !ok {
		return nil, domain.ErrUnsupported
	}
	return t, nil
}

func (m *mockExchange) PlaceBuyOrder(_ context.Context, pair string, volume, price float64, leverage int) (string, error) {
	if m.placeErr != nil {
		return "", m.placeErr
	}
	m.placedBuys = append(m.placedBuys, placedOrder{pair, volume, price, leverage})
	return m.nextOrderID, nil
}

func (m *mockExchange) PlaceSellOrder(_ context.Context, pair string, volume, price float64, leverage int) (string, error) {
	if m.placeErr != nil {
		return "", m.placeErr
	}
	m.placedSells = append(m.placedSells, placedOrder{pair, volume, price, leverage})
	return m.nextOrderID, nil
}

func (m *mockExchange) GetOpenOrders(context.Context) ([]domain.OpenOrder, error) {
	return m.openOrders, nil
}

func (m *mockExchange) GetClosedOrders(context.Context, time.Time) ([]domain.ClosedOrder, error) {
	return m.closedOrders, nil
}

func (m *mockExchange) CancelOrder(_ context.Context, orderID string) error {
	if m.cancelFailures > 0 {
		m.cancelFailures--
		return &domain.APIError{Exchange: m.name, Kind: domain.ErrKindRateLimited, Message: "rate limited"}
	}
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.canceled = append(m.canceled, orderID)
	return nil
}

func (m *mockExchange) NormalizePair(pair string) string {
	return strings.ReplaceAll(pair, "_", "")
}

func (m *mockExchange) PairFormat(pair string) string { return pair }

func (m *mockExchange) CurrencyCode(_ context.Context, pair string) string {
	return strings.TrimSuffix(m.NormalizePair(pair), "USDT")
}

// memTradeLedger is an in-memory domain.TradeLedger.
type memTradeLedger struct {
	records []*domain.TradeRecord
}

func (l *memTradeLedger) Append(rec *domain.TradeRecord) error {
	l.records = append(l.records, rec)
	return nil
}

func (l *memTradeLedger) All() ([]*domain.TradeRecord, error) {
	out := make([]*domain.TradeRecord, len(l.records))
	for i, rec := range l.records {
		cp := *rec
		out[i] = &cp
	}
	return out, nil
}

func (l *memTradeLedger) UpdateMatched(updated []*domain.TradeRecord) error {
	byID := make(map[string]*domain.TradeRecord, len(updated))
	for _, rec := range updated {
		byID[rec.OrderID] = rec
	}
	for _, rec := range l.records {
		if upd, ok := byID[rec.OrderID]; ok && rec.Type == domain.SideBuy {
			rec.MatchedVolume = upd.MatchedVolume
			rec.FullyMatched = upd.FullyMatched
		}
	}
	return nil
}

// memPositions is an in-memory domain.PositionRepository.
type memPositions struct {
	positions []*domain.Position
	nowFn     func() time.Time
}

func (r *memPositions) now() time.Time {
	if r.nowFn != nil {
		return r.nowFn()
	}
	return time.Now()
}

func (r *memPositions) Load(exchange string) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range r.positions {
		if p.Exchange == exchange {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPositions) Add(pos *domain.Position) error {
	r.positions = append(r.positions, pos)
	return nil
}

func (r *memPositions) UpdateStatus(orderID, exchange string, status domain.PositionStatus) (bool, error) {
	for _, p := range r.positions {
		if p.OrderID == orderID && p.Exchange == exchange {
			p.Status = status
			if status == domain.PositionFilled {
				p.FilledAt = r.now()
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *memPositions) Cleanup(string) (int, error) { return 0, nil }

func (r *memPositions) OpenForPair(exchange, pair string) []*domain.Position {
	var out []*domain.Position
	for _, p := range r.positions {
		if p.Exchange == exchange && p.Pair == pair && p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	return out
}

// memMarks is an in-memory domain.OrderMarkRepository.
type memMarks struct {
	marks map[string]*domain.OrderMark
}

func (m *memMarks) Load() (map[string]*domain.OrderMark, error) {
	if m.marks == nil {
		m.marks = make(map[string]*domain.OrderMark)
	}
	return m.marks, nil
}

func (m *memMarks) Save(marks map[string]*domain.OrderMark) error {
	m.marks = marks
	return nil
}

// noSleep is injected into services so tests never actually wait.
func noSleep(context.Context, time.Duration) error { return nil }
