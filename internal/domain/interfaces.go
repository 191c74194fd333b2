package domain

import "context"

// PositionRepository persists the bot's positions per exchange.
type PositionRepository interface {
	Load(exchange string) ([]*Position, error)
	Add(pos *Position) error
	UpdateStatus(orderID, exchange string, status PositionStatus) (bool, error)
	// Cleanup removes positions that are filled and older than the
	// retention window, leaving other exchanges' positions untouched.
	Cleanup(exchange string) (removed int, err error)
	OpenForPair(exchange, pair string) []*Position
}

// TradeLedger is the append-only trade history used for profit
// reconciliation and training.
type TradeLedger interface {
	Append(rec *TradeRecord) error
	All() ([]*TradeRecord, error)
	// UpdateMatched rewrites matched-volume bookkeeping for the given buy
	// records so later sells cannot consume them again.
	UpdateMatched(updated []*TradeRecord) error
}

// OrderMarkRepository tracks which exchange orders have already been
// recorded, so a fill is never counted twice.
type OrderMarkRepository interface {
	Load() (map[string]*OrderMark, error)
	Save(marks map[string]*OrderMark) error
}

// SessionRepository stores one summary row per bot run.
type SessionRepository interface {
	SaveSession(ctx context.Context, s *SessionSnapshot) error
	ListSessions(ctx context.Context, limit int) ([]*SessionSnapshot, error)
}

// Decision is the ML collaborator's verdict for a candidate trade.
type Decision int

const (
	DecisionUnknown Decision = iota
	DecisionBuy
	DecisionSkip
)

// Predictor is the contract to the external ML collaborator. A Decision of
// DecisionUnknown or confidence below the caller's threshold means the core
// falls back to rule-based evaluation.
type Predictor interface {
	Predict(ctx context.Context, pair string, price, volume, fees float64) (Decision, float64, error)
}

// Display is the push-only contract to the dashboard collaborator. The core
// never blocks on display availability; implementations must return fast.
type Display interface {
	UpdateBalances(exchange string, balances map[string]float64)
	UpdateOpenOrders(exchange string, orders []OpenOrder)
	UpdateSessionMetrics(snapshot SessionSnapshot)
	UpdateMonitoredPairs(pairs []string)
	UpdateExchangeStatus(exchange, status string)
}

// NopDisplay discards all updates. Used for headless runs and tests.
type NopDisplay struct{}

func (NopDisplay) UpdateBalances(string, map[string]float64) {}
func (NopDisplay) UpdateOpenOrders(string, []OpenOrder)      {}
func (NopDisplay) UpdateSessionMetrics(SessionSnapshot)      {}
func (NopDisplay) UpdateMonitoredPairs([]string)             {}
func (NopDisplay) UpdateExchangeStatus(string, string)       {}
