package domain

import "time"

// SessionMetrics aggregates counters for one process run. The trading loop
// is single-threaded, so no locking is needed; snapshots are taken for the
// display and for the shutdown summary.
type SessionMetrics struct {
	StartTime         time.Time
	EndTime           time.Time
	TotalTrades       int
	BuyTrades         int
	SellTrades        int
	TotalVolume       float64
	TotalProfitLoss   float64
	WinningTrades     int
	LosingTrades      int
	ErrorsEncountered int
	OrdersPlaced      int
	OrdersFilled      int
	TotalFees         float64
	PairsTraded       map[string]struct{}
	ShutdownReason    string
	TradesPerExchange map[string]int
	ProfitPerExchange map[string]float64
}

func NewSessionMetrics(start time.Time) *SessionMetrics {
	return &SessionMetrics{
		StartTime:         start,
		PairsTraded:       make(map[string]struct{}),
		ShutdownReason:    "normal",
		TradesPerExchange: make(map[string]int),
		ProfitPerExchange: make(map[string]float64),
	}
}

// RecordTrade folds a completed trade into the counters.
func (m *SessionMetrics) RecordTrade(rec *TradeRecord, exchange string) {
	m.TotalTrades++
	m.TotalVolume += rec.Volume
	m.TotalFees += rec.Fees
	m.PairsTraded[rec.Pair] = struct{}{}
	m.TradesPerExchange[exchange]++

	switch rec.Type {
	case SideBuy:
		m.BuyTrades++
	case SideSell:
		m.SellTrades++
		if rec.ActualProfit != nil {
			profit := *rec.ActualProfit
			m.TotalProfitLoss += profit
			m.ProfitPerExchange[exchange] += profit
			if profit > 0 {
				m.WinningTrades++
			} else if profit < 0 {
				m.LosingTrades++
			}
		}
	}
}

func (m *SessionMetrics) RecordOrderPlaced() { m.OrdersPlaced++ }
func (m *SessionMetrics) RecordOrderFilled() { m.OrdersFilled++ }
func (m *SessionMetrics) RecordError()       { m.ErrorsEncountered++ }

// WinRate is winning sells over total sells, in percent.
func (m *SessionMetrics) WinRate() float64 {
	if m.SellTrades == 0 {
		return 0
	}
	return float64(m.WinningTrades) / float64(m.SellTrades) * 100
}

// Snapshot returns a copyable view for the display and persistence.
func (m *SessionMetrics) Snapshot() SessionSnapshot {
	pairs := make([]string, 0, len(m.PairsTraded))
	for p := range m.PairsTraded {
		pairs = append(pairs, p)
	}
	trades := make(map[string]int, len(m.TradesPerExchange))
	for k, v := range m.TradesPerExchange {
		trades[k] = v
	}
	profit := make(map[string]float64, len(m.ProfitPerExchange))
	for k, v := range m.ProfitPerExchange {
		profit[k] = v
	}
	return SessionSnapshot{
		StartTime:         m.StartTime,
		EndTime:           m.EndTime,
		TotalTrades:       m.TotalTrades,
		BuyTrades:         m.BuyTrades,
		SellTrades:        m.SellTrades,
		TotalVolume:       m.TotalVolume,
		TotalProfitLoss:   m.TotalProfitLoss,
		WinningTrades:     m.WinningTrades,
		LosingTrades:      m.LosingTrades,
		ErrorsEncountered: m.ErrorsEncountered,
		OrdersPlaced:      m.OrdersPlaced,
		OrdersFilled:      m.OrdersFilled,
		TotalFees:         m.TotalFees,
		WinRate:           m.WinRate(),
		PairsTraded:       pairs,
		ShutdownReason:    m.ShutdownReason,
		TradesPerExchange: trades,
		ProfitPerExchange: profit,
	}
}

// SessionSnapshot is the immutable view of SessionMetrics pushed to the
// display and saved to session history.
type SessionSnapshot struct {
	StartTime         time.Time          `json:"start_time"`
	EndTime           time.Time          `json:"end_time"`
	TotalTrades       int                `json:"total_trades"`
	BuyTrades         int                `json:"buy_trades"`
	SellTrades        int                `json:"sell_trades"`
	TotalVolume       float64            `json:"total_volume"`
	TotalProfitLoss   float64            `json:"total_profit_loss"`
	WinningTrades     int                `json:"winning_trades"`
	LosingTrades      int                `json:"losing_trades"`
	ErrorsEncountered int                `json:"errors_encountered"`
	OrdersPlaced      int                `json:"orders_placed"`
	OrdersFilled      int                `json:"orders_filled"`
	TotalFees         float64            `json:"total_fees"`
	WinRate           float64            `json:"win_rate"`
	PairsTraded       []string           `json:"pairs_traded"`
	ShutdownReason    string             `json:"shutdown_reason"`
	TradesPerExchange map[string]int     `json:"trades_per_exchange"`
	ProfitPerExchange map[string]float64 `json:"profit_per_exchange"`
}
