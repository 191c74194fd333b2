package domain

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionFilled PositionStatus = "filled"
)

// Position is the bot's persisted record of an order it placed. It is
// created when the order is submitted and flipped to filled when a matching
// closed-order fill is observed. A filled position never goes back to open.
type Position struct {
	Pair      string         `json:"pair"`
	OrderID   string         `json:"order_id"`
	Side      Side           `json:"side"`
	Volume    float64        `json:"volume"`
	Price     float64        `json:"price"`
	Exchange  string         `json:"exchange"`
	Timestamp time.Time      `json:"timestamp"`
	Status    PositionStatus `json:"status"`
	FilledAt  time.Time      `json:"filled_at,omitempty"`
}

// OrderMark is the dedup guard preventing the same exchange fill from being
// recorded twice across cycles and restarts.
// Order mark statuses: "open" is written at placement, "closed" once the
// fill has been recorded in the trade ledger.
const (
	MarkOpen   = "open"
	MarkClosed = "closed"
)

type OrderMark struct {
	OrderID   string
	Timestamp time.Time
	Exchange  string
	Status    string // MarkOpen or MarkClosed
}

// TradeRecord is an append-only ledger entry for an executed order. Buy
// records accumulate MatchedVolume as later sells consume them through FIFO
// matching; a buy is FullyMatched once consumed volume reaches its volume.
type TradeRecord struct {
	Type          Side      `json:"type"`
	Pair          string    `json:"pair"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	Fees          float64   `json:"fees"`
	OrderID       string    `json:"order_id"`
	Timestamp     time.Time `json:"timestamp"`
	ActualProfit  *float64  `json:"actual_profit,omitempty"`
	MatchedVolume float64   `json:"matched_volume,omitempty"`
	FullyMatched  bool      `json:"fully_matched,omitempty"`
}

// RemainingVolume is the buy volume not yet consumed by sells.
func (t TradeRecord) RemainingVolume() float64 {
	rem := t.Volume - t.MatchedVolume
	if rem < 0 {
		return 0
	}
	return rem
}
