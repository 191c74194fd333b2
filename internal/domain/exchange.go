package domain

import (
	"context"
	"time"
)

// Exchange defines the interface for interacting with a crypto exchange.
// Implementations normalize exchange-specific responses into the domain
// shapes below and classify failures via APIError.
type Exchange interface {
	Name() string

	GetBalance(ctx context.Context) (map[string]float64, error)
	GetTradeBalance(ctx context.Context) (*TradeBalance, error)
	GetTradablePairs(ctx context.Context) (map[string]PairInfo, error)
	GetTicker(ctx context.Context, pair string) (*Ticker, error)
	GetOrderBook(ctx context.Context, pair string, depth int) (*OrderBook, error)
	GetRecentTrades(ctx context.Context, pair string, limit int) ([]PublicTrade, error)

	PlaceBuyOrder(ctx context.Context, pair string, volume, price float64, leverage int) (string, error)
	PlaceSellOrder(ctx context.Context, pair string, volume, price float64, leverage int) (string, error)
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)
	GetClosedOrders(ctx context.Context, since time.Time) ([]ClosedOrder, error)
	CancelOrder(ctx context.Context, orderID string) error

	// NormalizePair converts any supported pair spelling to the canonical
	// form (e.g. BTCUSDT). PairFormat converts a canonical pair to the
	// exchange-specific spelling. Both are pure and inverse-consistent:
	// NormalizePair(PairFormat(p)) == p for every canonical p.
	NormalizePair(pair string) string
	PairFormat(pair string) string
	CurrencyCode(ctx context.Context, pair string) string
}

// PairInfo describes a tradable pair as declared by the exchange.
type PairInfo struct {
	Base         string
	Quote        string
	OrderMin     float64
	PairDecimals int // price precision
	LotDecimals  int // volume precision
}

// Ticker is a point-in-time market snapshot. It is re-fetched on every use
// and carries no staleness guarantee beyond the call.
type Ticker struct {
	Pair           string
	LastPrice      float64
	QuoteVolume24h float64
}

type BookLevel struct {
	Price  float64
	Volume float64
}

type OrderBook struct {
	Pair string
	Bids []BookLevel
	Asks []BookLevel
}

type PublicTrade struct {
	Price  float64
	Volume float64
	Time   time.Time
}

type OpenOrder struct {
	ID         string
	Pair       string
	Side       Side
	Price      float64
	Volume     float64
	VolumeExec float64
	OpenedAt   time.Time
}

type ClosedOrder struct {
	ID         string
	Pair       string
	Side       Side
	Price      float64
	Volume     float64
	VolumeExec float64
	Cost       float64
	Fee        float64
	Status     string // "closed" for fully executed orders
	ClosedAt   time.Time
}

// FillRatio is executed volume over requested volume.
func (o ClosedOrder) FillRatio() float64 {
	if o.Volume <= 0 {
		return 0
	}
	return o.VolumeExec / o.Volume
}

// TradeBalance carries margin account information (Kraken only).
type TradeBalance struct {
	Equity      float64
	MarginLevel float64
}
