package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

func TestMatchSellFIFO(t *testing.T) {
	ledger := &memTradeLedger{}
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.01, Volume: 100,
		OrderID: "buy-1", Timestamp: time.Unix(1000, 0),
	})
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.012, Volume: 50,
		OrderID: "buy-2", Timestamp: time.Unix(2000, 0),
	})

	calc := NewProfitCalculator(ledger, zap.NewNop())

	sell := &domain.TradeRecord{
		Type: domain.SideSell, Pair: "ABCUSDT", Price: 0.013, Volume: 120,
		OrderID: "sell-1", Timestamp: time.Unix(3000, 0),
	}
	profit, matched, err := calc.MatchSell(sell)
	require.NoError(t, err)
	require.True(t, matched)

	// cost = 100*0.01 + 20*0.012 = 1.24, revenue = 120*0.013 = 1.56
	assert.InDelta(t, 0.32, profit, 1e-9)

	records, err := ledger.All()
	require.NoError(t, err)
	assert.True(t, records[0].FullyMatched)
	assert.InDelta(t, 100.0, records[0].MatchedVolume, 1e-9)
	assert.False(t, records[1].FullyMatched)
	assert.InDelta(t, 20.0, records[1].MatchedVolume, 1e-9)
}

func TestMatchSellOldestFirst(t *testing.T) {
	ledger := &memTradeLedger{}
	// Appended out of order; matching must still consume the oldest buy.
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.02, Volume: 10,
		OrderID: "buy-new", Timestamp: time.Unix(2000, 0),
	})
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.01, Volume: 10,
		OrderID: "buy-old", Timestamp: time.Unix(1000, 0),
	})

	calc := NewProfitCalculator(ledger, zap.NewNop())
	profit, matched, err := calc.MatchSell(&domain.TradeRecord{
		Type: domain.SideSell, Pair: "ABCUSDT", Price: 0.03, Volume: 10,
		OrderID: "sell-1", Timestamp: time.Unix(3000, 0),
	})
	require.NoError(t, err)
	require.True(t, matched)
	// Matched against the 0.01 buy, not the 0.02 one.
	assert.InDelta(t, 0.2, profit, 1e-9)

	records, _ := ledger.All()
	for _, rec := range records {
		if rec.OrderID == "buy-old" {
			assert.True(t, rec.FullyMatched)
		}
		if rec.OrderID == "buy-new" {
			assert.False(t, rec.FullyMatched)
			assert.Zero(t, rec.MatchedVolume)
		}
	}
}

func TestMatchSellProportionalFees(t *testing.T) {
	ledger := &memTradeLedger{}
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.01, Volume: 100, Fees: 0.1,
		OrderID: "buy-1", Timestamp: time.Unix(1000, 0),
	})

	calc := NewProfitCalculator(ledger, zap.NewNop())
	profit, matched, err := calc.MatchSell(&domain.TradeRecord{
		Type: domain.SideSell, Pair: "ABCUSDT", Price: 0.02, Volume: 50, Fees: 0.05,
		OrderID: "sell-1", Timestamp: time.Unix(2000, 0),
	})
	require.NoError(t, err)
	require.True(t, matched)
	// revenue 1.0 - sell fee share 0.05 - (cost 0.5 + buy fee share 0.05)
	assert.InDelta(t, 0.4, profit, 1e-9)
}

func TestMatchSellShortfall(t *testing.T) {
	ledger := &memTradeLedger{}
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.01, Volume: 30,
		OrderID: "buy-1", Timestamp: time.Unix(1000, 0),
	})

	calc := NewProfitCalculator(ledger, zap.NewNop())
	profit, matched, err := calc.MatchSell(&domain.TradeRecord{
		Type: domain.SideSell, Pair: "ABCUSDT", Price: 0.02, Volume: 100,
		OrderID: "sell-1", Timestamp: time.Unix(2000, 0),
	})
	require.NoError(t, err)
	require.True(t, matched)
	// Profit computed only over the 30 matched units.
	assert.InDelta(t, 30*0.02-30*0.01, profit, 1e-9)
}

func TestMatchSellNoBuys(t *testing.T) {
	ledger := &memTradeLedger{}
	calc := NewProfitCalculator(ledger, zap.NewNop())

	profit, matched, err := calc.MatchSell(&domain.TradeRecord{
		Type: domain.SideSell, Pair: "ABCUSDT", Price: 0.02, Volume: 100,
		OrderID: "sell-1", Timestamp: time.Unix(2000, 0),
	})
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Zero(t, profit)
}

func TestMatchSellIgnoresOtherPairsAndMatchedBuys(t *testing.T) {
	ledger := &memTradeLedger{}
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "XYZUSDT", Price: 0.01, Volume: 100,
		OrderID: "other-pair", Timestamp: time.Unix(500, 0),
	})
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.01, Volume: 100,
		OrderID: "spent", Timestamp: time.Unix(600, 0),
		MatchedVolume: 100, FullyMatched: true,
	})
	ledger.Append(&domain.TradeRecord{
		Type: domain.SideBuy, Pair: "ABCUSDT", Price: 0.015, Volume: 100,
		OrderID: "fresh", Timestamp: time.Unix(700, 0),
	})

	calc := NewProfitCalculator(ledger, zap.NewNop())
	profit, matched, err := calc.MatchSell(&domain.TradeRecord{
		Type: domain.SideSell, Pair: "ABCUSDT", Price: 0.02, Volume: 50,
		OrderID: "sell-1", Timestamp: time.Unix(2000, 0),
	})
	require.NoError(t, err)
	require.True(t, matched)
	assert.InDelta(t, 50*0.02-50*0.015, profit, 1e-9)
}
