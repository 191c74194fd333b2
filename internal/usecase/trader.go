package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/vitos/subcent_bot/internal/config"
	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

// ErrNoBalance terminates the bot: every exchange answered and none holds
// any USDT to trade with.
var ErrNoBalance = errors.New("no USDT balance on any exchange")

// cleanupEveryNCycles controls how often filled positions are purged.
const cleanupEveryNCycles = 10

// Trader is the session context: it owns every mutable structure of the
// trading loop (ledger, balance cache, metrics) and drives the cycle
// sequentially, one exchange after another. Only discovery fans out.
type Trader struct {
	cfg       *config.Config
	logger    *zap.Logger
	exchanges map[string]domain.Exchange

	ledger     *OpenOrderLedger
	balances   *BalanceService
	router     *Router
	discovery  *Discovery
	gate       *OpportunityGate
	strategy   *Strategy
	orders     *OrderManager
	settlement *Settlement
	positions  domain.PositionRepository
	metrics    *domain.SessionMetrics
	display    domain.Display
	sessions   *SessionWriter

	cycle   int
	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewTrader(
	cfg *config.Config,
	exchanges map[string]domain.Exchange,
	positions domain.PositionRepository,
	marks domain.OrderMarkRepository,
	trades domain.TradeLedger,
	history domain.SessionRepository,
	predictor domain.Predictor,
	display domain.Display,
	logger *zap.Logger,
) *Trader {
	if display == nil {
		display = domain.NopDisplay{}
	}

	ledger := NewOpenOrderLedger()
	balances := NewBalanceService(cfg.BalanceCacheTTL(), logger)
	strategy := NewStrategy(cfg.Trading, ledger, positions, marks, logger)
	profit := NewProfitCalculator(trades, logger)

	return &Trader{
		cfg:        cfg,
		logger:     logger,
		exchanges:  exchanges,
		ledger:     ledger,
		balances:   balances,
		router:     NewRouter(cfg.Trading.PriceDiffThreshold, logger),
		discovery:  NewDiscovery(cfg.Trading.MaxTokenPrice, logger),
		gate:       NewOpportunityGate(predictor, logger),
		strategy:   strategy,
		orders:     NewOrderManager(ledger, logger),
		settlement: NewSettlement(cfg.Trading, ledger, positions, marks, trades, profit, balances, strategy, logger),
		positions:  positions,
		metrics:    domain.NewSessionMetrics(time.Now()),
		display:    display,
		sessions:   NewSessionWriter(cfg.Storage.SessionsDir, history, logger),
		nowFn:      time.Now,
		sleepFn:    sleepCtx,
	}
}

func (t *Trader) exchangeNames() []string {
	names := make([]string, 0, len(t.exchanges))
	for name := range t.exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunCycle executes one full pass: reconcile existing orders and fills,
// place sells, then discover and buy new candidates within budget.
func (t *Trader) RunCycle(ctx context.Context) error {
	names := t.exchangeNames()
	forceRefresh := t.cycle == 0

	usdtByExchange := make(map[string]float64)
	balanceKnown := false
	anyCanceled := false

	for _, name := range names {
		ex := t.exchanges[name]

		balances, err := t.balances.Get(ctx, ex, forceRefresh)
		if err != nil {
			t.display.UpdateExchangeStatus(name, "degraded")
			t.metrics.RecordError()
			t.logger.Warn("Balance unknown this cycle",
				zap.String("exchange", name), zap.Error(err))
			continue
		}
		t.display.UpdateExchangeStatus(name, "connected")
		t.display.UpdateBalances(name, balances)
		usdtByExchange[name] = USDT(balances)
		balanceKnown = true

		if err := t.settlement.RecordCompletedTrades(ctx, ex, t.metrics); err != nil {
			t.metrics.RecordError()
			t.logger.Error("Failed to record completed trades",
				zap.String("exchange", name), zap.Error(err))
		}

		open, canceled, err := t.orders.ManageOpenOrders(ctx, ex)
		if err != nil {
			t.metrics.RecordError()
			t.logger.Error("Failed to manage open orders",
				zap.String("exchange", name), zap.Error(err))
		} else {
			t.display.UpdateOpenOrders(name, open)
			anyCanceled = anyCanceled || canceled
		}

		if err := t.settlement.PlaceSellOrders(ctx, ex, t.metrics); err != nil {
			t.metrics.RecordError()
			t.logger.Error("Failed to place sell orders",
				zap.String("exchange", name), zap.Error(err))
		}
	}

	if balanceKnown {
		var total float64
		for _, v := range usdtByExchange {
			total += v
		}
		if total <= 0 {
			return ErrNoBalance
		}
	}

	if anyCanceled {
		// Let the cancellations settle exchange-side before the freed
		// budget is spent again.
		cooldown := t.cfg.SleepInterval() / 2
		t.logger.Info("Cancellations executed, cooling down",
			zap.Duration("cooldown", cooldown))
		if err := t.sleepFn(ctx, cooldown); err != nil {
			return err
		}
	}

	candidates := t.discoverCandidates(ctx, names)
	t.placeBuys(ctx, candidates, usdtByExchange)

	t.cycle++
	if t.cycle%cleanupEveryNCycles == 0 {
		for _, name := range names {
			if removed, err := t.positions.Cleanup(name); err != nil {
				t.logger.Error("Position cleanup failed",
					zap.String("exchange", name), zap.Error(err))
			} else if removed > 0 {
				t.logger.Info("Purged filled positions",
					zap.String("exchange", name), zap.Int("removed", removed))
			}
		}
	}

	t.display.UpdateSessionMetrics(t.metrics.Snapshot())
	return nil
}

// discoverCandidates unions the sub-cent scan across exchanges into a
// sorted canonical pair list.
func (t *Trader) discoverCandidates(ctx context.Context, names []string) []string {
	seen := make(map[string]struct{})
	for _, name := range names {
		found, err := t.discovery.FindSubCentPairs(ctx, t.exchanges[name])
		if err != nil {
			t.logger.Warn("Discovery failed",
				zap.String("exchange", name), zap.Error(err))
			continue
		}
		for pair := range found {
			seen[pair] = struct{}{}
		}
	}

	pairs := make([]string, 0, len(seen))
	for pair := range seen {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	t.display.UpdateMonitoredPairs(pairs)
	return pairs
}

// placeBuys routes each candidate to its best venue, gates it, and hands it
// to the sizing strategy.
func (t *Trader) placeBuys(ctx context.Context, candidates []string, usdtByExchange map[string]float64) {
	for _, pair := range candidates {
		if ctx.Err() != nil {
			return
		}

		quote := t.router.SelectBest(ctx, pair, t.exchanges)
		if quote == nil {
			continue
		}
		if quote.Price > t.cfg.Trading.MaxTokenPrice {
			continue
		}

		usdt, ok := usdtByExchange[quote.Exchange]
		if !ok || usdt <= 0 {
			continue
		}

		if len(t.positions.OpenForPair(quote.Exchange, pair)) >= t.cfg.Trading.MaxOrdersPerPair {
			t.logger.Debug("Max orders per pair reached",
				zap.String("exchange", quote.Exchange), zap.String("pair", pair))
			continue
		}

		if !t.gate.ShouldBuy(ctx, quote.Handle, pair, t.cfg.Trading.TakerFee) {
			continue
		}

		if err := t.strategy.ExecuteBuy(ctx, quote.Handle, pair, quote.Price, usdt, t.metrics); err != nil {
			t.logger.Error("Buy execution failed",
				zap.String("exchange", quote.Exchange),
				zap.String("pair", pair), zap.Error(err))
		}
	}
}

// Run drives cycles until the context is canceled or a fatal condition
// stops trading. The session summary is always flushed on the way out.
func (t *Trader) Run(ctx context.Context) error {
	t.logger.Info("Trading loop started",
		zap.Strings("exchanges", t.exchangeNames()),
		zap.Duration("interval", t.cfg.SleepInterval()))

	reason := "normal"
	var runErr error

	for {
		if err := t.RunCycle(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				reason = "interrupt"
			case errors.Is(err, ErrNoBalance):
				reason = "no balance"
				runErr = err
			default:
				reason = "fatal error"
				runErr = err
			}
			break
		}

		if err := t.sleepFn(ctx, t.cfg.SleepInterval()); err != nil {
			reason = "interrupt"
			break
		}
	}

	t.shutdown(reason)
	return runErr
}

// shutdown stamps the metrics and flushes the session summary. It uses a
// fresh context because the loop context is usually already canceled.
func (t *Trader) shutdown(reason string) {
	t.metrics.EndTime = t.nowFn()
	t.metrics.ShutdownReason = reason

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.sessions.Flush(flushCtx, t.metrics.Snapshot()); err != nil {
		t.logger.Error("Failed to flush session summary", zap.Error(err))
	}
	t.logger.Info("Trading loop stopped", zap.String("reason", reason))
}
