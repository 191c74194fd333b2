package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

const discoveryWorkers = 10

// Discovery scans an exchange's USDT-quoted pairs for tokens trading below
// the configured price ceiling. Ticker probes fan out to a bounded worker
// pool; workers only read market data and write into the mutex-guarded
// result map, never into the ledger or balance cache.
type Discovery struct {
	maxPrice float64
	workers  int
	logger   *zap.Logger
}

func NewDiscovery(maxPrice float64, logger *zap.Logger) *Discovery {
	return &Discovery{maxPrice: maxPrice, workers: discoveryWorkers, logger: logger}
}

// FindSubCentPairs returns canonical pair -> last price for every candidate
// below the ceiling. The pool is joined before returning, so the sequential
// phase never races with the probes.
func (d *Discovery) FindSubCentPairs(ctx context.Context, ex domain.Exchange) (map[string]float64, error) {
	pairs, err := ex.GetTradablePairs(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for name, info := range pairs {
		if info.Quote != "USDT" && !strings.HasSuffix(name, "USDT") {
			continue
		}
		candidates = append(candidates, name)
	}

	found := make(map[string]float64)
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan string)

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pair := range jobs {
				ticker, err := ex.GetTicker(ctx, ex.PairFormat(pair))
				if err != nil {
					continue
				}
				if ticker.LastPrice <= 0 || ticker.LastPrice > d.maxPrice {
					continue
				}
				mu.Lock()
				found[ex.NormalizePair(pair)] = ticker.LastPrice
				mu.Unlock()
			}
		}()
	}

	for _, pair := range candidates {
		select {
		case jobs <- pair:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return found, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	d.logger.Info("Discovery scan complete",
		zap.String("exchange", ex.Name()),
		zap.Int("scanned", len(candidates)),
		zap.Int("candidates", len(found)))
	return found, nil
}
