package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	balanceMaxAttempts = 3
	balanceBackoffBase = 5 * time.Second
)

type balanceCacheEntry struct {
	data      map[string]float64
	timestamp time.Time
}

// BalanceService is the resilient request layer for account balances:
// a per-exchange cache with TTL plus rate-limit aware retries. Exhausted
// retries surface an error and the caller treats the balance as unknown
// for the cycle.
type BalanceService struct {
	ttl    time.Duration
	logger *zap.Logger
	cache  map[string]*balanceCacheEntry

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewBalanceService(ttl time.Duration, logger *zap.Logger) *BalanceService {
	return &BalanceService{
		ttl:     ttl,
		logger:  logger,
		cache:   make(map[string]*balanceCacheEntry),
		nowFn:   time.Now,
		sleepFn: sleepCtx,
	}
}

// Get returns the cached balance while it is fresh, otherwise fetches a
// new one with exponential backoff on rate limits (5s, 10s, 20s).
func (s *BalanceService) Get(ctx context.Context, ex domain.Exchange, forceRefresh bool) (map[string]float64, error) {
	name := ex.Name()
	now := s.nowFn()

	if entry, ok := s.cache[name]; ok && !forceRefresh && entry.data != nil && now.Sub(entry.timestamp) < s.ttl {
		s.logger.Debug("Using cached balance", zap.String("exchange", name))
		return entry.data, nil
	}

	var lastErr error
	for attempt := 0; attempt < balanceMaxAttempts; attempt++ {
		balances, err := ex.GetBalance(ctx)
		if err == nil {
			s.cache[name] = &balanceCacheEntry{data: balances, timestamp: s.nowFn()}
			s.logger.Debug("Fetched fresh balance", zap.String("exchange", name))
			return balances, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			s.logger.Error("Balance request failed",
				zap.String("exchange", name), zap.Error(err))
			return nil, err
		}

		wait := balanceBackoffBase * (1 << attempt)
		s.logger.Warn("Rate limited fetching balance, backing off",
			zap.String("exchange", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait))
		if attempt < balanceMaxAttempts-1 {
			if err := s.sleepFn(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Error("Failed to get balance after retries",
		zap.String("exchange", name), zap.Error(lastErr))
	return nil, lastErr
}

// USDT extracts the tradable USDT balance from a balance map, tolerating
// exchange-specific currency code spellings.
func USDT(balances map[string]float64) float64 {
	if v, ok := balances["USDT"]; ok {
		return v
	}
	for currency, amount := range balances {
		if strings.Contains(currency, "USDT") {
			return amount
		}
	}
	return 0
}

// withRetry wraps an outbound call with the same rate-limit backoff policy
// as balance fetching. Non-retryable errors abort immediately.
func withRetry[T any](ctx context.Context, logger *zap.Logger, sleepFn func(context.Context, time.Duration) error, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < balanceMaxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			return zero, err
		}
		wait := balanceBackoffBase * (1 << attempt)
		logger.Warn("Retryable failure, backing off",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("wait", wait))
		if attempt < balanceMaxAttempts-1 {
			if err := sleepFn(ctx, wait); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
