package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/metrics"
	"github.com/ruralpay/ledger/internal/repository"
)

// CurrencyService resolves reference currencies and exchange rates. Rates
// are reference data, so they are read outside the caller's unit of work
// and cached in Redis when a client is configured.
type CurrencyService struct {
	repo       repository.CurrencyRepository
	reader     repository.Querier
	redis      *redis.Client
	cacheTTL   time.Duration
	defaultRef string
	group      singleflight.Group
}

func NewCurrencyService(repo repository.CurrencyRepository, reader repository.Querier, redisClient *redis.Client, cacheTTL time.Duration, defaultRef string) *CurrencyService {
	return &CurrencyService{
		repo:       repo,
		reader:     reader,
		redis:      redisClient,
		cacheTTL:   cacheTTL,
		defaultRef: defaultRef,
	}
}

// RefCurrency returns the user's reference currency, falling back to the
// configured default for users without one.
func (s *CurrencyService) RefCurrency(ctx context.Context, q repository.Querier, userID int64) (string, error) {
	code, err := s.repo.GetUserBaseCurrency(ctx, q, userID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && code == "") {
		return s.defaultRef, nil
	}
	if err != nil {
		return "", unexpected("resolve reference currency", err)
	}
	return code, nil
}

// Rate returns how many units of quote one unit of base buys on date.
func (s *CurrencyService) Rate(ctx context.Context, base, quote string, date civil.Date) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	key := fmt.Sprintf("rate:%s:%s:%s", base, quote, date)
	v, err, _ := s.group.Do(key, func() (any, error) {
		if rate, ok := s.cachedRate(ctx, key); ok {
			metrics.RecordRateLookup("cache")
			return rate, nil
		}

		rate, err := s.loadRate(ctx, base, quote, date)
		if err != nil {
			return nil, err
		}
		metrics.RecordRateLookup("db")
		s.cacheRate(ctx, key, rate)
		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (s *CurrencyService) loadRate(ctx context.Context, base, quote string, date civil.Date) (decimal.Decimal, error) {
	rate, err := s.repo.GetRate(ctx, s.reader, base, quote, date)
	if err == nil {
		return rate.Rate, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, unexpected("load exchange rate", err)
	}

	inverse, err := s.repo.GetRate(ctx, s.reader, quote, base, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, &UnexpectedError{
				Op:  "load exchange rate",
				Err: fmt.Errorf("no rate for %s/%s on or before %s", base, quote, date),
			}
		}
		return decimal.Zero, unexpected("load exchange rate", err)
	}
	if inverse.Rate.IsZero() {
		return decimal.Zero, &UnexpectedError{Op: "load exchange rate", Err: fmt.Errorf("zero rate for %s/%s", quote, base)}
	}
	return decimal.NewFromInt(1).DivRound(inverse.Rate, 12), nil
}

func (s *CurrencyService) cachedRate(ctx context.Context, key string) (decimal.Decimal, bool) {
	if s.redis == nil {
		return decimal.Zero, false
	}
	val, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("key", key).Msg("[RATES] cache read failed")
		}
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false
	}
	return rate, true
}

func (s *CurrencyService) cacheRate(ctx context.Context, key string, rate decimal.Decimal) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, key, rate.String(), s.cacheTTL).Err(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("[RATES] cache write failed")
	}
}

// ToRefAmount converts a positive transaction amount. The result is floored
// but never below one minor unit so small transactions still move balances.
func (s *CurrencyService) ToRefAmount(ctx context.Context, amount int64, from, to string, date civil.Date) (int64, error) {
	if from == to {
		return amount, nil
	}
	rate, err := s.Rate(ctx, from, to, date)
	if err != nil {
		return 0, err
	}
	ref := decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
	if ref < 1 {
		ref = 1
	}
	return ref, nil
}

// ConvertBalance converts a signed balance or balance difference, rounding
// half away from zero.
func (s *CurrencyService) ConvertBalance(ctx context.Context, amount int64, from, to string, date civil.Date) (int64, error) {
	if from == to || amount == 0 {
		return amount, nil
	}
	rate, err := s.Rate(ctx, from, to, date)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart(), nil
}
