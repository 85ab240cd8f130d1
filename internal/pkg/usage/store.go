package usage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/keygate-io/keygate/internal/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// CounterStore is the atomic daily-counter primitive behind the tracker.
// Implementations must make Increment atomic; the tracker never does a
// read-then-write against it.
type CounterStore interface {
	Increment(ctx context.Context, licenseID uint, day string) (int64, error)
	Decrement(ctx context.Context, licenseID uint, day string) error
	Get(ctx context.Context, licenseID uint, day string) (int64, error)
}

// counterTTL keeps yesterday's counter around long enough for the flusher
// to drain it before Redis evicts the key.
const counterTTL = 48 * time.Hour

// CounterKey is the Redis key for a per-license daily counter. Exported for
// the flusher, which scans these keys.
func CounterKey(licenseID uint, day string) string {
	return fmt.Sprintf("usage:%d:%s", licenseID, day)
}

type redisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates the production counter store on the shared
// cache client.
func NewRedisCounterStore() CounterStore {
	return &redisCounterStore{client: cache.GetClient()}
}

func (s *redisCounterStore) Increment(ctx context.Context, licenseID uint, day string) (int64, error) {
	key := CounterKey(licenseID, day)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		s.client.Expire(ctx, key, counterTTL)
	}
	return n, nil
}

func (s *redisCounterStore) Decrement(ctx context.Context, licenseID uint, day string) error {
	return s.client.Decr(ctx, CounterKey(licenseID, day)).Err()
}

func (s *redisCounterStore) Get(ctx context.Context, licenseID uint, day string) (int64, error) {
	n, err := s.client.Get(ctx, CounterKey(licenseID, day)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

type fallbackCounterStore struct {
	primary  CounterStore
	fallback CounterStore
}

// NewFallbackCounterStore chains two counter stores: every operation goes to
// the primary first and, only on error, to the fallback. Wired with Redis as
// primary and the transactional usage_counters rows as fallback, so an
// unavailable cache degrades to slower counting instead of denying calls.
func NewFallbackCounterStore(primary, fallback CounterStore) CounterStore {
	return &fallbackCounterStore{primary: primary, fallback: fallback}
}

func (s *fallbackCounterStore) Increment(ctx context.Context, licenseID uint, day string) (int64, error) {
	n, err := s.primary.Increment(ctx, licenseID, day)
	if err == nil {
		return n, nil
	}
	log.Printf("primary usage counter increment failed for license %d, using fallback: %v", licenseID, err)
	return s.fallback.Increment(ctx, licenseID, day)
}

func (s *fallbackCounterStore) Decrement(ctx context.Context, licenseID uint, day string) error {
	if err := s.primary.Decrement(ctx, licenseID, day); err == nil {
		return nil
	}
	return s.fallback.Decrement(ctx, licenseID, day)
}

func (s *fallbackCounterStore) Get(ctx context.Context, licenseID uint, day string) (int64, error) {
	n, err := s.primary.Get(ctx, licenseID, day)
	if err == nil {
		return n, nil
	}
	log.Printf("primary usage counter read failed for license %d, using fallback: %v", licenseID, err)
	return s.fallback.Get(ctx, licenseID, day)
}
