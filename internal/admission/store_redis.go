package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore backs the window and ledger counters with Redis so multiple
// instances share admission state. Windows are sorted sets scored by unix
// milliseconds; ledgers are plain integer keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "quietline"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) windowKey(identity string) string {
	return fmt.Sprintf("%s:window:%s", s.prefix, identity)
}

func (s *RedisStore) ledgerKey(identity string) string {
	return fmt.Sprintf("%s:ledger:%s", s.prefix, identity)
}

// Prune implements WindowStore.
func (s *RedisStore) Prune(ctx context.Context, identity string, cutoff time.Time) (int, time.Time, error) {
	key := s.windowKey(identity)
	maxStale := strconv.FormatInt(cutoff.UnixMilli()-1, 10)

	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", maxStale).Err(); err != nil {
		return 0, time.Time{}, fmt.Errorf("prune window: %w", err)
	}

	entries, err := s.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read window head: %w", err)
	}
	if len(entries) == 0 {
		return 0, time.Time{}, nil
	}

	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count window: %w", err)
	}

	oldest := time.UnixMilli(int64(entries[0].Score))
	return int(count), oldest, nil
}

// Append implements WindowStore.
func (s *RedisStore) Append(ctx context.Context, identity string, t time.Time) error {
	key := s.windowKey(identity)
	member := fmt.Sprintf("%d-%s", t.UnixNano(), identity)
	if err := s.client.ZAdd(ctx, key, &redis.Z{
		Score:  float64(t.UnixMilli()),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("append window: %w", err)
	}
	return nil
}

// Sweep is a no-op for Redis: window keys are pruned on read and Redis
// evicts empty sorted sets automatically.
func (s *RedisStore) Sweep(context.Context, time.Time) error {
	return nil
}

// Usage implements LedgerStore.
func (s *RedisStore) Usage(ctx context.Context, identity string) (int, error) {
	n, err := s.client.Get(ctx, s.ledgerKey(identity)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	return n, nil
}

// AddUsage implements LedgerStore.
func (s *RedisStore) AddUsage(ctx context.Context, identity string, cost int) (int, error) {
	total, err := s.client.IncrBy(ctx, s.ledgerKey(identity), int64(cost)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment ledger: %w", err)
	}
	return int(total), nil
}
