package fx

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/accrue/internal/domain"
)

// MemoryStore is a process-local RateStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[domain.CurrencyPair]domain.ExchangeRateEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[domain.CurrencyPair]domain.ExchangeRateEntry)}
}

func (s *MemoryStore) Get(_ context.Context, pair domain.CurrencyPair) (domain.ExchangeRateEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[pair]
	return e, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, entry domain.ExchangeRateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Pair] = entry
	return nil
}

func (s *MemoryStore) Entries(_ context.Context) ([]domain.ExchangeRateEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ExchangeRateEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.String() < out[j].Pair.String() })
	return out, nil
}

const redisKeyPrefix = "fx:rate:"

// RedisStore shares rate entries between processes. Keys outlive the rate
// TTL by retention so stale entries stay available as a fallback.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Get(ctx context.Context, pair domain.CurrencyPair) (domain.ExchangeRateEntry, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+pair.String()).Bytes()
	if err == redis.Nil {
		return domain.ExchangeRateEntry{}, false, nil
	}
	if err != nil {
		return domain.ExchangeRateEntry{}, false, errors.Wrapf(err, "redis get %s", pair)
	}

	var e domain.ExchangeRateEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.ExchangeRateEntry{}, false, errors.Wrapf(err, "decode rate %s", pair)
	}
	return e, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry domain.ExchangeRateEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal rate")
	}
	if err := s.client.Set(ctx, redisKeyPrefix+entry.Pair.String(), data, entry.TTL+s.retention).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", entry.Pair)
	}
	return nil
}

func (s *RedisStore) Entries(ctx context.Context) ([]domain.ExchangeRateEntry, error) {
	var out []domain.ExchangeRateEntry

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "redis get %s", iter.Val())
		}
		var e domain.ExchangeRateEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.Wrapf(err, "decode %s", iter.Val())
		}
		out = append(out, e)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan rates")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Pair.String() < out[j].Pair.String() })
	return out, nil
}
