package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces all staging keys.
	DefaultKeyPrefix = "staging:"

	recordKeyPart = "rec:"
	indexKeyPart  = "index"
	orderKeyPart  = "order:"
	ordersKeyPart = "orders:"

	// BindingTTL keeps order bindings around long enough for late webhooks.
	BindingTTL = 7 * 24 * time.Hour
)

// RedisStore keeps staging records as JSON strings, a sorted-set index by
// creation time for the sweeper, and one key per order binding.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on client. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string     { return s.prefix + recordKeyPart + id }
func (s *RedisStore) indexKey() string               { return s.prefix + indexKeyPart }
func (s *RedisStore) orderKey(orderID string) string { return s.prefix + orderKeyPart + orderID }
func (s *RedisStore) ordersKey(id string) string     { return s.prefix + ordersKeyPart + id }

func (s *RedisStore) Create(ctx context.Context, reg *PendingRegistration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal staging record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.recordKey(reg.StagingID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store staging record: %w", err)
	}
	if !ok {
		return ErrExists
	}

	score := float64(reg.CreatedAt.UnixMilli())
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: reg.StagingID}).Err(); err != nil {
		// keep the write all-or-nothing for callers
		_ = s.client.Del(ctx, s.recordKey(reg.StagingID)).Err()
		return fmt.Errorf("index staging record: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, stagingID string) (*PendingRegistration, error) {
	data, err := s.client.Get(ctx, s.recordKey(stagingID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load staging record: %w", err)
	}

	var reg PendingRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode staging record %s: %w", stagingID, err)
	}
	return &reg, nil
}

func (s *RedisStore) Remove(ctx context.Context, stagingID string) error {
	orderIDs, err := s.client.SMembers(ctx, s.ordersKey(stagingID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("list order bindings: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(stagingID))
		pipe.ZRem(ctx, s.indexKey(), stagingID)
		pipe.Del(ctx, s.ordersKey(stagingID))
		for _, orderID := range orderIDs {
			pipe.Del(ctx, s.orderKey(orderID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove staging record: %w", err)
	}
	return nil
}

func (s *RedisStore) ListOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan staging index: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) BindOrder(ctx context.Context, binding OrderBinding) error {
	data, err := json.Marshal(binding)
	if err != nil {
		return fmt.Errorf("marshal order binding: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.orderKey(binding.OrderID), data, BindingTTL).Result()
	if err != nil {
		return fmt.Errorf("store order binding: %w", err)
	}
	if !ok {
		existing, lerr := s.LookupOrder(ctx, binding.OrderID)
		if lerr != nil {
			return lerr
		}
		if existing.StagingID != binding.StagingID {
			return ErrOrderConflict
		}
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.ordersKey(binding.StagingID), binding.OrderID)
	pipe.Expire(ctx, s.ordersKey(binding.StagingID), BindingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index order binding: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupOrder(ctx context.Context, orderID string) (*OrderBinding, error) {
	data, err := s.client.Get(ctx, s.orderKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load order binding: %w", err)
	}
	var b OrderBinding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode order binding %s: %w", orderID, err)
	}
	return &b, nil
}

func (s *RedisStore) OrdersFor(ctx context.Context, stagingID string) ([]OrderBinding, error) {
	orderIDs, err := s.client.SMembers(ctx, s.ordersKey(stagingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list order bindings: %w", err)
	}
	out := make([]OrderBinding, 0, len(orderIDs))
	for _, id := range orderIDs {
		b, err := s.LookupOrder(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}
