package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/ddbmigrate/internal/shard"
)

// RedisSet is a Ledger shared between processes through Redis, one SET per table.
// Keys live under "<prefix>:<table>" and expire ttl after the last write to the table.
type RedisSet struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisSet creates a RedisSet. Use a run ID in prefix to isolate runs from each other, or
// reuse a previous run's prefix to resume it. A ttl <= 0 keeps the keys forever.
func NewRedisSet(client redis.Cmdable, prefix string, ttl time.Duration) *RedisSet {
	return &RedisSet{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSet) key(table string) string {
	return s.prefix + ":" + table
}

// Add implements KeySet.
func (s *RedisSet) Add(ctx context.Context, table string, parts ...string) (bool, error) {
	setKey := s.key(table)
	member := shard.Digest(parts...)

	var added *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, setKey, member)
		if s.ttl > 0 {
			pipe.Expire(ctx, setKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("dedup add %s: %w", setKey, err)
	}
	return added.Val() == 1, nil
}

// Has implements Ledger.
func (s *RedisSet) Has(ctx context.Context, table string, parts ...string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key(table), shard.Digest(parts...)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup %s: %w", s.key(table), err)
	}
	return ok, nil
}

// Reset forgets every key recorded for table.
func (s *RedisSet) Reset(ctx context.Context, table string) error {
	if err := s.client.Del(ctx, s.key(table)).Err(); err != nil {
		return fmt.Errorf("dedup reset %s: %w", s.key(table), err)
	}
	return nil
}
