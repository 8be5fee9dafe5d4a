package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/orchestra/core"
)

// RedisOptions configure a RedisStore.
type RedisOptions struct {
	// KeyPrefix namespaces session keys. Defaults to "orchestra:session:".
	KeyPrefix string
	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps each session as a Redis list of JSON encoded items.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedisStore creates a store on top of an existing client.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{KeyPrefix: "orchestra:session:"}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &RedisStore{client: client, opts: opts}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int, optFns ...func(o *RedisOptions)) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, optFns...), nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(sessionID string) string {
	return s.opts.KeyPrefix + sessionID
}

// GetItems returns the items of a session, the last limit items when limit > 0.
// A limited window never starts with a result whose invocation was cut off.
func (s *RedisStore) GetItems(ctx context.Context, sessionID string, limit int) ([]core.Item, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	items := make([]core.Item, 0, len(raw))
	for _, r := range raw {
		it, err := core.UnmarshalItem([]byte(r))
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
		}
		items = append(items, it)
	}

	if limit > 0 {
		items = core.DropOrphanResults(items)
	}

	return items, nil
}

// AddItems appends items in a single transaction and refreshes the TTL.
func (s *RedisStore) AddItems(ctx context.Context, sessionID string, items []core.Item) error {
	if len(items) == 0 {
		return nil
	}

	values := make([]any, 0, len(items))
	for _, it := range items {
		b, err := core.MarshalItem(it)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", sessionID, err)
		}
		values = append(values, b)
	}

	key := s.key(sessionID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if s.opts.TTL > 0 {
			pipe.Expire(ctx, key, s.opts.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}

	return nil
}

// PopItem removes and returns the most recent item.
func (s *RedisStore) PopItem(ctx context.Context, sessionID string) (core.Item, error) {
	raw, err := s.client.RPop(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop session %s: %w", sessionID, err)
	}

	return core.UnmarshalItem(raw)
}

// ClearSession deletes the session key.
func (s *RedisStore) ClearSession(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
