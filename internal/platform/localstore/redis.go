package localstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix       = "storefront"
	defaultUpdateRetries = 8
	updateLockStripes    = 64
)

// RedisStore keeps session values in Redis. A zero TTL stores values without expiry.
//
// Update serialises writers of the same key inside the process with striped locks and uses
// WATCH/MULTI against writers in other processes.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	retries int
	locks   [updateLockStripes]sync.Mutex
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("localstore: redis client is required")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, ttl: ttl, retries: defaultUpdateRetries}, nil
}

func (s *RedisStore) Get(ctx context.Context, session, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisKey(session, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: redis get failed: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, session, key string, value []byte) error {
	if err := s.client.Set(ctx, redisKey(session, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("localstore: redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, session, key string) error {
	if err := s.client.Del(ctx, redisKey(session, key)).Err(); err != nil {
		return fmt.Errorf("localstore: redis delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, session, key string, fn UpdateFunc) error {
	k := redisKey(session, key)
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	var fnErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, k).Bytes()
			found := true
			if errors.Is(err, redis.Nil) {
				found = false
			} else if err != nil {
				return err
			}
			next, err := fn(current, found)
			if err != nil {
				fnErr = err
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, next, s.ttl)
				return nil
			})
			return err
		}, k)
		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("localstore: redis update failed: %w", err)
		}
	}
	return ErrContention
}

// Client exposes the underlying connection for other Redis-backed stores.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%updateLockStripes]
}

func redisKey(session, key string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, session, key)
}
