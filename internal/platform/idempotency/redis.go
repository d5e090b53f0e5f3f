package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix   = "storefront:idempotency"
	defaultRedisAttempts = 3
)

// RedisOption customises the Redis store.
type RedisOption func(*RedisStore)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxAttempts bounds optimistic transaction retries.
func WithMaxAttempts(attempts int) RedisOption {
	return func(s *RedisStore) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// RedisStore keeps records in Redis next to the session data. Expiry is delegated to key TTLs.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	store := &RedisStore{client: client, prefix: defaultRedisPrefix, maxAttempts: defaultRedisAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func (r redisRecord) toRecord() Record {
	return Record(r)
}

// Reserve claims the key with SETNX. An existing record decides between replay, pending and
// mismatch.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	pending := redisRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	id := s.redisKey(key)
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		created, err := s.client.SetNX(ctx, id, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: pending.toRecord()}, nil
		}

		existing, err := s.load(ctx, id)
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET.
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		if existing.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: existing.toRecord()}, nil
		}
		return Reservation{State: ReservationStatePending, Record: existing.toRecord()}, nil
	}
	return Reservation{}, errors.New("idempotency: reserve contention")
}

// SaveResponse stores the completed response under the reservation's fingerprint.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := s.redisKey(key)

	txf := func(tx *redis.Tx) error {
		record := redisRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		existing, err := loadRecord(ctx, tx, id)
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case existing.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		default:
			record = existing
		}

		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = sanitizeHeaders(resp.Headers)
		record.ResponseBody = append([]byte(nil), resp.Body...)
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, id, payload, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, id)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
			return fmt.Errorf("idempotency: save response: %w", err)
		}
		return err
	}
	return errors.New("idempotency: save response contention")
}

// Release drops a pending reservation so the client may retry. Records owned by another
// fingerprint are left alone.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	id := s.redisKey(key)
	txf := func(tx *redis.Tx) error {
		existing, err := loadRecord(ctx, tx, id)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if existing.Fingerprint != fingerprint {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, id)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, id)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("idempotency: release: %w", err)
		}
		return nil
	}
	return errors.New("idempotency: release contention")
}

func (s *RedisStore) load(ctx context.Context, id string) (redisRecord, error) {
	return loadRecord(ctx, s.client, id)
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + ":" + compositeKey(key)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadRecord(ctx context.Context, r redisGetter, id string) (redisRecord, error) {
	data, err := r.Get(ctx, id).Bytes()
	if err != nil {
		return redisRecord{}, err
	}
	var record redisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return redisRecord{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
