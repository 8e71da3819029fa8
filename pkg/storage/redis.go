package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is where the latest snapshot is mirrored.
const DefaultRedisKey = "signalguard:snapshot"

// RedisStore mirrors the latest snapshot into Redis so that processes other
// than the detector can read it. Only the latest value is kept and it expires
// after the configured TTL, so a dead detector does not leave a stale view
// behind forever.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore connects to the Redis server at addr and pings it. A zero ttl
// means five minutes.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis mirror: empty address")
	}
	if db < 0 {
		return nil, errors.New("redis mirror: negative database number")
	}

	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis mirror: ping %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		key:    DefaultRedisKey,
		ttl:    ttl,
	}, nil
}

// Put overwrites the mirrored snapshot.
func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if s.Services == nil {
		return errors.New("snapshot services cannot be nil")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return errors.New("redis store is closed")
	}

	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// GetLatest reads the mirrored snapshot. found is false when the key is
// missing or has expired.
func (r *RedisStore) GetLatest(ctx context.Context) (Snapshot, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return Snapshot{}, false, errors.New("redis store is closed")
	}

	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("redis get %s: %w", r.key, err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode mirrored snapshot: %w", err)
	}

	return snapshot, true, nil
}

// Close closes the Redis client connection. It is idempotent.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func (r *RedisStore) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return errors.New("redis store is closed")
	}
	return r.client.Ping(ctx).Err()
}
