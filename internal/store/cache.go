package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

const cacheKeyPrefix = "contact:"

// NewRedisClient connects to redis at addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// CachedStore decorates a ContactStore with a redis read-through cache.
// Writes go to the backing store first, then refresh the cache; Update
// bypasses the cache entirely so commit atomicity stays with the backend.
type CachedStore struct {
	backend ContactStore
	client  *redis.Client
	ttl     time.Duration
	logger  *zap.SugaredLogger
}

// NewCachedStore wraps backend. A non-positive ttl disables expiry.
func NewCachedStore(backend ContactStore, client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *CachedStore {
	return &CachedStore{backend: backend, client: client, ttl: ttl, logger: logger}
}

func (s *CachedStore) Get(ctx context.Context, key string) (*models.ContactRecord, error) {
	cached, err := s.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err == nil {
		var rec models.ContactRecord
		if jsonErr := json.Unmarshal(cached, &rec); jsonErr == nil {
			return &rec, nil
		}
		// Unreadable cache entry, fall through to the backend.
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warnf("contact cache read failed: %v", err)
	}

	rec, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		s.fill(ctx, key, rec)
	}
	return rec, nil
}

func (s *CachedStore) Put(ctx context.Context, key string, rec *models.ContactRecord) error {
	if err := s.backend.Put(ctx, key, rec); err != nil {
		return err
	}
	s.fill(ctx, key, rec)
	return nil
}

func (s *CachedStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := s.backend.Update(ctx, key, fn); err != nil {
		return err
	}
	// The committed record may differ from what fn returned on a racing
	// merge; drop the entry and let the next read repopulate it.
	if err := s.client.Del(ctx, cacheKeyPrefix+key).Err(); err != nil {
		s.logger.Warnf("contact cache invalidate failed: %v", err)
	}
	return nil
}

func (s *CachedStore) List(ctx context.Context) ([]*models.ContactRecord, error) {
	return s.backend.List(ctx)
}

func (s *CachedStore) fill(ctx context.Context, key string, rec *models.ContactRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, cacheKeyPrefix+key, payload, s.ttl).Err(); err != nil {
		s.logger.Warnf("contact cache write failed: %v", err)
	}
}
