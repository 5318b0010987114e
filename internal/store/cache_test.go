package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

func TestCachedStoreReadThrough(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr)
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	defer client.Close()

	backend := NewMemoryStore()
	cached := NewCachedStore(backend, client, time.Minute, zap.NewNop().Sugar())

	key := strings.ToLower("cache_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "@example.com")
	rec := &models.ContactRecord{Key: key, Name: "Jane", Email: key}

	if err := cached.Put(ctx, key, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Remove from the backend; a cached read must still succeed.
	backend.mu.Lock()
	delete(backend.records, key)
	backend.mu.Unlock()

	got, err := cached.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Name != "Jane" {
		t.Fatalf("expected cached record, got %+v", got)
	}

	// Update invalidates the cache entry.
	if err := cached.Update(ctx, key, func(existing *models.ContactRecord) (*models.ContactRecord, error) {
		next := rec.Clone()
		next.Phone = "555-123-4567"
		return next, nil
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err = cached.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if got == nil || got.Phone != "555-123-4567" {
		t.Fatalf("expected invalidated cache to re-read backend, got %+v", got)
	}
}
