package db_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/svaboev-coder/collecting-contacts/internal/db"
	"github.com/svaboev-coder/collecting-contacts/internal/dedupe"
	"github.com/svaboev-coder/collecting-contacts/internal/models"
	"github.com/svaboev-coder/collecting-contacts/internal/utils"
)

func TestPostgresContactStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	cfg := utils.PostgresConfig{
		DSN:            dsn,
		ConnectTimeout: 5 * time.Second,
	}

	ctx := context.Background()
	postgres, err := db.NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	defer postgres.Close()

	if err := postgres.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}

	contactStore := db.NewContactStore(postgres)
	key := strings.ToLower("test_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "@example.com")
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec, err := contactStore.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for absent key, got %+v", rec)
	}

	want := &models.ContactRecord{
		Key:        key,
		Name:       "Jane",
		Email:      key,
		SessionIDs: []string{"sess-1"},
		Confidence: 0.5,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := contactStore.Put(ctx, key, want); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := contactStore.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Name != "Jane" || len(got.SessionIDs) != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}

	err = contactStore.Update(ctx, key, func(existing *models.ContactRecord) (*models.ContactRecord, error) {
		if existing == nil {
			t.Fatal("expected existing record inside update")
		}
		next := existing.Clone()
		next.Phone = "555-123-4567"
		next.SessionIDs = append(next.SessionIDs, "sess-2")
		next.UpdatedAt = time.Now().UTC()
		return next, nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err = contactStore.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Phone != "555-123-4567" || len(got.SessionIDs) != 2 {
		t.Fatalf("update not applied: %+v", got)
	}

	// A nil result must leave the row untouched.
	err = contactStore.Update(ctx, key, func(existing *models.ContactRecord) (*models.ContactRecord, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("no-op update failed: %v", err)
	}

	after, _ := contactStore.Get(ctx, key)
	if after.Phone != "555-123-4567" {
		t.Fatalf("no-op update changed the row: %+v", after)
	}
}

func TestPostgresContactStoreConcurrentFirstCommitsMerge(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	cfg := utils.PostgresConfig{
		DSN:            dsn,
		ConnectTimeout: 5 * time.Second,
	}

	ctx := context.Background()
	postgres, err := db.NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	defer postgres.Close()

	if err := postgres.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}

	contactStore := db.NewContactStore(postgres)
	key := strings.ToLower("race_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "@example.com")
	now := time.Now().UTC().Truncate(time.Microsecond)

	// Disjoint candidates racing to create the same fresh row. Whichever
	// commits second must see the first's write and merge, not overwrite.
	candidates := []models.ContactCandidate{
		{Email: key, Name: "Jane"},
		{Email: key, Phone: "555-123-4567"},
		{Email: key, Company: "Acme"},
	}

	var wg sync.WaitGroup
	for i, candidate := range candidates {
		wg.Add(1)
		go func(sessionID string, c models.ContactCandidate) {
			defer wg.Done()
			err := contactStore.Update(ctx, key, func(existing *models.ContactRecord) (*models.ContactRecord, error) {
				decision := dedupe.Reconcile(c, existing, sessionID, now)
				return decision.Record, nil
			})
			if err != nil {
				t.Errorf("update failed: %v", err)
			}
		}("sess-"+string(rune('a'+i)), candidate)
	}
	wg.Wait()

	final, err := contactStore.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if final == nil {
		t.Fatal("expected a committed record")
	}
	if final.Name != "Jane" || final.Phone != "555-123-4567" || final.Company != "Acme" {
		t.Fatalf("concurrent commits lost fields: %+v", final)
	}
	if len(final.SessionIDs) != 3 {
		t.Fatalf("expected all three sessions in provenance, got %v", final.SessionIDs)
	}
}
