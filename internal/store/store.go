// Package store defines the contact store contract and its in-memory and
// cached implementations. Commits go through Update, which guarantees
// per-key atomicity: two concurrent commits targeting the same identity key
// serialize, and the second observes the first's write.
package store

import (
	"context"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

// UpdateFunc receives the current record under a key (nil when absent) and
// returns the record to write. Returning nil leaves the store untouched.
type UpdateFunc func(existing *models.ContactRecord) (*models.ContactRecord, error)

// ContactStore is the durable mapping from identity key to contact record.
type ContactStore interface {
	// Get returns the record under key, or nil when absent.
	Get(ctx context.Context, key string) (*models.ContactRecord, error)

	// Put writes rec under key unconditionally.
	Put(ctx context.Context, key string, rec *models.ContactRecord) error

	// Update runs fn under per-key atomicity and applies its result.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// List returns all stored records.
	List(ctx context.Context) ([]*models.ContactRecord, error)
}
