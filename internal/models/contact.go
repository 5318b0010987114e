package models

import (
	"strings"
	"time"
)

// ConversationTurn is one message inside a session. Order of turns is the
// conversation order and is replayed verbatim to the language model.
type ConversationTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ContactCandidate is an unconfirmed set of contact fields extracted from a
// conversation, pending reconciliation against the store.
type ContactCandidate struct {
	Name       string  `json:"name,omitempty"`
	Email      string  `json:"email,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	Company    string  `json:"company,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	Confidence float64 `json:"confidence"`
}

// HasIdentity reports whether the candidate carries at least one
// identity-bearing field and is therefore eligible for commit.
func (c ContactCandidate) HasIdentity() bool {
	return c.Email != "" || c.Phone != ""
}

// IdentityKey derives the deduplication key for the candidate: normalized
// email when present, else normalized phone. Empty when neither is set.
func (c ContactCandidate) IdentityKey() string {
	if c.Email != "" {
		return NormalizeEmail(c.Email)
	}
	if c.Phone != "" {
		return NormalizePhone(c.Phone)
	}
	return ""
}

// ContactRecord is a durable, identity-keyed contact entry.
type ContactRecord struct {
	Key        string    `json:"key"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Company    string    `json:"company,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Confidence float64   `json:"confidence"`
	SessionIDs []string  `json:"session_ids"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's copy.
func (r *ContactRecord) Clone() *ContactRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.SessionIDs = append([]string(nil), r.SessionIDs...)
	return &out
}

// NormalizeEmail lowercases and trims an email address for identity
// comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps only digits, preserving a leading plus.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeField trims and collapses inner whitespace for field-level
// equality checks during reconciliation.
func NormalizeField(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
