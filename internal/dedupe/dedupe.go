// Package dedupe decides how an extracted contact candidate relates to the
// record already stored under its identity key. It is pure with respect to
// storage: it returns a decision and a merged record, the caller applies it.
package dedupe

import (
	"time"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

// Action classifies the outcome of reconciling a candidate.
type Action string

const (
	NewRecord     Action = "new_record"
	UpdatedRecord Action = "updated_record"
	Duplicate     Action = "duplicate"
)

// Decision is the result of Reconcile. Record is the record that should be
// stored (nil for Duplicate, where the store is left untouched).
type Decision struct {
	Action Action
	Key    string
	Record *models.ContactRecord
}

// Reconcile compares candidate against the existing record sharing its
// identity key (nil when the store has none). Merge policy is field-wise:
// non-empty candidate fields overwrite, empty candidate fields leave the
// existing value untouched. The source session is appended to provenance on
// every create or merge.
func Reconcile(candidate models.ContactCandidate, existing *models.ContactRecord, sessionID string, now time.Time) Decision {
	key := candidate.IdentityKey()

	if existing == nil {
		return Decision{
			Action: NewRecord,
			Key:    key,
			Record: &models.ContactRecord{
				Key:        key,
				Name:       candidate.Name,
				Email:      candidate.Email,
				Phone:      candidate.Phone,
				Company:    candidate.Company,
				Notes:      candidate.Notes,
				Confidence: candidate.Confidence,
				SessionIDs: appendSession(nil, sessionID),
				CreatedAt:  now,
				UpdatedAt:  now,
			},
		}
	}

	if isDuplicate(candidate, existing) {
		return Decision{Action: Duplicate, Key: existing.Key}
	}

	merged := existing.Clone()
	overwrite(&merged.Name, candidate.Name)
	overwrite(&merged.Email, candidate.Email)
	overwrite(&merged.Phone, candidate.Phone)
	overwrite(&merged.Company, candidate.Company)
	overwrite(&merged.Notes, candidate.Notes)
	if candidate.Confidence > merged.Confidence {
		merged.Confidence = candidate.Confidence
	}
	merged.SessionIDs = appendSession(merged.SessionIDs, sessionID)
	merged.UpdatedAt = now

	return Decision{Action: UpdatedRecord, Key: existing.Key, Record: merged}
}

// isDuplicate reports whether every populated candidate field already equals
// the stored field under case/whitespace normalization.
func isDuplicate(candidate models.ContactCandidate, existing *models.ContactRecord) bool {
	pairs := []struct{ got, have string }{
		{candidate.Name, existing.Name},
		{candidate.Email, existing.Email},
		{candidate.Phone, existing.Phone},
		{candidate.Company, existing.Company},
		{candidate.Notes, existing.Notes},
	}
	for _, p := range pairs {
		if p.got == "" {
			continue
		}
		if !fieldsEqual(p.got, p.have) {
			return false
		}
	}
	return true
}

func fieldsEqual(a, b string) bool {
	return models.NormalizeField(a) == models.NormalizeField(b)
}

func overwrite(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func appendSession(ids []string, sessionID string) []string {
	if sessionID == "" {
		return ids
	}
	for _, id := range ids {
		if id == sessionID {
			return ids
		}
	}
	return append(ids, sessionID)
}
