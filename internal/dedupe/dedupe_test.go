package dedupe

import (
	"testing"
	"time"

	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

var now = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestReconcileNewRecord(t *testing.T) {
	candidate := models.ContactCandidate{Name: "Jane", Email: "jane@co.com", Confidence: 0.5}

	decision := Reconcile(candidate, nil, "sess-1", now)

	if decision.Action != NewRecord {
		t.Fatalf("expected NewRecord, got %s", decision.Action)
	}
	if decision.Key != "jane@co.com" {
		t.Fatalf("unexpected key %q", decision.Key)
	}
	if decision.Record == nil || decision.Record.Name != "Jane" {
		t.Fatalf("unexpected record: %+v", decision.Record)
	}
	if len(decision.Record.SessionIDs) != 1 || decision.Record.SessionIDs[0] != "sess-1" {
		t.Fatalf("expected provenance [sess-1], got %v", decision.Record.SessionIDs)
	}
	if !decision.Record.CreatedAt.Equal(now) || !decision.Record.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps set to now")
	}
}

func TestReconcileUpdatedRecordMergesFields(t *testing.T) {
	existing := &models.ContactRecord{
		Key:        "jane@co.com",
		Name:       "Jane",
		Email:      "jane@co.com",
		SessionIDs: []string{"sess-1"},
		CreatedAt:  now.Add(-time.Hour),
		UpdatedAt:  now.Add(-time.Hour),
	}
	candidate := models.ContactCandidate{Email: "jane@co.com", Phone: "555-1234"}

	decision := Reconcile(candidate, existing, "sess-2", now)

	if decision.Action != UpdatedRecord {
		t.Fatalf("expected UpdatedRecord, got %s", decision.Action)
	}
	if decision.Record.Email != "jane@co.com" || decision.Record.Phone != "555-1234" {
		t.Fatalf("expected merged email and phone, got %+v", decision.Record)
	}
	if decision.Record.Name != "Jane" {
		t.Fatalf("empty candidate field must not erase existing name, got %q", decision.Record.Name)
	}
	if len(decision.Record.SessionIDs) != 2 {
		t.Fatalf("expected provenance appended, got %v", decision.Record.SessionIDs)
	}
	if !decision.Record.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatalf("merge must preserve creation time")
	}
}

func TestReconcileDuplicate(t *testing.T) {
	existing := &models.ContactRecord{
		Key:   "jane@co.com",
		Name:  "Jane Doe",
		Email: "jane@co.com",
	}
	candidate := models.ContactCandidate{Name: " jane  doe ", Email: "Jane@Co.com"}

	decision := Reconcile(candidate, existing, "sess-3", now)

	if decision.Action != Duplicate {
		t.Fatalf("expected Duplicate, got %s", decision.Action)
	}
	if decision.Record != nil {
		t.Fatalf("duplicate decision must not carry a record to write")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	candidate := models.ContactCandidate{Name: "Jane", Email: "jane@co.com", Confidence: 0.5}

	first := Reconcile(candidate, nil, "sess-1", now)
	if first.Action != NewRecord {
		t.Fatalf("expected NewRecord, got %s", first.Action)
	}

	second := Reconcile(candidate, first.Record, "sess-1", now)
	if second.Action != Duplicate {
		t.Fatalf("expected Duplicate on replay, got %s", second.Action)
	}
}

func TestReconcileDoesNotMutateExisting(t *testing.T) {
	existing := &models.ContactRecord{
		Key:        "jane@co.com",
		Email:      "jane@co.com",
		SessionIDs: []string{"sess-1"},
	}
	candidate := models.ContactCandidate{Email: "jane@co.com", Company: "Acme"}

	_ = Reconcile(candidate, existing, "sess-2", now)

	if existing.Company != "" || len(existing.SessionIDs) != 1 {
		t.Fatalf("reconcile mutated its input: %+v", existing)
	}
}
