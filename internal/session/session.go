// Package session drives one conversation through the collection lifecycle:
// it gathers turns, decides when to call the language model, validates the
// extraction, and commits completed contacts through the deduplicator.
package session

import (
	"sync"
	"time"

	"github.com/svaboev-coder/collecting-contacts/internal/dedupe"
	"github.com/svaboev-coder/collecting-contacts/internal/models"
)

// State is the session's position in the collection lifecycle.
type State string

const (
	StateCollecting            State = "collecting"
	StateExtracting            State = "extracting"
	StateAwaitingClarification State = "awaiting_clarification"
	StateComplete              State = "complete"
	StateAbandoned             State = "abandoned"
)

// Terminal reports whether the state accepts no further extraction cycles.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAbandoned
}

// Session is one tracked conversation. All mutation happens under mu, held
// by the Manager for the duration of an advancement, so concurrent messages
// for the same session serialize.
type Session struct {
	ID            string
	State         State
	Turns         []models.ConversationTurn
	Candidate     *models.ContactCandidate
	MissingFields []string
	CreatedAt     time.Time
	LastActivity  time.Time

	extractFailures int
	abandonReason   string
	outcome         *Outcome

	mu sync.Mutex
}

// Outcome is the reconciliation result reported when a session completes.
type Outcome struct {
	Action dedupe.Action         `json:"action"`
	Key    string                `json:"key"`
	Record *models.ContactRecord `json:"record,omitempty"`
}

// Result is what the conversation-facing caller observes after submitting a
// message: the session state plus, on completion, the reconciliation
// outcome. Internal retry and backoff detail is never part of it.
type Result struct {
	SessionID     string                   `json:"session_id"`
	State         State                    `json:"state"`
	MissingFields []string                 `json:"missing_fields,omitempty"`
	Outcome       *Outcome                 `json:"outcome,omitempty"`
	Candidate     *models.ContactCandidate `json:"candidate,omitempty"`
}

// Snapshot is a read-only copy of the session for API consumers.
type Snapshot struct {
	SessionID     string                    `json:"session_id"`
	State         State                     `json:"state"`
	Turns         []models.ConversationTurn `json:"turns"`
	Candidate     *models.ContactCandidate  `json:"candidate,omitempty"`
	MissingFields []string                  `json:"missing_fields,omitempty"`
	Outcome       *Outcome                  `json:"outcome,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	LastActivity  time.Time                 `json:"last_activity"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		SessionID:     s.ID,
		State:         s.State,
		Turns:         append([]models.ConversationTurn(nil), s.Turns...),
		Candidate:     s.Candidate,
		MissingFields: append([]string(nil), s.MissingFields...),
		Outcome:       s.outcome,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity,
	}
}

func (s *Session) result() Result {
	return Result{
		SessionID:     s.ID,
		State:         s.State,
		MissingFields: append([]string(nil), s.MissingFields...),
		Outcome:       s.outcome,
		Candidate:     s.Candidate,
	}
}

func (s *Session) userTurns() int {
	count := 0
	for _, turn := range s.Turns {
		if turn.Role == "user" {
			count++
		}
	}
	return count
}
