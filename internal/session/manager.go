package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/svaboev-coder/collecting-contacts/internal/db"
	"github.com/svaboev-coder/collecting-contacts/internal/dedupe"
	"github.com/svaboev-coder/collecting-contacts/internal/extract"
	"github.com/svaboev-coder/collecting-contacts/internal/gateway"
	"github.com/svaboev-coder/collecting-contacts/internal/models"
	"github.com/svaboev-coder/collecting-contacts/internal/store"
	"github.com/svaboev-coder/collecting-contacts/internal/utils"
)

// ErrSessionNotFound is returned for lookups of unknown or already archived
// sessions.
var ErrSessionNotFound = errors.New("session: not found")

// ErrProviderFatal wraps an Unauthorized provider failure; the surrounding
// system should alert rather than retry.
var ErrProviderFatal = errors.New("session: provider rejected credentials")

// Completer is the outbound boundary to the language model.
type Completer interface {
	Complete(ctx context.Context, transcript []models.ConversationTurn, instruction string) (string, error)
}

// Archiver retains terminal sessions for audit.
type Archiver interface {
	ArchiveSession(ctx context.Context, archived db.ArchivedSession) error
}

// Manager owns all live sessions. One advancement runs per session at a
// time; different sessions proceed independently.
type Manager struct {
	cfg       utils.ConversationConfig
	completer Completer
	contacts  store.ContactStore
	archiver  Archiver
	logger    *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager wires the session state machine to its collaborators. archiver
// may be nil when no audit store is configured.
func NewManager(cfg utils.ConversationConfig, completer Completer, contacts store.ContactStore, archiver Archiver, logger *zap.SugaredLogger) *Manager {
	if cfg.MinTurns <= 0 {
		cfg.MinTurns = 1
	}
	if cfg.MaxExtractRetries <= 0 {
		cfg.MaxExtractRetries = 3
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}

	return &Manager{
		cfg:       cfg,
		completer: completer,
		contacts:  contacts,
		archiver:  archiver,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Create opens a fresh session and returns its snapshot.
func (m *Manager) Create() Snapshot {
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		State:        StateCollecting,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	return sess.snapshot()
}

// Get returns a read-only snapshot of the session.
func (m *Manager) Get(id string) (Snapshot, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(), nil
}

// Advance submits one user message to the session. The returned Result
// carries only session states and, on completion, the reconciliation
// outcome.
func (m *Manager) Advance(ctx context.Context, id, text string, done bool) (Result, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return Result{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// Terminal sessions stay readable but accept no further cycles.
	if sess.State.Terminal() {
		return sess.result(), nil
	}

	if text != "" {
		sess.Turns = append(sess.Turns, models.ConversationTurn{Role: "user", Text: text})
	}
	sess.LastActivity = time.Now().UTC()

	shouldExtract := sess.State == StateAwaitingClarification ||
		done ||
		sess.userTurns() >= m.cfg.MinTurns

	if len(sess.Turns) == 0 {
		shouldExtract = false
	}

	if !shouldExtract {
		sess.State = StateCollecting
		return sess.result(), nil
	}

	return m.runExtraction(ctx, sess)
}

// runExtraction performs one Extracting cycle. The session leaves it only
// for Complete, AwaitingClarification, Collecting (retryable failure), or
// Abandoned (retries exhausted or fatal provider error).
func (m *Manager) runExtraction(ctx context.Context, sess *Session) (Result, error) {
	sess.State = StateExtracting

	raw, err := m.completer.Complete(ctx, sess.Turns, extract.Instruction)
	if err != nil {
		return m.handleGatewayFailure(ctx, sess, err)
	}

	candidate, err := extract.Extract(raw)
	if err != nil {
		m.logger.Debugf("session %s extraction rejected: %v", sess.ID, err)
		return m.recordExtractFailure(sess, err.Error()), nil
	}

	sess.Candidate = &candidate

	if candidate.Confidence < m.cfg.ConfidenceThreshold {
		sess.State = StateAwaitingClarification
		sess.MissingFields = extract.MissingFields(candidate)
		return sess.result(), nil
	}

	outcome, err := m.commit(ctx, sess, candidate)
	if err != nil {
		// Storage trouble is not the conversation's fault; stay
		// interactive and let the next turn retry the commit.
		m.logger.Errorf("session %s commit failed: %v", sess.ID, err)
		sess.State = StateCollecting
		return sess.result(), fmt.Errorf("commit contact: %w", err)
	}

	sess.State = StateComplete
	sess.MissingFields = nil
	sess.outcome = outcome
	m.archive(sess, "completed")
	return sess.result(), nil
}

func (m *Manager) handleGatewayFailure(ctx context.Context, sess *Session, err error) (Result, error) {
	// Cancellation mid-extraction reverts to Collecting with nothing
	// committed.
	if ctx.Err() != nil {
		sess.State = StateCollecting
		return sess.result(), ctx.Err()
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Kind == gateway.KindUnauthorized {
		m.logger.Errorf("session %s: provider auth failure: %v", sess.ID, err)
		sess.State = StateAbandoned
		sess.abandonReason = "provider unauthorized"
		m.archive(sess, sess.abandonReason)
		return sess.result(), fmt.Errorf("%w: %v", ErrProviderFatal, err)
	}

	// Transient retries are already exhausted inside the gateway client.
	m.logger.Warnf("session %s: provider unavailable: %v", sess.ID, err)
	return m.recordExtractFailure(sess, "provider unavailable"), nil
}

func (m *Manager) recordExtractFailure(sess *Session, reason string) Result {
	sess.extractFailures++
	if sess.extractFailures > m.cfg.MaxExtractRetries {
		sess.State = StateAbandoned
		sess.abandonReason = reason
		m.archive(sess, reason)
		return sess.result()
	}

	sess.State = StateCollecting
	return sess.result()
}

func (m *Manager) commit(ctx context.Context, sess *Session, candidate models.ContactCandidate) (*Outcome, error) {
	key := candidate.IdentityKey()
	now := time.Now().UTC()

	var decision dedupe.Decision
	err := m.contacts.Update(ctx, key, func(existing *models.ContactRecord) (*models.ContactRecord, error) {
		decision = dedupe.Reconcile(candidate, existing, sess.ID, now)
		return decision.Record, nil
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Action: decision.Action, Key: decision.Key, Record: decision.Record}
	if outcome.Record == nil {
		rec, err := m.contacts.Get(ctx, decision.Key)
		if err == nil {
			outcome.Record = rec
		}
	}
	return outcome, nil
}

// Close archives the session and removes it from the live set.
func (m *Manager) Close(ctx context.Context, id string) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	m.archive(sess, "closed")
	sess.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// StartSweeper archives and drops idle sessions in the background until ctx
// is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	if m.cfg.IdleTTL <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if sess.LastActivity.Before(cutoff) {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.mu.Lock()
		m.archive(sess, "idle timeout")
		sess.mu.Unlock()
		m.logger.Infof("session %s archived after idle timeout", sess.ID)
	}
}

// archive is best-effort; a failed audit write never blocks the
// conversation. Callers hold sess.mu.
func (m *Manager) archive(sess *Session, reason string) {
	if m.archiver == nil {
		return
	}

	archived := db.ArchivedSession{
		SessionID: sess.ID,
		State:     string(sess.State),
		Turns:     append([]models.ConversationTurn(nil), sess.Turns...),
		Candidate: sess.Candidate,
		Reason:    reason,
		CreatedAt: sess.CreatedAt,
	}
	if sess.Candidate != nil {
		archived.IdentityKey = sess.Candidate.IdentityKey()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.archiver.ArchiveSession(ctx, archived); err != nil {
		m.logger.Warnf("session %s archive failed: %v", sess.ID, err)
	}
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
