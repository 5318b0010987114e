package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/svaboev-coder/collecting-contacts/internal/gateway"
	"github.com/svaboev-coder/collecting-contacts/internal/models"
	"github.com/svaboev-coder/collecting-contacts/internal/session"
	"github.com/svaboev-coder/collecting-contacts/internal/store"
	"github.com/svaboev-coder/collecting-contacts/internal/utils"
)

type completerFunc func(ctx context.Context, transcript []models.ConversationTurn, instruction string) (string, error)

func (f completerFunc) Complete(ctx context.Context, transcript []models.ConversationTurn, instruction string) (string, error) {
	return f(ctx, transcript, instruction)
}

func setupTestRouter(t *testing.T, completer session.Completer) (*gin.Engine, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	contacts := store.NewMemoryStore()
	cfg := utils.ConversationConfig{MinTurns: 1, ConfidenceThreshold: 0.5, MaxExtractRetries: 2}
	manager := session.NewManager(cfg, completer, contacts, nil, zap.NewNop().Sugar())

	router := gin.New()
	NewHandler(manager, contacts, zap.NewNop().Sugar()).RegisterRoutes(router)

	return router, contacts
}

func TestSessionLifecycle(t *testing.T) {
	completer := completerFunc(func(context.Context, []models.ConversationTurn, string) (string, error) {
		return `{"name": "Jane", "email": "jane@co.com"}`, nil
	})
	router, _ := setupTestRouter(t, completer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	var created map[string]any
	decodeBody(t, rec.Body.Bytes(), &created)
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatal("expected session_id in response")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages",
		map[string]any{"text": "I'm Jane, jane@co.com"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result map[string]any
	decodeBody(t, rec.Body.Bytes(), &result)
	if result["state"] != string(session.StateComplete) {
		t.Fatalf("expected complete state, got %v", result["state"])
	}
	outcome, _ := result["outcome"].(map[string]any)
	if outcome == nil || outcome["action"] != "new_record" {
		t.Fatalf("expected new_record outcome, got %v", result["outcome"])
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/sessions/"+sessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var snap map[string]any
	decodeBody(t, rec.Body.Bytes(), &snap)
	turns, _ := snap["turns"].([]any)
	if len(turns) != 1 {
		t.Fatalf("expected one turn in transcript, got %v", snap["turns"])
	}
}

func TestMessageValidation(t *testing.T) {
	router, _ := setupTestRouter(t, completerFunc(func(context.Context, []models.ConversationTurn, string) (string, error) {
		return "", nil
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/sessions/unknown/messages",
		map[string]any{"text": ""}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty text, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/sessions/unknown/messages",
		map[string]any{"text": "hello"}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown session, got %d", rec.Code)
	}
}

func TestProviderFatalSurfacesDistinctStatus(t *testing.T) {
	router, _ := setupTestRouter(t, completerFunc(func(context.Context, []models.ConversationTurn, string) (string, error) {
		return "", &gateway.Error{Kind: gateway.KindUnauthorized, StatusCode: 401, Message: "bad key"}
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/sessions", nil))
	var created map[string]any
	decodeBody(t, rec.Body.Bytes(), &created)
	sessionID, _ := created["session_id"].(string)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages",
		map[string]any{"text": "hello"}))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502 on provider auth failure, got %d", rec.Code)
	}
}

func TestContactEndpoints(t *testing.T) {
	router, contacts := setupTestRouter(t, completerFunc(func(context.Context, []models.ConversationTurn, string) (string, error) {
		return "", nil
	}))

	_ = contacts.Put(context.Background(), "jane@co.com", &models.ContactRecord{
		Key:   "jane@co.com",
		Name:  "Jane",
		Email: "jane@co.com",
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/contacts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var listing map[string]any
	decodeBody(t, rec.Body.Bytes(), &listing)
	records, _ := listing["contacts"].([]any)
	if len(records) != 1 {
		t.Fatalf("expected one contact, got %v", listing["contacts"])
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/contacts/jane@co.com", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/contacts/missing@co.com", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestCloseSession(t *testing.T) {
	router, _ := setupTestRouter(t, completerFunc(func(context.Context, []models.ConversationTurn, string) (string, error) {
		return "", nil
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/sessions", nil))
	var created map[string]any
	decodeBody(t, rec.Body.Bytes(), &created)
	sessionID, _ := created["session_id"].(string)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodDelete, "/api/sessions/"+sessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/sessions/"+sessionID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after close, got %d", rec.Code)
	}
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	req, err := http.NewRequest(method, path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
