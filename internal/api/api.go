package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/svaboev-coder/collecting-contacts/internal/session"
	"github.com/svaboev-coder/collecting-contacts/internal/store"
)

// Handler exposes the conversation and contact endpoints.
type Handler struct {
	manager  *session.Manager
	contacts store.ContactStore
	logger   *zap.SugaredLogger
}

func NewHandler(manager *session.Manager, contacts store.ContactStore, logger *zap.SugaredLogger) *Handler {
	return &Handler{manager: manager, contacts: contacts, logger: logger}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	sessions := apiGroup.Group("/sessions")
	sessions.POST("", h.handleCreateSession)
	sessions.POST("/:id/messages", h.handleMessage)
	sessions.GET("/:id", h.handleGetSession)
	sessions.GET("/:id/ws", h.handleSessionWebsocket)
	sessions.DELETE("/:id", h.handleCloseSession)

	contacts := apiGroup.Group("/contacts")
	contacts.GET("", h.handleListContacts)
	contacts.GET("/:key", h.handleGetContact)
}

type messageRequest struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

func (h *Handler) handleCreateSession(c *gin.Context) {
	snap := h.manager.Create()
	c.JSON(http.StatusCreated, gin.H{
		"session_id": snap.SessionID,
		"state":      snap.State,
		"created_at": snap.CreatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if strings.TrimSpace(req.Text) == "" && !req.Done {
		writeError(c, http.StatusBadRequest, "text is required", errEmptyMessage)
		return
	}

	result, err := h.manager.Advance(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Text), req.Done)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeError(c, http.StatusNotFound, "session not found", err)
		case errors.Is(err, session.ErrProviderFatal):
			// Distinct status so the surrounding system alerts instead
			// of retrying.
			writeError(c, http.StatusBadGateway, "language model rejected credentials", err)
		default:
			h.logger.Warnf("advance session %s failed: %v", c.Param("id"), err)
			writeError(c, http.StatusInternalServerError, "failed to process message", err)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleGetSession(c *gin.Context) {
	snap, err := h.manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, "session not found", err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *Handler) handleCloseSession(c *gin.Context) {
	if err := h.manager.Close(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, http.StatusNotFound, "session not found", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (h *Handler) handleListContacts(c *gin.Context) {
	records, err := h.contacts.List(c.Request.Context())
	if err != nil {
		h.logger.Warnf("list contacts failed: %v", err)
		writeError(c, http.StatusInternalServerError, "failed to list contacts", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contacts": records})
}

func (h *Handler) handleGetContact(c *gin.Context) {
	rec, err := h.contacts.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.logger.Warnf("get contact failed: %v", err)
		writeError(c, http.StatusInternalServerError, "failed to load contact", err)
		return
	}
	if rec == nil {
		writeError(c, http.StatusNotFound, "contact not found", errContactNotFound)
		return
	}

	c.JSON(http.StatusOK, rec)
}

var (
	errEmptyMessage    = errors.New("message text is empty")
	errContactNotFound = errors.New("contact not found")
)

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
