package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/svaboev-coder/collecting-contacts/internal/session"
)

var sessionUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClientMessage struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// handleSessionWebsocket lets a client hold the conversation interactively:
// each inbound frame advances the session, each outbound frame is the
// resulting state. The connection closes once the session is terminal.
func (h *Handler) handleSessionWebsocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.manager.Get(sessionID); err != nil {
		writeError(c, http.StatusNotFound, "session not found", err)
		return
	}

	conn, err := sessionUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("session websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	sendJSON := func(payload interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(payload)
	}

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debugf("session %s websocket read failed: %v", sessionID, err)
			}
			return
		}

		text := strings.TrimSpace(msg.Text)
		if text == "" && !msg.Done {
			_ = sendJSON(gin.H{"type": "error", "error": "text is required"})
			continue
		}

		result, err := h.manager.Advance(c.Request.Context(), sessionID, text, msg.Done)
		if err != nil && !errors.Is(err, session.ErrProviderFatal) {
			_ = sendJSON(gin.H{"type": "error", "error": "failed to process message"})
			continue
		}

		payload := gin.H{"type": "state", "result": result}
		if err != nil {
			payload["fatal"] = true
		}
		if sendErr := sendJSON(payload); sendErr != nil {
			return
		}

		if result.State.Terminal() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(result.State)))
			return
		}
	}
}
