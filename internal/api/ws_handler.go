package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/auth"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

// WebSocketHandler serves /api/v1/ws. Clients receive sync events for their
// own user only; anything they send is ignored.
type WebSocketHandler struct {
	verifier *auth.Verifier
	hub      *ws.Hub
}

func NewWebSocketHandler(verifier *auth.Verifier, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{verifier: verifier, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Runs behind the CRM's reverse proxy.
		return true
	},
}

// Handle authenticates with ?token= (browsers cannot set headers on
// WebSocket requests), falling back to the Authorization header or the
// session cookie.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.TokenFromRequest(r)
	}

	userID, err := h.verifier.ValidateToken(token)
	if err != nil {
		log.WithError(err).Debug("WebSocketHandler: token rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("user_id", userID).WithError(err).Warn("WebSocketHandler: upgrade failed")
		return
	}

	client := h.hub.Register(userID, conn)
	if client == nil {
		return
	}
	log.WithField("user_id", userID).Debug("WebSocketHandler: connection established")

	go h.readLoop(userID, client)
}

// readLoop reads until the connection closes, then unregisters the client.
func (h *WebSocketHandler) readLoop(userID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(userID, client)
}
