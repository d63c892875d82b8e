package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/auth"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

func TestWebSocketHandler(t *testing.T) {
	hub := ws.NewHub(10, nil)
	handler := NewWebSocketHandler(auth.NewVerifier(testJWTSecret), hub)
	server := httptest.NewServer(http.HandlerFunc(handler.Handle))
	defer server.Close()

	baseURL := "ws" + strings.TrimPrefix(server.URL, "http")

	t.Run("rejects missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(baseURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(baseURL+"?token=bad", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("delivers events for the token's user", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(baseURL+"?token="+sessionToken(t, "user-1"), nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		require.Eventually(t, func() bool { return hub.ActiveConnections("user-1") == 1 }, 2*time.Second, 10*time.Millisecond)

		hub.Notify("user-2", "sync.completed", map[string]string{"accountId": "other"})
		hub.Notify("user-1", "sync.completed", map[string]string{"accountId": "acc-1"})

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var event ws.Event
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, "sync.completed", event.Type)
		assert.Equal(t, map[string]any{"accountId": "acc-1"}, event.Data)
	})

	t.Run("unregisters on disconnect", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(baseURL+"?token="+sessionToken(t, "user-3"), nil)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return hub.ActiveConnections("user-3") == 1 }, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, conn.Close())
		assert.Eventually(t, func() bool { return hub.ActiveConnections("user-3") == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}
