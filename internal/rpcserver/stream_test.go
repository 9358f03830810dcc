package rpcserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
)

func TestStreamHub_BroadcastsToConnectedClient(t *testing.T) {
	hub := newStreamHub(agcore.NoOpLogger{})
	srv := httptest.NewServer(http.HandlerFunc(hub.handleWebsocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give handleWebsocket's goroutines a moment to register the client
	// before broadcasting, since Upgrade returns before the registration
	// under h.mu completes on the server goroutine.
	time.Sleep(20 * time.Millisecond)
	hub.broadcast(map[string]any{"action_id": "a-1", "status": "completed"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var payload map[string]any
	require.NoError(t, conn.ReadJSON(&payload))
	require.Equal(t, "a-1", payload["action_id"])
	require.Equal(t, "completed", payload["status"])
}

func TestStreamHub_BroadcastWithNoClientsIsNoop(t *testing.T) {
	hub := newStreamHub(agcore.NoOpLogger{})
	require.NotPanics(t, func() {
		hub.broadcast(map[string]any{"action_id": "a-1"})
	})
}

func TestStreamHub_DropsUpdateWhenClientBufferIsFull(t *testing.T) {
	hub := newStreamHub(agcore.NoOpLogger{})
	srv := httptest.NewServer(http.HandlerFunc(hub.handleWebsocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	// Flood past the client channel's buffer (32) without reading; the
	// extra sends must be dropped rather than blocking broadcast.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			hub.broadcast(map[string]any{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full client buffer instead of dropping")
	}
}
