package rpcserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
)

// streamHub fans out completion payloads to connected websocket clients —
// a genuine second transport for the completion feed alongside the primary
// UDP side-channel (SPEC_FULL.md §B "gorilla/websocket → optional live
// streaming completion feed"). Grounded on niceyeti/tabular's
// fastview.client: a plain websocket.Upgrader, one goroutine per
// connection, writes discarded past a slow client rather than blocking the
// tick loop.
type streamHub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]chan map[string]any
	logger   agcore.Logger
	upgrader websocket.Upgrader
}

func newStreamHub(logger agcore.Logger) *streamHub {
	return &streamHub{
		clients:  make(map[*websocket.Conn]chan map[string]any),
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *streamHub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("rpcserver: websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	ch := make(chan map[string]any, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	go h.writeLoop(conn, ch)
	go h.readLoop(conn, ch)
}

// readLoop only drains the connection to detect disconnects; the protocol
// is server-push only.
func (h *streamHub) readLoop(conn *websocket.Conn, ch chan map[string]any) {
	defer h.remove(conn, ch)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *streamHub) writeLoop(conn *websocket.Conn, ch chan map[string]any) {
	defer h.remove(conn, ch)
	for payload := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(1 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
	}
}

func (h *streamHub) remove(conn *websocket.Conn, ch chan map[string]any) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// broadcast pushes payload to every connected client, non-blocking: a
// client whose buffer is full misses the update rather than stalling the
// tick loop, matching the completion protocol's own lossy-by-design
// character (spec.md §4.8).
func (h *streamHub) broadcast(payload map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- payload:
		default:
			h.logger.Warn("rpcserver: stream client backpressure, dropping update", map[string]interface{}{"remote": conn.RemoteAddr().String()})
		}
	}
}
