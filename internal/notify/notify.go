// Package notify implements the completion-notification protocol from
// spec.md §4.8 / §6: one JSON datagram per completed (or failed) activity,
// delivered over a UDP side-channel. Delivery is best effort — the
// controller-side DSL treats the action queue's get_result as the
// authoritative source of truth (§4.8), so a dropped datagram is not a
// correctness bug.
package notify

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
)

// Status is the completion status enum from spec.md §4.8.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusDepleted  Status = "depleted"
)

// Message is the wire payload contract from spec.md §4.8.
type Message struct {
	ActionID       string         `json:"action_id"`
	AgentID        int64          `json:"agent_id"`
	ActionType     string         `json:"action_type"`
	StartTick      int64          `json:"start_tick"`
	CompletionTick int64          `json:"completion_tick"`
	Success        bool           `json:"success"`
	Status         Status         `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
}

// Sink is anything that can accept outbound completion messages; the
// per-agent message buffer (spec.md §3 "Agent") pushes onto a Sink, and
// Flush drains it over UDP once per tick.
type Sink interface {
	Send(msg Message)
}

// Notifier buffers messages from all agents in one shared FIFO and flushes
// them in order once per tick (spec.md §4.1 "After all agents process, the
// runtime flushes outbound messages for that tick"), delivering each as its
// own UDP datagram.
type Notifier struct {
	mu     sync.Mutex
	buf    []Message
	conn   *net.UDPConn
	logger agcore.Logger
}

// NewNotifier resolves the UDP destination and opens a connected socket.
func NewNotifier(address string, logger agcore.Logger) (*Notifier, error) {
	if logger == nil {
		logger = agcore.NoOpLogger{}
	}
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("notify: resolve %q: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("notify: dial %q: %w", address, err)
	}
	return &Notifier{conn: conn, logger: logger}, nil
}

// Send appends a message to the outbound buffer (spec.md §3: "an outbound
// message buffer (FIFO of completion payloads)").
func (n *Notifier) Send(msg Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buf = append(n.buf, msg)
}

// Flush delivers every buffered message as a JSON datagram, FIFO, then
// clears the buffer. Errors are logged, not returned — UDP delivery is
// explicitly lossy per spec.md §4.8.
func (n *Notifier) Flush() {
	n.mu.Lock()
	pending := n.buf
	n.buf = nil
	n.mu.Unlock()

	for _, msg := range pending {
		data, err := json.Marshal(msg)
		if err != nil {
			n.logger.Error("notify: marshal failed", map[string]interface{}{"action_id": msg.ActionID, "error": err.Error()})
			continue
		}
		if _, err := n.conn.Write(data); err != nil {
			n.logger.Warn("notify: udp write failed (lossy channel, continuing)", map[string]interface{}{
				"action_id": msg.ActionID, "error": err.Error(),
			})
		}
	}
}

// Pending reports how many messages are currently buffered, for tests and
// diagnostics.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.buf)
}

// Close releases the UDP socket.
func (n *Notifier) Close() error {
	return n.conn.Close()
}
