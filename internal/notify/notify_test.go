package notify

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNotifier_SendBuffersWithoutFlushing(t *testing.T) {
	listener := listenUDP(t)
	n, err := NewNotifier(listener.LocalAddr().String(), nil)
	require.NoError(t, err)
	defer n.Close()

	n.Send(Message{ActionID: "act_1", AgentID: 1, Status: StatusCompleted})
	assert.Equal(t, 1, n.Pending())
}

func TestNotifier_FlushDeliversEachMessageAsOwnDatagramFIFO(t *testing.T) {
	listener := listenUDP(t)
	n, err := NewNotifier(listener.LocalAddr().String(), nil)
	require.NoError(t, err)
	defer n.Close()

	n.Send(Message{ActionID: "act_1", AgentID: 1, ActionType: "walk_to", Status: StatusCompleted, Success: true, StartTick: 1, CompletionTick: 5})
	n.Send(Message{ActionID: "act_2", AgentID: 1, ActionType: "begin_mining", Status: StatusFailed, Success: false})

	n.Flush()
	assert.Equal(t, 0, n.Pending(), "flush must clear the buffer")

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)

	n1, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	var first Message
	require.NoError(t, json.Unmarshal(buf[:n1], &first))
	assert.Equal(t, "act_1", first.ActionID)
	assert.Equal(t, StatusCompleted, first.Status)
	assert.True(t, first.Success)

	n2, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	var second Message
	require.NoError(t, json.Unmarshal(buf[:n2], &second))
	assert.Equal(t, "act_2", second.ActionID)
	assert.Equal(t, StatusFailed, second.Status)
}

func TestNotifier_ResultOmittedWhenEmpty(t *testing.T) {
	listener := listenUDP(t)
	n, err := NewNotifier(listener.LocalAddr().String(), nil)
	require.NoError(t, err)
	defer n.Close()

	n.Send(Message{ActionID: "act_1", Status: StatusCompleted})
	n.Flush()

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	nRead, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf[:nRead], &raw))
	_, hasResult := raw["result"]
	assert.False(t, hasResult, "omitempty must drop a nil result field")
}

func TestNotifier_FlushSurvivesWriteFailureWithoutPanicking(t *testing.T) {
	// Close the listener so the socket becomes unreachable; Flush must log
	// and continue rather than propagate an error (lossy by design).
	listener := listenUDP(t)
	addr := listener.LocalAddr().String()
	n, err := NewNotifier(addr, nil)
	require.NoError(t, err)
	defer n.Close()
	listener.Close()

	n.Send(Message{ActionID: "act_1", Status: StatusCompleted})
	assert.NotPanics(t, func() { n.Flush() })
}
