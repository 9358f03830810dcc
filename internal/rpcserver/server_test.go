package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrshtt/factorio-agent-runtime/internal/agentrt"
	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/queue"
	"github.com/hrshtt/factorio-agent-runtime/internal/reach"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

type emptyWorldView struct{}

func (emptyWorldView) EntitiesNear(ctx context.Context, pos reach.Position, radius float64) ([]reach.EntitySnapshot, error) {
	return nil, nil
}
func (emptyWorldView) ResourcesNear(ctx context.Context, pos reach.Position, radius float64) ([]reach.ResourceSnapshot, error) {
	return nil, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

type inMemoryStore struct {
	snap queue.Snapshot
	ok   bool
}

func (s *inMemoryStore) Save(ctx context.Context, snap queue.Snapshot) error {
	s.snap = snap
	s.ok = true
	return nil
}

func (s *inMemoryStore) Load(ctx context.Context) (queue.Snapshot, bool, error) {
	return s.snap, s.ok, nil
}

func echoSpec() agentrt.ActionSpec {
	return agentrt.ActionSpec{
		Name: "test_action",
		Params: []agentrt.ParamSpec{
			{Name: "agent_id", Type: "int", Required: true},
			{Name: "label", Type: "string", Required: false, Default: "none"},
		},
	}
}

// newTestServer wires a single-agent Runtime, a Registry with one
// "test_action", and an immediate-mode Queue that dispatches straight
// through the same Registry, mirroring how cmd/runtime assembles the HTTP
// surface.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	rt := agentrt.NewRuntime(nil, nil, nil, nil)
	ch := worldmodel.NewFakeCharacter(worldmodel.Position{})
	cache := reach.NewCache(emptyWorldView{}, ch.Reach, ch.ResReach, 0.5)
	agent := agentrt.NewAgent(1, ch, cache)
	rt.RegisterAgent(agent)

	registry := agentrt.NewRegistry()
	registry.Register(echoSpec(), func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		return map[string]any{"label": params["label"]}, nil
	})

	dispatch := func(ctx context.Context, e queue.Entry) (map[string]any, error) {
		agentID := toInt64(e.Params["agent_id"])
		return rt.Dispatch(ctx, registry, agentID, e.ActionName, e.Params)
	}
	q := queue.New(dispatch, &inMemoryStore{}, agcore.NoOpLogger{})
	q.SetImmediateMode(context.Background(), true)

	return New(rt, registry, q, agcore.NoOpLogger{})
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, strings.NewReader(string(b)))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

// ServeHTTP lets httptest drive the Server's internal mux without exposing
// it directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func TestHandleAgentAction_DispatchesThroughRegistry(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/agent/1/test_action", agentActionRequest{Params: map[string]any{"agent_id": 1}})
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "none", out["label"])
}

func TestHandleAgentAction_UnknownAgentReturns422(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/agent/99/test_action", agentActionRequest{Params: map[string]any{"agent_id": 99}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleAgentAction_MalformedPathReturns404(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/agent/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAgentAction_RejectsNonPost(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/agent/1/test_action", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleEnqueue_ImmediateModeReturnsResultInline(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/queue/enqueue", enqueueRequest{
		ActionName: "test_action",
		Params:     map[string]any{"agent_id": 1},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, true, out["immediate"])
	result, ok := out["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "none", result["label"])
}

func TestHandleQueueAction_InjectsAgentIDFromBody(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/queue/action/test_action", queueActionRequest{AgentID: 1})
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, true, out["immediate"])
}

func TestHandleQueueAction_MissingNameReturns404(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/queue/action/", queueActionRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleProcessAll_ReportsDispatchedCount(t *testing.T) {
	s := newTestServer(t)
	s.Queue.SetImmediateMode(context.Background(), false)

	res := s.Queue.Enqueue(context.Background(), "test_action", map[string]any{"agent_id": 1}, "", 0, 1, "", "")
	require.NoError(t, res.Err)
	require.False(t, res.Immediate)

	w := doRequest(s, http.MethodPost, "/queue/process_all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out["dispatched"])
}

func TestHandleQueueStatus_ReflectsMaxSizeAndMode(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/queue/max_size", struct {
		Size int `json:"size"`
	}{Size: 7})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/queue/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status queue.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 7, status.MaxQueueSize)
	assert.True(t, status.ImmediateMode)
}

func TestHandleGetResult_UnknownCorrelationIDReturns404(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/queue/result?correlation_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleClear_ReportsClearedCount(t *testing.T) {
	s := newTestServer(t)
	s.Queue.SetImmediateMode(context.Background(), false)
	res := s.Queue.Enqueue(context.Background(), "test_action", map[string]any{"agent_id": 1}, "", 0, 1, "", "")
	require.NoError(t, res.Err)

	w := doRequest(s, http.MethodPost, "/queue/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out["cleared"])
}

func TestHandleSetImmediateMode_TogglesQueueBehavior(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/queue/immediate_mode", struct {
		Enabled bool `json:"enabled"`
	}{Enabled: false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.Queue.GetStatus().ImmediateMode)
}

func TestWriteError_MapsRuntimeErrorKindToHTTPStatus(t *testing.T) {
	cases := []struct {
		kind   string
		status int
	}{
		{"InvalidParameter", http.StatusBadRequest},
		{"Unreachable", http.StatusUnprocessableEntity},
		{"InsufficientInventory", http.StatusUnprocessableEntity},
		{"QueueFull", http.StatusTooManyRequests},
		{"SomethingUnmapped", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeError(w, &agcore.RuntimeError{Kind: tc.kind, Message: "boom"})
		assert.Equal(t, tc.status, w.Code, tc.kind)
	}
}

func TestHandle_DedupesDuplicatePatternRegistration(t *testing.T) {
	s := newTestServer(t)
	calls := 0
	s.handle("/custom/path", func(w http.ResponseWriter, r *http.Request) { calls++ })
	assert.NotPanics(t, func() {
		s.handle("/custom/path", func(w http.ResponseWriter, r *http.Request) { calls += 100 })
	})

	doRequest(s, http.MethodGet, "/custom/path", nil)
	assert.Equal(t, 1, calls, "the second registration for the same pattern must be a no-op")
}
