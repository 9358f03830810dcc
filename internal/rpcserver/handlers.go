package rpcserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// agentActionRequest is the body of a POST to /agent/{id}/{action}.
type agentActionRequest struct {
	Params map[string]any `json:"params"`
}

// handleAgentAction dispatches /agent/{agent_id}/{action_name} through the
// declarative Registry (spec.md §6 "Inbound RPC surface (per agent)").
func (s *Server) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/agent/"), "/")
	if len(parts) != 2 {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "expected /agent/{id}/{action}"})
		return
	}
	agentID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid agent id"})
		return
	}
	actionName := parts[1]

	var body agentActionRequest
	_ = decodeBody(r, &body)

	result, err := s.Runtime.Dispatch(r.Context(), s.Registry, agentID, actionName, body.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type enqueueRequest struct {
	ActionName     string         `json:"action_name"`
	Params         map[string]any `json:"params"`
	Key            string         `json:"key"`
	Priority       int            `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key"`
	CorrelationID  string         `json:"correlation_id"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	res := s.Queue.Enqueue(r.Context(), req.ActionName, req.Params, req.Key, req.Priority, time.Now().UnixNano(), req.IdempotencyKey, req.CorrelationID)
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": res.Queued, "immediate": res.Immediate, "result": res.Result})
}

// queueActionRequest is the body of a POST to /queue/action/{action_name} —
// the queue_<action> alias from spec.md §6: same params as the direct
// /agent/{id}/{action} call, but enqueued instead of dispatched inline.
type queueActionRequest struct {
	AgentID        int64          `json:"agent_id"`
	Params         map[string]any `json:"params"`
	Key            string         `json:"key"`
	Priority       int            `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key"`
	CorrelationID  string         `json:"correlation_id"`
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	actionName := strings.TrimPrefix(r.URL.Path, "/queue/action/")
	if actionName == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "expected /queue/action/{action_name}"})
		return
	}
	var req queueActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	params["agent_id"] = req.AgentID
	res := s.Queue.Enqueue(r.Context(), actionName, params, req.Key, req.Priority, time.Now().UnixNano(), req.IdempotencyKey, req.CorrelationID)
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": res.Queued, "immediate": res.Immediate, "result": res.Result})
}

func (s *Server) handleProcessAll(w http.ResponseWriter, r *http.Request) {
	n := s.Queue.ProcessAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"dispatched": n})
}

func (s *Server) handleProcessSome(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	if n <= 0 {
		n = 1
	}
	dispatched := s.Queue.ProcessSome(r.Context(), n)
	writeJSON(w, http.StatusOK, map[string]any{"dispatched": dispatched})
}

func (s *Server) handleProcessKey(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	n := s.Queue.ProcessKey(r.Context(), key)
	writeJSON(w, http.StatusOK, map[string]any{"dispatched": n})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Queue.GetStatus())
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("correlation_id")
	result, ok := s.Queue.GetResult(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no result for correlation_id"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAndClearResult(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("correlation_id")
	result, ok := s.Queue.GetAndClearResult(r.Context(), id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no result for correlation_id"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	n := s.Queue.Clear(r.Context(), key)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (s *Server) handleSetImmediateMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	s.Queue.SetImmediateMode(r.Context(), body.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"immediate_mode": body.Enabled})
}

func (s *Server) handleSetMaxQueueSize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Size int `json:"size"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	s.Queue.SetMaxQueueSize(r.Context(), body.Size)
	writeJSON(w, http.StatusOK, map[string]any{"max_queue_size": body.Size})
}
