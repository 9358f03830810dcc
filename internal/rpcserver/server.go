// Package rpcserver exposes the per-agent RPC surface and the Queue RPC
// surface from spec.md §6 over HTTP, plus an optional gorilla/websocket
// streaming channel for the completion feed. The HTTP server shape (a
// single http.ServeMux, pattern-registration tracking, graceful
// Start/Shutdown) follows the teacher's core.BaseTool HTTP server.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/agentrt"
	"github.com/hrshtt/factorio-agent-runtime/internal/queue"
)

// Server hosts the runtime's HTTP RPC surface.
type Server struct {
	mu                 sync.Mutex
	mux                *http.ServeMux
	server             *http.Server
	registeredPatterns map[string]bool

	Runtime  *agentrt.Runtime
	Registry *agentrt.Registry
	Queue    *queue.Queue
	Logger   agcore.Logger

	streams *streamHub
}

// New builds a Server around an already-wired Runtime, action Registry, and
// Queue.
func New(rt *agentrt.Runtime, registry *agentrt.Registry, q *queue.Queue, logger agcore.Logger) *Server {
	if logger == nil {
		logger = agcore.NoOpLogger{}
	}
	s := &Server{
		mux:                http.NewServeMux(),
		registeredPatterns: make(map[string]bool),
		Runtime:            rt,
		Registry:           registry,
		Queue:              q,
		Logger:             logger,
		streams:            newStreamHub(logger),
	}
	s.registerRoutes()
	return s
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registeredPatterns[pattern] {
		return
	}
	s.registeredPatterns[pattern] = true
	s.mux.HandleFunc(pattern, h)
}

func (s *Server) registerRoutes() {
	// Per-agent RPC surface (spec.md §6 "Inbound RPC surface").
	s.handle("/agent/", s.handleAgentAction)

	// Queue RPC surface (spec.md §6 "Queue RPC surface").
	s.handle("/queue/enqueue", s.handleEnqueue)
	s.handle("/queue/process_all", s.handleProcessAll)
	s.handle("/queue/process_some", s.handleProcessSome)
	s.handle("/queue/process_key", s.handleProcessKey)
	s.handle("/queue/status", s.handleQueueStatus)
	s.handle("/queue/result", s.handleGetResult)
	s.handle("/queue/result/clear", s.handleGetAndClearResult)
	s.handle("/queue/clear", s.handleClear)
	s.handle("/queue/immediate_mode", s.handleSetImmediateMode)
	s.handle("/queue/max_size", s.handleSetMaxQueueSize)

	// Convenience queue_<action> alias for every registered action (spec.md
	// §6): POST /queue/action/{action_name} enqueues rather than dispatching
	// inline.
	s.handle("/queue/action/", s.handleQueueAction)

	// Live completion feed (SPEC_FULL.md §B, gorilla/websocket).
	s.handle("/stream/completions", s.streams.handleWebsocket)
}

// Start begins serving on addr, following the teacher's BaseTool.Start
// signature shape (context-aware, blocking until Shutdown).
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.server = &http.Server{Addr: addr, Handler: s.mux}
	srv := s.server
	s.mu.Unlock()

	s.Logger.Info("rpcserver: starting", map[string]interface{}{"addr": addr})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// BroadcastCompletion pushes a completion message to every connected
// websocket stream subscriber. Nothing in this module calls it: the
// runtime's notifier delivers completions over the UDP side-channel only.
func (s *Server) BroadcastCompletion(payload map[string]any) {
	s.streams.broadcast(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var rerr *agcore.RuntimeError
	if asRuntimeError(err, &rerr) {
		switch rerr.Kind {
		case "InvalidParameter":
			status = http.StatusBadRequest
		case "Unreachable", "EntityInvalid", "InsufficientInventory", "ExclusivityConflict", "RecipeUnavailable", "EntityAtGoal":
			status = http.StatusUnprocessableEntity
		case "QueueFull":
			status = http.StatusTooManyRequests
		}
	} else if agcore.IsNotFound(err) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func asRuntimeError(err error, target **agcore.RuntimeError) bool {
	re, ok := err.(*agcore.RuntimeError)
	if ok {
		*target = re
	}
	return ok
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("rpcserver: empty request body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
