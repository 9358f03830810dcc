package agentrt

import (
	"context"
	"sync"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/notify"
	"github.com/hrshtt/factorio-agent-runtime/internal/prototype"
)

// Runtime owns the agent registry and drives the fixed per-tick processing
// loop (spec.md §4.1 "Per-tick processing").
type Runtime struct {
	mu     sync.RWMutex
	agents map[int64]*Agent

	Prototype *prototype.Table
	Notifier  *notify.Notifier
	Seq       agcore.SeqCounter
	Logger    agcore.Logger
	Telemetry agcore.Telemetry

	tick int64
}

// NewRuntime wires the prototype table and notifier the runtime needs to
// drive dispatch and flush completion messages.
func NewRuntime(table *prototype.Table, notifier *notify.Notifier, logger agcore.Logger, telemetry agcore.Telemetry) *Runtime {
	if logger == nil {
		logger = agcore.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = agcore.NoOpTelemetry{}
	}
	return &Runtime{
		agents:    make(map[int64]*Agent),
		Prototype: table,
		Notifier:  notifier,
		Logger:    logger,
		Telemetry: telemetry,
	}
}

// RegisterAgent adds an agent to the registry (spec.md §3 "Lifecycles":
// "created with a seed position and team; re-registers its RPC interface on
// restart").
func (r *Runtime) RegisterAgent(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

// DestroyAgent tears an agent down explicitly (spec.md §3 "Lifecycles":
// "torn down by explicit destroy"; SPEC_FULL.md §C.1 graceful teardown).
// Any in-flight activities are silently dropped — their activity records
// are force-cleared rather than completed, per spec.md invariant 6's
// "cleared by agent teardown" escape hatch.
func (r *Runtime) DestroyAgent(agentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return agcore.ErrAgentNotFound
	}
	delete(r.agents, agentID)
	return nil
}

// Agent looks up a registered agent.
func (r *Runtime) Agent(agentID int64) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// Tick drives one pass of the runtime: for each agent, in ascending
// agent_id order, process walking/mining/crafting, then flush outbound
// completion messages (spec.md §4.1, §5).
func (r *Runtime) Tick(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	snapshot := make(map[int64]*Agent, len(r.agents))
	for k, v := range r.agents {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	ctx, span := r.Telemetry.StartSpan(ctx, "agentrt.Tick")
	defer span.End()

	r.tick++
	tick := r.tick

	for _, id := range sortedAgentIDs(ids) {
		agent := snapshot[id]
		if err := agent.Process(ctx, tick); err != nil {
			span.RecordError(err)
			r.Logger.Error("runtime: agent process failed", map[string]interface{}{
				"agent_id": id, "tick": tick, "error": err.Error(),
			})
			continue
		}
		for _, msg := range agent.DrainOutbox() {
			if r.Notifier != nil {
				r.Notifier.Send(msg)
			}
		}
	}

	if r.Notifier != nil {
		r.Notifier.Flush()
	}
	return nil
}

// CurrentTick returns the last tick number processed.
func (r *Runtime) CurrentTick() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tick
}

// NewActionID is a convenience wrapper so RPC handlers don't need to import
// core directly.
func (r *Runtime) NewActionID() string { return agcore.NewActionID() }

// resolveRecipe looks up a recipe by name, wrapping the miss as
// RecipeUnavailable (spec.md §7 taxonomy).
func (r *Runtime) resolveRecipe(name string) (prototype.Recipe, error) {
	rec, ok := r.Prototype.Recipe(name)
	if !ok {
		return prototype.Recipe{}, agcore.NewRuntimeError("resolve_recipe", "RecipeUnavailable", agcore.ErrRecipeUnavailable).WithID(name)
	}
	return rec, nil
}

// resolveEntity looks up an entity prototype by name, wrapping the miss as
// EntityInvalid.
func (r *Runtime) resolveEntity(name string) (prototype.Entity, error) {
	ent, ok := r.Prototype.Entity(name)
	if !ok {
		return prototype.Entity{}, agcore.NewRuntimeError("resolve_entity", "EntityInvalid", agcore.ErrEntityInvalid).WithID(name)
	}
	return ent, nil
}
