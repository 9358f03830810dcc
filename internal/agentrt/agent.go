// Package agentrt implements the per-agent action runtime from spec.md
// §4.1: per-agent state, the dispatch of synchronous queries/mutations and
// long-running asynchronous activities, and the fixed-order per-tick
// processing loop that drives the walking/mining/crafting state machines.
package agentrt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hrshtt/factorio-agent-runtime/internal/activity"
	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/notify"
	"github.com/hrshtt/factorio-agent-runtime/internal/reach"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// Agent is one controlled actor: its embodied character handle, its three
// activity slots, an outbound message buffer, a reachability cache, and a
// set of charted chunk coordinates (spec.md §3 "Agent").
type Agent struct {
	ID        int64
	Character worldmodel.Character
	Reach     *reach.Cache

	mu       sync.Mutex
	walking  *activity.Walking
	mining   *activity.Mining
	crafting *activity.Crafting

	chartedChunks map[string]bool
	outbox        []notify.Message
}

// NewAgent constructs an agent around an embodied character handle and a
// freshly built (dirty) reachability cache, per invariant 5.
func NewAgent(id int64, character worldmodel.Character, reachCache *reach.Cache) *Agent {
	return &Agent{
		ID:            id,
		Character:     character,
		Reach:         reachCache,
		chartedChunks: make(map[string]bool),
	}
}

// enqueueMessage implements spec.md §4.8: "Each activity state machine
// calls enqueue_message(payload, category) on the agent."
func (a *Agent) enqueueMessage(msg notify.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outbox = append(a.outbox, msg)
}

// DrainOutbox removes and returns every buffered completion message, FIFO,
// for the runtime's per-tick flush step.
func (a *Agent) DrainOutbox() []notify.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.outbox
	a.outbox = nil
	return out
}

// IsWalking reports whether a walking activity is currently installed.
func (a *Agent) IsWalking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.walking != nil
}

// IsMining reports whether a mining activity is currently installed.
func (a *Agent) IsMining() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mining != nil
}

// IsMiningStochastic reports whether the in-flight mining activity (if any)
// is stochastic, which blocks crafting initiation (invariant 2).
func (a *Agent) IsMiningStochastic() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mining != nil && a.mining.IsStochastic()
}

// IsCrafting reports whether a crafting activity is currently installed.
func (a *Agent) IsCrafting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.crafting != nil
}

// StartWalking installs a new walking record, halting any in-flight mining
// first (invariant 1: "mining and walking are mutually exclusive; starting
// one stops the other").
func (a *Agent) StartWalking(ctx context.Context, actionID string, tick int64, p activity.WalkParams) error {
	a.mu.Lock()
	if a.mining != nil {
		// Arm the cancellation only — leave the record installed so the
		// next processMining tick still finalizes it and emits the
		// matching completion message (same pattern as StopMining).
		a.mining.Stop(ctx, "cancelled")
	}
	if a.walking != nil {
		a.mu.Unlock()
		return agcore.NewRuntimeError("walk_to", "ExclusivityConflict", agcore.ErrExclusivityConflict)
	}
	a.mu.Unlock()

	w, err := activity.StartWalking(ctx, actionID, a.ID, tick, a.Character, p)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.walking = w
	a.mu.Unlock()

	a.enqueueMessage(notify.Message{
		ActionID: actionID, AgentID: a.ID, ActionType: "walk_to",
		StartTick: tick, Status: notify.StatusQueued,
	})
	return nil
}

// StopWalking implements stop_walking: synchronous, idempotent, suppresses
// the completion message.
func (a *Agent) StopWalking(ctx context.Context) error {
	a.mu.Lock()
	w := a.walking
	a.walking = nil
	a.mu.Unlock()
	if w == nil {
		return agcore.ErrNotQueued
	}
	return w.Stop(ctx)
}

// StartMining installs a new mining record, halting any in-flight walking
// first (invariant 1).
func (a *Agent) StartMining(ctx context.Context, actionID string, tick int64, p activity.MiningParams) error {
	a.mu.Lock()
	if a.walking != nil {
		_ = a.walking.Stop(ctx)
		a.walking = nil
	}
	if a.mining != nil {
		a.mu.Unlock()
		return agcore.NewRuntimeError("begin_mining", "ExclusivityConflict", agcore.ErrExclusivityConflict)
	}
	a.mu.Unlock()

	m, err := activity.StartMining(ctx, actionID, a.ID, tick, a.Character, p)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.mining = m
	a.mu.Unlock()

	a.enqueueMessage(notify.Message{
		ActionID: actionID, AgentID: a.ID, ActionType: "begin_mining",
		StartTick: tick, Status: notify.StatusQueued,
	})
	return nil
}

// StopMining implements stop_mining.
func (a *Agent) StopMining(ctx context.Context, reason string) error {
	a.mu.Lock()
	m := a.mining
	a.mu.Unlock()
	if m == nil {
		return agcore.ErrNotQueued
	}
	m.Stop(ctx, reason)
	return nil
}

// StartCrafting installs a new crafting record. Crafting coexists with
// walking and with non-stochastic mining (invariant 2); it is rejected
// outright if stochastic mining is in progress.
func (a *Agent) StartCrafting(ctx context.Context, actionID string, tick int64, p activity.CraftingParams) (int, error) {
	if a.IsMiningStochastic() {
		return 0, agcore.NewRuntimeError("begin_crafting", "ExclusivityConflict", agcore.ErrExclusivityConflict)
	}
	a.mu.Lock()
	if a.crafting != nil {
		a.mu.Unlock()
		return 0, agcore.NewRuntimeError("begin_crafting", "ExclusivityConflict", agcore.ErrExclusivityConflict)
	}
	a.mu.Unlock()

	c, estimatedTicks, err := activity.StartCrafting(ctx, actionID, a.ID, tick, a.Character, p)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.crafting = c
	a.mu.Unlock()

	a.enqueueMessage(notify.Message{
		ActionID: actionID, AgentID: a.ID, ActionType: "begin_crafting",
		StartTick: tick, Status: notify.StatusQueued,
		Result: map[string]any{"estimated_ticks": estimatedTicks},
	})
	return estimatedTicks, nil
}

// CraftDequeue implements craft_dequeue(recipe, count?).
func (a *Agent) CraftDequeue(ctx context.Context, count int) (int, error) {
	a.mu.Lock()
	c := a.crafting
	a.mu.Unlock()
	if c == nil {
		return 0, agcore.ErrNotQueued
	}
	return c.Cancel(ctx, count)
}

// processWalking advances the walking slot, if any, and on completion
// clears it and emits the final message.
func (a *Agent) processWalking(ctx context.Context, tick int64) error {
	a.mu.Lock()
	w := a.walking
	a.mu.Unlock()
	if w == nil {
		return nil
	}
	if pos, perr := a.Character.Position(ctx); perr == nil {
		a.Reach.NotePosition(pos)
	}
	outcome, err := w.Process(ctx, tick)
	if err != nil {
		return fmt.Errorf("agentrt: agent %d process_walking: %w", a.ID, err)
	}
	if !outcome.Done {
		return nil
	}
	a.mu.Lock()
	if a.walking == w {
		a.walking = nil
	}
	a.mu.Unlock()
	a.enqueueMessage(notify.Message{
		ActionID: w.ActionID(), AgentID: a.ID, ActionType: "walk_to",
		CompletionTick: tick, Success: outcome.Success, Status: outcome.Status,
		Result: outcome.Result,
	})
	return nil
}

func (a *Agent) processMining(ctx context.Context, tick int64) error {
	a.mu.Lock()
	m := a.mining
	a.mu.Unlock()
	if m == nil {
		return nil
	}
	outcome, err := m.Process(ctx, tick)
	if err != nil {
		return fmt.Errorf("agentrt: agent %d process_mining: %w", a.ID, err)
	}
	if !outcome.Done {
		return nil
	}
	a.mu.Lock()
	if a.mining == m {
		a.mining = nil
	}
	a.mu.Unlock()
	a.enqueueMessage(notify.Message{
		ActionID: m.ActionID(), AgentID: a.ID, ActionType: "begin_mining",
		CompletionTick: tick, Success: outcome.Success, Status: outcome.Status,
		Result: outcome.Result,
	})
	return nil
}

func (a *Agent) processCrafting(ctx context.Context, tick int64) error {
	a.mu.Lock()
	c := a.crafting
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	outcome, err := c.Process(ctx, tick)
	if err != nil {
		return fmt.Errorf("agentrt: agent %d process_crafting: %w", a.ID, err)
	}
	if !outcome.Done {
		return nil
	}
	a.mu.Lock()
	if a.crafting == c {
		a.crafting = nil
	}
	a.mu.Unlock()
	a.enqueueMessage(notify.Message{
		ActionID: c.ActionID(), AgentID: a.ID, ActionType: "begin_crafting",
		CompletionTick: tick, Success: outcome.Success, Status: outcome.Status,
		Result: outcome.Result,
	})
	return nil
}

// Process runs the fixed per-agent order walking → mining → crafting
// (spec.md §4.1 "Per-tick processing").
func (a *Agent) Process(ctx context.Context, tick int64) error {
	if err := a.processWalking(ctx, tick); err != nil {
		return err
	}
	if err := a.processMining(ctx, tick); err != nil {
		return err
	}
	return a.processCrafting(ctx, tick)
}

// ChartChunk records a chunk coordinate as charted (spec.md §3 "a set of
// charted chunk coordinates").
func (a *Agent) ChartChunk(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chartedChunks[key] = true
}

// HasChartedChunk reports whether the given chunk has already been charted.
func (a *Agent) HasChartedChunk(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chartedChunks[key]
}

// sortedAgentIDs returns the given ids sorted ascending, for deterministic
// per-tick iteration (spec.md §5 "Across agents within a tick: the
// iteration order is deterministic (by agent_id ascending)").
func sortedAgentIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
