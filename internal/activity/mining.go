package activity

import (
	"context"
	"fmt"

	"github.com/hrshtt/factorio-agent-runtime/internal/notify"
	"github.com/hrshtt/factorio-agent-runtime/internal/prototype"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// MiningMode selects the completion strategy for a mining record (spec.md
// §4.3 "Two modes").
type MiningMode int

const (
	// ModeIncremental is used for resource ores: completion is counted in
	// progress cycles against a target count.
	ModeIncremental MiningMode = iota
	// ModeDeplete is used for trees, rocks, and huge-rock: completion fires
	// when the target entity becomes invalid.
	ModeDeplete
)

// MiningParams are the validated parameters of a begin_mining request.
type MiningParams struct {
	EntityName  string
	Position    worldmodel.Position
	TargetCount int // incremental mode only
	Recipe      prototype.Entity
}

// Mining is one agent's in-flight mining activity record (spec.md §4.3).
type Mining struct {
	actionID  string
	agentID   int64
	startTick int64

	character worldmodel.Character

	entityName string
	position   worldmodel.Position
	mode       MiningMode
	targetCnt  int
	isStochastic   bool
	minedProducts  []prototype.Ingredient

	completionThreshold float64
	lastProgress         float64
	haveLastProgress     bool
	countProgress        int

	startInventory map[string]int
	candidateItems []string

	cancelled    bool
	cancelReason string
}

// StartMining validates the target, installs the record, and asserts
// mining_state on the character (spec.md §4.3 "Start").
func StartMining(ctx context.Context, actionID string, agentID, tick int64, character worldmodel.Character, p MiningParams) (*Mining, error) {
	ent := p.Recipe
	if ent.RequiresWater {
		return nil, fmt.Errorf("activity: mining %s: requires fluid, cannot hand-mine", p.EntityName)
	}

	speed, err := character.EffectiveMiningSpeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("activity: effective mining speed: %w", err)
	}
	threshold := prototype.CompletionThreshold(ent.MiningTimeSeconds, speed)

	mode := ModeIncremental
	if ent.IsDepleteOnMine {
		mode = ModeDeplete
	}

	m := &Mining{
		actionID:             actionID,
		agentID:              agentID,
		startTick:            tick,
		character:            character,
		entityName:           p.EntityName,
		position:              p.Position,
		mode:                 mode,
		targetCnt:            p.TargetCount,
		isStochastic:         ent.Stochastic,
		minedProducts:        ent.MinedProducts,
		completionThreshold:  threshold,
	}

	if ent.Stochastic {
		items := make([]string, 0, len(ent.MinedProducts))
		for _, prod := range ent.MinedProducts {
			items = append(items, prod.Name)
		}
		snap, err := character.InventorySnapshot(ctx, items)
		if err != nil {
			return nil, fmt.Errorf("activity: mining inventory snapshot: %w", err)
		}
		m.candidateItems = items
		m.startInventory = snap
	}

	pos := p.Position
	if err := character.SetMiningState(ctx, true, &pos); err != nil {
		return nil, fmt.Errorf("activity: set mining state: %w", err)
	}
	if err := character.UpdateSelectedEntity(ctx, &pos); err != nil {
		return nil, fmt.Errorf("activity: update selected entity: %w", err)
	}
	return m, nil
}

// IsStochastic reports whether this record's entity has probabilistic
// products, which excludes crafting from starting concurrently (spec.md
// §4.3 "Stochastic flag").
func (m *Mining) IsStochastic() bool { return m.isStochastic }

// Process advances the mining record by one tick.
func (m *Mining) Process(ctx context.Context, tick int64) (Outcome, error) {
	if m.cancelled {
		return m.finalize(ctx, false, m.cancelReason)
	}

	selectedOK, err := m.character.SelectedValid(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("activity: selected valid: %w", err)
	}
	if !selectedOK {
		// The entity was consumed (spec.md §4.3 "Depletion detection").
		reason := "completed"
		if m.mode == ModeDeplete {
			reason = "depleted"
		}
		return m.finalize(ctx, true, reason)
	}

	current, err := m.character.MiningProgress(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("activity: mining progress: %w", err)
	}

	if m.haveLastProgress && m.lastProgress > m.completionThreshold && current < m.lastProgress {
		m.countProgress++
		if m.mode == ModeIncremental && m.countProgress >= m.targetCnt {
			m.lastProgress = current
			m.haveLastProgress = true
			return m.finalize(ctx, true, "completed")
		}
	}
	m.lastProgress = current
	m.haveLastProgress = true
	return Outcome{}, nil
}

// finalize computes actual products per spec.md §4.3 "Finalization" and
// clears mining_state and the selected entity.
func (m *Mining) finalize(ctx context.Context, success bool, reason string) (Outcome, error) {
	_ = m.character.SetMiningState(ctx, false, nil)
	_ = m.character.UpdateSelectedEntity(ctx, nil)

	products := map[string]int{}
	if m.mode == ModeIncremental {
		// Incremental progress counts even on cancellation (spec.md §4.3
		// "Finalization": the {entity_name: count_progress} formula "works
		// also for cancellation").
		products[m.entityName] = m.countProgress
	} else if success {
		switch {
		case m.mode == ModeDeplete && !m.isStochastic:
			for _, prod := range m.minedProducts {
				products[prod.Name] = prod.Amount
			}
		case m.mode == ModeDeplete && m.isStochastic:
			final, err := m.character.InventorySnapshot(ctx, m.candidateItems)
			if err == nil {
				for _, item := range m.candidateItems {
					delta := final[item] - m.startInventory[item]
					if delta > 0 {
						products[item] = delta
					}
				}
			}
		}
	}

	status := notify.StatusCompleted
	if reason == "depleted" {
		status = notify.StatusDepleted
	}
	if !success {
		status = notify.StatusCancelled
	}

	return Outcome{
		Done:    true,
		Status:  status,
		Success: success,
		Result: map[string]any{
			"reason":   reason,
			"products": products,
		},
	}, nil
}

// Stop implements stop_mining (cancellation). Cancellation during an
// already-completed cycle must not double-fire; Process checks m.cancelled
// before testing the natural completion edge, so a cancel recorded in the
// same tick as a natural completion still yields exactly one message —
// callers are expected to call Stop only when Process has not yet been
// invoked this tick.
func (m *Mining) Stop(ctx context.Context, reason string) {
	if m.cancelled {
		return
	}
	m.cancelled = true
	m.cancelReason = reason
}

// ActionID returns the identifier this record was started with.
func (m *Mining) ActionID() string { return m.actionID }
