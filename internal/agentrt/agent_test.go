package agentrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrshtt/factorio-agent-runtime/internal/activity"
	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/prototype"
	"github.com/hrshtt/factorio-agent-runtime/internal/reach"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// emptyWorldView is a reach.WorldView that always reports nothing nearby,
// sufficient for exclusivity tests that never query reachability.
type emptyWorldView struct{}

func (emptyWorldView) EntitiesNear(ctx context.Context, center reach.Position, radius float64) ([]reach.EntitySnapshot, error) {
	return nil, nil
}

func (emptyWorldView) ResourcesNear(ctx context.Context, center reach.Position, radius float64) ([]reach.ResourceSnapshot, error) {
	return nil, nil
}

func newTestAgent(id int64) (*Agent, *worldmodel.FakeCharacter) {
	ch := worldmodel.NewFakeCharacter(worldmodel.Position{})
	cache := reach.NewCache(emptyWorldView{}, ch.Reach, ch.ResReach, 0.5)
	return NewAgent(id, ch, cache), ch
}

func ironOreEntity() prototype.Entity {
	return prototype.Entity{
		Name:              "iron-ore",
		MiningTimeSeconds: 1.0,
		MinedProducts:     []prototype.Ingredient{{Name: "iron-ore", Amount: 1}},
		IsResource:        true,
	}
}

func hugeRockEntity() prototype.Entity {
	return prototype.Entity{
		Name:              "huge-rock",
		MiningTimeSeconds: 1.0,
		MinedProducts:     []prototype.Ingredient{{Name: "stone", Amount: 20}},
		Stochastic:        true,
		IsDepleteOnMine:   true,
	}
}

func gearRecipe() prototype.Recipe {
	return prototype.Recipe{
		Name:          "iron-gear-wheel",
		EnergySeconds: 0.5,
		Ingredients:   []prototype.Ingredient{{Name: "iron-plate", Amount: 2}},
		Products:      []prototype.Ingredient{{Name: "iron-gear-wheel", Amount: 1}},
		HandCraftable: true,
	}
}

func TestStartWalking_HaltsInFlightMining(t *testing.T) {
	a, ch := newTestAgent(1)
	require.NoError(t, a.StartMining(context.Background(), "mine-1", 0, activity.MiningParams{
		EntityName: "iron-ore", Position: worldmodel.Position{X: 1, Y: 0}, TargetCount: 1, Recipe: ironOreEntity(),
	}))
	assert.True(t, a.IsMining())

	require.NoError(t, a.StartWalking(context.Background(), "walk-1", 0, activity.WalkParams{Target: worldmodel.Position{X: 5, Y: 0}}))
	assert.True(t, a.IsWalking())
	assert.True(t, a.IsMining(), "the cancelled mining record must stay installed so the next tick can finalize it and emit its completion message")

	require.NoError(t, a.processMining(context.Background(), 1))
	assert.False(t, a.IsMining(), "the next processMining tick must detect the cancellation and clear the slot")

	msgs := a.DrainOutbox()
	require.Len(t, msgs, 3, "queued messages for both the mine and the walk, plus a cancelled completion for the halted mine")
	last := msgs[len(msgs)-1]
	assert.Equal(t, "mine-1", last.ActionID)
	assert.False(t, last.Success)
	_ = ch
}

func TestStartMining_HaltsInFlightWalking(t *testing.T) {
	a, _ := newTestAgent(1)
	require.NoError(t, a.StartWalking(context.Background(), "walk-1", 0, activity.WalkParams{Target: worldmodel.Position{X: 5, Y: 0}}))
	assert.True(t, a.IsWalking())

	require.NoError(t, a.StartMining(context.Background(), "mine-1", 0, activity.MiningParams{
		EntityName: "iron-ore", Position: worldmodel.Position{X: 1, Y: 0}, TargetCount: 1, Recipe: ironOreEntity(),
	}))
	assert.False(t, a.IsWalking(), "starting mining must halt any in-flight walking")
	assert.True(t, a.IsMining())
}

func TestStartWalking_RejectsWhenAlreadyWalking(t *testing.T) {
	a, _ := newTestAgent(1)
	require.NoError(t, a.StartWalking(context.Background(), "walk-1", 0, activity.WalkParams{Target: worldmodel.Position{X: 5, Y: 0}}))

	err := a.StartWalking(context.Background(), "walk-2", 0, activity.WalkParams{Target: worldmodel.Position{X: 1, Y: 1}})
	require.Error(t, err)
	rerr, ok := err.(*agcore.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "ExclusivityConflict", rerr.Kind)
}

func TestStartCrafting_RejectedDuringStochasticMining(t *testing.T) {
	a, ch := newTestAgent(1)
	ch.Inventory["stone"] = 0
	require.NoError(t, a.StartMining(context.Background(), "mine-1", 0, activity.MiningParams{
		EntityName: "huge-rock", Position: worldmodel.Position{X: 1, Y: 0}, Recipe: hugeRockEntity(),
	}))
	assert.True(t, a.IsMiningStochastic())

	_, err := a.StartCrafting(context.Background(), "craft-1", 0, activity.CraftingParams{Recipe: gearRecipe(), Count: 1})
	require.Error(t, err)
	rerr, ok := err.(*agcore.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "ExclusivityConflict", rerr.Kind)
}

func TestStartCrafting_AllowedDuringNonStochasticMining(t *testing.T) {
	a, ch := newTestAgent(1)
	ch.Inventory["iron-plate"] = 10
	require.NoError(t, a.StartMining(context.Background(), "mine-1", 0, activity.MiningParams{
		EntityName: "iron-ore", Position: worldmodel.Position{X: 1, Y: 0}, TargetCount: 1, Recipe: ironOreEntity(),
	}))
	assert.False(t, a.IsMiningStochastic())

	_, err := a.StartCrafting(context.Background(), "craft-1", 0, activity.CraftingParams{Recipe: gearRecipe(), Count: 1})
	require.NoError(t, err)
	assert.True(t, a.IsCrafting())
	assert.True(t, a.IsMining(), "crafting must coexist with non-stochastic mining")
}

func TestDrainOutbox_ReturnsFIFOAndClears(t *testing.T) {
	a, _ := newTestAgent(1)
	require.NoError(t, a.StartWalking(context.Background(), "walk-1", 0, activity.WalkParams{Target: worldmodel.Position{X: 5, Y: 0}}))

	msgs := a.DrainOutbox()
	require.Len(t, msgs, 1)
	assert.Equal(t, "walk-1", msgs[0].ActionID)

	assert.Empty(t, a.DrainOutbox(), "outbox must be empty after draining")
}

func TestProcessWalking_NotesPositionSoTheReachCacheDirtiesOnMovement(t *testing.T) {
	a, ch := newTestAgent(1)
	require.NoError(t, a.StartWalking(context.Background(), "walk-1", 0, activity.WalkParams{Target: worldmodel.Position{X: 5, Y: 0}}))

	require.NoError(t, a.Reach.Recompute(context.Background(), ch.Pos, 0))
	require.False(t, a.Reach.IsDirty())

	ch.Pos = worldmodel.Position{X: 5, Y: 5}
	require.NoError(t, a.processWalking(context.Background(), 1))
	assert.True(t, a.Reach.IsDirty(), "processWalking must feed the character's position to NotePosition so movement past the threshold dirties the cache")
}

func TestSortedAgentIDs_OrdersAscending(t *testing.T) {
	got := sortedAgentIDs([]int64{5, 1, 3})
	assert.Equal(t, []int64{1, 3, 5}, got)
}
