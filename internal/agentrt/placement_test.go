package agentrt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

type fakePlacementWorld struct {
	createErr    error
	destroyErr   error
	transferMove int
	transferErr  error
	resourceAt   map[worldmodel.Position]bool
	waterAt      map[worldmodel.Position]bool

	createCalls   int
	destroyCalls  int
	transferCalls []struct{ from, to worldmodel.Position; item string; count int }
}

func (f *fakePlacementWorld) CreateEntity(ctx context.Context, name string, pos worldmodel.Position, ghost bool) error {
	f.createCalls++
	return f.createErr
}

func (f *fakePlacementWorld) DestroyEntity(ctx context.Context, name string, pos worldmodel.Position) error {
	f.destroyCalls++
	return f.destroyErr
}

func (f *fakePlacementWorld) TransferItem(ctx context.Context, from, to worldmodel.Position, item string, count int) (int, error) {
	f.transferCalls = append(f.transferCalls, struct {
		from, to worldmodel.Position
		item     string
		count    int
	}{from, to, item, count})
	if f.transferErr != nil {
		return 0, f.transferErr
	}
	return f.transferMove, nil
}

func (f *fakePlacementWorld) TileHasResource(ctx context.Context, pos worldmodel.Position, tag string) (bool, error) {
	return f.resourceAt[pos], nil
}

func (f *fakePlacementWorld) TileHasWater(ctx context.Context, pos worldmodel.Position) (bool, error) {
	return f.waterAt[pos], nil
}

func TestPlaceEntity_ConsumesInventoryAndMarksReachDirty(t *testing.T) {
	a, ch := newTestAgent(1)
	ch.Inventory["wooden-chest"] = 1
	world := &fakePlacementWorld{transferMove: 0}

	out, err := PlaceEntity(context.Background(), a, world, PlaceParams{EntityName: "wooden-chest", Position: worldmodel.Position{X: 1, Y: 0}})
	require.NoError(t, err)
	assert.Equal(t, true, out["placed"])
	assert.Equal(t, 0, ch.Inventory["wooden-chest"])
	assert.True(t, a.Reach.IsDirty())
}

func TestPlaceEntity_RefusesBeyondReach(t *testing.T) {
	a, ch := newTestAgent(1)
	ch.Inventory["wooden-chest"] = 1

	_, err := PlaceEntity(context.Background(), a, &fakePlacementWorld{}, PlaceParams{EntityName: "wooden-chest", Position: worldmodel.Position{X: 100, Y: 0}})
	require.Error(t, err)
	rerr, ok := err.(*agcore.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "Unreachable", rerr.Kind)
}

func TestPlaceEntity_RefusesWithoutInventory(t *testing.T) {
	a, _ := newTestAgent(1)
	_, err := PlaceEntity(context.Background(), a, &fakePlacementWorld{}, PlaceParams{EntityName: "wooden-chest", Position: worldmodel.Position{X: 1, Y: 0}})
	require.Error(t, err)
	rerr, ok := err.(*agcore.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "InsufficientInventory", rerr.Kind)
}

func TestPlaceEntity_GhostSkipsReachAndInventoryChecks(t *testing.T) {
	a, ch := newTestAgent(1)
	world := &fakePlacementWorld{}

	out, err := PlaceEntity(context.Background(), a, world, PlaceParams{EntityName: "wooden-chest", Position: worldmodel.Position{X: 100, Y: 0}, IsGhost: true})
	require.NoError(t, err)
	assert.Equal(t, true, out["is_ghost"])
	assert.Equal(t, 0, ch.Inventory["wooden-chest"], "ghosts must not touch inventory")
}

func TestPlaceEntity_RefundsInventoryOnCreateFailure(t *testing.T) {
	a, ch := newTestAgent(1)
	ch.Inventory["wooden-chest"] = 1
	world := &fakePlacementWorld{createErr: errors.New("occupied")}

	_, err := PlaceEntity(context.Background(), a, world, PlaceParams{EntityName: "wooden-chest", Position: worldmodel.Position{X: 1, Y: 0}})
	require.Error(t, err)
	assert.Equal(t, 1, ch.Inventory["wooden-chest"], "failed placement must refund the consumed item")
}

func TestDestroyEntity_RefusesBeyondReach(t *testing.T) {
	a, _ := newTestAgent(1)
	_, err := DestroyEntity(context.Background(), a, &fakePlacementWorld{}, DestroyParams{EntityName: "wooden-chest", Position: worldmodel.Position{X: 100, Y: 0}})
	require.Error(t, err)
	rerr, ok := err.(*agcore.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "Unreachable", rerr.Kind)
}

func TestDestroyEntity_MarksReachDirtyOnSuccess(t *testing.T) {
	a, _ := newTestAgent(1)
	out, err := DestroyEntity(context.Background(), a, &fakePlacementWorld{}, DestroyParams{EntityName: "wooden-chest", Position: worldmodel.Position{X: 1, Y: 0}})
	require.NoError(t, err)
	assert.Equal(t, true, out["destroyed"])
	assert.True(t, a.Reach.IsDirty())
}

func TestTransferItem_FullTransferSucceeds(t *testing.T) {
	a, _ := newTestAgent(1)
	world := &fakePlacementWorld{transferMove: 5}

	out, err := TransferItem(context.Background(), a, world, TransferParams{
		From: worldmodel.Position{X: 1, Y: 0}, To: worldmodel.Position{X: 2, Y: 0}, Item: "iron-plate", Count: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, out["transferred"])
	assert.Len(t, world.transferCalls, 1, "a full transfer must not trigger a rollback call")
}

func TestTransferItem_PartialMoveRollsBackAndReportsInsufficientInventory(t *testing.T) {
	a, _ := newTestAgent(1)
	world := &fakePlacementWorld{transferMove: 2}

	_, err := TransferItem(context.Background(), a, world, TransferParams{
		From: worldmodel.Position{X: 1, Y: 0}, To: worldmodel.Position{X: 2, Y: 0}, Item: "iron-plate", Count: 5,
	})
	require.Error(t, err)
	rerr, ok := err.(*agcore.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "InsufficientInventory", rerr.Kind)

	require.Len(t, world.transferCalls, 2, "a partial transfer must trigger exactly one rollback call")
	rollback := world.transferCalls[1]
	assert.Equal(t, worldmodel.Position{X: 2, Y: 0}, rollback.from)
	assert.Equal(t, worldmodel.Position{X: 1, Y: 0}, rollback.to)
	assert.Equal(t, 2, rollback.count)
}

func TestTransferItem_RefusesBeyondReach(t *testing.T) {
	a, _ := newTestAgent(1)
	_, err := TransferItem(context.Background(), a, &fakePlacementWorld{}, TransferParams{
		From: worldmodel.Position{X: 100, Y: 0}, To: worldmodel.Position{X: 1, Y: 0}, Item: "iron-plate", Count: 1,
	})
	require.Error(t, err)
	rerr, ok := err.(*agcore.RuntimeError)
	require.True(t, ok)
	assert.Equal(t, "Unreachable", rerr.Kind)
}

func TestChunkSweep_CollectsOnlyPositionsPassingTest(t *testing.T) {
	positions, err := ChunkSweep(context.Background(), worldmodel.Position{}, 1.0, func(ctx context.Context, pos worldmodel.Position) (bool, error) {
		return pos.X == 0 && pos.Y == 0, nil
	})
	require.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.Equal(t, worldmodel.Position{X: 0, Y: 0}, positions[0])
}

func TestGetPlacementCues_ResourceModeOnlyMatchesTaggedTiles(t *testing.T) {
	a, _ := newTestAgent(1)
	world := &fakePlacementWorld{resourceAt: map[worldmodel.Position]bool{{X: 0, Y: 0}: true}}

	cues, err := GetPlacementCues(context.Background(), a, world, a.Reach, 1, PlacementCueParams{
		EntityName: "mining-drill", ChunkSize: 1.0, RequiresResourceTag: "iron-ore",
	})
	require.NoError(t, err)
	assert.Len(t, cues.Positions, 1)
	assert.Equal(t, worldmodel.Position{X: 0, Y: 0}, cues.Positions[0])
}

func TestGetPlacementCues_WaterModeChecksAdjacentTiles(t *testing.T) {
	a, _ := newTestAgent(1)
	world := &fakePlacementWorld{waterAt: map[worldmodel.Position]bool{{X: 1, Y: 0}: true}}

	cues, err := GetPlacementCues(context.Background(), a, world, a.Reach, 1, PlacementCueParams{
		EntityName: "offshore-pump", ChunkSize: 1.0, RequiresWater: true,
	})
	require.NoError(t, err)
	assert.Contains(t, cues.Positions, worldmodel.Position{X: 0, Y: 0}, "a tile adjacent to water must qualify")
}

func TestGetPlacementCues_GenericModeSeparatesReachableSubset(t *testing.T) {
	a, _ := newTestAgent(1)
	world := &fakePlacementWorld{}

	cues, err := GetPlacementCues(context.Background(), a, world, a.Reach, 1, PlacementCueParams{
		EntityName: "wooden-chest", ChunkSize: 1.0,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cues.Positions)
	assert.Less(t, len(cues.ReachablePositions), len(cues.Positions)+1)
	for _, p := range cues.ReachablePositions {
		assert.LessOrEqual(t, dist(worldmodel.Position{}, p), a.Character.ReachDistance())
	}
}
