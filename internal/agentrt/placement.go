package agentrt

import (
	"context"
	"fmt"
	"math"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/reach"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// PlacementWorld is the subset of the simulation entity ops need beyond the
// embodied character: creating, destroying, and transferring items at
// specific positions (spec.md §4.5). Production code backs this with RCON
// commands; tests back it with an in-memory fake.
type PlacementWorld interface {
	CreateEntity(ctx context.Context, name string, pos worldmodel.Position, ghost bool) error
	DestroyEntity(ctx context.Context, name string, pos worldmodel.Position) error
	TransferItem(ctx context.Context, from, to worldmodel.Position, item string, count int) (int, error)
	TileHasResource(ctx context.Context, pos worldmodel.Position, resourceTag string) (bool, error)
	TileHasWater(ctx context.Context, pos worldmodel.Position) (bool, error)
}

// PlaceParams are the validated parameters of a place_entity request.
type PlaceParams struct {
	EntityName string
	Position   worldmodel.Position
	IsGhost    bool
}

// PlaceEntity implements spec.md §4.5: validate agent and entity, reach
// check (skipped for ghosts), consume one item from inventory (skipped for
// ghosts), invoke the create primitive, mark the reachability cache dirty.
func PlaceEntity(ctx context.Context, agent *Agent, world PlacementWorld, p PlaceParams) (map[string]any, error) {
	valid, err := agent.Character.Valid(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentrt: place_entity validity check: %w", err)
	}
	if !valid {
		return nil, agcore.NewRuntimeError("place_entity", "EntityInvalid", agcore.ErrEntityInvalid)
	}

	if !p.IsGhost {
		pos, perr := agent.Character.Position(ctx)
		if perr != nil {
			return nil, fmt.Errorf("agentrt: place_entity position: %w", perr)
		}
		if dist(pos, p.Position) > agent.Character.ReachDistance() {
			return nil, agcore.NewRuntimeError("place_entity", "Unreachable", agcore.ErrUnreachable)
		}

		removed, rerr := agent.Character.RemoveInventory(ctx, p.EntityName, 1)
		if rerr != nil {
			return nil, fmt.Errorf("agentrt: place_entity remove inventory: %w", rerr)
		}
		if removed < 1 {
			return nil, agcore.NewRuntimeError("place_entity", "InsufficientInventory", agcore.ErrInsufficientInventory)
		}
	}

	if err := world.CreateEntity(ctx, p.EntityName, p.Position, p.IsGhost); err != nil {
		if !p.IsGhost {
			_ = agent.Character.AddInventory(ctx, p.EntityName, 1)
		}
		return nil, fmt.Errorf("agentrt: create entity: %w", err)
	}

	agent.Reach.MarkDirty()
	return map[string]any{"placed": true, "entity": p.EntityName, "position": p.Position, "is_ghost": p.IsGhost}, nil
}

// DestroyParams are the validated parameters of a destroy_entity request.
type DestroyParams struct {
	EntityName string
	Position   worldmodel.Position
}

// DestroyEntity implements the destroy half of spec.md §4.5: reach check,
// invoke the destroy primitive, mark the cache dirty.
func DestroyEntity(ctx context.Context, agent *Agent, world PlacementWorld, p DestroyParams) (map[string]any, error) {
	pos, err := agent.Character.Position(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentrt: destroy_entity position: %w", err)
	}
	if dist(pos, p.Position) > agent.Character.ReachDistance() {
		return nil, agcore.NewRuntimeError("destroy_entity", "Unreachable", agcore.ErrUnreachable)
	}
	if err := world.DestroyEntity(ctx, p.EntityName, p.Position); err != nil {
		return nil, fmt.Errorf("agentrt: destroy entity: %w", err)
	}
	agent.Reach.MarkDirty()
	return map[string]any{"destroyed": true, "entity": p.EntityName, "position": p.Position}, nil
}

// TransferParams are the validated parameters of a transfer_item request.
type TransferParams struct {
	From  worldmodel.Position
	To    worldmodel.Position
	Item  string
	Count int
}

// TransferItem implements inventory transfer with full rollback on partial
// failure (spec.md §4.5: "Partial inventory transfers must be fully rolled
// back (return items to source) on any failure").
func TransferItem(ctx context.Context, agent *Agent, world PlacementWorld, p TransferParams) (map[string]any, error) {
	pos, err := agent.Character.Position(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentrt: transfer_item position: %w", err)
	}
	if dist(pos, p.From) > agent.Character.ReachDistance() || dist(pos, p.To) > agent.Character.ReachDistance() {
		return nil, agcore.NewRuntimeError("transfer_item", "Unreachable", agcore.ErrUnreachable)
	}

	moved, err := world.TransferItem(ctx, p.From, p.To, p.Item, p.Count)
	if err != nil {
		return nil, fmt.Errorf("agentrt: transfer item: %w", err)
	}
	if moved < p.Count {
		if _, rerr := world.TransferItem(ctx, p.To, p.From, p.Item, moved); rerr != nil {
			return nil, agcore.NewRuntimeError("transfer_item", "InsufficientInventory", agcore.ErrInsufficientInventory).
				WithMessage(fmt.Sprintf("partial transfer rollback failed: %v", rerr))
		}
		return nil, agcore.NewRuntimeError("transfer_item", "InsufficientInventory", agcore.ErrInsufficientInventory)
	}
	agent.Reach.MarkDirty()
	return map[string]any{"transferred": moved, "item": p.Item}, nil
}

// PlacementCues is the result of a placement-cue sweep: `positions` are
// valid candidate positions in the surveyed area, `reachable_positions` is
// the subset within the agent's current reach (spec.md §4.5 "Placement
// cues").
type PlacementCues struct {
	Positions          []worldmodel.Position
	ReachablePositions []worldmodel.Position
}

// ChunkSweep iterates the 5×5 chunk grid centered on center, at the given
// chunk size (in tiles), calling test for each candidate tile position.
// This is the control-flow shared by resource/water/generic placement cue
// modes (spec.md §4.5 "Placement cues").
func ChunkSweep(ctx context.Context, center worldmodel.Position, chunkSize float64, test func(ctx context.Context, pos worldmodel.Position) (bool, error)) ([]worldmodel.Position, error) {
	const chunksPerSide = 5
	const tileStep = 1.0

	half := chunksPerSide / 2
	originX := center.X - float64(half)*chunkSize
	originY := center.Y - float64(half)*chunkSize

	var out []worldmodel.Position
	totalTilesPerSide := int(chunksPerSide * chunkSize / tileStep)
	for ix := 0; ix < totalTilesPerSide; ix++ {
		for iy := 0; iy < totalTilesPerSide; iy++ {
			pos := worldmodel.Position{X: originX + float64(ix)*tileStep, Y: originY + float64(iy)*tileStep}
			ok, err := test(ctx, pos)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, pos)
			}
		}
	}
	return out, nil
}

// PlacementCueParams are the validated parameters of a get_placement_cues
// request.
type PlacementCueParams struct {
	EntityName          string
	ChunkSize           float64
	RequiresResourceTag string
	RequiresWater       bool
}

// GetPlacementCues implements spec.md §4.5 "Placement cues": for
// resource-requiring entities, only positions of existing matching resource
// entities qualify; for water-requiring entities, sweep all tiles and test
// all four cardinal directions; otherwise sweep all tiles unconditionally.
func GetPlacementCues(ctx context.Context, agent *Agent, world PlacementWorld, reachCache *reach.Cache, tick int64, p PlacementCueParams) (PlacementCues, error) {
	center, err := agent.Character.Position(ctx)
	if err != nil {
		return PlacementCues{}, fmt.Errorf("agentrt: placement cues position: %w", err)
	}

	var test func(ctx context.Context, pos worldmodel.Position) (bool, error)
	switch {
	case p.RequiresResourceTag != "":
		test = func(ctx context.Context, pos worldmodel.Position) (bool, error) {
			return world.TileHasResource(ctx, pos, p.RequiresResourceTag)
		}
	case p.RequiresWater:
		test = func(ctx context.Context, pos worldmodel.Position) (bool, error) {
			for _, d := range []worldmodel.Position{{X: 1, Y: 0}, {X: -1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1}} {
				ok, err := world.TileHasWater(ctx, worldmodel.Position{X: pos.X + d.X, Y: pos.Y + d.Y})
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}
	default:
		test = func(ctx context.Context, pos worldmodel.Position) (bool, error) {
			return true, nil
		}
	}

	positions, err := ChunkSweep(ctx, center, p.ChunkSize, test)
	if err != nil {
		return PlacementCues{}, err
	}

	reachDist := agent.Character.ReachDistance()
	var reachable []worldmodel.Position
	for _, pos := range positions {
		if dist(center, pos) <= reachDist {
			reachable = append(reachable, pos)
		}
	}
	return PlacementCues{Positions: positions, ReachablePositions: reachable}, nil
}

func dist(a, b worldmodel.Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
