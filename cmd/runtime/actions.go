package main

import (
	"context"
	"fmt"

	"github.com/hrshtt/factorio-agent-runtime/internal/activity"
	"github.com/hrshtt/factorio-agent-runtime/internal/agentrt"
	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/reach"
	"github.com/hrshtt/factorio-agent-runtime/internal/simworld"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// RegisterActions installs every action from spec.md §4.1/§6 into registry,
// bound to the RCON-backed simworld.World. This is the one place that wires
// the declarative dispatch contract (agentrt.Dispatch) to the concrete
// state machines in package activity.
func RegisterActions(registry *agentrt.Registry, world *simworld.World) {
	registry.Register(agentrt.ActionSpec{
		Name: "register_agent", Category: "debug", IsAsync: false, CreatesAgent: true,
		Doc: "Create and register a new agent around a simulation character.",
		Params: []agentrt.ParamSpec{
			{Name: "agent_id", Type: "int", Required: true},
			{Name: "team", Type: "string", Required: false, Default: "player"},
			{Name: "reach_distance", Type: "float", Required: false, Default: 3.0},
			{Name: "resource_reach_distance", Type: "float", Required: false, Default: 2.7},
			{Name: "half_size", Type: "float", Required: false, Default: 0.5},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		id := toInt64(params["agent_id"])
		character := simworld.NewCharacter(world, id, toFloat(params["reach_distance"]), toFloat(params["resource_reach_distance"]), toFloat(params["half_size"]), params["team"].(string))
		reachCache := reach.NewCache(world, character.ReachDistance(), character.ResourceReachDistance(), 0.5)
		rt.RegisterAgent(agentrt.NewAgent(id, character, reachCache))
		return map[string]any{"registered": true, "agent_id": id}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "destroy_agent", Category: "debug", IsAsync: false,
		Doc: "Tear down an agent and discard any in-flight activity records.",
		Params: []agentrt.ParamSpec{{Name: "agent_id", Type: "int", Required: true}},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		if err := rt.DestroyAgent(toInt64(params["agent_id"])); err != nil {
			return nil, err
		}
		return map[string]any{"destroyed": true}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "walk_to", Category: "movement", IsAsync: true,
		Doc: "Walk the agent's character to a target position or entity.",
		Params: []agentrt.ParamSpec{
			{Name: "x", Type: "float", Required: true},
			{Name: "y", Type: "float", Required: true},
			{Name: "target_radius", Type: "float", Required: false, Default: 0.0},
			{Name: "strict_goal", Type: "bool", Required: false, Default: false},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		target := worldmodel.Position{X: toFloat(params["x"]), Y: toFloat(params["y"])}
		p := activity.WalkParams{
			Target:       target,
			GoalEntity:   &target,
			TargetRadius: toFloat(params["target_radius"]),
			StrictGoal:   params["strict_goal"].(bool),
		}
		if err := agent.StartWalking(ctx, actionID, rt.CurrentTick(), p); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "stop_walking", Category: "movement", IsAsync: false,
		Doc: "Cancel the agent's in-flight walk, if any.",
		Params: []agentrt.ParamSpec{},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		if err := agent.StopWalking(ctx); err != nil && err != agcore.ErrNotQueued {
			return nil, err
		}
		return map[string]any{"stopped": true}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "begin_mining", Category: "mining", IsAsync: true,
		Doc: "Begin mining a resource, tree, or rock at a position, or the nearest one of entity_name within default_radius when has_position is false.",
		Params: []agentrt.ParamSpec{
			{Name: "entity_name", Type: "string", Required: true},
			{Name: "x", Type: "float", Required: false, Default: 0.0},
			{Name: "y", Type: "float", Required: false, Default: 0.0},
			{Name: "has_position", Type: "bool", Required: false, Default: true},
			{Name: "default_radius", Type: "float", Required: false, Default: 10.0},
			{Name: "target_count", Type: "int", Required: false, Default: 1},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		entName := params["entity_name"].(string)
		ent, ok := rt.Prototype.Entity(entName)
		if !ok {
			return nil, agcore.NewRuntimeError("begin_mining", "EntityInvalid", agcore.ErrEntityInvalid).WithID(entName)
		}
		pos, err := resolveTargetPosition(ctx, rt, agent, entName, params)
		if err != nil {
			return nil, err
		}
		p := activity.MiningParams{
			EntityName:  entName,
			Position:    pos,
			TargetCount: int(toFloat(params["target_count"])),
			Recipe:      ent,
		}
		if err := agent.StartMining(ctx, actionID, rt.CurrentTick(), p); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "stop_mining", Category: "mining", IsAsync: false,
		Doc: "Cancel the agent's in-flight mining, if any.",
		Params: []agentrt.ParamSpec{},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		if err := agent.StopMining(ctx, "cancelled"); err != nil && err != agcore.ErrNotQueued {
			return nil, err
		}
		return map[string]any{"stopped": true}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "begin_crafting", Category: "crafting", IsAsync: true,
		Doc: "Start crafting a recipe count times.",
		Params: []agentrt.ParamSpec{
			{Name: "recipe", Type: "string", Required: true},
			{Name: "count", Type: "int", Required: false, Default: 1},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		recipeName := params["recipe"].(string)
		recipe, ok := rt.Prototype.Recipe(recipeName)
		if !ok {
			return nil, agcore.NewRuntimeError("begin_crafting", "RecipeUnavailable", agcore.ErrRecipeUnavailable).WithID(recipeName)
		}
		estimatedTicks, err := agent.StartCrafting(ctx, actionID, rt.CurrentTick(), activity.CraftingParams{
			Recipe: recipe, Count: int(toFloat(params["count"])),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"estimated_ticks": estimatedTicks}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "craft_dequeue", Category: "crafting", IsAsync: false,
		Doc: "Cancel up to count queued crafts of the agent's current recipe.",
		Params: []agentrt.ParamSpec{{Name: "count", Type: "int", Required: false, Default: 1}},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		n, err := agent.CraftDequeue(ctx, int(toFloat(params["count"])))
		if err != nil {
			return nil, err
		}
		return map[string]any{"cancelled": n}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "place_entity", Category: "placement", IsAsync: false,
		Doc: "Place an entity (or ghost) at a position.",
		Params: []agentrt.ParamSpec{
			{Name: "entity_name", Type: "string", Required: true},
			{Name: "x", Type: "float", Required: true},
			{Name: "y", Type: "float", Required: true},
			{Name: "is_ghost", Type: "bool", Required: false, Default: false},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		return agentrt.PlaceEntity(ctx, agent, world, agentrt.PlaceParams{
			EntityName: params["entity_name"].(string),
			Position:   worldmodel.Position{X: toFloat(params["x"]), Y: toFloat(params["y"])},
			IsGhost:    params["is_ghost"].(bool),
		})
	})

	registry.Register(agentrt.ActionSpec{
		Name: "destroy_entity", Category: "placement", IsAsync: false,
		Doc: "Destroy an entity at a position, or the nearest one of entity_name within default_radius when has_position is false.",
		Params: []agentrt.ParamSpec{
			{Name: "entity_name", Type: "string", Required: true},
			{Name: "x", Type: "float", Required: false, Default: 0.0},
			{Name: "y", Type: "float", Required: false, Default: 0.0},
			{Name: "has_position", Type: "bool", Required: false, Default: true},
			{Name: "default_radius", Type: "float", Required: false, Default: 10.0},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		entName := params["entity_name"].(string)
		pos, err := resolveTargetPosition(ctx, rt, agent, entName, params)
		if err != nil {
			return nil, err
		}
		return agentrt.DestroyEntity(ctx, agent, world, agentrt.DestroyParams{
			EntityName: entName,
			Position:   pos,
		})
	})

	registry.Register(agentrt.ActionSpec{
		Name: "transfer_item", Category: "inventory", IsAsync: false,
		Doc: "Transfer count of item between two positions, with full rollback on partial failure.",
		Params: []agentrt.ParamSpec{
			{Name: "from_x", Type: "float", Required: true},
			{Name: "from_y", Type: "float", Required: true},
			{Name: "to_x", Type: "float", Required: true},
			{Name: "to_y", Type: "float", Required: true},
			{Name: "item", Type: "string", Required: true},
			{Name: "count", Type: "int", Required: true},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		return agentrt.TransferItem(ctx, agent, world, agentrt.TransferParams{
			From:  worldmodel.Position{X: toFloat(params["from_x"]), Y: toFloat(params["from_y"])},
			To:    worldmodel.Position{X: toFloat(params["to_x"]), Y: toFloat(params["to_y"])},
			Item:  params["item"].(string),
			Count: int(toFloat(params["count"])),
		})
	})

	registry.Register(agentrt.ActionSpec{
		Name: "get_placement_cues", Category: "placement", IsAsync: false,
		Doc: "Sweep a chunk grid around the agent for valid placement positions, optionally constrained by a required resource tag or adjacent water.",
		Params: []agentrt.ParamSpec{
			{Name: "entity_name", Type: "string", Required: true},
			{Name: "chunk_size", Type: "float", Required: false, Default: 32.0},
			{Name: "requires_resource_tag", Type: "string", Required: false, Default: ""},
			{Name: "requires_water", Type: "bool", Required: false, Default: false},
		},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		cues, err := agentrt.GetPlacementCues(ctx, agent, world, agent.Reach, rt.CurrentTick(), agentrt.PlacementCueParams{
			EntityName:          params["entity_name"].(string),
			ChunkSize:           toFloat(params["chunk_size"]),
			RequiresResourceTag: params["requires_resource_tag"].(string),
			RequiresWater:       params["requires_water"].(bool),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"positions": cues.Positions, "reachable_positions": cues.ReachablePositions}, nil
	})

	registry.Register(agentrt.ActionSpec{
		Name: "query_reachable", Category: "query", IsAsync: false,
		Doc: "Return a full reachability snapshot around the agent.",
		Params: []agentrt.ParamSpec{{Name: "exclude_ghosts", Type: "bool", Required: false, Default: false}},
	}, func(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, actionID string, params map[string]any) (map[string]any, error) {
		pos, err := agent.Character.Position(ctx)
		if err != nil {
			return nil, fmt.Errorf("query_reachable: %w", err)
		}
		snap, err := agent.Reach.FullSnapshot(ctx, pos, rt.CurrentTick(), params["exclude_ghosts"].(bool))
		if err != nil {
			return nil, err
		}
		return map[string]any{"entities": snap.Entities, "resources": snap.Resources}, nil
	})
}

// resolveTargetPosition implements spec.md §4.5's target resolution: by
// exact x/y when has_position is true or absent (the default), or by
// nearest-of-name within default_radius when has_position is false. Omitted
// x/y alone do not select the nearest-of-name path.
func resolveTargetPosition(ctx context.Context, rt *agentrt.Runtime, agent *agentrt.Agent, entityName string, params map[string]any) (worldmodel.Position, error) {
	if hasPos, ok := params["has_position"].(bool); !ok || hasPos {
		return worldmodel.Position{X: toFloat(params["x"]), Y: toFloat(params["y"])}, nil
	}
	center, err := agent.Character.Position(ctx)
	if err != nil {
		return worldmodel.Position{}, fmt.Errorf("resolve target position: %w", err)
	}
	radius := toFloat(params["default_radius"])
	match, found, err := agent.Reach.NearestEntity(ctx, reach.Position{X: center.X, Y: center.Y}, rt.CurrentTick(), entityName, radius)
	if err != nil {
		return worldmodel.Position{}, err
	}
	if !found {
		return worldmodel.Position{}, agcore.NewRuntimeError("resolve_target", "EntityInvalid", agcore.ErrEntityInvalid).WithID(entityName)
	}
	return worldmodel.Position{X: match.Position.X, Y: match.Position.Y}, nil
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

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
