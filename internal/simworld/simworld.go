// Package simworld adapts the RCON command channel to the domain-facing
// interfaces worldmodel.Character, reach.WorldView, and agentrt.PlacementWorld
// expect. Every method issues one Factorio console command of the form
// `/silent-command remote.call("agent_runtime", "<op>", ...)` and decodes a
// single-line JSON response — the same "one command, one JSON reply"
// convention the teacher's RCON-adjacent tooling uses for structured
// command results.
package simworld

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hrshtt/factorio-agent-runtime/internal/rcon"
	"github.com/hrshtt/factorio-agent-runtime/internal/reach"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// World wraps an rcon.Client with the remote-interface name the in-game mod
// registers its callable surface under.
type World struct {
	client       *rcon.Client
	remoteIface  string
}

// New builds a World bound to a connected RCON client.
func New(client *rcon.Client, remoteInterface string) *World {
	if remoteInterface == "" {
		remoteInterface = "agent_runtime"
	}
	return &World{client: client, remoteIface: remoteInterface}
}

// call issues remote.call(remoteIface, op, argsJSON) and decodes the
// response body as JSON into out. out may be nil when the call has no
// meaningful return value.
func (w *World) call(ctx context.Context, op string, args any, out any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("simworld: marshal args for %s: %w", op, err)
	}
	cmd := fmt.Sprintf(`/silent-command rcon.print(helpers.table_to_json(remote.call("%s", "%s", helpers.json_to_table('%s'))))`,
		w.remoteIface, op, string(argsJSON))

	resp, err := w.client.Command(ctx, cmd)
	if err != nil {
		return fmt.Errorf("simworld: %s: %w", op, err)
	}
	if out == nil || resp == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(resp), out); err != nil {
		return fmt.Errorf("simworld: %s: decode response: %w", op, err)
	}
	return nil
}

// Character adapts one agent's embodied character to worldmodel.Character
// over the shared World RCON channel.
type Character struct {
	world     *World
	agentID   int64
	reach     float64
	resReach  float64
	halfSize  float64
	team      string
}

// NewCharacter builds a Character handle for agentID, with the reach
// distances and half-size resolved once at registration time (they are
// static per team/force in the simulation).
func NewCharacter(world *World, agentID int64, reach, resourceReach, halfSize float64, team string) *Character {
	return &Character{world: world, agentID: agentID, reach: reach, resReach: resourceReach, halfSize: halfSize, team: team}
}

func (c *Character) ReachDistance() float64         { return c.reach }
func (c *Character) ResourceReachDistance() float64 { return c.resReach }
func (c *Character) HalfSize() float64              { return c.halfSize }
func (c *Character) Team() string                   { return c.team }

func (c *Character) Position(ctx context.Context) (worldmodel.Position, error) {
	var out struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := c.world.call(ctx, "character_position", map[string]any{"agent_id": c.agentID}, &out); err != nil {
		return worldmodel.Position{}, err
	}
	return worldmodel.Position{X: out.X, Y: out.Y}, nil
}

func (c *Character) Valid(ctx context.Context) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.world.call(ctx, "character_valid", map[string]any{"agent_id": c.agentID}, &out)
	return out.Valid, err
}

func (c *Character) SetWalkingState(ctx context.Context, walking bool, direction int) error {
	return c.world.call(ctx, "set_walking_state", map[string]any{"agent_id": c.agentID, "walking": walking, "direction": direction}, nil)
}

func (c *Character) ChartView(ctx context.Context) error {
	return c.world.call(ctx, "chart_view", map[string]any{"agent_id": c.agentID}, nil)
}

func (c *Character) RequestPath(ctx context.Context, from, to worldmodel.Position) (worldmodel.PathRequest, error) {
	var out struct {
		RequestID string `json:"request_id"`
	}
	args := map[string]any{"agent_id": c.agentID, "from": from, "to": to}
	if err := c.world.call(ctx, "request_path", args, &out); err != nil {
		return "", err
	}
	return worldmodel.PathRequest(out.RequestID), nil
}

func (c *Character) PollPath(ctx context.Context, req worldmodel.PathRequest) ([]worldmodel.Position, bool, error) {
	var out struct {
		Ready     bool                  `json:"ready"`
		Waypoints []worldmodel.Position `json:"waypoints"`
	}
	if err := c.world.call(ctx, "poll_path", map[string]any{"request_id": string(req)}, &out); err != nil {
		return nil, false, err
	}
	return out.Waypoints, out.Ready, nil
}

func (c *Character) InventoryCount(ctx context.Context, item string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.world.call(ctx, "inventory_count", map[string]any{"agent_id": c.agentID, "item": item}, &out)
	return out.Count, err
}

func (c *Character) InventorySnapshot(ctx context.Context, items []string) (map[string]int, error) {
	var out struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.world.call(ctx, "inventory_snapshot", map[string]any{"agent_id": c.agentID, "items": items}, &out)
	return out.Counts, err
}

func (c *Character) AddInventory(ctx context.Context, item string, count int) error {
	return c.world.call(ctx, "inventory_add", map[string]any{"agent_id": c.agentID, "item": item, "count": count}, nil)
}

func (c *Character) RemoveInventory(ctx context.Context, item string, count int) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.world.call(ctx, "inventory_remove", map[string]any{"agent_id": c.agentID, "item": item, "count": count}, &out)
	return out.Removed, err
}

func (c *Character) MiningProgress(ctx context.Context) (float64, error) {
	var out struct {
		Progress float64 `json:"progress"`
	}
	err := c.world.call(ctx, "mining_progress", map[string]any{"agent_id": c.agentID}, &out)
	return out.Progress, err
}

func (c *Character) SetMiningState(ctx context.Context, mining bool, pos *worldmodel.Position) error {
	return c.world.call(ctx, "set_mining_state", map[string]any{"agent_id": c.agentID, "mining": mining, "position": pos}, nil)
}

func (c *Character) UpdateSelectedEntity(ctx context.Context, pos *worldmodel.Position) error {
	return c.world.call(ctx, "update_selected_entity", map[string]any{"agent_id": c.agentID, "position": pos}, nil)
}

func (c *Character) SelectedValid(ctx context.Context) (bool, error) {
	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.world.call(ctx, "selected_valid", map[string]any{"agent_id": c.agentID}, &out)
	return out.Valid, err
}

func (c *Character) CraftingQueueSize(ctx context.Context) (int, error) {
	var out struct {
		Size int `json:"size"`
	}
	err := c.world.call(ctx, "crafting_queue_size", map[string]any{"agent_id": c.agentID}, &out)
	return out.Size, err
}

func (c *Character) CraftingQueueProgress(ctx context.Context) (float64, error) {
	var out struct {
		Progress float64 `json:"progress"`
	}
	err := c.world.call(ctx, "crafting_queue_progress", map[string]any{"agent_id": c.agentID}, &out)
	return out.Progress, err
}

func (c *Character) CraftBegin(ctx context.Context, recipe string, count int) (int, error) {
	var out struct {
		Started int `json:"started"`
	}
	err := c.world.call(ctx, "craft_begin", map[string]any{"agent_id": c.agentID, "recipe": recipe, "count": count}, &out)
	return out.Started, err
}

func (c *Character) CraftCancel(ctx context.Context, recipe string, count int) (int, error) {
	var out struct {
		Cancelled int `json:"cancelled"`
	}
	err := c.world.call(ctx, "craft_cancel", map[string]any{"agent_id": c.agentID, "recipe": recipe, "count": count}, &out)
	return out.Cancelled, err
}

func (c *Character) EffectiveMiningSpeed(ctx context.Context) (float64, error) {
	var out struct {
		Speed float64 `json:"speed"`
	}
	err := c.world.call(ctx, "effective_mining_speed", map[string]any{"agent_id": c.agentID}, &out)
	return out.Speed, err
}

func (c *Character) CraftingSpeed(ctx context.Context) (float64, error) {
	var out struct {
		Speed float64 `json:"speed"`
	}
	err := c.world.call(ctx, "crafting_speed", map[string]any{"agent_id": c.agentID}, &out)
	return out.Speed, err
}

// EntitiesNear and ResourcesNear implement reach.WorldView over RCON.
func (w *World) EntitiesNear(ctx context.Context, center worldmodel.Position, radius float64) ([]reach.EntitySnapshot, error) {
	var out struct {
		Entities []reach.EntitySnapshot `json:"entities"`
	}
	err := w.call(ctx, "entities_near", map[string]any{"center": center, "radius": radius}, &out)
	return out.Entities, err
}

func (w *World) ResourcesNear(ctx context.Context, center worldmodel.Position, radius float64) ([]reach.ResourceSnapshot, error) {
	var out struct {
		Resources []reach.ResourceSnapshot `json:"resources"`
	}
	err := w.call(ctx, "resources_near", map[string]any{"center": center, "radius": radius}, &out)
	return out.Resources, err
}

// CreateEntity, DestroyEntity, TransferItem, TileHasResource, and
// TileHasWater implement agentrt.PlacementWorld over RCON.
func (w *World) CreateEntity(ctx context.Context, name string, pos worldmodel.Position, ghost bool) error {
	return w.call(ctx, "create_entity", map[string]any{"name": name, "position": pos, "ghost": ghost}, nil)
}

func (w *World) DestroyEntity(ctx context.Context, name string, pos worldmodel.Position) error {
	return w.call(ctx, "destroy_entity", map[string]any{"name": name, "position": pos}, nil)
}

func (w *World) TransferItem(ctx context.Context, from, to worldmodel.Position, item string, count int) (int, error) {
	var out struct {
		Moved int `json:"moved"`
	}
	err := w.call(ctx, "transfer_item", map[string]any{"from": from, "to": to, "item": item, "count": count}, &out)
	return out.Moved, err
}

func (w *World) TileHasResource(ctx context.Context, pos worldmodel.Position, resourceTag string) (bool, error) {
	var out struct {
		Has bool `json:"has"`
	}
	err := w.call(ctx, "tile_has_resource", map[string]any{"position": pos, "resource_tag": resourceTag}, &out)
	return out.Has, err
}

func (w *World) TileHasWater(ctx context.Context, pos worldmodel.Position) (bool, error) {
	var out struct {
		Has bool `json:"has"`
	}
	err := w.call(ctx, "tile_has_water", map[string]any{"position": pos}, &out)
	return out.Has, err
}
