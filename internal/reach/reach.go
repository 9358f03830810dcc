// Package reach implements the reachability cache and snapshot service from
// spec.md §4.6: a cached, position-keyed set of entities/resources within an
// agent's reach, invalidated on movement or world-mutation events, and two
// query shapes (cheap keys-only membership, and a richer full snapshot).
package reach

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Position is a 2D world coordinate.
type Position struct {
	X, Y float64
}

// Key canonicalizes a position to one decimal of precision, per spec.md
// GLOSSARY "Position key".
func Key(p Position) string {
	return fmt.Sprintf("%.1f,%.1f", p.X, p.Y)
}

func dist(a, b Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// EntitySnapshot is the rich serialization of one reachable entity (spec.md
// §4.6 "Full snapshot").
type EntitySnapshot struct {
	Name       string         `json:"name"`
	Position   Position       `json:"position"`
	Status     string         `json:"status"`
	Recipe     string         `json:"recipe,omitempty"`
	Inventory  map[string]int `json:"inventory,omitempty"`
	HeldItem   string         `json:"held_item,omitempty"`
	FuelCount  int            `json:"fuel_count,omitempty"`
	IsGhost    bool           `json:"is_ghost"`
}

// ResourceSnapshot is the rich serialization of one reachable resource.
type ResourceSnapshot struct {
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Amount   int      `json:"amount"`
	Products []string `json:"products,omitempty"`
}

// WorldView is the subset of the simulation the reachability sweep needs:
// listing entities/resources within a radius of a position. The runtime
// supplies an implementation backed by the RCON command channel; tests
// supply an in-memory fake. This keeps the sweep's control flow
// (spec.md §4.6 "Recomputation sweep") independent of the transport.
type WorldView interface {
	EntitiesNear(ctx context.Context, center Position, radius float64) ([]EntitySnapshot, error)
	ResourcesNear(ctx context.Context, center Position, radius float64) ([]ResourceSnapshot, error)
}

// Cache is one agent's reachability cache (spec.md §3 "Agent": `{entities,
// resources, last_tick, dirty}`).
type Cache struct {
	mu        sync.RWMutex
	entities  map[string]EntitySnapshot
	resources map[string]ResourceSnapshot
	lastTick  int64
	dirty     bool

	lastPosition      Position
	dirtyMoveThreshold float64
	world             WorldView
	reachDistance     float64
	resourceReach     float64
}

// NewCache builds an empty, dirty cache — invariant 5 (spec.md §3) requires
// a recompute before the first query.
func NewCache(world WorldView, reachDistance, resourceReachDistance, dirtyMoveThreshold float64) *Cache {
	return &Cache{
		entities:           make(map[string]EntitySnapshot),
		resources:          make(map[string]ResourceSnapshot),
		dirty:              true,
		world:              world,
		reachDistance:      reachDistance,
		resourceReach:      resourceReachDistance,
		dirtyMoveThreshold: dirtyMoveThreshold,
	}
}

// MarkDirty invalidates the cache. Called on agent movement past the
// configured threshold, on simulation build/destroy events in the vicinity,
// or when an activity mutates a reachable entity (spec.md §4.6).
func (c *Cache) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
}

// NotePosition marks the cache dirty if the agent moved past the configured
// threshold since the last recompute.
func (c *Cache) NotePosition(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dist(p, c.lastPosition) >= c.dirtyMoveThreshold {
		c.dirty = true
	}
	c.lastPosition = p
}

// IsDirty reports the current dirty flag.
func (c *Cache) IsDirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// Recompute sweeps the world in two concentric disks — resourceReach for
// resources, reachDistance for everything else — and replaces the cached
// sets. Must be called before any query reads a dirty cache (invariant 5).
func (c *Cache) Recompute(ctx context.Context, center Position, tick int64) error {
	entities, err := c.world.EntitiesNear(ctx, center, c.reachDistance)
	if err != nil {
		return fmt.Errorf("reach: entities sweep: %w", err)
	}
	resources, err := c.world.ResourcesNear(ctx, center, c.resourceReach)
	if err != nil {
		return fmt.Errorf("reach: resources sweep: %w", err)
	}

	entMap := make(map[string]EntitySnapshot, len(entities))
	for _, e := range entities {
		entMap[Key(e.Position)] = e
	}
	resMap := make(map[string]ResourceSnapshot, len(resources))
	for _, r := range resources {
		resMap[Key(r.Position)] = r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = entMap
	c.resources = resMap
	c.lastTick = tick
	c.lastPosition = center
	c.dirty = false
	return nil
}

// ensureFresh recomputes if dirty. Callers hold no lock across this call.
func (c *Cache) ensureFresh(ctx context.Context, center Position, tick int64) error {
	if !c.IsDirty() {
		return nil
	}
	return c.Recompute(ctx, center, tick)
}

// HasEntityKey is the cheap keys-only membership query (spec.md §4.6
// "Keys-only"), used by validation paths (reach checks).
func (c *Cache) HasEntityKey(ctx context.Context, center Position, tick int64, p Position) (bool, error) {
	if err := c.ensureFresh(ctx, center, tick); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entities[Key(p)]
	return ok, nil
}

// HasResourceKey is the cheap keys-only membership query for resources.
func (c *Cache) HasResourceKey(ctx context.Context, center Position, tick int64, p Position) (bool, error) {
	if err := c.ensureFresh(ctx, center, tick); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.resources[Key(p)]
	return ok, nil
}

// Snapshot is the full, rich query result (spec.md §4.6 "Full snapshot").
type Snapshot struct {
	Entities  []EntitySnapshot   `json:"entities"`
	Resources []ResourceSnapshot `json:"resources"`
}

// FullSnapshot returns a deterministically ordered rich snapshot of every
// reachable entity and resource. Ghosts are included unless excludeGhosts
// is set (spec.md §4.6: "Ghosts are included by default and can be excluded
// by flag").
func (c *Cache) FullSnapshot(ctx context.Context, center Position, tick int64, excludeGhosts bool) (Snapshot, error) {
	if err := c.ensureFresh(ctx, center, tick); err != nil {
		return Snapshot{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Snapshot{}
	for _, e := range c.entities {
		if excludeGhosts && e.IsGhost {
			continue
		}
		out.Entities = append(out.Entities, e)
	}
	for _, r := range c.resources {
		out.Resources = append(out.Resources, r)
	}
	sort.Slice(out.Entities, func(i, j int) bool { return Key(out.Entities[i].Position) < Key(out.Entities[j].Position) })
	sort.Slice(out.Resources, func(i, j int) bool { return Key(out.Resources[i].Position) < Key(out.Resources[j].Position) })
	return out, nil
}

// NearestEntity finds the closest indexed entity of the given name within
// radius of center; used by placement's "nearest-of-name" resolution
// (spec.md §4.5). Returns ok=false if none found.
func (c *Cache) NearestEntity(ctx context.Context, center Position, tick int64, name string, radius float64) (EntitySnapshot, bool, error) {
	if err := c.ensureFresh(ctx, center, tick); err != nil {
		return EntitySnapshot{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	best, bestDist, found := EntitySnapshot{}, math.MaxFloat64, false
	for _, e := range c.entities {
		if e.Name != name {
			continue
		}
		d := dist(center, e.Position)
		if d > radius {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = e, d, true
		}
	}
	return best, found, nil
}
