// Package worldmodel defines the narrow interface the state machines in
// package activity need onto an agent's embodied character. The character
// is owned by the simulation (spec.md §9 "Cyclic references"); the agent
// holds only this opaque, revalidatable handle. Production code backs it
// with RCON commands to the simulation; tests back it with an in-memory
// fake (see fake.go).
package worldmodel

import (
	"context"

	"github.com/hrshtt/factorio-agent-runtime/internal/reach"
)

// Position re-exports reach.Position so every package in the domain shares
// one coordinate type.
type Position = reach.Position

// PathRequest identifies one in-flight pathfinder request.
type PathRequest string

// Character is the simulation-facing actor a state machine drives. All
// methods may fail if the underlying entity has become invalid — callers
// treat such failures as EntityInvalid.
type Character interface {
	// Position returns the character's current world position.
	Position(ctx context.Context) (Position, error)

	// Valid reports whether the underlying simulation entity still exists.
	Valid(ctx context.Context) (bool, error)

	ReachDistance() float64
	ResourceReachDistance() float64
	HalfSize() float64
	Team() string

	// SetWalkingState asserts or clears the character's walking animation
	// state (spec.md §4.2 step 4).
	SetWalkingState(ctx context.Context, walking bool, direction int) error

	// ChartView triggers a view-chart update around the character
	// (spec.md §4.2 step 4, §3 "charted chunk coordinates").
	ChartView(ctx context.Context) error

	// RequestPath issues one pathfinder request (spec.md §4.2
	// "Pathfinding"). entityToIgnore is always the character itself.
	RequestPath(ctx context.Context, from, to Position) (PathRequest, error)

	// PollPath returns the resolved waypoints once the pathfinder callback
	// has fired; ready=false means still pending.
	PollPath(ctx context.Context, req PathRequest) (waypoints []Position, ready bool, err error)

	// InventoryCount returns the current count of one item.
	InventoryCount(ctx context.Context, item string) (int, error)

	// InventorySnapshot returns counts for a specific set of items, used to
	// snapshot stochastic-mining and crafting starting state.
	InventorySnapshot(ctx context.Context, items []string) (map[string]int, error)

	// AddInventory credits count units of item (mining/crafting products).
	AddInventory(ctx context.Context, item string, count int) error

	// RemoveInventory debits up to count units of item, returning how many
	// were actually removed (placement consumption, partial-transfer
	// rollback).
	RemoveInventory(ctx context.Context, item string, count int) (int, error)

	// MiningProgress returns character_mining_progress, a value in [0, 1]
	// that resets on each completed mining cycle (spec.md §4.3).
	MiningProgress(ctx context.Context) (float64, error)

	// SetMiningState asserts or clears character.mining_state.
	SetMiningState(ctx context.Context, mining bool, pos *Position) error

	// UpdateSelectedEntity sets character.selected to the entity at pos
	// (or clears it if pos is nil).
	UpdateSelectedEntity(ctx context.Context, pos *Position) error

	// SelectedValid reports whether character.selected still points at a
	// valid entity (used by depletion detection, spec.md §4.3).
	SelectedValid(ctx context.Context) (bool, error)

	// CraftingQueueSize returns the current length of the crafting queue.
	CraftingQueueSize(ctx context.Context) (int, error)

	// CraftingQueueProgress returns the in-progress fraction [0, 1] of the
	// head-of-queue recipe.
	CraftingQueueProgress(ctx context.Context) (float64, error)

	// CraftBegin enqueues up to count crafts of recipe, returning how many
	// were actually started (bounded by craftable-count from inventory).
	CraftBegin(ctx context.Context, recipe string, count int) (int, error)

	// CraftCancel cancels up to count queued (non-prerequisite) crafts of
	// recipe, returning how many were actually cancelled.
	CraftCancel(ctx context.Context, recipe string, count int) (int, error)

	// EffectiveMiningSpeed returns the character's current mining speed
	// multiplier, used to compute the incremental completion threshold.
	EffectiveMiningSpeed(ctx context.Context) (float64, error)

	// CraftingSpeed returns the character's effective crafting speed
	// multiplier (base_speed * (1 + team_modifier + character_modifier)).
	CraftingSpeed(ctx context.Context) (float64, error)
}
