package activity

import (
	"context"
	"fmt"
	"math"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/notify"
	"github.com/hrshtt/factorio-agent-runtime/internal/prototype"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// CraftingParams are the validated parameters of a begin_crafting request.
type CraftingParams struct {
	Recipe        prototype.Recipe
	Count         int
	TeamModifier  float64
	CharModifier  float64
}

// Crafting is one agent's in-flight crafting activity record (spec.md
// §4.4).
type Crafting struct {
	actionID  string
	agentID   int64
	startTick int64

	character worldmodel.Character

	recipe         prototype.Recipe
	countQueued    int
	countCancelled int
	startQueueSize int

	startProductCounts map[string]int

	cancelArmed  bool
	cancelled    bool
}

// StartCrafting validates craftable count from inventory, starts at most
// min(count, craftable) recipes, and snapshots starting state (spec.md
// §4.4 "Start").
func StartCrafting(ctx context.Context, actionID string, agentID, tick int64, character worldmodel.Character, p CraftingParams) (*Crafting, int, error) {
	if p.Recipe.RequiresFluid && !p.Recipe.HandCraftable {
		return nil, 0, agcore.NewRuntimeError("begin_crafting", "RecipeUnavailable", agcore.ErrRecipeUnavailable)
	}

	craftable := maxCraftable(ctx, character, p.Recipe, p.Count)
	startCount := p.Count
	if craftable < startCount {
		startCount = craftable
	}
	if startCount <= 0 {
		return nil, 0, agcore.NewRuntimeError("begin_crafting", "InsufficientInventory", agcore.ErrInsufficientInventory)
	}

	productNames := make([]string, 0, len(p.Recipe.Products))
	for _, prod := range p.Recipe.Products {
		productNames = append(productNames, prod.Name)
	}
	snap, err := character.InventorySnapshot(ctx, productNames)
	if err != nil {
		return nil, 0, fmt.Errorf("activity: crafting inventory snapshot: %w", err)
	}

	queued, err := character.CraftBegin(ctx, p.Recipe.Name, startCount)
	if err != nil {
		return nil, 0, fmt.Errorf("activity: craft begin: %w", err)
	}

	qsize, err := character.CraftingQueueSize(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("activity: crafting queue size: %w", err)
	}

	c := &Crafting{
		actionID:           actionID,
		agentID:            agentID,
		startTick:          tick,
		character:          character,
		recipe:             p.Recipe,
		countQueued:        queued,
		startQueueSize:     qsize,
		startProductCounts: snap,
	}

	speed, err := character.CraftingSpeed(ctx)
	if err != nil {
		speed = 1.0
	}
	estimatedTicks := EstimateCraftTicks(p.Recipe.EnergySeconds, queued, speed)
	return c, estimatedTicks, nil
}

// EstimateCraftTicks implements spec.md §4.4's estimated_ticks formula:
// ceil(recipe.energy × count × 60 / effective_speed).
func EstimateCraftTicks(energySeconds float64, count int, effectiveSpeed float64) int {
	if effectiveSpeed <= 0 {
		effectiveSpeed = 1
	}
	return int(math.Ceil(energySeconds * float64(count) * 60 / effectiveSpeed))
}

// maxCraftable computes how many crafts of recipe the agent's inventory can
// support, bounded by the requested count.
func maxCraftable(ctx context.Context, character worldmodel.Character, recipe prototype.Recipe, requested int) int {
	max := requested
	for _, ing := range recipe.Ingredients {
		have, err := character.InventoryCount(ctx, ing.Name)
		if err != nil || ing.Amount <= 0 {
			continue
		}
		possible := have / ing.Amount
		if possible < max {
			max = possible
		}
	}
	if max < 0 {
		max = 0
	}
	return max
}

// Process advances the crafting record by one tick (spec.md §4.4
// "Progress").
func (c *Crafting) Process(ctx context.Context, tick int64) (Outcome, error) {
	cur, err := c.character.CraftingQueueSize(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("activity: crafting queue size: %w", err)
	}

	shrank := cur < c.startQueueSize
	drained := cur == 0
	if drained && !shrank {
		progress, err := c.character.CraftingQueueProgress(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("activity: crafting queue progress: %w", err)
		}
		drained = progress == 0 && c.startQueueSize > 0
	} else {
		drained = false
	}

	if !shrank && !drained {
		return Outcome{}, nil
	}

	return c.finalize(ctx)
}

// finalize computes actual_products = recipe.products × count_crafted where
// count_crafted = count_queued − count_cancelled (spec.md §4.4 "Product
// accounting").
func (c *Crafting) finalize(ctx context.Context) (Outcome, error) {
	countCrafted := c.countQueued - c.countCancelled
	if countCrafted < 0 {
		countCrafted = 0
	}

	products := map[string]int{}
	for _, prod := range c.recipe.Products {
		products[prod.Name] = prod.Amount * countCrafted
	}

	status := notify.StatusCompleted
	success := true
	if c.cancelled && countCrafted == 0 {
		status = notify.StatusCancelled
		success = false
	}

	return Outcome{
		Done:    true,
		Status:  status,
		Success: success,
		Result: map[string]any{
			"recipe":        c.recipe.Name,
			"count_crafted": countCrafted,
			"products":      products,
		},
	}, nil
}

// Cancel implements craft_dequeue(recipe, count?) (spec.md §4.4
// "Cancellation"). It locates the first non-prerequisite entry with the
// matching recipe and cancels by index, then arms completion: the actual
// completion message fires only once the queue has genuinely shrunk, which
// Process observes on its next call, guaranteeing exactly one completion
// even if a natural completion was already in flight.
func (c *Crafting) Cancel(ctx context.Context, count int) (int, error) {
	cancelled, err := c.character.CraftCancel(ctx, c.recipe.Name, count)
	if err != nil {
		return 0, fmt.Errorf("activity: craft cancel: %w", err)
	}
	c.countCancelled += cancelled
	c.cancelArmed = true
	c.cancelled = true
	return cancelled, nil
}

// ActionID returns the identifier this record was started with.
func (c *Crafting) ActionID() string { return c.actionID }
