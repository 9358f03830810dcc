// Package prototype holds the immutable recipe/entity/technology lookup
// tables described in spec.md §3 "Prototype Table". It is populated once at
// startup from an embedded YAML document (ported from the teacher's
// gopkg.in/yaml.v3 config-loading convention) and never mutated afterward;
// every read is safe for concurrent use without locking.
package prototype

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data.yaml
var embeddedData []byte

// Ingredient is one recipe input or output: an item name and a count.
type Ingredient struct {
	Name   string `yaml:"name"`
	Amount int    `yaml:"amount"`
}

// Recipe describes how to turn ingredients into products.
type Recipe struct {
	Name           string       `yaml:"name"`
	Category       string       `yaml:"category"`
	EnergySeconds  float64      `yaml:"energy_seconds"`
	Ingredients    []Ingredient `yaml:"ingredients"`
	Products       []Ingredient `yaml:"products"`
	HandCraftable  bool         `yaml:"hand_craftable"`
	RequiresFluid  bool         `yaml:"requires_fluid"`
}

// CollisionBox is an axis-aligned footprint in tiles, centered on the
// entity's position.
type CollisionBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Entity describes a placeable/mineable prototype: footprint, mining time,
// reach contribution, inventory size.
type Entity struct {
	Name                string       `yaml:"name"`
	TileWidth           float64      `yaml:"tile_width"`
	TileHeight          float64      `yaml:"tile_height"`
	Collision           CollisionBox `yaml:"-"`
	MiningTimeSeconds   float64      `yaml:"mining_time_seconds"`
	MinedProducts       []Ingredient `yaml:"mined_products"`
	Stochastic          bool         `yaml:"stochastic"`
	IsResource          bool         `yaml:"is_resource"`
	IsDepleteOnMine     bool         `yaml:"is_deplete_on_mine"`
	ReachContribution   float64      `yaml:"reach_contribution"`
	InventorySlots      int          `yaml:"inventory_slots"`
	RequiresWater       bool         `yaml:"requires_water"`
	RequiresResourceTag string       `yaml:"requires_resource_tag"`
}

// Technology describes a research item.
type Technology struct {
	Name          string   `yaml:"name"`
	Prerequisites []string `yaml:"prerequisites"`
	UnitCost      int      `yaml:"unit_cost"`
	DurationSec   float64  `yaml:"duration_seconds"`
	Effects       []string `yaml:"effects"`
}

// document is the YAML root shape.
type document struct {
	Recipes      []Recipe     `yaml:"recipes"`
	Entities     []Entity     `yaml:"entities"`
	Technologies []Technology `yaml:"technologies"`
}

// Table is the immutable, process-wide lookup the runtime consults. Built
// once by Load and never mutated.
type Table struct {
	recipes      map[string]Recipe
	entities     map[string]Entity
	technologies map[string]Technology
}

// Load parses the embedded prototype document. SPEC_FULL.md §C.5: the
// runtime refuses to start if this fails, or if any recipe names a category
// absent from knownCategories.
func Load() (*Table, error) {
	return LoadBytes(embeddedData)
}

// LoadBytes parses a caller-supplied document, used by tests and by
// deployments that override the built-in prototype set.
func LoadBytes(raw []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("prototype: parse: %w", err)
	}

	t := &Table{
		recipes:      make(map[string]Recipe, len(doc.Recipes)),
		entities:     make(map[string]Entity, len(doc.Entities)),
		technologies: make(map[string]Technology, len(doc.Technologies)),
	}

	knownCategories := map[string]bool{"crafting": true, "smelting": true, "chemistry": true}
	for _, r := range doc.Recipes {
		if r.Category != "" && !knownCategories[r.Category] {
			return nil, fmt.Errorf("prototype: recipe %q has unregistered category %q", r.Name, r.Category)
		}
		t.recipes[r.Name] = r
	}
	for _, e := range doc.Entities {
		e.Collision = CollisionBox{
			MinX: -e.TileWidth / 2, MaxX: e.TileWidth / 2,
			MinY: -e.TileHeight / 2, MaxY: e.TileHeight / 2,
		}
		t.entities[e.Name] = e
	}
	for _, tech := range doc.Technologies {
		t.technologies[tech.Name] = tech
	}
	return t, nil
}

// Recipe looks up a recipe by name.
func (t *Table) Recipe(name string) (Recipe, bool) {
	r, ok := t.recipes[name]
	return r, ok
}

// Entity looks up an entity prototype by name.
func (t *Table) Entity(name string) (Entity, bool) {
	e, ok := t.entities[name]
	return e, ok
}

// Technology looks up a technology by name.
func (t *Table) Technology(name string) (Technology, bool) {
	tech, ok := t.technologies[name]
	return tech, ok
}

// CompletionThreshold computes the incremental-mining cycle-edge threshold
// from spec.md §4.3: 1 − (effective_mining_speed / (mining_time × 60)) − ε.
func CompletionThreshold(miningTimeSeconds, effectiveMiningSpeed float64) float64 {
	const epsilon = 0.0001
	if miningTimeSeconds <= 0 {
		return 0
	}
	return 1 - (effectiveMiningSpeed / (miningTimeSeconds * 60)) - epsilon
}
