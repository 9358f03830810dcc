package prototype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = `
recipes:
  - name: iron-gear-wheel
    category: crafting
    energy_seconds: 0.5
    ingredients:
      - {name: iron-plate, amount: 2}
    products:
      - {name: iron-gear-wheel, amount: 1}
    hand_craftable: true
  - name: plastic-bar
    category: chemistry
    energy_seconds: 1.0
    ingredients:
      - {name: coal, amount: 1}
      - {name: petroleum-gas, amount: 20}
    products:
      - {name: plastic-bar, amount: 2}
entities:
  - name: iron-ore
    tile_width: 1.0
    tile_height: 1.0
    mining_time_seconds: 1.0
    is_resource: true
    mined_products:
      - {name: iron-ore, amount: 1}
technologies:
  - name: automation
    unit_cost: 10
    duration_seconds: 30
    effects: [unlock-assembler]
`

func TestLoadBytes_ParsesRecipesEntitiesAndTechnologies(t *testing.T) {
	table, err := LoadBytes([]byte(testDoc))
	require.NoError(t, err)

	recipe, ok := table.Recipe("iron-gear-wheel")
	require.True(t, ok)
	assert.Equal(t, 0.5, recipe.EnergySeconds)
	assert.True(t, recipe.HandCraftable)

	entity, ok := table.Entity("iron-ore")
	require.True(t, ok)
	assert.True(t, entity.IsResource)

	tech, ok := table.Technology("automation")
	require.True(t, ok)
	assert.Equal(t, 10, tech.UnitCost)
}

func TestLoadBytes_DerivesCollisionBoxFromTileDimensions(t *testing.T) {
	table, err := LoadBytes([]byte(testDoc))
	require.NoError(t, err)

	entity, ok := table.Entity("iron-ore")
	require.True(t, ok)
	assert.Equal(t, CollisionBox{MinX: -0.5, MaxX: 0.5, MinY: -0.5, MaxY: 0.5}, entity.Collision)
}

func TestLoadBytes_RejectsUnregisteredRecipeCategory(t *testing.T) {
	_, err := LoadBytes([]byte(`
recipes:
  - name: mystery-item
    category: alchemy
`))
	require.Error(t, err)
}

func TestLoadBytes_MissingCategoryIsAllowed(t *testing.T) {
	_, err := LoadBytes([]byte(`
recipes:
  - name: hand-craft-only
    hand_craftable: true
`))
	require.NoError(t, err)
}

func TestRecipe_MissingNameReturnsFalse(t *testing.T) {
	table, err := LoadBytes([]byte(testDoc))
	require.NoError(t, err)
	_, ok := table.Recipe("does-not-exist")
	assert.False(t, ok)
}

func TestLoad_ParsesEmbeddedData(t *testing.T) {
	table, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, table)
}

func TestCompletionThreshold_ScalesWithMiningTimeAndSpeed(t *testing.T) {
	t1 := CompletionThreshold(1.0, 1.0)
	t2 := CompletionThreshold(2.0, 1.0)
	assert.Greater(t, t2, t1, "a longer mining time should raise the completion threshold")

	faster := CompletionThreshold(1.0, 2.0)
	assert.Less(t, faster, t1, "faster effective mining speed should lower the threshold")
}

func TestCompletionThreshold_ZeroMiningTimeIsZero(t *testing.T) {
	assert.Equal(t, 0.0, CompletionThreshold(0, 1.0))
}
