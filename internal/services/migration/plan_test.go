package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/services/mutator"
)

func schemaV1() *entities.Schema {
	return &entities.Schema{
		Name:    "content",
		Version: 1,
		Fields: []*entities.FieldSchema{
			{Name: "title", Type: entities.FieldTypeString},
			{Name: "dates", Type: entities.FieldTypeDate, IsList: true},
			{Name: "legacy", Type: entities.FieldTypeNumber},
		},
	}
}

// publish applies chain to base the way the schema service does
func publish(t *testing.T, base *entities.Schema, chain *entities.Chain) *entities.Schema {
	t.Helper()
	applied, err := mutator.Apply(base, chain)
	require.NoError(t, err)
	applied.Schema.Version = base.Version + 1
	return applied.Schema
}

func TestNewPlan_TracksIdentity(t *testing.T) {
	v1 := schemaV1()
	chain := entities.NewChain(
		entities.UpdateFieldChange("title", entities.FieldUpdate{Name: entities.Some("headline")}),
		entities.RemoveFieldChange("legacy"),
		entities.AddFieldChange(&entities.FieldSchema{Name: "legacy", Type: entities.FieldTypeString}, ""),
		entities.ChangeFieldTypeChange("dates", entities.FieldTypeString, false),
	)
	v2 := publish(t, v1, chain)

	plan, err := NewPlan(chain, v1, v2)
	require.NoError(t, err)

	headline, ok := plan.Field("headline")
	require.True(t, ok)
	assert.Equal(t, "title", headline.Source)

	legacy, ok := plan.Field("legacy")
	require.True(t, ok)
	assert.Empty(t, legacy.Source, "re-added field must start empty")

	dates, ok := plan.Field("dates")
	require.True(t, ok)
	assert.Equal(t, entities.FieldShape{Type: entities.FieldTypeDate, List: true}, dates.From)
	assert.Equal(t, entities.FieldShape{Type: entities.FieldTypeString}, dates.To)
}

func TestNewPlan_ScriptFollowsRenameAndLastChangeWins(t *testing.T) {
	v1 := schemaV1()
	chain := entities.NewChain(
		entities.UpdateFieldChange("dates", entities.FieldUpdate{Required: entities.Some(true)}).WithScript(`"first"`),
		entities.UpdateFieldChange("dates", entities.FieldUpdate{Name: entities.Some("days")}),
		entities.ChangeFieldTypeChange("days", entities.FieldTypeDate, true).WithScript(`node.fields[fieldname].reverse()`),
		entities.UpdateFieldChange("title", entities.FieldUpdate{Required: entities.Some(true)}).WithScript(`"x"`),
		entities.RemoveFieldChange("title"),
	)
	v2 := publish(t, v1, chain)

	plan, err := NewPlan(chain, v1, v2)
	require.NoError(t, err)

	days, ok := plan.Field("days")
	require.True(t, ok)
	assert.Equal(t, "dates", days.Source)
	assert.Equal(t, `node.fields[fieldname].reverse()`, days.Script)

	_, ok = plan.Field("title")
	assert.False(t, ok, "removed field must not be planned")
}

func TestNewPlan_RequiresBothSchemas(t *testing.T) {
	_, err := NewPlan(entities.NewChain(), schemaV1(), nil)
	assert.Error(t, err)
}
