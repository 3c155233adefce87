package mutator

import (
	"errors"
	"slices"
	"testing"

	"github.com/asakaida/fieldshift/internal/entities"
)

func strPtr(s string) *string { return &s }

func baseSchema() *entities.Schema {
	return &entities.Schema{
		Name:    "content",
		Version: 3,
		Fields: []*entities.FieldSchema{
			{Name: "title", Type: entities.FieldTypeString, Required: true},
			{Name: "binaryField", Type: entities.FieldTypeBinary, Required: true},
			{Name: "stringField", Type: entities.FieldTypeString, Required: true, AllowedValues: []string{"blub"}},
			{Name: "rating", Type: entities.FieldTypeNumber},
		},
		DisplayField: strPtr("title"),
	}
}

func TestApply_EmptyChainIsIdentity(t *testing.T) {
	base := baseSchema()

	for _, chain := range []*entities.Chain{nil, entities.NewChain()} {
		got, err := Apply(base, chain)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if !got.Schema.Equal(base) {
			t.Errorf("Apply() with empty chain changed the schema: %+v", got.Schema)
		}
		if got.Schema == base {
			t.Error("Apply() must return a copy, not the base schema")
		}
		if len(got.Skipped) != 0 {
			t.Errorf("Skipped = %v, want none", got.Skipped)
		}
	}
}

func TestApply_FieldUpdateChain(t *testing.T) {
	base := baseSchema()
	chain := entities.NewChain(
		entities.UpdateFieldChange("binaryField", entities.FieldUpdate{
			AllowedMimeTypes: entities.Some([]string{"newTypes"}),
			Required:         entities.Some(false),
		}),
		entities.UpdateFieldChange("stringField", entities.FieldUpdate{
			AllowedValues: entities.Some([]string{"valueA", "valueB"}),
			Required:      entities.Some(false),
		}),
	)

	got, err := Apply(base, chain)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	bin := got.Schema.GetField("binaryField")
	if !slices.Equal(bin.AllowedMimeTypes, []string{"newTypes"}) {
		t.Errorf("binaryField.AllowedMimeTypes = %v", bin.AllowedMimeTypes)
	}
	if bin.Required {
		t.Error("binaryField.Required should be false")
	}

	str := got.Schema.GetField("stringField")
	if !slices.Equal(str.AllowedValues, []string{"valueA", "valueB"}) {
		t.Errorf("stringField.AllowedValues = %v", str.AllowedValues)
	}
	if str.Required {
		t.Error("stringField.Required should be false")
	}

	if !base.GetField("binaryField").Required {
		t.Error("base schema was modified")
	}
}

func TestApply_OrderAppendsOmittedFields(t *testing.T) {
	chain := entities.NewChain(entities.UpdateContainerChange(entities.ContainerUpdate{
		Order: entities.Some([]string{"rating", "ghost", "title"}),
	}))

	got, err := Apply(baseSchema(), chain)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := []string{"rating", "title", "binaryField", "stringField"}
	if names := got.Schema.FieldNames(); !slices.Equal(names, want) {
		t.Errorf("FieldNames() = %v, want %v", names, want)
	}
	if len(got.Skipped) != 1 || got.Skipped[0].FieldName != "ghost" {
		t.Errorf("Skipped = %v, want one error for ghost", got.Skipped)
	}
}

func TestApply_AddField(t *testing.T) {
	tests := []struct {
		name      string
		after     string
		wantOrder []string
	}{
		{name: "append at end", wantOrder: []string{"title", "binaryField", "stringField", "rating", "teaser"}},
		{name: "after existing field", after: "title", wantOrder: []string{"title", "teaser", "binaryField", "stringField", "rating"}},
		{name: "after unknown field", after: "nope", wantOrder: []string{"title", "binaryField", "stringField", "rating", "teaser"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := entities.NewChain(entities.AddFieldChange(&entities.FieldSchema{Name: "teaser", Type: entities.FieldTypeHTML}, tt.after))
			got, err := Apply(baseSchema(), chain)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if names := got.Schema.FieldNames(); !slices.Equal(names, tt.wantOrder) {
				t.Errorf("FieldNames() = %v, want %v", names, tt.wantOrder)
			}
		})
	}
}

func TestApply_StructuralErrorsAreCollected(t *testing.T) {
	chain := entities.NewChain(
		entities.RemoveFieldChange("missing"),
		entities.AddFieldChange(&entities.FieldSchema{Name: "title", Type: entities.FieldTypeString}, ""),
		entities.UpdateFieldChange("rating", entities.FieldUpdate{Required: entities.Some(true)}),
		entities.ChangeFieldTypeChange("nothing", entities.FieldTypeDate, false),
	)

	got, err := Apply(baseSchema(), chain)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(got.Skipped) != 3 {
		t.Fatalf("len(Skipped) = %d, want 3: %v", len(got.Skipped), got.Skipped)
	}
	for i, seq := range []int{0, 1, 3} {
		if got.Skipped[i].Seq != seq {
			t.Errorf("Skipped[%d].Seq = %d, want %d", i, got.Skipped[i].Seq, seq)
		}
	}
	if !got.Schema.GetField("rating").Required {
		t.Error("valid change after a failing one should still apply")
	}
}

func TestApply_RenameRewritesReferences(t *testing.T) {
	chain := entities.NewChain(
		entities.UpdateFieldChange("title", entities.FieldUpdate{Name: entities.Some("headline")}),
	)

	got, err := Apply(baseSchema(), chain)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got.Schema.GetField("headline") == nil || got.Schema.GetField("title") != nil {
		t.Errorf("rename not applied: %v", got.Schema.FieldNames())
	}
	if *got.Schema.DisplayField != "headline" {
		t.Errorf("DisplayField = %q, want headline", *got.Schema.DisplayField)
	}
}

func TestApply_RenameToExistingFieldIsSkipped(t *testing.T) {
	chain := entities.NewChain(
		entities.UpdateFieldChange("title", entities.FieldUpdate{Name: entities.Some("rating")}),
	)

	got, err := Apply(baseSchema(), chain)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(got.Skipped) != 1 {
		t.Errorf("Skipped = %v, want one error", got.Skipped)
	}
}

func TestApply_ChangeFieldType(t *testing.T) {
	chain := entities.NewChain(
		entities.UpdateFieldChange("rating", entities.FieldUpdate{Min: entities.Some(new(float64))}),
		entities.ChangeFieldTypeChange("rating", entities.FieldTypeString, true),
	)

	got, err := Apply(baseSchema(), chain)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	f := got.Schema.GetField("rating")
	if f.Shape() != (entities.FieldShape{Type: entities.FieldTypeString, List: true}) {
		t.Errorf("Shape() = %v", f.Shape())
	}
	if f.Min != nil {
		t.Error("number constraint should be cleared")
	}
}

func TestApply_LaterChangesWin(t *testing.T) {
	chain := entities.NewChain(
		entities.UpdateContainerChange(entities.ContainerUpdate{Description: entities.Some("first")}),
		entities.UpdateContainerChange(entities.ContainerUpdate{Description: entities.Some("second")}),
	)

	got, err := Apply(baseSchema(), chain)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got.Schema.Description != "second" {
		t.Errorf("Description = %q, want second", got.Schema.Description)
	}
}

func TestApply_ValidationRejectsWholeChain(t *testing.T) {
	tests := []struct {
		name          string
		chain         *entities.Chain
		wantAttribute string
	}{
		{
			name: "display field removed",
			chain: entities.NewChain(
				entities.UpdateFieldChange("rating", entities.FieldUpdate{Required: entities.Some(true)}),
				entities.RemoveFieldChange("title"),
			),
			wantAttribute: "displayField",
		},
		{
			name: "display field becomes a number",
			chain: entities.NewChain(
				entities.ChangeFieldTypeChange("title", entities.FieldTypeNumber, false),
			),
			wantAttribute: "displayField",
		},
		{
			name: "segment field set to a list",
			chain: entities.NewChain(
				entities.AddFieldChange(&entities.FieldSchema{Name: "slugs", Type: entities.FieldTypeString, IsList: true}, ""),
				entities.UpdateContainerChange(entities.ContainerUpdate{SegmentField: entities.Some(strPtr("slugs"))}),
			),
			wantAttribute: "segmentField",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(baseSchema(), tt.chain)
			if got != nil {
				t.Errorf("Apply() returned a schema for an invalid result")
			}
			var verr *entities.SchemaValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Apply() error = %v, want *SchemaValidationError", err)
			}
			if verr.Attribute != tt.wantAttribute {
				t.Errorf("Attribute = %q, want %q", verr.Attribute, tt.wantAttribute)
			}
		})
	}
}

func TestApply_NilBase(t *testing.T) {
	if _, err := Apply(nil, entities.NewChain()); err == nil {
		t.Error("Apply(nil) should fail")
	}
}
