package migration

import (
	"fmt"

	"github.com/asakaida/fieldshift/internal/entities"
)

// FieldPlan describes how one field of the new schema is filled
type FieldPlan struct {
	// Name is the field name in the new schema
	Name string
	// Source is the field name in the old container, empty for fields added by the chain
	Source string
	// From is the shape of the source field, zero when there is no source
	From entities.FieldShape
	To   entities.FieldShape
	// Script replaces the default conversion when set
	Script string
}

// Plan is the per-field migration recipe between two adjacent schema versions
type Plan struct {
	OldSchema *entities.Schema
	NewSchema *entities.Schema
	Fields    []FieldPlan
}

// NewPlan derives the field plan of chain, which turned oldSchema into newSchema.
// Field identity is tracked by name through the chain: renames carry a field's
// values, removals drop them, and a field re-added after removal starts empty.
// The script of a field is the one attached by the last change touching it.
func NewPlan(chain *entities.Chain, oldSchema, newSchema *entities.Schema) (*Plan, error) {
	if oldSchema == nil || newSchema == nil {
		return nil, fmt.Errorf("both schema versions are required")
	}

	// current field name -> name in oldSchema ("" for new fields)
	origin := make(map[string]string, len(oldSchema.Fields))
	for _, f := range oldSchema.Fields {
		origin[f.Name] = f.Name
	}
	scripts := map[string]string{}

	for _, ch := range chain.All() {
		name := ch.FieldName
		switch p := ch.Props.(type) {
		case entities.FieldAddition:
			if _, exists := origin[name]; exists {
				continue
			}
			origin[name] = ""
			delete(scripts, name)
		case entities.FieldRemoval:
			delete(origin, name)
			delete(scripts, name)
			continue
		case entities.FieldUpdate:
			if p.Name.Set && p.Name.Value != "" && p.Name.Value != name {
				src, exists := origin[name]
				if _, taken := origin[p.Name.Value]; !exists || taken {
					continue
				}
				origin[p.Name.Value] = src
				delete(origin, name)
				if s, ok := scripts[name]; ok {
					scripts[p.Name.Value] = s
					delete(scripts, name)
				}
				name = p.Name.Value
			}
		case entities.ContainerUpdate:
			continue
		}
		if _, exists := origin[name]; exists && ch.MigrationScript != "" {
			scripts[name] = ch.MigrationScript
		}
	}

	plan := &Plan{OldSchema: oldSchema, NewSchema: newSchema}
	for _, f := range newSchema.Fields {
		fp := FieldPlan{Name: f.Name, To: f.Shape(), Script: scripts[f.Name]}
		if src := origin[f.Name]; src != "" {
			if old := oldSchema.GetField(src); old != nil {
				fp.Source = src
				fp.From = old.Shape()
			}
		}
		plan.Fields = append(plan.Fields, fp)
	}
	return plan, nil
}

// Field returns the plan of the named new field
func (p *Plan) Field(name string) (FieldPlan, bool) {
	for _, fp := range p.Fields {
		if fp.Name == name {
			return fp, true
		}
	}
	return FieldPlan{}, false
}
