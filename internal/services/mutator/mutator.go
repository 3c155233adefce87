// Package mutator applies change chains to schema snapshots.
package mutator

import (
	"fmt"
	"slices"

	"github.com/asakaida/fieldshift/internal/entities"
)

// Applied is the outcome of applying a chain
type Applied struct {
	// Schema is the resulting snapshot. Its version is not bumped; the caller
	// decides which version it is published as.
	Schema *entities.Schema
	// Skipped lists the changes that could not be applied structurally
	Skipped []*entities.StructuralChangeError
}

// Apply walks chain head to tail on a copy of base. base is never modified.
// A change that targets a missing field is recorded in Skipped and the walk
// continues. The resulting schema is validated once at the end and rejected
// as a whole when invalid.
func Apply(base *entities.Schema, chain *entities.Chain) (*Applied, error) {
	if base == nil {
		return nil, fmt.Errorf("base schema is required")
	}

	s := base.Clone()
	// a renamed snapshot stays in its lineage
	s.Lineage = base.Key()
	result := &Applied{}

	for _, ch := range chain.All() {
		var errs []*entities.StructuralChangeError
		switch p := ch.Props.(type) {
		case entities.ContainerUpdate:
			errs = updateContainer(s, ch, p)
		case entities.FieldAddition:
			errs = addField(s, ch, p)
		case entities.FieldRemoval:
			errs = removeField(s, ch)
		case entities.FieldUpdate:
			errs = updateField(s, ch, p)
		case entities.FieldTypeChange:
			errs = changeFieldType(s, ch, p)
		default:
			errs = []*entities.StructuralChangeError{structural(ch, fmt.Sprintf("unsupported properties %T", p))}
		}
		result.Skipped = append(result.Skipped, errs...)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	result.Schema = s
	return result, nil
}

func structural(ch *entities.Change, reason string) *entities.StructuralChangeError {
	return &entities.StructuralChangeError{
		Seq:       ch.Seq,
		Kind:      ch.Kind(),
		FieldName: ch.FieldName,
		Reason:    reason,
	}
}

func missingField(ch *entities.Change) []*entities.StructuralChangeError {
	return []*entities.StructuralChangeError{structural(ch, "field does not exist")}
}

func updateContainer(s *entities.Schema, ch *entities.Change, p entities.ContainerUpdate) []*entities.StructuralChangeError {
	if p.Name.Set {
		s.Name = p.Name.Value
	}
	if p.Description.Set {
		s.Description = p.Description.Value
	}
	if p.DisplayField.Set {
		s.DisplayField = clonePtr(p.DisplayField.Value)
	}
	if p.SegmentField.Set {
		s.SegmentField = clonePtr(p.SegmentField.Value)
	}
	if p.Container.Set {
		s.Container = p.Container.Value
	}
	if p.Order.Set {
		return reorder(s, ch, p.Order.Value)
	}
	return nil
}

// reorder moves the named fields to the front in the given order. Fields not
// named keep their previous relative order after them.
func reorder(s *entities.Schema, ch *entities.Change, order []string) []*entities.StructuralChangeError {
	var errs []*entities.StructuralChangeError
	placed := make(map[string]bool, len(order))
	fields := make([]*entities.FieldSchema, 0, len(s.Fields))

	for _, name := range order {
		f := s.GetField(name)
		if f == nil {
			err := structural(ch, "order names unknown field")
			err.FieldName = name
			errs = append(errs, err)
			continue
		}
		if placed[name] {
			continue
		}
		placed[name] = true
		fields = append(fields, f)
	}
	for _, f := range s.Fields {
		if !placed[f.Name] {
			fields = append(fields, f)
		}
	}
	s.Fields = fields
	return errs
}

func addField(s *entities.Schema, ch *entities.Change, p entities.FieldAddition) []*entities.StructuralChangeError {
	if p.Field == nil {
		return []*entities.StructuralChangeError{structural(ch, "field definition is missing")}
	}
	if s.GetField(ch.FieldName) != nil {
		return []*entities.StructuralChangeError{structural(ch, "field already exists")}
	}

	f := p.Field.Clone()
	f.Name = ch.FieldName

	at := len(s.Fields)
	if p.After != "" {
		if i := s.FieldIndex(p.After); i >= 0 {
			at = i + 1
		}
	}
	s.Fields = slices.Insert(s.Fields, at, f)
	return nil
}

func removeField(s *entities.Schema, ch *entities.Change) []*entities.StructuralChangeError {
	i := s.FieldIndex(ch.FieldName)
	if i < 0 {
		return missingField(ch)
	}
	s.Fields = slices.Delete(s.Fields, i, i+1)
	return nil
}

func updateField(s *entities.Schema, ch *entities.Change, p entities.FieldUpdate) []*entities.StructuralChangeError {
	f := s.GetField(ch.FieldName)
	if f == nil {
		return missingField(ch)
	}

	if p.Name.Set && p.Name.Value != f.Name {
		switch {
		case p.Name.Value == "":
			return []*entities.StructuralChangeError{structural(ch, "field name must not be empty")}
		case s.GetField(p.Name.Value) != nil:
			return []*entities.StructuralChangeError{structural(ch, fmt.Sprintf("cannot rename to %q: field already exists", p.Name.Value))}
		}
		renameReference(s.DisplayField, f.Name, p.Name.Value)
		renameReference(s.SegmentField, f.Name, p.Name.Value)
		f.Name = p.Name.Value
	}
	if p.Label.Set {
		f.Label = clonePtr(p.Label.Value)
	}
	if p.Required.Set {
		f.Required = p.Required.Value
	}
	if p.AllowedValues.Set {
		f.AllowedValues = slices.Clone(p.AllowedValues.Value)
	}
	if p.AllowedSchemas.Set {
		f.AllowedSchemas = slices.Clone(p.AllowedSchemas.Value)
	}
	if p.AllowedMicroSchemas.Set {
		f.AllowedMicroSchemas = slices.Clone(p.AllowedMicroSchemas.Value)
	}
	if p.AllowedMimeTypes.Set {
		f.AllowedMimeTypes = slices.Clone(p.AllowedMimeTypes.Value)
	}
	if p.Min.Set {
		f.Min = clonePtr(p.Min.Value)
	}
	if p.Max.Set {
		f.Max = clonePtr(p.Max.Value)
	}
	return nil
}

func changeFieldType(s *entities.Schema, ch *entities.Change, p entities.FieldTypeChange) []*entities.StructuralChangeError {
	f := s.GetField(ch.FieldName)
	if f == nil {
		return missingField(ch)
	}
	f.SetType(p.Type, p.List)
	return nil
}

func renameReference(ref *string, from, to string) {
	if ref != nil && *ref == from {
		*ref = to
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
