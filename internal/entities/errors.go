package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaNotFound is returned when no version of a schema lineage exists
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrStaleHead is returned when an edit was based on a version that is no longer the head
	ErrStaleHead = errors.New("schema head has moved")
	// ErrContainerNotFound is returned when a field container does not exist
	ErrContainerNotFound = errors.New("field container not found")
)

// SchemaValidationError rejects a whole schema. Attribute names the offending part.
type SchemaValidationError struct {
	Attribute string
	Value     string
	Reason    string
}

func (e *SchemaValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid schema attribute %s (%q): %s", e.Attribute, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid schema attribute %s: %s", e.Attribute, e.Reason)
}

// StructuralChangeError is scoped to one change of a chain. The chain keeps
// applying the remaining changes.
type StructuralChangeError struct {
	Seq       int
	Kind      ChangeKind
	FieldName string
	Reason    string
}

func (e *StructuralChangeError) Error() string {
	if e.FieldName != "" {
		return fmt.Sprintf("change #%d (%s) on field %q: %s", e.Seq, e.Kind, e.FieldName, e.Reason)
	}
	return fmt.Sprintf("change #%d (%s): %s", e.Seq, e.Kind, e.Reason)
}

// PropertyError is returned when a change is constructed from an invalid property bag
type PropertyError struct {
	Kind   ChangeKind
	Key    string
	Reason string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("invalid %s property %q: %s", e.Kind, e.Key, e.Reason)
}
