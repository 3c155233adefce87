package entities

import (
	"fmt"
	"slices"
)

// FieldType is the element type of a schema field
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeNumber    FieldType = "number"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeDate      FieldType = "date"
	FieldTypeHTML      FieldType = "html"
	FieldTypeBinary    FieldType = "binary"
	FieldTypeNode      FieldType = "node"
	FieldTypeMicronode FieldType = "micronode"
)

// FieldTypes lists every supported element type in a stable order
var FieldTypes = []FieldType{
	FieldTypeString,
	FieldTypeNumber,
	FieldTypeBoolean,
	FieldTypeDate,
	FieldTypeHTML,
	FieldTypeBinary,
	FieldTypeNode,
	FieldTypeMicronode,
}

// ParseFieldType converts a type name to a FieldType
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(s)
	if !slices.Contains(FieldTypes, t) {
		return "", fmt.Errorf("unknown field type: %q", s)
	}
	return t, nil
}

// Listable reports whether the type has a list form
func (t FieldType) Listable() bool {
	return t != FieldTypeBinary
}

// FieldShape identifies the stored shape of a field: its element type and list-ness.
// The conversion matrix is keyed by pairs of shapes.
type FieldShape struct {
	Type FieldType
	List bool
}

// Shapes returns all valid shapes (scalar forms first, then list forms)
func Shapes() []FieldShape {
	shapes := make([]FieldShape, 0, 2*len(FieldTypes))
	for _, t := range FieldTypes {
		shapes = append(shapes, FieldShape{Type: t})
	}
	for _, t := range FieldTypes {
		if t.Listable() {
			shapes = append(shapes, FieldShape{Type: t, List: true})
		}
	}
	return shapes
}

// String returns "date" or "date-list" style names
func (s FieldShape) String() string {
	if s.List {
		return string(s.Type) + "-list"
	}
	return string(s.Type)
}

// FieldSchema describes one field of a schema
type FieldSchema struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	IsList   bool      `json:"list,omitempty" yaml:"list,omitempty"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Label    *string   `json:"label,omitempty" yaml:"label,omitempty"`

	AllowedValues       []string `json:"allowedValues,omitempty" yaml:"allowedValues,omitempty"`             // string, html
	AllowedSchemas      []string `json:"allowedSchemas,omitempty" yaml:"allowedSchemas,omitempty"`           // node
	AllowedMicroSchemas []string `json:"allowedMicroSchemas,omitempty" yaml:"allowedMicroSchemas,omitempty"` // micronode
	AllowedMimeTypes    []string `json:"allowedMimeTypes,omitempty" yaml:"allowedMimeTypes,omitempty"`       // binary
	Min                 *float64 `json:"min,omitempty" yaml:"min,omitempty"`                                 // number
	Max                 *float64 `json:"max,omitempty" yaml:"max,omitempty"`                                 // number
}

// Shape returns the stored shape of the field
func (f *FieldSchema) Shape() FieldShape {
	return FieldShape{Type: f.Type, List: f.IsList}
}

// Clone returns a deep copy of the field schema
func (f *FieldSchema) Clone() *FieldSchema {
	if f == nil {
		return nil
	}
	c := *f
	if f.Label != nil {
		label := *f.Label
		c.Label = &label
	}
	if f.Min != nil {
		v := *f.Min
		c.Min = &v
	}
	if f.Max != nil {
		v := *f.Max
		c.Max = &v
	}
	c.AllowedValues = slices.Clone(f.AllowedValues)
	c.AllowedSchemas = slices.Clone(f.AllowedSchemas)
	c.AllowedMicroSchemas = slices.Clone(f.AllowedMicroSchemas)
	c.AllowedMimeTypes = slices.Clone(f.AllowedMimeTypes)
	return &c
}

// Equal reports structural equality of two field schemas
func (f *FieldSchema) Equal(o *FieldSchema) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Name == o.Name &&
		f.Type == o.Type &&
		f.IsList == o.IsList &&
		f.Required == o.Required &&
		equalPtr(f.Label, o.Label) &&
		equalPtr(f.Min, o.Min) &&
		equalPtr(f.Max, o.Max) &&
		slices.Equal(f.AllowedValues, o.AllowedValues) &&
		slices.Equal(f.AllowedSchemas, o.AllowedSchemas) &&
		slices.Equal(f.AllowedMicroSchemas, o.AllowedMicroSchemas) &&
		slices.Equal(f.AllowedMimeTypes, o.AllowedMimeTypes)
}

// clearForeignConstraints drops constraints that do not apply to the field's type
func (f *FieldSchema) clearForeignConstraints() {
	if f.Type != FieldTypeString && f.Type != FieldTypeHTML {
		f.AllowedValues = nil
	}
	if f.Type != FieldTypeNode {
		f.AllowedSchemas = nil
	}
	if f.Type != FieldTypeMicronode {
		f.AllowedMicroSchemas = nil
	}
	if f.Type != FieldTypeBinary {
		f.AllowedMimeTypes = nil
	}
	if f.Type != FieldTypeNumber {
		f.Min, f.Max = nil, nil
	}
}

// SetType changes the field type and list-ness, clearing constraints of the old type
func (f *FieldSchema) SetType(t FieldType, list bool) {
	f.Type = t
	f.IsList = list
	f.clearForeignConstraints()
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
