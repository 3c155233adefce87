package entities

import (
	"time"
)

// Schema is an immutable snapshot of a field schema container.
// Each published edit produces a new snapshot with Version = previous.Version + 1.
type Schema struct {
	// Lineage identifies the version history the snapshot belongs to. It is
	// fixed when the first version is created and survives renames.
	Lineage      string         `json:"lineage,omitempty" yaml:"lineage,omitempty"`
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version      int            `json:"version" yaml:"version"`
	Fields       []*FieldSchema `json:"fields" yaml:"fields"`
	DisplayField *string        `json:"displayField,omitempty" yaml:"displayField,omitempty"`
	SegmentField *string        `json:"segmentField,omitempty" yaml:"segmentField,omitempty"`
	Container    bool           `json:"container,omitempty" yaml:"container,omitempty"`

	// ChangeChecksum fingerprints the change chain that produced this version
	ChangeChecksum string    `json:"-" yaml:"-"`
	CreatedAt      time.Time `json:"-" yaml:"-"`
}

// SchemaVersion represents a lightweight schema version for listing
type SchemaVersion struct {
	Version        int       // Schema version number
	ChangeChecksum string    // Checksum of the chain that produced the version
	CreatedAt      time.Time // When the version was created
}

// Key returns the lineage key: Lineage, or Name for a snapshot that was never stored
func (s *Schema) Key() string {
	if s.Lineage != "" {
		return s.Lineage
	}
	return s.Name
}

// GetField returns the field with the given name
func (s *Schema) GetField(name string) *FieldSchema {
	if i := s.FieldIndex(name); i >= 0 {
		return s.Fields[i]
	}
	return nil
}

// FieldIndex returns the position of the named field or -1
func (s *Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldNames returns the field names in schema order
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Clone returns a deep structural copy of the schema
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = make([]*FieldSchema, len(s.Fields))
	for i, f := range s.Fields {
		c.Fields[i] = f.Clone()
	}
	if s.DisplayField != nil {
		v := *s.DisplayField
		c.DisplayField = &v
	}
	if s.SegmentField != nil {
		v := *s.SegmentField
		c.SegmentField = &v
	}
	return &c
}

// Equal reports whether two schemas are structurally equal.
// Bookkeeping metadata (checksum, timestamps) is ignored.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Key() != o.Key() || s.Name != o.Name || s.Description != o.Description || s.Version != o.Version || s.Container != o.Container {
		return false
	}
	if !equalPtr(s.DisplayField, o.DisplayField) || !equalPtr(s.SegmentField, o.SegmentField) {
		return false
	}
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if !s.Fields[i].Equal(o.Fields[i]) {
			return false
		}
	}
	return true
}

// Validate checks the schema invariants. It returns a *SchemaValidationError
// naming the offending attribute.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return &SchemaValidationError{Attribute: "name", Reason: "schema name is required"}
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f == nil || f.Name == "" {
			return &SchemaValidationError{Attribute: "fields", Reason: "field name is required"}
		}
		if seen[f.Name] {
			return &SchemaValidationError{Attribute: "fields", Value: f.Name, Reason: "duplicate field name"}
		}
		seen[f.Name] = true
		if _, err := ParseFieldType(string(f.Type)); err != nil {
			return &SchemaValidationError{Attribute: "fields." + f.Name + ".type", Value: string(f.Type), Reason: "unknown field type"}
		}
		if f.IsList && !f.Type.Listable() {
			return &SchemaValidationError{Attribute: "fields." + f.Name + ".listType", Value: string(f.Type), Reason: "type has no list form"}
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return &SchemaValidationError{Attribute: "fields." + f.Name + ".min", Reason: "min is greater than max"}
		}
	}

	if s.DisplayField != nil && *s.DisplayField != "" {
		f := s.GetField(*s.DisplayField)
		if f == nil {
			return &SchemaValidationError{Attribute: "displayField", Value: *s.DisplayField, Reason: "display field does not exist"}
		}
		if f.Type != FieldTypeString || f.IsList {
			return &SchemaValidationError{Attribute: "displayField", Value: *s.DisplayField, Reason: "display field must be a string field"}
		}
	}

	if s.SegmentField != nil && *s.SegmentField != "" {
		f := s.GetField(*s.SegmentField)
		if f == nil {
			return &SchemaValidationError{Attribute: "segmentField", Value: *s.SegmentField, Reason: "segment field does not exist"}
		}
		if (f.Type != FieldTypeString && f.Type != FieldTypeBinary) || f.IsList {
			return &SchemaValidationError{Attribute: "segmentField", Value: *s.SegmentField, Reason: "segment field must be a string or binary field"}
		}
	}

	return nil
}
