package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeFieldContainer holds the field values of one content node in one language,
// bound to a schema version by lineage key and number.
type NodeFieldContainer struct {
	ID            uuid.UUID
	NodeID        uuid.UUID
	Language      string
	SchemaName    string
	SchemaVersion int
	Fields        map[string]FieldValue

	// SupersededBy is set once the container was migrated to a newer version.
	// Superseded containers stay addressable until purged.
	SupersededBy *uuid.UUID
	CreatedAt    time.Time
}

// NewNodeFieldContainer creates an empty container for a node and language
func NewNodeFieldContainer(nodeID uuid.UUID, language string, schema *Schema) *NodeFieldContainer {
	return &NodeFieldContainer{
		ID:            uuid.New(),
		NodeID:        nodeID,
		Language:      language,
		SchemaName:    schema.Key(),
		SchemaVersion: schema.Version,
		Fields:        map[string]FieldValue{},
	}
}

// String returns a short identifier: schema@version/node/language
func (c *NodeFieldContainer) String() string {
	return fmt.Sprintf("%s@%d/%s/%s", c.SchemaName, c.SchemaVersion, c.NodeID, c.Language)
}

// Clone returns a deep copy with the same identity
func (c *NodeFieldContainer) Clone() *NodeFieldContainer {
	out := *c
	out.Fields = make(map[string]FieldValue, len(c.Fields))
	for k, v := range c.Fields {
		out.Fields[k] = CloneValue(v)
	}
	if c.SupersededBy != nil {
		id := *c.SupersededBy
		out.SupersededBy = &id
	}
	return &out
}

// Validate checks that the container can be stored
func (c *NodeFieldContainer) Validate() error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("container ID is required")
	}
	if c.NodeID == uuid.Nil {
		return fmt.Errorf("node ID is required")
	}
	if c.Language == "" {
		return fmt.Errorf("language is required")
	}
	if c.SchemaName == "" {
		return fmt.Errorf("schema name is required")
	}
	if c.SchemaVersion < 1 {
		return fmt.Errorf("schema version must be positive")
	}
	return nil
}

// CheckAgainst verifies that every stored value matches the shape of its field in schema
func (c *NodeFieldContainer) CheckAgainst(schema *Schema) error {
	for name, v := range c.Fields {
		f := schema.GetField(name)
		if f == nil {
			return fmt.Errorf("field %q is not part of schema %s@%d", name, schema.Name, schema.Version)
		}
		if v != nil && v.Shape() != f.Shape() {
			return fmt.Errorf("field %q holds %s, schema expects %s", name, v.Shape(), f.Shape())
		}
	}
	return nil
}
