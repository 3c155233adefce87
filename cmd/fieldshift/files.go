package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/asakaida/fieldshift/internal/entities"
)

// changeFile is the YAML document holding a change chain
type changeFile struct {
	Changes []entities.ChangeRecord `yaml:"changes"`
}

// containerFile is the YAML document holding field containers
type containerFile struct {
	Containers []containerDoc `yaml:"containers"`
}

type containerDoc struct {
	ID       string         `yaml:"id,omitempty"`
	NodeID   string         `yaml:"nodeId,omitempty"`
	Language string         `yaml:"language,omitempty"`
	Version  int            `yaml:"version,omitempty"`
	Fields   map[string]any `yaml:"fields"`
}

func decodeFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func readSchema(path string) (*entities.Schema, error) {
	var schema entities.Schema
	if err := decodeFile(path, &schema); err != nil {
		return nil, err
	}
	if schema.Version == 0 {
		schema.Version = 1
	}
	return &schema, nil
}

func readChain(path string) (*entities.Chain, error) {
	var doc changeFile
	if err := decodeFile(path, &doc); err != nil {
		return nil, err
	}
	chain, err := entities.ChainFromRecords(doc.Changes)
	if err != nil {
		return nil, fmt.Errorf("invalid change in %s: %w", path, err)
	}
	return chain, nil
}

// readContainers decodes the containers of path as values of schema
func readContainers(path string, schema *entities.Schema) ([]*entities.NodeFieldContainer, error) {
	var doc containerFile
	if err := decodeFile(path, &doc); err != nil {
		return nil, err
	}

	containers := make([]*entities.NodeFieldContainer, 0, len(doc.Containers))
	for i, d := range doc.Containers {
		c, err := d.container(schema)
		if err != nil {
			return nil, fmt.Errorf("container #%d in %s: %w", i, path, err)
		}
		containers = append(containers, c)
	}
	return containers, nil
}

func (d containerDoc) container(schema *entities.Schema) (*entities.NodeFieldContainer, error) {
	nodeID, err := parseOrNewUUID(d.NodeID)
	if err != nil {
		return nil, fmt.Errorf("invalid nodeId: %w", err)
	}
	language := d.Language
	if language == "" {
		language = "en"
	}

	c := entities.NewNodeFieldContainer(nodeID, language, schema)
	if c.ID, err = parseOrNewUUID(d.ID); err != nil {
		return nil, fmt.Errorf("invalid id: %w", err)
	}
	for name, raw := range d.Fields {
		f := schema.GetField(name)
		if f == nil {
			return nil, fmt.Errorf("field %q is not part of schema %s", name, schema.Name)
		}
		v, err := entities.FromNative(raw, f.Shape())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		c.Fields[name] = v
	}
	return c, nil
}

func containerToDoc(c *entities.NodeFieldContainer) containerDoc {
	return containerDoc{
		ID:       c.ID.String(),
		NodeID:   c.NodeID.String(),
		Language: c.Language,
		Version:  c.SchemaVersion,
		Fields:   entities.FieldsToNative(c.Fields),
	}
}

func parseOrNewUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}
