package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/asakaida/fieldshift/internal/entities"
)

const testSchema = `name: content
fields:
  - name: title
    type: string
  - name: dates
    type: date
    list: true
displayField: title
`

const testContainers = `containers:
  - id: 0b0c9d5e-6f55-4d63-9f1f-1a2b3c4d5e6f
    language: en
    fields:
      title: first
      dates: [1000, 2000]
  - language: de
    fields:
      title: zweite
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunApply(t *testing.T) {
	dir := t.TempDir()
	changes := `changes:
  - kind: changefieldtype
    fieldName: dates
    properties:
      type: string
  - kind: addfield
    fieldName: teaser
    properties:
      type: html
      after: title
  - kind: removefield
    fieldName: missing
`
	opts := applyOptions{
		schemaPath:     writeFile(t, dir, "schema.yaml", testSchema),
		changesPath:    writeFile(t, dir, "changes.yaml", changes),
		containersPath: writeFile(t, dir, "containers.yaml", testContainers),
	}

	var buf bytes.Buffer
	require.NoError(t, runApply(context.Background(), &buf, opts, log.New(io.Discard)))

	var out applyOutput
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))

	require.NotNil(t, out.Schema)
	assert.Equal(t, 2, out.Schema.Version)
	assert.Equal(t, []string{"title", "teaser", "dates"}, out.Schema.FieldNames())
	assert.Equal(t, entities.FieldTypeString, out.Schema.GetField("dates").Type)
	assert.False(t, out.Schema.GetField("dates").IsList)
	require.Len(t, out.Skipped, 1)
	assert.Contains(t, out.Skipped[0], "missing")

	assert.Empty(t, out.Failures)
	require.Len(t, out.Containers, 2)
	byLanguage := map[string]containerDoc{}
	for _, c := range out.Containers {
		byLanguage[c.Language] = c
	}
	assert.Equal(t, 2, byLanguage["en"].Version)
	assert.Equal(t, "1000,2000", byLanguage["en"].Fields["dates"])
	assert.Equal(t, "first", byLanguage["en"].Fields["title"])
	assert.NotEqual(t, "0b0c9d5e-6f55-4d63-9f1f-1a2b3c4d5e6f", byLanguage["en"].ID, "migrated container gets a new ID")
	assert.Equal(t, "zweite", byLanguage["de"].Fields["title"])
	assert.Nil(t, byLanguage["de"].Fields["dates"])
}

func TestRunApply_ScriptFailureIsPerContainer(t *testing.T) {
	dir := t.TempDir()
	changes := `changes:
  - kind: updatefield
    fieldName: title
    properties:
      label: Title
    migrationScript: 'node.language == "de" ? exit(1) : node'
`
	opts := applyOptions{
		schemaPath:     writeFile(t, dir, "schema.yaml", testSchema),
		changesPath:    writeFile(t, dir, "changes.yaml", changes),
		containersPath: writeFile(t, dir, "containers.yaml", testContainers),
	}

	var buf bytes.Buffer
	require.NoError(t, runApply(context.Background(), &buf, opts, log.New(io.Discard)))

	var out applyOutput
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Containers, 1)
	assert.Equal(t, "en", out.Containers[0].Language)
	assert.Equal(t, "first", out.Containers[0].Fields["title"])
	require.Len(t, out.Failures, 1)
	assert.Contains(t, out.Failures[0].Error, "title")
}

func TestRunApply_Errors(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "schema.yaml", testSchema)

	tests := []struct {
		name       string
		changes    string
		containers string
	}{
		{
			name:    "unknown change kind",
			changes: "changes:\n  - kind: renamefield\n    fieldName: title\n",
		},
		{
			name:    "unknown property",
			changes: "changes:\n  - kind: updatefield\n    fieldName: title\n    properties:\n      colour: red\n",
		},
		{
			name:    "invalid result schema",
			changes: "changes:\n  - kind: changefieldtype\n    fieldName: title\n    properties:\n      type: number\n",
		},
		{
			name:       "container field not in schema",
			changes:    "changes: []\n",
			containers: "containers:\n  - fields:\n      body: text\n",
		},
		{
			name:       "container value of wrong shape",
			changes:    "changes: []\n",
			containers: "containers:\n  - fields:\n      dates: soon\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := applyOptions{
				schemaPath:  schema,
				changesPath: writeFile(t, t.TempDir(), "changes.yaml", tt.changes),
			}
			if tt.containers != "" {
				opts.containersPath = writeFile(t, t.TempDir(), "containers.yaml", tt.containers)
			}
			err := runApply(context.Background(), io.Discard, opts, log.New(io.Discard))
			assert.Error(t, err)
		})
	}
}

func TestParseShape(t *testing.T) {
	tests := []struct {
		in      string
		want    entities.FieldShape
		wantErr bool
	}{
		{in: "string", want: entities.FieldShape{Type: entities.FieldTypeString}},
		{in: "date-list", want: entities.FieldShape{Type: entities.FieldTypeDate, List: true}},
		{in: "binary-list", wantErr: true},
		{in: "text", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseShape(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatrixCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"matrix", "--from", "date-list", "--to", "string"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		matrixFrom, matrixTo = "", ""
	}()

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "date-list -> string: join\n", buf.String())
}
