package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/asakaida/fieldshift/internal/infrastructure/config"
)

func TestNewWithWriter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantErr bool
	}{
		{name: "defaults", cfg: config.LogConfig{}},
		{name: "debug text", cfg: config.LogConfig{Level: "debug", Format: "text"}},
		{name: "json", cfg: config.LogConfig{Level: "warn", Format: "json"}},
		{name: "logfmt", cfg: config.LogConfig{Level: "error", Format: "logfmt"}},
		{name: "unknown level", cfg: config.LogConfig{Level: "loud"}, wantErr: true},
		{name: "unknown format", cfg: config.LogConfig{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithWriter(&bytes.Buffer{}, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWithWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewWithWriter_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("migration finished", "schema", "article", "migrated", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "migration finished" || entry["schema"] != "article" {
		t.Errorf("unexpected entry: %v", entry)
	}
}
