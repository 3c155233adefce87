// Package migration moves field containers from one schema version to the next.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/services/conversion"
	"github.com/asakaida/fieldshift/internal/services/sandbox"
)

// ScriptRunner runs custom migration scripts
type ScriptRunner interface {
	Run(ctx context.Context, inv sandbox.Invocation) (entities.FieldValue, error)
}

// Result is the outcome for one input container
type Result struct {
	Source   *entities.NodeFieldContainer
	Migrated *entities.NodeFieldContainer
	Err      error
}

// Engine migrates single containers according to a plan
type Engine struct {
	scripts ScriptRunner
	logger  *log.Logger
}

// NewEngine creates a migration engine
func NewEngine(scripts ScriptRunner, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{scripts: scripts, logger: logger.WithPrefix("migration")}
}

// Migrate migrates every container from oldSchema to newSchema. It returns one
// result per input, in input order; a failing container never affects the others.
func (e *Engine) Migrate(ctx context.Context, containers []*entities.NodeFieldContainer, chain *entities.Chain, oldSchema, newSchema *entities.Schema) []Result {
	results := make([]Result, len(containers))

	plan, planErr := NewPlan(chain, oldSchema, newSchema)
	for i, c := range containers {
		results[i].Source = c
		if planErr != nil {
			results[i].Err = &MigrationError{ContainerID: c.ID, Cause: planErr}
			continue
		}
		results[i].Migrated, results[i].Err = e.MigrateContainer(ctx, c, plan)
	}
	return results
}

// MigrateContainer builds the successor of c under plan.NewSchema. The input
// container is not modified; the successor gets a new ID.
func (e *Engine) MigrateContainer(ctx context.Context, c *entities.NodeFieldContainer, plan *Plan) (*entities.NodeFieldContainer, error) {
	if c.SchemaName != plan.OldSchema.Key() || c.SchemaVersion != plan.OldSchema.Version {
		return nil, &MigrationError{
			ContainerID: c.ID,
			Cause:       fmt.Errorf("container is bound to %s@%d, plan migrates %s@%d", c.SchemaName, c.SchemaVersion, plan.OldSchema.Key(), plan.OldSchema.Version),
		}
	}

	// the view holds the old values under their new names, dropped fields are gone
	view := &entities.NodeFieldContainer{
		ID:            c.ID,
		NodeID:        c.NodeID,
		Language:      c.Language,
		SchemaName:    c.SchemaName,
		SchemaVersion: c.SchemaVersion,
		Fields:        make(map[string]entities.FieldValue, len(plan.Fields)),
	}
	for _, fp := range plan.Fields {
		if fp.Source == "" {
			continue
		}
		if v := c.Fields[fp.Source]; v != nil {
			view.Fields[fp.Name] = entities.CloneValue(v)
		}
	}

	next := &entities.NodeFieldContainer{
		ID:            uuid.New(),
		NodeID:        c.NodeID,
		Language:      c.Language,
		SchemaName:    c.SchemaName,
		SchemaVersion: plan.NewSchema.Version,
		Fields:        make(map[string]entities.FieldValue, len(plan.Fields)),
	}

	for _, fp := range plan.Fields {
		var value entities.FieldValue
		if fp.Script != "" {
			if e.scripts == nil {
				return nil, &MigrationError{ContainerID: c.ID, Field: fp.Name, Cause: fmt.Errorf("no script runner configured")}
			}
			start := time.Now()
			v, err := e.scripts.Run(ctx, sandbox.Invocation{
				Script:    fp.Script,
				Container: view,
				FieldName: fp.Name,
				From:      fp.From,
				To:        fp.To,
			})
			if err != nil {
				e.logger.Warn("migration script failed", "container", c.ID, "field", fp.Name, "err", err)
				return nil, &MigrationError{ContainerID: c.ID, Field: fp.Name, Cause: err}
			}
			e.logger.Debug("migration script applied", "container", c.ID, "field", fp.Name, "took", time.Since(start))
			value = v
		} else if old := view.Fields[fp.Name]; old != nil {
			value = conversion.Convert(old, fp.From, fp.To)
		}
		if value != nil {
			next.Fields[fp.Name] = value
		}
	}

	return next, nil
}
