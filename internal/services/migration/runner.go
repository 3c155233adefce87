package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/repositories"
	"github.com/asakaida/fieldshift/internal/services/sandbox"
)

const (
	defaultWorkers  = 4
	defaultPageSize = 100
)

// Outcome labels of a migrated item
const (
	OutcomeMigrated = "migrated"
	OutcomeFailed   = "failed"
)

// Recorder receives per item measurements
type Recorder interface {
	RecordMigration(schema, outcome, reason string, durationSeconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordMigration(string, string, string, float64) {}

// RunnerConfig configures bulk migration
type RunnerConfig struct {
	// Workers bounds the number of containers migrated in parallel
	Workers int
	// PageSize is the number of containers fetched per query
	PageSize int
}

// Job selects the containers to migrate
type Job struct {
	SchemaName  string
	FromVersion int
	// ToVersion is the target version, zero for the current head
	ToVersion int
}

// ItemFailure reports one container that could not be migrated
type ItemFailure struct {
	ContainerID uuid.UUID
	Version     int
	Err         error
}

// Report summarizes a bulk migration
type Report struct {
	SchemaName  string
	FromVersion int
	ToVersion   int
	Migrated    int
	Failed      []ItemFailure
	// Skipped counts live containers left at a version below ToVersion because the run was canceled
	Skipped  int
	Canceled bool
	Duration time.Duration
}

// Runner migrates all containers of a lineage between versions
type Runner struct {
	schemas    repositories.SchemaRepository
	containers repositories.ContainerRepository
	engine     *Engine
	recorder   Recorder
	logger     *log.Logger
	workers    int
	pageSize   int
}

// NewRunner creates a bulk migration runner. recorder may be nil.
func NewRunner(schemas repositories.SchemaRepository, containers repositories.ContainerRepository, engine *Engine, recorder Recorder, cfg RunnerConfig, logger *log.Logger) *Runner {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = log.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Runner{
		schemas:    schemas,
		containers: containers,
		engine:     engine,
		recorder:   recorder,
		logger:     logger.WithPrefix("runner"),
		workers:    workers,
		pageSize:   pageSize,
	}
}

// Run migrates the job's containers version by version. Item failures are
// reported, not returned; the error is reserved for failures of the job itself.
// Canceling ctx stops scheduling new items. Items already in flight finish and
// committed items stay committed.
func (r *Runner) Run(ctx context.Context, job Job) (*Report, error) {
	if job.SchemaName == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	if job.FromVersion < 1 {
		return nil, fmt.Errorf("from version must be positive")
	}

	start := time.Now()
	to := job.ToVersion
	if to == 0 {
		head, err := r.schemas.GetLatestVersion(ctx, job.SchemaName)
		if err != nil {
			return nil, fmt.Errorf("failed to get schema head: %w", err)
		}
		to = head.Version
	}
	if to < job.FromVersion {
		return nil, fmt.Errorf("cannot migrate %s backwards from version %d to %d", job.SchemaName, job.FromVersion, to)
	}

	report := &Report{SchemaName: job.SchemaName, FromVersion: job.FromVersion, ToVersion: to}
	r.logger.Info("migration started", "schema", job.SchemaName, "from", job.FromVersion, "to", to)

	for v := job.FromVersion; v < to; v++ {
		plan, err := r.plan(ctx, job.SchemaName, v)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return nil, err
		}
		if err := r.step(ctx, plan, report); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil {
		report.Canceled = true
		report.Skipped = max(r.remaining(context.WithoutCancel(ctx), job.SchemaName, job.FromVersion, to)-len(report.Failed), 0)
	}
	report.Duration = time.Since(start)

	r.logger.Info("migration finished",
		"schema", job.SchemaName,
		"migrated", report.Migrated,
		"failed", len(report.Failed),
		"skipped", report.Skipped,
		"canceled", report.Canceled,
		"took", report.Duration)
	return report, nil
}

// plan loads the versions v and v+1 and the chain between them
func (r *Runner) plan(ctx context.Context, name string, v int) (*Plan, error) {
	oldSchema, err := r.schemas.GetByVersion(ctx, name, v)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s@%d: %w", name, v, err)
	}
	newSchema, err := r.schemas.GetByVersion(ctx, name, v+1)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s@%d: %w", name, v+1, err)
	}
	chain, err := r.schemas.GetChanges(ctx, name, v+1)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes of %s@%d: %w", name, v+1, err)
	}
	return NewPlan(chain, oldSchema, newSchema)
}

// step migrates every live container of plan.OldSchema
func (r *Runner) step(ctx context.Context, plan *Plan, report *Report) error {
	name, version := plan.OldSchema.Key(), plan.OldSchema.Version

	var (
		mu    sync.Mutex
		after uuid.UUID
	)
	g := new(errgroup.Group)
	g.SetLimit(r.workers)

	for ctx.Err() == nil {
		page, err := r.containers.ListBySchemaVersion(ctx, name, version, after, r.pageSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			g.Wait()
			return fmt.Errorf("failed to list containers of %s@%d: %w", name, version, err)
		}
		if len(page) == 0 {
			break
		}

		for _, c := range page {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				err := r.migrateItem(context.WithoutCancel(ctx), c, plan)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failed = append(report.Failed, ItemFailure{ContainerID: c.ID, Version: version, Err: err})
					return nil
				}
				report.Migrated++
				return nil
			})
		}
		after = page[len(page)-1].ID

		if len(page) < r.pageSize {
			break
		}
	}

	return g.Wait()
}

// migrateItem migrates one container in its own transaction
func (r *Runner) migrateItem(ctx context.Context, c *entities.NodeFieldContainer, plan *Plan) (err error) {
	start := time.Now()
	defer func() {
		outcome, reason := OutcomeMigrated, ""
		if err != nil {
			outcome, reason = OutcomeFailed, failureReason(err)
			r.logger.Warn("container migration failed", "container", c.ID, "err", err)
		}
		r.recorder.RecordMigration(plan.OldSchema.Key(), outcome, reason, time.Since(start).Seconds())
	}()

	next, err := r.engine.MigrateContainer(ctx, c, plan)
	if err != nil {
		return err
	}

	tx, err := r.containers.Begin(ctx)
	if err != nil {
		return &MigrationError{ContainerID: c.ID, Cause: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.Supersede(ctx, c.ID, next); err != nil {
		return &MigrationError{ContainerID: c.ID, Cause: err}
	}
	if err = tx.Commit(); err != nil {
		return &MigrationError{ContainerID: c.ID, Cause: fmt.Errorf("failed to commit: %w", err)}
	}
	return nil
}

// remaining counts live containers still below version to
func (r *Runner) remaining(ctx context.Context, name string, from, to int) int {
	total := 0
	for v := from; v < to; v++ {
		n, err := r.containers.CountBySchemaVersion(ctx, name, v)
		if err != nil {
			r.logger.Warn("failed to count remaining containers", "schema", name, "version", v, "err", err)
			continue
		}
		total += n
	}
	return total
}

// failureReason returns a low cardinality label for a failed item
func failureReason(err error) string {
	var serr *sandbox.ScriptError
	switch {
	case errors.As(err, &serr):
		return "script_" + string(serr.Reason)
	case errors.Is(err, entities.ErrContainerNotFound):
		return "conflict"
	}
	return "store"
}
