package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/infrastructure/cache"
	"github.com/asakaida/fieldshift/internal/infrastructure/config"
	"github.com/asakaida/fieldshift/internal/services/migration"
)

// Worker migrates the containers of every lineage whose head moves. Each
// lineage is migrated by at most one goroutine; head changes that arrive
// while it runs are coalesced into one more pass.
type Worker struct {
	app     *App
	watcher cache.Watcher

	mu      sync.Mutex
	running map[string]bool
	dirty   map[string]bool
	wg      sync.WaitGroup
}

// NewWorker creates a worker. PostgreSQL stores are watched through
// LISTEN/NOTIFY, other stores are polled every pollInterval.
func NewWorker(a *App, pollInterval time.Duration) *Worker {
	w := &Worker{
		app:     a,
		running: make(map[string]bool),
		dirty:   make(map[string]bool),
	}
	if a.DB.Driver() == config.DriverPostgres {
		w.watcher = cache.NewHeadWatcher(a.Config.Database.ConnectionString(), w.HandleHead, w.Resync, a.Logger)
	} else {
		w.watcher = cache.NewHeadPoller(a.Schemas, pollInterval, w.HandleHead, a.Logger)
	}
	return w
}

// Start catches up on every lineage and then follows head changes
func (w *Worker) Start(ctx context.Context) error {
	if err := w.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch schema heads: %w", err)
	}
	w.Resync(ctx)
	return nil
}

// Stop stops following head changes and waits for running migrations.
// Cancel the context passed to Start first to interrupt them.
func (w *Worker) Stop() error {
	err := w.watcher.Stop()
	w.wg.Wait()
	return err
}

// Resync schedules every known lineage
func (w *Worker) Resync(ctx context.Context) {
	names, err := w.app.Schemas.ListNames(ctx)
	if err != nil {
		w.app.Logger.Error("failed to list schemas", "err", err)
		return
	}
	for _, name := range names {
		w.HandleHead(ctx, name)
	}
}

// HandleHead drops the cached head of schema and schedules its migration
func (w *Worker) HandleHead(ctx context.Context, schema string) {
	w.app.SchemaService.InvalidateSchema(ctx, schema)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running[schema] {
		w.dirty[schema] = true
		return
	}
	w.running[schema] = true
	w.wg.Add(1)
	go w.drain(ctx, schema)
}

func (w *Worker) drain(ctx context.Context, schema string) {
	defer w.wg.Done()
	for {
		if _, err := w.MigrateLineage(ctx, schema); err != nil {
			w.app.Logger.Error("lineage migration failed", "schema", schema, "err", err)
		}

		w.mu.Lock()
		if !w.dirty[schema] || ctx.Err() != nil {
			delete(w.running, schema)
			delete(w.dirty, schema)
			w.mu.Unlock()
			return
		}
		delete(w.dirty, schema)
		w.mu.Unlock()
	}
}

// MigrateLineage migrates the live containers of schema from the oldest
// version that still has any up to the head. It returns a nil report when
// nothing needed migrating or the lineage no longer exists.
func (w *Worker) MigrateLineage(ctx context.Context, schema string) (*migration.Report, error) {
	head, err := w.app.Schemas.GetLatestVersion(ctx, schema)
	if errors.Is(err, entities.ErrSchemaNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema head: %w", err)
	}

	versions, err := w.app.Schemas.ListVersions(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	for _, v := range versions {
		if v.Version >= head.Version {
			break
		}
		n, err := w.app.Containers.CountBySchemaVersion(ctx, schema, v.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to count containers: %w", err)
		}
		if n == 0 {
			continue
		}
		return w.app.Runner.Run(ctx, migration.Job{SchemaName: schema, FromVersion: v.Version, ToVersion: head.Version})
	}
	return nil, nil
}
