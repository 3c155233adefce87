package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/repositories"
	"github.com/asakaida/fieldshift/internal/services/mutator"
	"github.com/asakaida/fieldshift/pkg/cache"
)

// SchemaServiceInterface defines the interface for schema management operations
type SchemaServiceInterface interface {
	CreateSchema(ctx context.Context, schema *entities.Schema) (*entities.Schema, error)
	ReadSchema(ctx context.Context, name string) (*entities.Schema, error)
	GetSchema(ctx context.Context, name string, version int) (*entities.Schema, error)
	ValidateSchema(schema *entities.Schema) error
	DeleteSchema(ctx context.Context, name string) error
	ListVersions(ctx context.Context, name string) ([]*entities.SchemaVersion, error)
	GetChanges(ctx context.Context, name string, version int) (*entities.Chain, error)
	ApplyChanges(ctx context.Context, name string, expectedVersion int, chain *entities.Chain) (*ChangeResult, error)
	InvalidateSchema(ctx context.Context, name string)
}

// PublishRecorder receives one call per published schema version
type PublishRecorder interface {
	RecordSchemaPublish(schema string, skippedChanges int)
}

// ChangeResult is the outcome of ApplyChanges
type ChangeResult struct {
	// Schema is the new head
	Schema *entities.Schema
	// Skipped lists changes that could not be applied structurally
	Skipped []*entities.StructuralChangeError
	// Replayed is set when the chain had already produced the head
	Replayed bool
}

// SchemaService handles schema management operations
type SchemaService struct {
	schemaRepo repositories.SchemaRepository
	snapshots  cache.Cache[*entities.Schema]
	recorder   PublishRecorder
	logger     *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSchemaService creates a new SchemaService. snapshots and recorder may be nil.
func NewSchemaService(schemaRepo repositories.SchemaRepository, snapshots cache.Cache[*entities.Schema], recorder PublishRecorder, logger *log.Logger) *SchemaService {
	if logger == nil {
		logger = log.Default()
	}
	return &SchemaService{
		schemaRepo: schemaRepo,
		snapshots:  snapshots,
		recorder:   recorder,
		logger:     logger.WithPrefix("schema"),
		locks:      make(map[string]*sync.Mutex),
	}
}

// CreateSchema validates schema and stores it as version 1 of a new lineage
func (s *SchemaService) CreateSchema(ctx context.Context, schema *entities.Schema) (*entities.Schema, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if err := s.ValidateSchema(schema); err != nil {
		return nil, err
	}

	created := schema.Clone()
	created.Lineage = schema.Key()
	created.Version = 1
	chain := entities.NewChain()
	created.ChangeChecksum = chain.Checksum()

	if err := s.schemaRepo.Create(ctx, created.Lineage, created, chain); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	s.InvalidateSchema(ctx, created.Lineage)
	s.logger.Info("schema created", "schema", created.Lineage)
	return created, nil
}

// ReadSchema retrieves the head of a lineage
func (s *SchemaService) ReadSchema(ctx context.Context, name string) (*entities.Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}

	key := headKey(name)
	if schema, ok := s.cached(ctx, key); ok {
		return schema, nil
	}

	schema, err := s.schemaRepo.GetLatestVersion(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	s.store(ctx, key, schema)
	return schema, nil
}

// GetSchema retrieves a specific version of a lineage. version 0 means the head.
func (s *SchemaService) GetSchema(ctx context.Context, name string, version int) (*entities.Schema, error) {
	if version == 0 {
		return s.ReadSchema(ctx, name)
	}
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}

	key := versionKey(name, version)
	if schema, ok := s.cached(ctx, key); ok {
		return schema, nil
	}

	schema, err := s.schemaRepo.GetByVersion(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema version %d: %w", version, err)
	}
	// published versions never change, so they are cached until the lineage is deleted
	s.store(ctx, key, schema)
	return schema, nil
}

// ValidateSchema checks a schema without saving it
func (s *SchemaService) ValidateSchema(schema *entities.Schema) error {
	if schema == nil {
		return fmt.Errorf("schema is required")
	}
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// DeleteSchema deletes every version of a lineage
func (s *SchemaService) DeleteSchema(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("schema name is required")
	}

	if err := s.schemaRepo.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete schema: %w", err)
	}
	if s.snapshots != nil {
		if err := s.snapshots.DeletePrefix(ctx, lineagePrefix(name)); err != nil {
			s.logger.Warn("failed to drop cached snapshots", "schema", name, "err", err)
		}
	}
	return nil
}

// ListVersions lists the versions of a lineage, oldest first
func (s *SchemaService) ListVersions(ctx context.Context, name string) ([]*entities.SchemaVersion, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	versions, err := s.schemaRepo.ListVersions(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	return versions, nil
}

// GetChanges retrieves the chain that produced version from its predecessor
func (s *SchemaService) GetChanges(ctx context.Context, name string, version int) (*entities.Chain, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	chain, err := s.schemaRepo.GetChanges(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get changes of version %d: %w", version, err)
	}
	return chain, nil
}

// ApplyChanges applies chain to the head of a lineage and publishes the result
// as the next version of the same lineage, also when the chain renames the
// schema. expectedVersion is the version the chain was written
// against; it must be the current head. Edits of the same lineage are
// serialized, and a concurrent publish from another process surfaces as
// entities.ErrStaleHead through the repository.
func (s *SchemaService) ApplyChanges(ctx context.Context, name string, expectedVersion int, chain *entities.Chain) (*ChangeResult, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	if chain == nil {
		return nil, fmt.Errorf("change chain is required")
	}

	lock := s.lineageLock(name)
	lock.Lock()
	defer lock.Unlock()

	head, err := s.schemaRepo.GetLatestVersion(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema head: %w", err)
	}

	checksum := chain.Checksum()
	if expectedVersion == head.Version-1 && head.ChangeChecksum == checksum {
		s.logger.Debug("change chain already published", "schema", name, "version", head.Version)
		return &ChangeResult{Schema: head, Replayed: true}, nil
	}
	if expectedVersion != head.Version {
		return nil, fmt.Errorf("expected version %d, head is %d: %w", expectedVersion, head.Version, entities.ErrStaleHead)
	}

	applied, err := mutator.Apply(head, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to apply changes: %w", err)
	}

	next := applied.Schema
	next.Lineage = name
	next.Version = head.Version + 1
	next.ChangeChecksum = checksum

	if err := s.schemaRepo.Create(ctx, name, next, chain); err != nil {
		if errors.Is(err, entities.ErrStaleHead) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to publish schema version: %w", err)
	}

	s.InvalidateSchema(ctx, name)
	if s.recorder != nil {
		s.recorder.RecordSchemaPublish(name, len(applied.Skipped))
	}
	for _, skipped := range applied.Skipped {
		s.logger.Warn("change skipped", "schema", name, "err", skipped)
	}
	s.logger.Info("schema published", "schema", name, "version", next.Version, "changes", chain.Len())

	return &ChangeResult{Schema: next, Skipped: applied.Skipped}, nil
}

// InvalidateSchema drops the cached head of a lineage
func (s *SchemaService) InvalidateSchema(ctx context.Context, name string) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Delete(ctx, headKey(name)); err != nil {
		s.logger.Warn("failed to invalidate schema head", "schema", name, "err", err)
	}
}

func (s *SchemaService) lineageLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func (s *SchemaService) cached(ctx context.Context, key string) (*entities.Schema, bool) {
	if s.snapshots == nil {
		return nil, false
	}
	schema, ok := s.snapshots.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return schema.Clone(), true
}

func (s *SchemaService) store(ctx context.Context, key string, schema *entities.Schema) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Set(ctx, key, schema.Clone(), 0); err != nil {
		s.logger.Warn("failed to cache schema", "key", key, "err", err)
	}
}

func lineagePrefix(name string) string {
	return "schema/" + name + "/"
}

func headKey(name string) string {
	return lineagePrefix(name) + "head"
}

func versionKey(name string, version int) string {
	return lineagePrefix(name) + strconv.Itoa(version)
}
