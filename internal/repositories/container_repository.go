package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/asakaida/fieldshift/internal/entities"
)

// ContainerRepository defines the interface for field container data access
type ContainerRepository interface {
	// Create stores a new container
	Create(ctx context.Context, container *entities.NodeFieldContainer) error

	// Get retrieves a container by ID, superseded or not
	Get(ctx context.Context, id uuid.UUID) (*entities.NodeFieldContainer, error)

	// ListBySchemaVersion pages through the live (not superseded) containers
	// bound to a schema version, ordered by ID and starting after the given ID
	ListBySchemaVersion(ctx context.Context, schemaName string, version int, after uuid.UUID, limit int) ([]*entities.NodeFieldContainer, error)

	// CountBySchemaVersion counts the live containers bound to a schema version
	CountBySchemaVersion(ctx context.Context, schemaName string, version int) (int, error)

	// Begin starts a transaction for superseding containers
	Begin(ctx context.Context) (ContainerTx, error)

	// Purge deletes superseded containers created before cutoff
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// ContainerTx is a unit of work over containers
type ContainerTx interface {
	// Supersede stores next and marks the live container oldID as replaced by it.
	// Returns entities.ErrContainerNotFound when oldID is missing or already superseded.
	Supersede(ctx context.Context, oldID uuid.UUID, next *entities.NodeFieldContainer) error

	Commit() error
	Rollback() error
}
