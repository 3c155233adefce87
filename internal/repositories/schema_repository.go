package repositories

import (
	"context"

	"github.com/asakaida/fieldshift/internal/entities"
)

// SchemaRepository defines the interface for schema version data access.
// Versions of a lineage are append-only.
type SchemaRepository interface {
	// Create stores schema as version schema.Version of lineage together with
	// the chain that produced it. The lineage key is independent of schema.Name.
	// Returns entities.ErrStaleHead when that version already exists.
	Create(ctx context.Context, lineage string, schema *entities.Schema, chain *entities.Chain) error

	// GetLatestVersion retrieves the head of a lineage
	GetLatestVersion(ctx context.Context, name string) (*entities.Schema, error)

	// GetByVersion retrieves a specific version of a lineage
	GetByVersion(ctx context.Context, name string, version int) (*entities.Schema, error)

	// ListVersions lists all versions of a lineage, oldest first
	ListVersions(ctx context.Context, name string) ([]*entities.SchemaVersion, error)

	// GetChanges retrieves the chain that produced version from its predecessor
	GetChanges(ctx context.Context, name string, version int) (*entities.Chain, error)

	// ListNames lists all lineage names
	ListNames(ctx context.Context) ([]string, error)

	// Delete deletes all versions of a lineage
	Delete(ctx context.Context, name string) error
}
