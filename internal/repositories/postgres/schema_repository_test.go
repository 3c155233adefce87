package postgres

import (
	"testing"

	"github.com/asakaida/fieldshift/internal/repositories"
	"github.com/asakaida/fieldshift/internal/repositories/repositorytest"
)

func newTestRepositories(t *testing.T) (repositories.SchemaRepository, repositories.ContainerRepository) {
	db := SetupTestDB(t)
	return NewPostgresSchemaRepository(db), NewPostgresContainerRepository(db)
}

func TestSchemaRepository(t *testing.T) {
	repositorytest.RunSchemaRepositoryTests(t, newTestRepositories)
}

func TestContainerRepository(t *testing.T) {
	repositorytest.RunContainerRepositoryTests(t, newTestRepositories)
}
