// Package repositorytest holds behavior tests shared by every repository
// implementation.
package repositorytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/repositories"
)

// Factory returns fresh, empty repositories sharing one store
type Factory func(t *testing.T) (repositories.SchemaRepository, repositories.ContainerRepository)

func articleV1() *entities.Schema {
	return &entities.Schema{
		Name:    "article",
		Version: 1,
		Fields: []*entities.FieldSchema{
			{Name: "title", Type: entities.FieldTypeString, Required: true},
			{Name: "dates", Type: entities.FieldTypeDate, IsList: true},
		},
	}
}

func articleV2() (*entities.Schema, *entities.Chain) {
	chain := entities.NewChain(entities.RemoveFieldChange("dates"))
	s := articleV1()
	s.Version = 2
	s.Fields = s.Fields[:1]
	s.ChangeChecksum = chain.Checksum()
	return s, chain
}

// RunSchemaRepositoryTests exercises a SchemaRepository
func RunSchemaRepositoryTests(t *testing.T, newRepos Factory) {
	t.Run("create and read versions", func(t *testing.T) {
		schemas, _ := newRepos(t)
		ctx := context.Background()

		require.NoError(t, schemas.Create(ctx, "article", articleV1(), entities.NewChain()))
		v2, chain := articleV2()
		require.NoError(t, schemas.Create(ctx, "article", v2, chain))

		head, err := schemas.GetLatestVersion(ctx, "article")
		require.NoError(t, err)
		assert.Equal(t, 2, head.Version)
		assert.Equal(t, chain.Checksum(), head.ChangeChecksum)
		assert.True(t, head.Equal(v2), "head differs from the stored version")

		v1, err := schemas.GetByVersion(ctx, "article", 1)
		require.NoError(t, err)
		assert.True(t, v1.Equal(articleV1()))

		versions, err := schemas.ListVersions(ctx, "article")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 1, versions[0].Version)
		assert.Equal(t, 2, versions[1].Version)

		stored, err := schemas.GetChanges(ctx, "article", 2)
		require.NoError(t, err)
		assert.Equal(t, chain.Checksum(), stored.Checksum())
		assert.Equal(t, 1, stored.Len())

		names, err := schemas.ListNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"article"}, names)
	})

	t.Run("renamed version stays in its lineage", func(t *testing.T) {
		schemas, containers := newRepos(t)
		ctx := context.Background()

		require.NoError(t, schemas.Create(ctx, "article", articleV1(), entities.NewChain()))
		v2, chain := articleV2()
		v2.Name = "post"
		require.NoError(t, schemas.Create(ctx, "article", v2, chain))

		head, err := schemas.GetLatestVersion(ctx, "article")
		require.NoError(t, err)
		assert.Equal(t, 2, head.Version)
		assert.Equal(t, "post", head.Name)
		assert.Equal(t, "article", head.Key())

		_, err = schemas.GetLatestVersion(ctx, "post")
		assert.ErrorIs(t, err, entities.ErrSchemaNotFound)

		names, err := schemas.ListNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"article"}, names)

		c := entities.NewNodeFieldContainer(uuid.New(), "en", head)
		c.Fields["title"] = entities.StringValue("item")
		require.NoError(t, containers.Create(ctx, c))
		n, err := containers.CountBySchemaVersion(ctx, "article", 2)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("duplicate version is a stale head", func(t *testing.T) {
		schemas, _ := newRepos(t)
		ctx := context.Background()

		require.NoError(t, schemas.Create(ctx, "article", articleV1(), entities.NewChain()))
		err := schemas.Create(ctx, "article", articleV1(), entities.NewChain())
		assert.True(t, errors.Is(err, entities.ErrStaleHead), "got %v", err)
	})

	t.Run("missing lineage", func(t *testing.T) {
		schemas, _ := newRepos(t)
		ctx := context.Background()

		_, err := schemas.GetLatestVersion(ctx, "nope")
		assert.ErrorIs(t, err, entities.ErrSchemaNotFound)
		_, err = schemas.GetByVersion(ctx, "nope", 1)
		assert.ErrorIs(t, err, entities.ErrSchemaNotFound)
		_, err = schemas.GetChanges(ctx, "nope", 1)
		assert.ErrorIs(t, err, entities.ErrSchemaNotFound)
		assert.ErrorIs(t, schemas.Delete(ctx, "nope"), entities.ErrSchemaNotFound)
	})

	t.Run("delete removes every version", func(t *testing.T) {
		schemas, _ := newRepos(t)
		ctx := context.Background()

		require.NoError(t, schemas.Create(ctx, "article", articleV1(), entities.NewChain()))
		require.NoError(t, schemas.Delete(ctx, "article"))
		_, err := schemas.GetLatestVersion(ctx, "article")
		assert.ErrorIs(t, err, entities.ErrSchemaNotFound)
	})
}

// RunContainerRepositoryTests exercises a ContainerRepository
func RunContainerRepositoryTests(t *testing.T, newRepos Factory) {
	setup := func(t *testing.T, n int) (repositories.ContainerRepository, []*entities.NodeFieldContainer) {
		schemas, containers := newRepos(t)
		ctx := context.Background()
		require.NoError(t, schemas.Create(ctx, "article", articleV1(), entities.NewChain()))
		v2, chain := articleV2()
		require.NoError(t, schemas.Create(ctx, "article", v2, chain))

		var created []*entities.NodeFieldContainer
		for i := 0; i < n; i++ {
			c := entities.NewNodeFieldContainer(uuid.New(), "en", articleV1())
			c.Fields["title"] = entities.StringValue("item")
			c.Fields["dates"] = entities.DateList{int64(i), 1700000000000}
			require.NoError(t, containers.Create(ctx, c))
			created = append(created, c)
		}
		return containers, created
	}

	t.Run("create and get", func(t *testing.T) {
		containers, created := setup(t, 1)
		got, err := containers.Get(context.Background(), created[0].ID)
		require.NoError(t, err)
		assert.Equal(t, created[0].NodeID, got.NodeID)
		assert.Equal(t, "en", got.Language)
		assert.Equal(t, 1, got.SchemaVersion)
		assert.Equal(t, created[0].Fields, got.Fields)
		assert.Nil(t, got.SupersededBy)

		_, err = containers.Get(context.Background(), uuid.New())
		assert.ErrorIs(t, err, entities.ErrContainerNotFound)
	})

	t.Run("pages live containers by id", func(t *testing.T) {
		containers, created := setup(t, 5)
		ctx := context.Background()

		seen := map[uuid.UUID]bool{}
		after := uuid.Nil
		pages := 0
		for {
			page, err := containers.ListBySchemaVersion(ctx, "article", 1, after, 2)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			pages++
			for _, c := range page {
				assert.False(t, seen[c.ID], "container %s listed twice", c.ID)
				seen[c.ID] = true
			}
			after = page[len(page)-1].ID
		}
		assert.Len(t, seen, len(created))
		assert.Equal(t, 3, pages)

		n, err := containers.CountBySchemaVersion(ctx, "article", 1)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("supersede in a transaction", func(t *testing.T) {
		containers, created := setup(t, 2)
		ctx := context.Background()
		old := created[0]

		next := entities.NewNodeFieldContainer(old.NodeID, old.Language, &entities.Schema{Name: "article", Version: 2})
		next.Fields["title"] = entities.StringValue("item")

		tx, err := containers.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Supersede(ctx, old.ID, next))
		require.NoError(t, tx.Commit())

		got, err := containers.Get(ctx, old.ID)
		require.NoError(t, err)
		require.NotNil(t, got.SupersededBy)
		assert.Equal(t, next.ID, *got.SupersededBy)

		n1, err := containers.CountBySchemaVersion(ctx, "article", 1)
		require.NoError(t, err)
		n2, err := containers.CountBySchemaVersion(ctx, "article", 2)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1}, []int{n1, n2})

		again := entities.NewNodeFieldContainer(old.NodeID, old.Language, &entities.Schema{Name: "article", Version: 2})
		tx, err = containers.Begin(ctx)
		require.NoError(t, err)
		err = tx.Supersede(ctx, old.ID, again)
		assert.ErrorIs(t, err, entities.ErrContainerNotFound)
		require.NoError(t, tx.Rollback())

		_, err = containers.Get(ctx, again.ID)
		assert.ErrorIs(t, err, entities.ErrContainerNotFound, "rolled back successor must not be stored")
	})

	t.Run("rollback keeps the old container live", func(t *testing.T) {
		containers, created := setup(t, 1)
		ctx := context.Background()
		old := created[0]

		next := entities.NewNodeFieldContainer(old.NodeID, old.Language, &entities.Schema{Name: "article", Version: 2})
		tx, err := containers.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Supersede(ctx, old.ID, next))
		require.NoError(t, tx.Rollback())

		got, err := containers.Get(ctx, old.ID)
		require.NoError(t, err)
		assert.Nil(t, got.SupersededBy)
	})

	t.Run("purge removes superseded containers", func(t *testing.T) {
		containers, created := setup(t, 2)
		ctx := context.Background()
		old := created[0]

		next := entities.NewNodeFieldContainer(old.NodeID, old.Language, &entities.Schema{Name: "article", Version: 2})
		tx, err := containers.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Supersede(ctx, old.ID, next))
		require.NoError(t, tx.Commit())

		n, err := containers.Purge(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n, "cutoff before creation must keep everything")

		n, err = containers.Purge(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = containers.Get(ctx, old.ID)
		assert.ErrorIs(t, err, entities.ErrContainerNotFound)
		_, err = containers.Get(ctx, next.ID)
		assert.NoError(t, err)
		_, err = containers.Get(ctx, created[1].ID)
		assert.NoError(t, err)
	})
}
