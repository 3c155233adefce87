package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/pkg/cache/memorycache"
)

// Mock SchemaRepository
type mockSchemaRepository struct {
	mu       sync.Mutex
	versions map[string][]*entities.Schema
	chains   map[string][]*entities.Chain
	reads    int
}

func newMockSchemaRepository() *mockSchemaRepository {
	return &mockSchemaRepository{
		versions: make(map[string][]*entities.Schema),
		chains:   make(map[string][]*entities.Chain),
	}
}

func (m *mockSchemaRepository) Create(ctx context.Context, lineage string, schema *entities.Schema, chain *entities.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if schema.Version != len(m.versions[lineage])+1 {
		return entities.ErrStaleHead
	}
	stored := schema.Clone()
	stored.Lineage = lineage
	m.versions[lineage] = append(m.versions[lineage], stored)
	m.chains[lineage] = append(m.chains[lineage], chain)
	return nil
}

func (m *mockSchemaRepository) GetLatestVersion(ctx context.Context, name string) (*entities.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	vs := m.versions[name]
	if len(vs) == 0 {
		return nil, entities.ErrSchemaNotFound
	}
	return vs[len(vs)-1].Clone(), nil
}

func (m *mockSchemaRepository) GetByVersion(ctx context.Context, name string, version int) (*entities.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	vs := m.versions[name]
	if version < 1 || version > len(vs) {
		return nil, entities.ErrSchemaNotFound
	}
	return vs[version-1].Clone(), nil
}

func (m *mockSchemaRepository) ListVersions(ctx context.Context, name string) ([]*entities.SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.SchemaVersion
	for _, s := range m.versions[name] {
		out = append(out, &entities.SchemaVersion{Version: s.Version, ChangeChecksum: s.ChangeChecksum})
	}
	return out, nil
}

func (m *mockSchemaRepository) GetChanges(ctx context.Context, name string, version int) (*entities.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.chains[name]
	if version < 1 || version > len(cs) {
		return nil, entities.ErrSchemaNotFound
	}
	return cs[version-1], nil
}

func (m *mockSchemaRepository) ListNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.versions {
		names = append(names, name)
	}
	return names, nil
}

func (m *mockSchemaRepository) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, name)
	delete(m.chains, name)
	return nil
}

type countingPublishRecorder struct {
	published int
	skipped   int
}

func (r *countingPublishRecorder) RecordSchemaPublish(schema string, skipped int) {
	r.published++
	r.skipped += skipped
}

func articleSchema() *entities.Schema {
	return &entities.Schema{
		Name: "article",
		Fields: []*entities.FieldSchema{
			{Name: "title", Type: entities.FieldTypeString},
			{Name: "body", Type: entities.FieldTypeHTML},
		},
	}
}

func newTestService(t *testing.T, repo *mockSchemaRepository) *SchemaService {
	t.Helper()
	snapshots, err := memorycache.New(&memorycache.Config[*entities.Schema]{EnableMetrics: true})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return NewSchemaService(repo, snapshots, nil, log.New(io.Discard))
}

func TestSchemaService_CreateSchema(t *testing.T) {
	repo := newMockSchemaRepository()
	service := newTestService(t, repo)

	created, err := service.CreateSchema(context.Background(), articleSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("version mismatch: got %d, want 1", created.Version)
	}

	head, err := service.ReadSchema(context.Background(), "article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !head.Equal(created) {
		t.Errorf("head mismatch: got %+v, want %+v", head, created)
	}
}

func TestSchemaService_CreateSchema_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		schema *entities.Schema
	}{
		{name: "nil", schema: nil},
		{name: "missing name", schema: &entities.Schema{}},
		{
			name: "duplicate field",
			schema: &entities.Schema{Name: "a", Fields: []*entities.FieldSchema{
				{Name: "x", Type: entities.FieldTypeString},
				{Name: "x", Type: entities.FieldTypeNumber},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newTestService(t, newMockSchemaRepository())
			if _, err := service.CreateSchema(context.Background(), tt.schema); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSchemaService_CreateSchema_Twice(t *testing.T) {
	service := newTestService(t, newMockSchemaRepository())

	if _, err := service.CreateSchema(context.Background(), articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := service.CreateSchema(context.Background(), articleSchema())
	if !errors.Is(err, entities.ErrStaleHead) {
		t.Fatalf("expected ErrStaleHead, got %v", err)
	}
}

func TestSchemaService_ReadSchema_NotFound(t *testing.T) {
	service := newTestService(t, newMockSchemaRepository())

	_, err := service.ReadSchema(context.Background(), "nonexistent")
	if !errors.Is(err, entities.ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound, got %v", err)
	}
}

func TestSchemaService_ReadSchema_MissingName(t *testing.T) {
	service := newTestService(t, newMockSchemaRepository())

	if _, err := service.ReadSchema(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing schema name")
	}
}

func TestSchemaService_ReadSchema_Cached(t *testing.T) {
	repo := newMockSchemaRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := service.ReadSchema(ctx, "article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reads := repo.reads
	first.Fields[0].Name = "mutated"

	second, err := service.ReadSchema(ctx, "article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.reads != reads {
		t.Errorf("expected cached read, repository was queried %d more times", repo.reads-reads)
	}
	if second.Fields[0].Name != "title" {
		t.Errorf("cached schema was modified through a returned copy")
	}
}

func TestSchemaService_ApplyChanges(t *testing.T) {
	repo := newMockSchemaRepository()
	recorder := &countingPublishRecorder{}
	snapshots, _ := memorycache.New(&memorycache.Config[*entities.Schema]{})
	service := NewSchemaService(repo, snapshots, recorder, log.New(io.Discard))
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// warm the head cache so the publish has to invalidate it
	if _, err := service.ReadSchema(ctx, "article"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chain := entities.NewChain(
		entities.AddFieldChange(&entities.FieldSchema{Name: "teaser", Type: entities.FieldTypeString}, "title"),
		entities.RemoveFieldChange("missing"),
	)
	result, err := service.ApplyChanges(ctx, "article", 1, chain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Schema.Version != 2 {
		t.Errorf("version mismatch: got %d, want 2", result.Schema.Version)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].FieldName != "missing" {
		t.Errorf("expected the removal of a missing field to be skipped, got %v", result.Skipped)
	}
	if recorder.published != 1 || recorder.skipped != 1 {
		t.Errorf("recorder mismatch: %+v", recorder)
	}

	head, err := service.ReadSchema(ctx, "article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"title", "teaser", "body"}
	got := head.FieldNames()
	if len(got) != len(want) {
		t.Fatalf("fields mismatch: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d mismatch: got %s, want %s", i, got[i], want[i])
		}
	}

	stored, err := service.GetChanges(ctx, "article", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Checksum() != chain.Checksum() {
		t.Errorf("stored chain differs from the applied one")
	}

	v1, err := service.GetSchema(ctx, "article", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v1.Fields) != 2 {
		t.Errorf("version 1 must be unchanged, got fields %v", v1.FieldNames())
	}
}

func TestSchemaService_ApplyChanges_StaleHead(t *testing.T) {
	service := newTestService(t, newMockSchemaRepository())
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := entities.NewChain(entities.RemoveFieldChange("body"))
	if _, err := service.ApplyChanges(ctx, "article", 1, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := entities.NewChain(entities.RemoveFieldChange("title"))
	_, err := service.ApplyChanges(ctx, "article", 1, second)
	if !errors.Is(err, entities.ErrStaleHead) {
		t.Fatalf("expected ErrStaleHead, got %v", err)
	}
}

func TestSchemaService_ApplyChanges_Replay(t *testing.T) {
	repo := newMockSchemaRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chain := entities.NewChain(entities.RemoveFieldChange("body"))
	first, err := service.ApplyChanges(ctx, "article", 1, chain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	again, err := service.ApplyChanges(ctx, "article", 1, entities.NewChain(entities.RemoveFieldChange("body")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !again.Replayed {
		t.Error("expected replay to be detected")
	}
	if again.Schema.Version != first.Schema.Version {
		t.Errorf("version mismatch: got %d, want %d", again.Schema.Version, first.Schema.Version)
	}
	versions, _ := repo.ListVersions(ctx, "article")
	if len(versions) != 2 {
		t.Errorf("replay must not publish, got %d versions", len(versions))
	}
}

func TestSchemaService_ApplyChanges_RenameKeepsLineage(t *testing.T) {
	repo := newMockSchemaRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chain := entities.NewChain(entities.UpdateContainerChange(entities.ContainerUpdate{Name: entities.Some("post")}))
	result, err := service.ApplyChanges(ctx, "article", 1, chain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Schema.Name != "post" || result.Schema.Lineage != "article" || result.Schema.Version != 2 {
		t.Errorf("unexpected result: name=%s lineage=%s version=%d", result.Schema.Name, result.Schema.Lineage, result.Schema.Version)
	}

	head, err := service.ReadSchema(ctx, "article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head.Version != 2 || head.Name != "post" {
		t.Errorf("head mismatch: got %s@%d", head.Name, head.Version)
	}
	if _, err := service.ReadSchema(ctx, "post"); !errors.Is(err, entities.ErrSchemaNotFound) {
		t.Errorf("rename must not start a new lineage, got %v", err)
	}

	// the renamed head keeps publishing into the same lineage
	if _, err := service.ApplyChanges(ctx, "article", 2, entities.NewChain(entities.RemoveFieldChange("body"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	versions, _ := repo.ListVersions(ctx, "article")
	if len(versions) != 3 {
		t.Errorf("expected 3 versions, got %d", len(versions))
	}
}

func TestSchemaService_ApplyChanges_ValidationRejectsAll(t *testing.T) {
	repo := newMockSchemaRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chain := entities.NewChain(
		entities.AddFieldChange(&entities.FieldSchema{Name: "teaser", Type: entities.FieldTypeString}, ""),
		entities.AddFieldChange(&entities.FieldSchema{Name: "flags", Type: entities.FieldTypeBinary, IsList: true}, ""),
	)
	_, err := service.ApplyChanges(ctx, "article", 1, chain)
	var verr *entities.SchemaValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	versions, _ := repo.ListVersions(ctx, "article")
	if len(versions) != 1 {
		t.Errorf("rejected chain must not publish, got %d versions", len(versions))
	}
}

func TestSchemaService_ApplyChanges_Concurrent(t *testing.T) {
	repo := newMockSchemaRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const editors = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		published int
		stale     int
	)
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chain := entities.NewChain(entities.UpdateContainerChange(entities.ContainerUpdate{Description: entities.Some("edit")}))
			_, err := service.ApplyChanges(ctx, "article", 1, chain)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				published++
			case errors.Is(err, entities.ErrStaleHead):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	versions, _ := repo.ListVersions(ctx, "article")
	if len(versions) != 2 {
		t.Errorf("expected exactly one publish, got %d versions", len(versions))
	}
	// identical chains against version 1 replay once the first one landed
	if published != editors || stale != 0 {
		t.Errorf("published=%d stale=%d", published, stale)
	}
}

func TestSchemaService_DeleteSchema(t *testing.T) {
	service := newTestService(t, newMockSchemaRepository())
	ctx := context.Background()

	if _, err := service.CreateSchema(ctx, articleSchema()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.GetSchema(ctx, "article", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.DeleteSchema(ctx, "article"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.GetSchema(ctx, "article", 1); !errors.Is(err, entities.ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound after delete, got %v", err)
	}
}

func TestSchemaService_DeleteSchema_MissingName(t *testing.T) {
	service := newTestService(t, newMockSchemaRepository())

	if err := service.DeleteSchema(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing schema name")
	}
}
