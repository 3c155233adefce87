package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/repositories"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation
const uniqueViolation = "23505"

// PostgresSchemaRepository implements SchemaRepository using PostgreSQL
type PostgresSchemaRepository struct {
	db *sql.DB
}

// NewPostgresSchemaRepository creates a new PostgreSQL schema repository
func NewPostgresSchemaRepository(db *sql.DB) repositories.SchemaRepository {
	return &PostgresSchemaRepository{db: db}
}

// Create stores a new schema version. The (lineage, version) primary key turns a
// concurrent publish of the same version into entities.ErrStaleHead.
func (r *PostgresSchemaRepository) Create(ctx context.Context, lineage string, schema *entities.Schema, chain *entities.Chain) error {
	if lineage == "" {
		return fmt.Errorf("lineage is required")
	}
	schema = schema.Clone()
	schema.Lineage = lineage

	definition, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	changes, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}

	query := `
		INSERT INTO schemas (lineage, version, name, definition, changes, change_checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		lineage, schema.Version, schema.Name, string(definition), string(changes), schema.ChangeChecksum, time.Now(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("version %d of %s already exists: %w", schema.Version, lineage, entities.ErrStaleHead)
		}
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetLatestVersion retrieves the head of a lineage
func (r *PostgresSchemaRepository) GetLatestVersion(ctx context.Context, name string) (*entities.Schema, error) {
	query := `
		SELECT definition, version, change_checksum, created_at
		FROM schemas
		WHERE lineage = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return scanSchema(r.db.QueryRowContext(ctx, query, name), name)
}

// GetByVersion retrieves a specific version of a lineage
func (r *PostgresSchemaRepository) GetByVersion(ctx context.Context, name string, version int) (*entities.Schema, error) {
	query := `
		SELECT definition, version, change_checksum, created_at
		FROM schemas
		WHERE lineage = $1 AND version = $2
	`
	return scanSchema(r.db.QueryRowContext(ctx, query, name, version), name)
}

// ListVersions lists all versions of a lineage, oldest first
func (r *PostgresSchemaRepository) ListVersions(ctx context.Context, name string) ([]*entities.SchemaVersion, error) {
	query := `
		SELECT version, change_checksum, created_at
		FROM schemas
		WHERE lineage = $1
		ORDER BY version ASC
	`
	rows, err := r.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	defer rows.Close()

	var versions []*entities.SchemaVersion
	for rows.Next() {
		v := &entities.SchemaVersion{}
		if err := rows.Scan(&v.Version, &v.ChangeChecksum, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schema versions: %w", err)
	}
	return versions, nil
}

// GetChanges retrieves the chain that produced a version
func (r *PostgresSchemaRepository) GetChanges(ctx context.Context, name string, version int) (*entities.Chain, error) {
	query := `SELECT changes FROM schemas WHERE lineage = $1 AND version = $2`

	var data []byte
	err := r.db.QueryRowContext(ctx, query, name, version).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s@%d: %w", name, version, entities.ErrSchemaNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get changes: %w", err)
	}

	chain := &entities.Chain{}
	if err := json.Unmarshal(data, chain); err != nil {
		return nil, fmt.Errorf("failed to decode changes: %w", err)
	}
	return chain, nil
}

// ListNames lists all lineage names
func (r *PostgresSchemaRepository) ListNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT lineage FROM schemas ORDER BY lineage`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan schema name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete deletes all versions of a lineage
func (r *PostgresSchemaRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schemas WHERE lineage = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete schema: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", name, entities.ErrSchemaNotFound)
	}
	return nil
}

func scanSchema(row *sql.Row, name string) (*entities.Schema, error) {
	var (
		data     []byte
		version  int
		checksum string
		created  time.Time
	)
	err := row.Scan(&data, &version, &checksum, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, entities.ErrSchemaNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	schema := &entities.Schema{}
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	schema.Lineage = name
	schema.Version = version
	schema.ChangeChecksum = checksum
	schema.CreatedAt = created
	return schema, nil
}
