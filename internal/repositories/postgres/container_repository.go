package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/repositories"
)

// PostgresContainerRepository implements ContainerRepository using PostgreSQL
type PostgresContainerRepository struct {
	db *sql.DB
}

// NewPostgresContainerRepository creates a new PostgreSQL container repository
func NewPostgresContainerRepository(db *sql.DB) repositories.ContainerRepository {
	return &PostgresContainerRepository{db: db}
}

const containerColumns = `id, node_id, language, lineage, schema_version, fields, superseded_by, created_at`

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create stores a new container
func (r *PostgresContainerRepository) Create(ctx context.Context, c *entities.NodeFieldContainer) error {
	return insertContainer(ctx, r.db, c)
}

func insertContainer(ctx context.Context, db execer, c *entities.NodeFieldContainer) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid container: %w", err)
	}
	fields, err := entities.MarshalFields(c.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO field_containers (id, node_id, language, lineage, schema_version, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = db.ExecContext(ctx, query,
		c.ID, c.NodeID, c.Language, c.SchemaName, c.SchemaVersion, string(fields), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// Get retrieves a container by ID
func (r *PostgresContainerRepository) Get(ctx context.Context, id uuid.UUID) (*entities.NodeFieldContainer, error) {
	query := `SELECT ` + containerColumns + ` FROM field_containers WHERE id = $1`

	c, err := scanContainer(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, entities.ErrContainerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get container: %w", err)
	}
	return c, nil
}

// ListBySchemaVersion pages through the live containers of a schema version
func (r *PostgresContainerRepository) ListBySchemaVersion(ctx context.Context, schemaName string, version int, after uuid.UUID, limit int) ([]*entities.NodeFieldContainer, error) {
	query := `
		SELECT ` + containerColumns + `
		FROM field_containers
		WHERE lineage = $1 AND schema_version = $2 AND superseded_by IS NULL AND id > $3
		ORDER BY id
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, schemaName, version, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var containers []*entities.NodeFieldContainer
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan container: %w", err)
		}
		containers = append(containers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate containers: %w", err)
	}
	return containers, nil
}

// CountBySchemaVersion counts the live containers of a schema version
func (r *PostgresContainerRepository) CountBySchemaVersion(ctx context.Context, schemaName string, version int) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM field_containers
		WHERE lineage = $1 AND schema_version = $2 AND superseded_by IS NULL
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, schemaName, version).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count containers: %w", err)
	}
	return n, nil
}

// Begin starts a transaction
func (r *PostgresContainerRepository) Begin(ctx context.Context) (repositories.ContainerTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresContainerTx{tx: tx}, nil
}

// Purge deletes superseded containers created before cutoff
func (r *PostgresContainerRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM field_containers WHERE superseded_by IS NOT NULL AND created_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge containers: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type postgresContainerTx struct {
	tx *sql.Tx
}

// Supersede inserts next and links the live container oldID to it
func (t *postgresContainerTx) Supersede(ctx context.Context, oldID uuid.UUID, next *entities.NodeFieldContainer) error {
	if err := insertContainer(ctx, t.tx, next); err != nil {
		return err
	}

	query := `UPDATE field_containers SET superseded_by = $1 WHERE id = $2 AND superseded_by IS NULL`
	result, err := t.tx.ExecContext(ctx, query, next.ID, oldID)
	if err != nil {
		return fmt.Errorf("failed to supersede container: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s is missing or already superseded: %w", oldID, entities.ErrContainerNotFound)
	}
	return nil
}

func (t *postgresContainerTx) Commit() error {
	return t.tx.Commit()
}

func (t *postgresContainerTx) Rollback() error {
	return t.tx.Rollback()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContainer(row rowScanner) (*entities.NodeFieldContainer, error) {
	var (
		c            entities.NodeFieldContainer
		fields       []byte
		supersededBy uuid.NullUUID
	)
	err := row.Scan(&c.ID, &c.NodeID, &c.Language, &c.SchemaName, &c.SchemaVersion, &fields, &supersededBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	c.Fields, err = entities.UnmarshalFields(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fields of %s: %w", c.ID, err)
	}
	if supersededBy.Valid {
		id := supersededBy.UUID
		c.SupersededBy = &id
	}
	return &c, nil
}
