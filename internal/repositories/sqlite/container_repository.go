package sqlite

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

// SQLiteContainerRepository implements ContainerRepository using SQLite
type SQLiteContainerRepository struct {
	db *sql.DB
}

// NewSQLiteContainerRepository creates a new SQLite container repository
func NewSQLiteContainerRepository(db *sql.DB) repositories.ContainerRepository {
	return &SQLiteContainerRepository{db: db}
}

const containerColumns = `id, node_id, language, lineage, schema_version, fields, superseded_by, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create stores a new container
func (r *SQLiteContainerRepository) Create(ctx context.Context, c *entities.NodeFieldContainer) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		c.ID.String(), c.NodeID.String(), c.Language, c.SchemaName, c.SchemaVersion, string(fields), formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// Get retrieves a container by ID
func (r *SQLiteContainerRepository) Get(ctx context.Context, id uuid.UUID) (*entities.NodeFieldContainer, error) {
	query := `SELECT ` + containerColumns + ` FROM field_containers WHERE id = ?`

	c, err := scanContainer(r.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, entities.ErrContainerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get container: %w", err)
	}
	return c, nil
}

// ListBySchemaVersion pages through the live containers of a schema version.
// All rows are read before returning so the single connection is released
// for the caller's writes.
func (r *SQLiteContainerRepository) ListBySchemaVersion(ctx context.Context, schemaName string, version int, after uuid.UUID, limit int) ([]*entities.NodeFieldContainer, error) {
	query := `
		SELECT ` + containerColumns + `
		FROM field_containers
		WHERE lineage = ? AND schema_version = ? AND superseded_by IS NULL AND id > ?
		ORDER BY id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, schemaName, version, after.String(), limit)
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
func (r *SQLiteContainerRepository) CountBySchemaVersion(ctx context.Context, schemaName string, version int) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM field_containers
		WHERE lineage = ? AND schema_version = ? AND superseded_by IS NULL
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, schemaName, version).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count containers: %w", err)
	}
	return n, nil
}

// Begin starts a transaction
func (r *SQLiteContainerRepository) Begin(ctx context.Context) (repositories.ContainerTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteContainerTx{tx: tx}, nil
}

// Purge deletes superseded containers created before cutoff
func (r *SQLiteContainerRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM field_containers WHERE superseded_by IS NOT NULL AND created_at < ?`
	result, err := r.db.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge containers: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type sqliteContainerTx struct {
	tx *sql.Tx
}

// Supersede inserts next and links the live container oldID to it
func (t *sqliteContainerTx) Supersede(ctx context.Context, oldID uuid.UUID, next *entities.NodeFieldContainer) error {
	if err := insertContainer(ctx, t.tx, next); err != nil {
		return err
	}

	query := `UPDATE field_containers SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`
	result, err := t.tx.ExecContext(ctx, query, next.ID.String(), oldID.String())
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

func (t *sqliteContainerTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteContainerTx) Rollback() error {
	return t.tx.Rollback()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContainer(row rowScanner) (*entities.NodeFieldContainer, error) {
	var (
		c            entities.NodeFieldContainer
		fields       string
		supersededBy uuid.NullUUID
		created      string
	)
	err := row.Scan(&c.ID, &c.NodeID, &c.Language, &c.SchemaName, &c.SchemaVersion, &fields, &supersededBy, &created)
	if err != nil {
		return nil, err
	}

	if c.Fields, err = entities.UnmarshalFields([]byte(fields)); err != nil {
		return nil, fmt.Errorf("failed to decode fields of %s: %w", c.ID, err)
	}
	if supersededBy.Valid {
		id := supersededBy.UUID
		c.SupersededBy = &id
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("invalid created_at of %s: %w", c.ID, err)
	}
	return &c, nil
}
