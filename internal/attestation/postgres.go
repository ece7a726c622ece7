package attestation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL attestation store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL attestation store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Save stores or updates an attestation with an upsert on the identity triple.
func (s *PostgresStore) Save(ctx context.Context, a *Attestation) error {
	if err := validateAttestation(a); err != nil {
		return err
	}
	prepare(a, time.Now().UTC())

	query := `
		INSERT INTO attestations (
			id, subject_id, guideline, variable_id, value, value_type, unit,
			attested_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (subject_id, guideline, variable_id) DO UPDATE SET
			value = EXCLUDED.value,
			value_type = EXCLUDED.value_type,
			unit = EXCLUDED.unit,
			attested_by = EXCLUDED.attested_by,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		a.ID, a.SubjectID, a.Guideline, a.VariableID, string(a.Value), a.ValueType, a.Unit,
		a.AttestedBy, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save attestation: %w", err)
	}
	return nil
}

// Get returns the attestation for the triple, or nil.
func (s *PostgresStore) Get(ctx context.Context, subjectID, guideline, variableID string) (*Attestation, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM attestations
		WHERE subject_id = $1 AND guideline = $2 AND variable_id = $3
	`

	a, err := scanAttestation(s.db.QueryRowContext(ctx, query, subjectID, guideline, variableID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}
	return a, nil
}

// ListForSubject returns the subject's attestations for a guideline, by variable id.
func (s *PostgresStore) ListForSubject(ctx context.Context, subjectID, guideline string) ([]*Attestation, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM attestations
		WHERE subject_id = $1 AND guideline = $2
		ORDER BY variable_id
	`

	rows, err := s.db.QueryContext(ctx, query, subjectID, guideline)
	if err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}
	return scanAll(rows)
}

// List returns attestations newest first with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Attestation, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM attestations
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}
	return scanAll(rows)
}

// Count returns the total number of attestations.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attestations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attestations: %w", err)
	}
	return count, nil
}

// Delete removes an attestation by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM attestations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete attestation: %w", err)
	}
	return nil
}

// ExportJSON exports all attestations to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports attestations from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
