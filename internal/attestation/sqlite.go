package attestation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite attestation store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const selectColumns = `id, subject_id, guideline, variable_id, value, value_type, unit,
	attested_by, created_at, updated_at`

func scanAttestation(s scanner) (*Attestation, error) {
	a := &Attestation{}
	var value []byte
	err := s.Scan(
		&a.ID, &a.SubjectID, &a.Guideline, &a.VariableID, &value, &a.ValueType, &a.Unit,
		&a.AttestedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Value = append(a.Value[:0], value...)
	return a, nil
}

func scanAll(rows *sql.Rows) ([]*Attestation, error) {
	defer rows.Close()

	var result []*Attestation
	for rows.Next() {
		a, err := scanAttestation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attestations (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		guideline TEXT NOT NULL,
		variable_id TEXT NOT NULL,
		value TEXT NOT NULL,
		value_type TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		attested_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(subject_id, guideline, variable_id)
	);

	CREATE INDEX IF NOT EXISTS idx_attestations_subject ON attestations(subject_id, guideline);
	CREATE INDEX IF NOT EXISTS idx_attestations_created_at ON attestations(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or updates an attestation.
func (s *SQLiteStore) Save(ctx context.Context, a *Attestation) error {
	if err := validateAttestation(a); err != nil {
		return err
	}
	now := time.Now().UTC()

	existing, err := s.Get(ctx, a.SubjectID, a.Guideline, a.VariableID)
	if err != nil {
		return fmt.Errorf("failed to check existing: %w", err)
	}
	if existing != nil {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		a.UpdatedAt = now

		_, err = s.db.ExecContext(ctx, `
			UPDATE attestations SET
				value = ?,
				value_type = ?,
				unit = ?,
				attested_by = ?,
				updated_at = ?
			WHERE id = ?
		`, string(a.Value), a.ValueType, a.Unit, a.AttestedBy, now, a.ID)
		if err != nil {
			return fmt.Errorf("failed to update: %w", err)
		}
		return nil
	}

	prepare(a, now)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attestations (
			id, subject_id, guideline, variable_id, value, value_type, unit,
			attested_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.SubjectID, a.Guideline, a.VariableID, string(a.Value), a.ValueType, a.Unit,
		a.AttestedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get returns the attestation for the triple, or nil.
func (s *SQLiteStore) Get(ctx context.Context, subjectID, guideline, variableID string) (*Attestation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM attestations
		WHERE subject_id = ? AND guideline = ? AND variable_id = ?
	`, subjectID, guideline, variableID)

	a, err := scanAttestation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return a, nil
}

// ListForSubject returns the subject's attestations for a guideline, by variable id.
func (s *SQLiteStore) ListForSubject(ctx context.Context, subjectID, guideline string) ([]*Attestation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM attestations
		WHERE subject_id = ? AND guideline = ?
		ORDER BY variable_id
	`, subjectID, guideline)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return scanAll(rows)
}

// List returns attestations newest first with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Attestation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM attestations
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return scanAll(rows)
}

// Count returns the total number of attestations.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attestations").Scan(&count)
	return count, err
}

// Delete removes an attestation by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM attestations WHERE id = ?", id)
	return err
}

// ExportJSON exports all attestations to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports attestations from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
