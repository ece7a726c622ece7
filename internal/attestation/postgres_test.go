package attestation

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-cpg-engine/internal/database"
)

var attestationColumns = []string{
	"id", "subject_id", "guideline", "variable_id", "value", "value_type", "unit",
	"attested_by", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, store.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return store, mock
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}

func TestPostgresStore_SaveUsesUpsertResult(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO attestations .* ON CONFLICT \\(subject_id, guideline, variable_id\\) DO UPDATE").
		WithArgs(sqlmock.AnyArg(), "patient-1", "statin", "smoker", "true", KindBoolean, "", "",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("existing-id", created))

	a := newAttestation("patient-1", "smoker", "true", KindBoolean)
	require.NoError(t, store.Save(context.Background(), a))
	assert.Equal(t, "existing-id", a.ID)
	assert.Equal(t, created, a.CreatedAt)
}

func TestPostgresStore_SaveError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO attestations").WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), newAttestation("patient-1", "smoker", "true", KindBoolean))
	assert.ErrorContains(t, err, "connection reset")
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .* FROM attestations\\s+WHERE subject_id = \\$1").
		WithArgs("patient-1", "statin", "smoker").
		WillReturnRows(sqlmock.NewRows(attestationColumns).
			AddRow("id-1", "patient-1", "statin", "smoker", []byte("true"), KindBoolean, "", "nurse", ts, ts))
	mock.ExpectQuery("SELECT .* FROM attestations\\s+WHERE subject_id = \\$1").
		WithArgs("patient-1", "statin", "diabetic").
		WillReturnRows(sqlmock.NewRows(attestationColumns))

	got, err := store.Get(ctx, "patient-1", "statin", "smoker")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, "nurse", got.AttestedBy)
	assert.JSONEq(t, "true", string(got.Value))

	missing, err := store.Get(ctx, "patient-1", "statin", "diabetic")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgresStore_ListForSubject(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Now().UTC()

	mock.ExpectQuery("ORDER BY variable_id").
		WithArgs("patient-1", "statin").
		WillReturnRows(sqlmock.NewRows(attestationColumns).
			AddRow("id-2", "patient-1", "statin", "diabetic", []byte("false"), KindBoolean, "", "", ts, ts).
			AddRow("id-1", "patient-1", "statin", "smoker", []byte("true"), KindBoolean, "", "", ts, ts))

	list, err := store.ListForSubject(context.Background(), "patient-1", "statin")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "diabetic", list[0].VariableID)
	assert.Equal(t, "smoker", list[1].VariableID)
}

func TestPostgresStore_CountAndDelete(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM attestations")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attestations WHERE id = $1")).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM attestations").
		WithArgs("id-2").
		WillReturnError(sql.ErrConnDone)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, store.Delete(ctx, "id-1"))
	assert.ErrorIs(t, store.Delete(ctx, "id-2"), sql.ErrConnDone)
}

// getTestDB returns a migrated database for live tests.
// Skip test if TEST_DATABASE_URL is not set.
func getTestDB(t *testing.T) *sql.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	runner, err := database.NewMigrationRunner(dbURL, "", logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(context.Background()))
	require.NoError(t, runner.Close())

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)

	_, err = db.Exec("DELETE FROM attestations")
	require.NoError(t, err)
	return db
}

func TestPostgresStore_Live(t *testing.T) {
	db := getTestDB(t)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	first := newAttestation("patient-1", "ldl", "142", KindNumber)
	first.Unit = "mg/dL"
	require.NoError(t, store.Save(ctx, first))

	second := newAttestation("patient-1", "ldl", "128", KindNumber)
	require.NoError(t, store.Save(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := store.Get(ctx, "patient-1", "statin", "ldl")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, "128", string(got.Value))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.Delete(ctx, got.ID))
	got, err = store.Get(ctx, "patient-1", "statin", "ldl")
	require.NoError(t, err)
	assert.Nil(t, got)
}
