package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "attestations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newAttestation(subject, variable, value, kind string) *Attestation {
	return &Attestation{
		SubjectID:  subject,
		Guideline:  "statin",
		VariableID: variable,
		Value:      json.RawMessage(value),
		ValueType:  kind,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "attestations.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, dbPath, store.Path())
	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	a := newAttestation("patient-1", "smoker", "true", KindBoolean)
	a.AttestedBy = "nurse"
	require.NoError(t, store.Save(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := store.Get(ctx, "patient-1", "statin", "smoker")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
	assert.JSONEq(t, "true", string(got.Value))
	assert.Equal(t, KindBoolean, got.ValueType)
	assert.Equal(t, "nurse", got.AttestedBy)

	missing, err := store.Get(ctx, "patient-1", "statin", "diabetic")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStore_SaveUpdateKeepsIdentity(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	first := newAttestation("patient-1", "smoker", "true", KindBoolean)
	require.NoError(t, store.Save(ctx, first))

	second := newAttestation("patient-1", "smoker", "false", KindBoolean)
	require.NoError(t, store.Save(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := store.Get(ctx, "patient-1", "statin", "smoker")
	require.NoError(t, err)
	assert.JSONEq(t, "false", string(got.Value))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_SaveInvalid(t *testing.T) {
	store := createTestStore(t)

	err := store.Save(context.Background(), &Attestation{SubjectID: "p", Guideline: "g"})
	assert.ErrorIs(t, err, ErrInvalidAttestation)
}

func TestSQLiteStore_ListForSubject(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newAttestation("patient-1", "smoker", "true", KindBoolean)))
	require.NoError(t, store.Save(ctx, newAttestation("patient-1", "diabetic", "false", KindBoolean)))
	require.NoError(t, store.Save(ctx, newAttestation("patient-2", "smoker", "false", KindBoolean)))

	list, err := store.ListForSubject(ctx, "patient-1", "statin")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "diabetic", list[0].VariableID)
	assert.Equal(t, "smoker", list[1].VariableID)

	none, err := store.ListForSubject(ctx, "patient-1", "aspirin")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_ListPagination(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, variable := range []string{"a", "b", "c", "d", "e"} {
		a := newAttestation("patient-1", variable, "1", KindNumber)
		a.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Save(ctx, a))
	}

	page, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e", page[0].VariableID)
	assert.Equal(t, "d", page[1].VariableID)

	page, err = store.List(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].VariableID)
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	a := newAttestation("patient-1", "smoker", "true", KindBoolean)
	require.NoError(t, store.Save(ctx, a))
	require.NoError(t, store.Delete(ctx, a.ID))

	got, err := store.Get(ctx, "patient-1", "statin", "smoker")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ExportImport(t *testing.T) {
	source := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, source.Save(ctx, newAttestation("patient-1", "smoker", "true", KindBoolean)))
	require.NoError(t, source.Save(ctx, newAttestation("patient-1", "ldl", "142", KindNumber)))

	var buf bytes.Buffer
	require.NoError(t, source.ExportJSON(ctx, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 2, export.Count)

	target := createTestStore(t)
	require.NoError(t, target.Save(ctx, newAttestation("patient-1", "smoker", "false", KindBoolean)))

	imported, skipped, err := target.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	smoker, err := target.Get(ctx, "patient-1", "statin", "smoker")
	require.NoError(t, err)
	assert.JSONEq(t, "false", string(smoker.Value), "existing attestation is not overwritten")

	count, err := target.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSQLiteStore_ImportInvalidJSON(t *testing.T) {
	store := createTestStore(t)

	_, _, err := store.ImportJSON(context.Background(), bytes.NewReader([]byte("{not json")))
	assert.Error(t, err)
}
