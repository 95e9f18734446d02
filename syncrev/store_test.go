package syncrev

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore("sqlite3", filepath.Join(t.TempDir(), "cursors.db"), "", 1000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStoreGetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("sync-revision:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreInitializeAndUpdate(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Initialize("sync-revision:a", 10))
	rev, err := store.Get("sync-revision:a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rev)

	require.NoError(t, store.Update("sync-revision:a", 42))
	rev, err = store.Get("sync-revision:a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), rev)

	// Unchanged value is still a successful update
	require.NoError(t, store.Update("sync-revision:a", 42))
}

func TestSQLStoreUpdateMissing(t *testing.T) {
	store := openTestStore(t)

	err := store.Update("sync-revision:nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreDuplicateInitialize(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Initialize("sync-revision:dup", 1))
	err := store.Initialize("sync-revision:dup", 2)
	require.Error(t, err)

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "initialize", storageErr.Op)
	assert.Equal(t, "sync-revision:dup", storageErr.QualifiedID)
}

func TestSQLStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")

	store, err := OpenSQLStore("sqlite3", path, "custom_cursors", 1000)
	require.NoError(t, err)
	require.NoError(t, store.Initialize("sync-revision:x", 7))
	require.NoError(t, store.Close())

	store, err = OpenSQLStore("sqlite3", path, "custom_cursors", 1000)
	require.NoError(t, err)
	defer store.Close()

	rev, err := store.Get("sync-revision:x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rev)
}

func TestSQLStoreClosedDatabase(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)

	store, err := NewSQLStore(db, "sqlite3", "")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = store.Get("sync-revision:a")
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "get", storageErr.Op)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOpenSQLStoreValidation(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		dsn    string
		table  string
	}{
		{"empty dsn", "sqlite3", "", ""},
		{"unknown driver", "postgres", "x", ""},
		{"bad table", "sqlite3", filepath.Join(t.TempDir(), "a.db"), "drop table;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenSQLStore(tt.driver, tt.dsn, tt.table, 1000)
			assert.Error(t, err)
		})
	}
}

func TestSQLStoreList(t *testing.T) {
	store := openTestStore(t)

	listed, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, store.Initialize("sync-revision:a", 3))
	require.NoError(t, store.Initialize("sync-revision:b", 9))
	// Rows outside the sync revision namespace are not cursors
	_, err = store.db.Exec("INSERT INTO sync_revisions (id, revision) VALUES ('other:x', 1)")
	require.NoError(t, err)

	listed, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"sync-revision:a": 3, "sync-revision:b": 9}, listed)
}
