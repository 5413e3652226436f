package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n == 1
}

func TestRunUpIsRepeatable(t *testing.T) {
	db := openDB(t)

	require.NoError(t, Run(db))
	require.NoError(t, Run(db))
	assert.True(t, tableExists(t, db, "snapshots"))

	v, err := Version(db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestResetDropsSchema(t *testing.T) {
	db := openDB(t)
	require.NoError(t, Run(db))

	require.NoError(t, Reset(db))
	assert.False(t, tableExists(t, db, "snapshots"))

	v, err := Version(db)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)
}
