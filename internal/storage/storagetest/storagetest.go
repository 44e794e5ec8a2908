// Package storagetest opens migrated throwaway databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stay-ledger/backend/internal/obs"
	"github.com/stay-ledger/backend/internal/storage"
)

// NewDB returns a migrated SQLite database in t's temp dir, closed on cleanup.
func NewDB(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.RunMigrations(context.Background(), db, obs.Discard()))
	return db
}
