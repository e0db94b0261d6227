// Package storagetest opens throwaway SQLite databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"slotpay/internal/infra/sqlite3"

	"github.com/stretchr/testify/require"
)

// NewDB returns a migrated database in a temp directory, closed on cleanup.
func NewDB(t testing.TB) *sqlite3.DB {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite3.New(ctx, sqlite3.WithPath(filepath.Join(t.TempDir(), "slotpay.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}
