package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/inkframe/internal/db"
)

// NewTestStore opens a migrated in-memory sqlite store that is closed when
// the test finishes.
func NewTestStore(t testing.TB) db.Store {
	t.Helper()

	conn, err := db.Open(db.DriverSQLite, "file::memory:?_foreign_keys=on")
	require.NoError(t, err)

	migrations, err := db.MigrationsFS("")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(conn, migrations))

	store := db.NewStore(conn)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
