package sql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/quarry/dialect"
)

func TestDriverName(t *testing.T) {
	name, err := DriverName(dialect.SQLite, "")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", name)

	name, err = DriverName(dialect.Postgres, "")
	require.NoError(t, err)
	assert.Equal(t, "pgx", name)

	name, err = DriverName(dialect.CockroachDB, "postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", name)

	_, err = DriverName(dialect.MySQL, "oracle")
	require.Error(t, err)

	_, err = DriverName("unknown", "")
	require.Error(t, err)
}

func TestOpenInitializesConnections(t *testing.T) {
	d, err := dialect.New("better-sqlite3")
	require.NoError(t, err)
	drv, err := Open(d, dialect.Connection{
		Filename: filepath.Join(t.TempDir(), "data.db"),
		Pool:     dialect.Pool{Max: 2, Min: 1},
	})
	require.NoError(t, err)
	defer drv.Close()

	ctx := context.Background()
	// Pin two physical connections so both go through the initializer.
	c1, err := drv.DB().Conn(ctx)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := drv.DB().Conn(ctx)
	require.NoError(t, err)
	defer c2.Close()

	var on1, on2 int
	require.NoError(t, c1.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on1))
	require.NoError(t, c2.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on2))
	assert.Equal(t, 1, on1)
	assert.Equal(t, 1, on2)
}

func TestOpenConfigureError(t *testing.T) {
	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)
	_, err = Open(d, dialect.Connection{})
	require.Error(t, err)

	_, err = Open(d, dialect.Connection{Filename: ":memory:", Driver: "nope"})
	require.Error(t, err)
}
