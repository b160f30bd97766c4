package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pfmt/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	latest := migrations[len(migrations)-1].Version

	v, err := Current(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, v)
	pending, err := Pending(ctx, conn)
	require.NoError(t, err)
	assert.Len(t, pending, len(migrations))

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))
	v, err = Current(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)
	pending, err = Pending(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, pending)

	for _, table := range []string{"projects", "users", "vendors", "project_vendors", "milestones", "events", "wizard_storage"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrationsOrdered(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
}
