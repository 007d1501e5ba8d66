package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// setupPostgresBackend connects to the database named by
// MOSAIC_TEST_POSTGRES_URI, skipping the test when unset. The Redis backend
// covers the Backend contract in unit tests; this exercises the same contract
// against a real Postgres.
func setupPostgresBackend(t *testing.T) *PostgresBackend {
	uri := os.Getenv("MOSAIC_TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("MOSAIC_TEST_POSTGRES_URI not set, skipping postgres backend tests")
	}

	backend, err := NewPostgresBackend(context.Background(), uri)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestPostgresBackendContract(t *testing.T) {
	backend := setupPostgresBackend(t)
	ctx := context.Background()

	id := canvas.Coord{X: 1000, Y: -1000}
	pixels := map[string]canvas.PixelRecord{
		"0,0": {Color: "#ABCDEF", User: canvas.UserRef{ID: "u1", DisplayName: "Ada"}, TimestampMs: 42},
	}

	t.Run("missing tile returns not found", func(t *testing.T) {
		_, err := backend.LoadTile(ctx, canvas.Coord{X: 999999, Y: 999999})
		assert.True(t, IsNotFound(err))
	})

	t.Run("save and load round trip", func(t *testing.T) {
		require.NoError(t, backend.SaveTile(ctx, id, pixels))

		loaded, err := backend.LoadTile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, pixels, loaded)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		require.NoError(t, backend.SaveTile(ctx, id, map[string]canvas.PixelRecord{
			"1,1": {Color: "#000000"},
		}))

		loaded, err := backend.LoadTile(ctx, id)
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
		assert.Contains(t, loaded, "1,1")
	})

	t.Run("list includes the tile", func(t *testing.T) {
		ids, err := backend.ListTileIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id.Key())
	})
}
