package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// PostgresBackend persists tiles as one row each: coordinate key plus the
// sparse pixel map as JSONB. Selected with persistence engine "postgres".
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects a pgx pool to the given URI and ensures the
// tiles table exists.
func NewPostgresBackend(ctx context.Context, uri string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	if err := b.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tiles (
			id         TEXT PRIMARY KEY,
			pixels     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create tiles table: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// LoadTile fetches a tile row. Returns ErrTileNotFound for unknown ids.
func (b *PostgresBackend) LoadTile(ctx context.Context, id canvas.Coord) (map[string]canvas.PixelRecord, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx, `SELECT pixels FROM tiles WHERE id = $1`, id.Key()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s from postgres: %w", id.Key(), err)
	}

	var pixels map[string]canvas.PixelRecord
	if err := json.Unmarshal(raw, &pixels); err != nil {
		return nil, fmt.Errorf("failed to deserialize tile %s: %w", id.Key(), err)
	}
	if pixels == nil {
		pixels = map[string]canvas.PixelRecord{}
	}
	return pixels, nil
}

// SaveTile upserts the tile row with the snapshot.
func (b *PostgresBackend) SaveTile(ctx context.Context, id canvas.Coord, pixels map[string]canvas.PixelRecord) error {
	raw, err := json.Marshal(pixels)
	if err != nil {
		return fmt.Errorf("failed to serialize tile %s: %w", id.Key(), err)
	}

	_, err = b.pool.Exec(ctx, `
		INSERT INTO tiles (id, pixels, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET pixels = EXCLUDED.pixels, updated_at = now()`,
		id.Key(), raw)
	if err != nil {
		return fmt.Errorf("failed to write tile %s to postgres: %w", id.Key(), err)
	}
	return nil
}

// ListTileIDs returns every persisted tile id.
func (b *PostgresBackend) ListTileIDs(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT id FROM tiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiles from postgres: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tile id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tile ids: %w", err)
	}
	return ids, nil
}
