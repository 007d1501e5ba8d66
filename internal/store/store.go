// Package store owns all in-memory tile state and mediates creation,
// retrieval, mutation, persistence, and eviction.
//
// The Store itself is not safe for concurrent use: it is confined to the hub
// event loop goroutine, which is what serializes concurrent edits and makes
// the snapshot-then-stream ordering guarantee hold. Only backend I/O leaves
// that goroutine, and it always operates on snapshot copies of pixel maps,
// never the live maps.
package store

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/metrics"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// Store is the authoritative owner of tile state: a write-back cache of
// tiles over a durable Backend.
type Store struct {
	tiles    map[string]*canvas.Tile
	flushing map[string]bool
	backend  Backend
	logger   *zap.Logger
}

// New creates a Store over the given backend.
func New(backend Backend, logger *zap.Logger) *Store {
	return &Store{
		tiles:    make(map[string]*canvas.Tile),
		flushing: make(map[string]bool),
		backend:  backend,
		logger:   logger,
	}
}

// Get returns the resident tile for id, if any. It does not touch the backend.
func (s *Store) Get(id canvas.Coord) (*canvas.Tile, bool) {
	t, ok := s.tiles[id.Key()]
	return t, ok
}

// Len returns the number of resident tiles.
func (s *Store) Len() int {
	return len(s.tiles)
}

// GetOrCreate returns the in-memory tile if present, loads it from the
// backend if persisted, and otherwise constructs a new empty tile. Tile
// creation is unconditional: there is no tile-count cap. The only error
// source is a backend read failure.
func (s *Store) GetOrCreate(ctx context.Context, id canvas.Coord) (*canvas.Tile, error) {
	if t, ok := s.tiles[id.Key()]; ok {
		return t, nil
	}

	pixels, err := s.backend.LoadTile(ctx, id)
	switch {
	case err == nil:
		t := canvas.NewTile(id)
		t.Pixels = pixels
		s.tiles[id.Key()] = t
		metrics.ResidentTiles.Set(float64(len(s.tiles)))
		return t, nil
	case IsNotFound(err):
		t := canvas.NewTile(id)
		s.tiles[id.Key()] = t
		metrics.ResidentTiles.Set(float64(len(s.tiles)))
		return t, nil
	default:
		return nil, err
	}
}

// ApplyEdit stamps a brush onto the tile and returns the authoritative set of
// written pixel keys. The tile is created or loaded if needed.
func (s *Store) ApplyEdit(ctx context.Context, id canvas.Coord, op canvas.EditOp, user canvas.UserRef, now time.Time) ([]string, error) {
	t, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	affected := canvas.ApplyEdit(t, op, user, now)
	metrics.EditsApplied.WithLabelValues("draw").Inc()
	metrics.PixelsWritten.Add(float64(len(affected)))
	return affected, nil
}

// ApplyFill flood fills the tile and returns the authoritative set of written
// pixel keys.
func (s *Store) ApplyFill(ctx context.Context, id canvas.Coord, op canvas.FillOp, user canvas.UserRef, now time.Time) ([]string, error) {
	t, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	affected := canvas.ApplyFill(t, op, user, now)
	metrics.EditsApplied.WithLabelValues("fill").Inc()
	metrics.PixelsWritten.Add(float64(len(affected)))
	return affected, nil
}

// ListKnownTileIDs returns the union of resident and persisted tile keys,
// sorted, without loading any pixel data.
func (s *Store) ListKnownTileIDs(ctx context.Context) ([]string, error) {
	persisted, err := s.backend.ListTileIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(persisted)+len(s.tiles))
	for _, id := range persisted {
		seen[id] = true
	}
	for key := range s.tiles {
		seen[key] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Persist synchronously saves one tile and clears its dirty flag. Used on
// shutdown and by Evict; the periodic flush path uses FlushDirty instead.
func (s *Store) Persist(ctx context.Context, id canvas.Coord) error {
	t, ok := s.tiles[id.Key()]
	if !ok {
		return nil
	}
	if err := s.backend.SaveTile(ctx, id, t.ClonePixels()); err != nil {
		return err
	}
	t.Dirty = false
	return nil
}
