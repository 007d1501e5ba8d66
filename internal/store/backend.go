package store

import (
	"context"
	"errors"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// ErrTileNotFound is returned by Backend.LoadTile when the durable store has
// no record of the tile. Use errors.Is to check.
var ErrTileNotFound = errors.New("tile not found")

// Backend is the durable side of the tile store. The in-memory map is a
// write-back cache over one of these.
//
// SaveTile receives a snapshot copy of the pixel map, never the live map:
// saves run off the mutation goroutine.
type Backend interface {
	// LoadTile fetches a tile's persisted pixel map. Returns ErrTileNotFound
	// if the tile has never been saved.
	LoadTile(ctx context.Context, id canvas.Coord) (map[string]canvas.PixelRecord, error)

	// SaveTile durably replaces the tile's persisted state with the given
	// snapshot and records the tile in the known-tile index.
	SaveTile(ctx context.Context, id canvas.Coord, pixels map[string]canvas.PixelRecord) error

	// ListTileIDs returns the coordinate keys of every persisted tile,
	// without loading pixel data.
	ListTileIDs(ctx context.Context) ([]string, error)

	// Close releases the backend's connections. Implements io.Closer.
	Close() error
}

// IsNotFound reports whether err means the tile does not exist durably.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTileNotFound)
}
