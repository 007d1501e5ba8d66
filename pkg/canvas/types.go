// Package canvas provides the domain types and Redis schema patterns for the
// Mosaic tile canvas. A canvas is an unbounded integer grid of fixed-size
// tiles; each tile holds a sparse pixel map recording color, authorship, and
// write time per cell.
//
// All Redis keys and channels are namespaced by instance name to enable
// multiple Mosaic instances to safely coexist on a single Redis server.
package canvas

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// TileSize is the width and height of every tile in cells. Local pixel
	// coordinates are valid in [0, TileSize) on both axes.
	TileSize = 512

	// BackgroundColor is the implicit color of any cell with no PixelRecord.
	BackgroundColor = "#FFFFFF"
)

// Coord identifies one tile on the unbounded grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Key returns the canonical string form of a tile coordinate.
// Pattern: "x|y", e.g. "0|0", "-3|12".
func (c Coord) Key() string {
	return fmt.Sprintf("%d|%d", c.X, c.Y)
}

// ParseCoordKey parses a canonical "x|y" tile key.
// Returns an error for anything that is not exactly two integers joined by "|".
func ParseCoordKey(key string) (Coord, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("invalid tile key %q: expected \"x|y\"", key)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return Coord{}, fmt.Errorf("invalid tile key %q: bad x: %w", key, err)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return Coord{}, fmt.Errorf("invalid tile key %q: bad y: %w", key, err)
	}
	return Coord{X: x, Y: y}, nil
}

// PixelKey returns the map key for a local pixel coordinate.
// Pattern: "x,y", e.g. "5,5".
func PixelKey(x, y int) string {
	return fmt.Sprintf("%d,%d", x, y)
}

// ParsePixelKey parses an "x,y" pixel key back into local coordinates.
func ParsePixelKey(key string) (int, int, error) {
	parts := strings.Split(key, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid pixel key %q: expected \"x,y\"", key)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pixel key %q: bad x: %w", key, err)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pixel key %q: bad y: %w", key, err)
	}
	return x, y, nil
}

// InBounds reports whether a local pixel coordinate lies within the tile.
func InBounds(x, y int) bool {
	return x >= 0 && x < TileSize && y >= 0 && y < TileSize
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidColor reports whether s is a 24-bit RGB hex color string ("#RRGGBB").
func ValidColor(s string) bool {
	return colorPattern.MatchString(s)
}

// SameColor compares two hex color strings case-insensitively.
func SameColor(a, b string) bool {
	return strings.EqualFold(a, b)
}

// UserRef identifies the author of a pixel write.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// PixelRecord is the stored state of one cell: its color, who wrote it, and
// when. Records are only ever replaced whole (last write wins per cell).
type PixelRecord struct {
	Color       string  `json:"color"`
	User        UserRef `json:"user"`
	TimestampMs int64   `json:"timestamp"`
}

// Tile is the authoritative in-memory state of one grid tile.
//
// Pixels is sparse: an absent key means the cell is BackgroundColor. Keys
// must satisfy InBounds on both axes; coordinates outside the tile belong to
// a neighboring tile and are never written here.
//
// ViewerCount is runtime bookkeeping only and is never persisted.
type Tile struct {
	ID           Coord
	Pixels       map[string]PixelRecord
	Dirty        bool
	LastAccessed time.Time
	ViewerCount  int
}

// NewTile constructs an empty tile for the given coordinate.
func NewTile(id Coord) *Tile {
	return &Tile{
		ID:     id,
		Pixels: make(map[string]PixelRecord),
	}
}

// Touch updates the tile's last-accessed time. Called on join and on edit;
// the eviction sweep compares against this.
func (t *Tile) Touch(now time.Time) {
	t.LastAccessed = now
}

// ColorAt returns the effective color of a local cell, falling back to
// BackgroundColor for cells with no record.
func (t *Tile) ColorAt(x, y int) string {
	if rec, ok := t.Pixels[PixelKey(x, y)]; ok {
		return rec.Color
	}
	return BackgroundColor
}

// ClonePixels returns a copy of the pixel map. Persistence runs off the
// mutation goroutine and must snapshot before writing.
func (t *Tile) ClonePixels() map[string]PixelRecord {
	out := make(map[string]PixelRecord, len(t.Pixels))
	for k, v := range t.Pixels {
		out[k] = v
	}
	return out
}
