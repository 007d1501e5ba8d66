// Package viewport implements the client-side viewport controller: deciding
// which tiles a pan/zoom view needs, diffing subscriptions as the view moves,
// and wrapping stroke coordinates that cross a tile edge into the neighbor
// tile. It consumes the session protocol; the server knows nothing of
// viewports or multi-tile strokes.
package viewport

import (
	"math"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// Rect is an axis-aligned region of the infinite canvas in world pixel
// coordinates (tile 0|0 spans [0,512) on both axes, tile -1|0 spans
// [-512,0) in x).
type Rect struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Visible returns every tile the rect intersects, ordered row by row
// (y ascending, then x ascending). An empty or inverted rect yields nil.
func Visible(r Rect) []canvas.Coord {
	if r.MaxX <= r.MinX || r.MaxY <= r.MinY {
		return nil
	}

	minTX := floorDiv(int(math.Floor(r.MinX)), canvas.TileSize)
	minTY := floorDiv(int(math.Floor(r.MinY)), canvas.TileSize)
	maxTX := floorDiv(int(math.Ceil(r.MaxX))-1, canvas.TileSize)
	maxTY := floorDiv(int(math.Ceil(r.MaxY))-1, canvas.TileSize)

	var tiles []canvas.Coord
	for ty := minTY; ty <= maxTY; ty++ {
		for tx := minTX; tx <= maxTX; tx++ {
			tiles = append(tiles, canvas.Coord{X: tx, Y: ty})
		}
	}
	return tiles
}

// Diff compares the previous and next visible sets and returns the tiles to
// join and to leave, each in the order they appear in their source slice.
func Diff(prev, next []canvas.Coord) (join, leave []canvas.Coord) {
	inPrev := make(map[canvas.Coord]bool, len(prev))
	for _, c := range prev {
		inPrev[c] = true
	}
	inNext := make(map[canvas.Coord]bool, len(next))
	for _, c := range next {
		inNext[c] = true
	}

	for _, c := range next {
		if !inPrev[c] {
			join = append(join, c)
		}
	}
	for _, c := range prev {
		if !inNext[c] {
			leave = append(leave, c)
		}
	}
	return join, leave
}

// Wrap maps a local coordinate that may have left [0,TileSize) on either axis
// to the tile it actually lands in and its local coordinates there. A stroke
// dragged off the left edge of tile 0|0 at x=-1 continues in tile -1|0 at
// x=511. In-bounds inputs return the tile unchanged.
//
// Each plotted pixel remains a single-tile edit: the caller joins the
// neighbor tile (or surfaces "no such tile" to the user) and re-issues the
// stamp there. There is no cross-tile atomic operation.
func Wrap(tile canvas.Coord, x, y int) (canvas.Coord, int, int) {
	tx := floorDiv(x, canvas.TileSize)
	ty := floorDiv(y, canvas.TileSize)
	return canvas.Coord{X: tile.X + tx, Y: tile.Y + ty},
		x - tx*canvas.TileSize,
		y - ty*canvas.TileSize
}

// floorDiv divides rounding toward negative infinity, which Go's integer
// division does not.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
