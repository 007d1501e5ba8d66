package canvas

import (
	"sort"
	"time"
)

// EditOp is a single brush stamp against one tile. X and Y are local tile
// coordinates of the stroke origin. TargetColor, when non-empty, gates the
// write: only cells currently showing that color are overwritten (the
// replace-only brush variant). It is a conditional write, not a flood.
type EditOp struct {
	X           int
	Y           int
	Color       string
	Size        int
	Shape       Shape
	TargetColor string
}

// FillOp is a connected-region flood fill against one tile. Fills are bounded
// to the tile: they never cross into neighbors.
type FillOp struct {
	X           int
	Y           int
	TargetColor string
	NewColor    string
}

// ApplyEdit stamps a brush onto the tile and returns the sorted set of pixel
// keys actually written. Offsets that land outside the tile are silently
// dropped; they belong to a neighboring tile and the client is responsible
// for re-issuing them there. The returned set is authoritative: clients
// reconcile optimistic strokes against it rather than re-rasterizing.
func ApplyEdit(t *Tile, op EditOp, user UserRef, now time.Time) []string {
	var affected []string
	for _, off := range Rasterize(op.Size, op.Shape) {
		x, y := op.X+off.DX, op.Y+off.DY
		if !InBounds(x, y) {
			continue
		}
		if op.TargetColor != "" && !SameColor(t.ColorAt(x, y), op.TargetColor) {
			continue
		}
		key := PixelKey(x, y)
		t.Pixels[key] = PixelRecord{
			Color:       op.Color,
			User:        user,
			TimestampMs: now.UnixMilli(),
		}
		affected = append(affected, key)
	}

	if len(affected) > 0 {
		t.Dirty = true
	}
	t.Touch(now)
	sort.Strings(affected)
	return affected
}

// ApplyFill runs a 4-connected flood fill from the origin, replacing the
// connected region of TargetColor with NewColor. It uses an explicit work
// stack (worst case is the full tile, 512x512 cells, which would blow the
// goroutine stack if done recursively) and returns the sorted set of pixel
// keys written.
//
// No-ops: origin out of bounds, TargetColor == NewColor (the fill would never
// terminate usefully), or the origin cell not currently showing TargetColor.
// Running the same fill twice is a no-op the second time.
func ApplyFill(t *Tile, op FillOp, user UserRef, now time.Time) []string {
	t.Touch(now)

	if !InBounds(op.X, op.Y) || SameColor(op.TargetColor, op.NewColor) {
		return nil
	}
	if !SameColor(t.ColorAt(op.X, op.Y), op.TargetColor) {
		return nil
	}

	rec := PixelRecord{
		Color:       op.NewColor,
		User:        user,
		TimestampMs: now.UnixMilli(),
	}

	var affected []string
	stack := [][2]int{{op.X, op.Y}}
	for len(stack) > 0 {
		cell := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := cell[0], cell[1]

		// May have been filled since it was pushed.
		if !SameColor(t.ColorAt(x, y), op.TargetColor) {
			continue
		}

		t.Pixels[PixelKey(x, y)] = rec
		affected = append(affected, PixelKey(x, y))

		for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
			if InBounds(n[0], n[1]) && SameColor(t.ColorAt(n[0], n[1]), op.TargetColor) {
				stack = append(stack, n)
			}
		}
	}

	if len(affected) > 0 {
		t.Dirty = true
	}
	sort.Strings(affected)
	return affected
}
