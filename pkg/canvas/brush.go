package canvas

// Brush rasterization
//
// Rasterize is shared by server-side authoritative application and any
// client-side optimistic rendering: identical (size, shape) inputs must
// always produce the identical offset set, in the same order, or predicted
// strokes would drift from what the server actually wrote.

// Shape selects the footprint a brush stamps at a point.
type Shape string

const (
	ShapeRound  Shape = "round"
	ShapePlus   Shape = "plus"
	ShapeSquare Shape = "square"
)

// ValidShape reports whether s names a known brush shape.
func ValidShape(s Shape) bool {
	switch s {
	case ShapeRound, ShapePlus, ShapeSquare:
		return true
	}
	return false
}

// Offset is a brush cell relative to the stroke origin.
type Offset struct {
	DX int
	DY int
}

// edgeTightening pulls the disk threshold in so naive circle rasterization
// does not leave stray corner pixels at small sizes. Usable range is roughly
// 0.2-0.8; higher is crisper.
const edgeTightening = 0.4

// Rasterize returns the set of offsets a brush of the given size and shape
// covers, relative to its origin. The result is deterministic: offsets are
// produced row by row (dy ascending, then dx ascending).
//
// For the round shape: size 1 is the single origin cell, size 2 is a 5-cell
// plus, and size >= 3 approximates a disk of diameter size via
// dx²+dy² <= r² - r·k with r = size/2.
func Rasterize(size int, shape Shape) []Offset {
	if size < 1 {
		return nil
	}

	switch shape {
	case ShapePlus:
		return rasterizePlus(size)
	case ShapeSquare:
		return rasterizeSquare(size)
	default:
		return rasterizeRound(size)
	}
}

func rasterizeRound(size int) []Offset {
	switch size {
	case 1:
		return []Offset{{0, 0}}
	case 2:
		return []Offset{{0, -1}, {-1, 0}, {0, 0}, {1, 0}, {0, 1}}
	}

	r := float64(size) / 2
	threshold := r*r - r*edgeTightening
	half := size / 2

	var offsets []Offset
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if float64(dx*dx+dy*dy) <= threshold {
				offsets = append(offsets, Offset{dx, dy})
			}
		}
	}
	return offsets
}

func rasterizePlus(size int) []Offset {
	half := size / 2
	var offsets []Offset
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if dx == 0 || dy == 0 {
				offsets = append(offsets, Offset{dx, dy})
			}
		}
	}
	return offsets
}

func rasterizeSquare(size int) []Offset {
	// A size x size block. Even sizes bias one cell toward the top-left so
	// the block still contains the origin.
	lo := -(size / 2)
	hi := (size - 1) / 2
	var offsets []Offset
	for dy := lo; dy <= hi; dy++ {
		for dx := lo; dx <= hi; dx++ {
			offsets = append(offsets, Offset{dx, dy})
		}
	}
	return offsets
}
