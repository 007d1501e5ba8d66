package canvas

import (
	"encoding/json"
	"fmt"
)

// Serialization helpers for converting between tiles and Redis hashes
//
// A tile is stored as one Redis hash: each field is a pixel key ("x,y") and
// each value is the JSON-encoded PixelRecord. This keeps the sparse pixel map
// individually addressable while letting a full snapshot load with one HGETALL.

// PixelsToHash converts a tile's pixel map to Redis hash format.
// Each PixelRecord is JSON-encoded into its field value.
func PixelsToHash(pixels map[string]PixelRecord) (map[string]interface{}, error) {
	hash := make(map[string]interface{}, len(pixels))
	for key, rec := range pixels {
		encoded, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pixel %s: %w", key, err)
		}
		hash[key] = string(encoded)
	}
	return hash, nil
}

// HashToPixels converts a Redis hash back to a pixel map.
// Fields whose key is not a valid in-bounds pixel coordinate are skipped
// rather than rejected: an out-of-range key belongs to a neighboring tile and
// must never enter this tile's map, whatever a past writer did.
func HashToPixels(hash map[string]string) (map[string]PixelRecord, error) {
	pixels := make(map[string]PixelRecord, len(hash))
	for key, raw := range hash {
		x, y, err := ParsePixelKey(key)
		if err != nil || !InBounds(x, y) {
			continue
		}
		var rec PixelRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pixel %s: %w", key, err)
		}
		pixels[key] = rec
	}
	return pixels, nil
}
