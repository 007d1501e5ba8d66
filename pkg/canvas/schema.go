package canvas

import "fmt"

// Redis key pattern helpers
//
// Key pattern: mosaic:{instance_name}:{entity}:{id}
// Channel pattern: mosaic:{instance_name}:{event_type}_events

// TileKey returns the Redis key for a tile's pixel hash.
// Pattern: mosaic:{instance_name}:tile:{x|y}
func TileKey(instanceName, coordKey string) string {
	return fmt.Sprintf("mosaic:%s:tile:%s", instanceName, coordKey)
}

// TileIndexKey returns the Redis key for the set of known tile coordinates.
// Membership in this set is what makes a tile discoverable without loading
// its pixel data.
// Pattern: mosaic:{instance_name}:tiles
func TileIndexKey(instanceName string) string {
	return fmt.Sprintf("mosaic:%s:tiles", instanceName)
}

// TileEventsChannel returns the Pub/Sub channel name for tile persistence
// events. Each successful save publishes the tile's coordinate key, so
// out-of-process observers can follow canvas activity.
// Pattern: mosaic:{instance_name}:tile_events
func TileEventsChannel(instanceName string) string {
	return fmt.Sprintf("mosaic:%s:tile_events", instanceName)
}
