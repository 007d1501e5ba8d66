package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/metrics"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// Periodic persistence and eviction
//
// Flushes are fire-and-forget: FlushDirty snapshots each dirty tile's pixels
// on the calling (hub) goroutine, clears the dirty flag, and hands the write
// to a background goroutine so persistence I/O never blocks edit processing.
// Results come back to the hub via the done channel; a failed write re-marks
// the tile dirty so the next cycle retries it. Persistence failures are an
// operational concern only and are never surfaced to clients.

// FlushResult reports the outcome of one background tile save.
type FlushResult struct {
	ID  canvas.Coord
	Err error
}

// FlushDirty starts a background save for every dirty tile not already being
// flushed. Returns the number of saves started. HandleFlushResult must be
// called (on the owning goroutine) for every result delivered on done.
func (s *Store) FlushDirty(ctx context.Context, done chan<- FlushResult) int {
	started := 0
	for _, t := range s.tiles {
		if !t.Dirty || s.flushing[t.ID.Key()] {
			continue
		}

		t.Dirty = false
		s.flushing[t.ID.Key()] = true
		started++

		id := t.ID
		snapshot := t.ClonePixels()
		go func() {
			done <- FlushResult{ID: id, Err: s.backend.SaveTile(ctx, id, snapshot)}
		}()
	}
	return started
}

// FlushingCount reports how many background saves are in flight, i.e. how
// many FlushResults are still owed on the done channel.
func (s *Store) FlushingCount() int {
	return len(s.flushing)
}

// HandleFlushResult finishes one background save: on failure the tile is
// re-marked dirty (if still resident) so the next flush cycle retries.
func (s *Store) HandleFlushResult(res FlushResult) {
	delete(s.flushing, res.ID.Key())

	if res.Err == nil {
		return
	}

	metrics.FlushFailures.Inc()
	s.logger.Warn("tile flush failed, will retry next cycle",
		zap.String("tile", res.ID.Key()),
		zap.Error(res.Err))

	if t, ok := s.tiles[res.ID.Key()]; ok {
		t.Dirty = true
	}
}

// SweepIdle evicts tiles that have no viewers and have not been touched for
// maxIdle. Dirty candidates are flushed (via the background path) instead of
// evicted; once clean they go on a later sweep. Tiles with an in-flight flush
// are left alone. Returns the number of tiles evicted.
func (s *Store) SweepIdle(ctx context.Context, maxIdle time.Duration, now time.Time, done chan<- FlushResult) int {
	evicted := 0
	for key, t := range s.tiles {
		if t.ViewerCount > 0 || s.flushing[key] || now.Sub(t.LastAccessed) < maxIdle {
			continue
		}

		if t.Dirty {
			t.Dirty = false
			s.flushing[key] = true
			id := t.ID
			snapshot := t.ClonePixels()
			go func() {
				done <- FlushResult{ID: id, Err: s.backend.SaveTile(ctx, id, snapshot)}
			}()
			continue
		}

		delete(s.tiles, key)
		evicted++
		metrics.TilesEvicted.Inc()
		s.logger.Info("evicted idle tile", zap.String("tile", key))
	}
	metrics.ResidentTiles.Set(float64(len(s.tiles)))
	return evicted
}

// Evict synchronously removes one tile from memory, flushing it first if
// dirty. Refuses while the tile still has viewers or a flush in flight.
func (s *Store) Evict(ctx context.Context, id canvas.Coord) error {
	t, ok := s.tiles[id.Key()]
	if !ok {
		return nil
	}
	if t.ViewerCount > 0 {
		return fmt.Errorf("cannot evict tile %s: %d viewer(s) still subscribed", id.Key(), t.ViewerCount)
	}
	if s.flushing[id.Key()] {
		return fmt.Errorf("cannot evict tile %s: flush in flight", id.Key())
	}
	if t.Dirty {
		if err := s.Persist(ctx, id); err != nil {
			return fmt.Errorf("cannot evict tile %s: flush failed: %w", id.Key(), err)
		}
	}
	delete(s.tiles, id.Key())
	metrics.ResidentTiles.Set(float64(len(s.tiles)))
	return nil
}

// FlushAll synchronously persists every dirty tile. Called on shutdown.
func (s *Store) FlushAll(ctx context.Context) error {
	var firstErr error
	for _, t := range s.tiles {
		if !t.Dirty {
			continue
		}
		if err := s.Persist(ctx, t.ID); err != nil {
			s.logger.Error("failed to flush tile on shutdown",
				zap.String("tile", t.ID.Key()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
