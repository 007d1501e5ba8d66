package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/protocol"
	"github.com/mosaicgrid/mosaic/internal/store"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

var (
	userA = &canvas.UserRef{ID: "a", DisplayName: "Ada"}
	userB = &canvas.UserRef{ID: "b", DisplayName: "Bob"}
)

// fakeConn records every envelope the hub sends it. Guarded by a mutex so
// tests that run the hub loop can observe sends from another goroutine.
type fakeConn struct {
	id   string
	user *canvas.UserRef

	mu   sync.Mutex
	sent []*protocol.Envelope
}

func (f *fakeConn) ID() string            { return f.id }
func (f *fakeConn) User() *canvas.UserRef { return f.user }

func (f *fakeConn) Send(env *protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, env := range f.sent {
		out[i] = env.Event
	}
	return out
}

func (f *fakeConn) envelopeAt(t *testing.T, i int) *protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.sent), i)
	return f.sent[i]
}

func (f *fakeConn) lastEvent(t *testing.T) *protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func setupHub(t *testing.T) *Hub {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	backend, err := store.NewRedisBackend(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	h := NewHub(store.New(backend, zap.NewNop()), Config{}, zap.NewNop())
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return h
}

func join(t *testing.T, h *Hub, c Conn, tileID string) {
	h.handle(context.Background(), c, protocol.MustEnvelope(protocol.EventJoinCanvas, protocol.JoinCanvas{TileID: tileID}))
}

func drawEnv(tileID string, x, y int, color string) *protocol.Envelope {
	return protocol.MustEnvelope(protocol.EventDraw, protocol.Draw{
		TileID: tileID, X: x, Y: y, Color: color, Size: 1, Shape: "round",
	})
}

func TestJoin(t *testing.T) {
	t.Run("delivers a snapshot then the canvas list", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)

		join(t, h, c, "0|0")

		require.Equal(t, []string{protocol.EventInitCanvas, protocol.EventUpdateCanvasList}, c.events())

		var init protocol.InitCanvas
		require.NoError(t, c.envelopeAt(t, 0).Decode(&init))
		assert.Equal(t, "0|0", init.TileID)
		assert.Empty(t, init.Pixels)

		tile, ok := h.store.Get(canvas.Coord{X: 0, Y: 0})
		require.True(t, ok)
		assert.Equal(t, 1, tile.ViewerCount)
	})

	t.Run("is idempotent", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)

		join(t, h, c, "0|0")
		sentAfterFirst := c.sentCount()
		join(t, h, c, "0|0")

		assert.Equal(t, sentAfterFirst, c.sentCount(), "re-join must not resend the snapshot")
		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Equal(t, 1, tile.ViewerCount, "re-join must not double-increment the viewer count")
	})

	t.Run("anonymous connections may join and view", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1"}
		h.connect(c)

		join(t, h, c, "0|0")

		assert.Equal(t, protocol.EventInitCanvas, c.envelopeAt(t, 0).Event)
	})

	t.Run("rejects a malformed tile id", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)

		join(t, h, c, "not-a-tile")

		assert.Equal(t, []string{protocol.EventError}, c.events())
	})

	t.Run("broadcasts the updated canvas list to every connection", func(t *testing.T) {
		h := setupHub(t)
		c1 := &fakeConn{id: "c1", user: userA}
		c2 := &fakeConn{id: "c2", user: userB}
		h.connect(c1)
		h.connect(c2)

		join(t, h, c1, "3|4")

		require.Equal(t, []string{protocol.EventUpdateCanvasList}, c2.events())
		var list protocol.UpdateCanvasList
		require.NoError(t, c2.envelopeAt(t, 0).Decode(&list))
		assert.Equal(t, []string{"3|4"}, list.TileIDs)
	})
}

func TestLeave(t *testing.T) {
	t.Run("decrements the viewer count once", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)
		join(t, h, c, "0|0")

		leave := protocol.MustEnvelope(protocol.EventLeaveCanvas, protocol.LeaveCanvas{TileID: "0|0"})
		h.handle(context.Background(), c, leave)
		h.handle(context.Background(), c, leave)

		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Equal(t, 0, tile.ViewerCount)
	})

	t.Run("leaving an unjoined tile is a no-op", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)

		h.handle(context.Background(), c, protocol.MustEnvelope(protocol.EventLeaveCanvas, protocol.LeaveCanvas{TileID: "0|0"}))

		assert.Zero(t, c.sentCount())
	})

	t.Run("explicit leave then disconnect does not double-decrement", func(t *testing.T) {
		h := setupHub(t)
		c1 := &fakeConn{id: "c1", user: userA}
		c2 := &fakeConn{id: "c2", user: userB}
		h.connect(c1)
		h.connect(c2)
		join(t, h, c1, "0|0")
		join(t, h, c2, "0|0")

		h.handle(context.Background(), c1, protocol.MustEnvelope(protocol.EventLeaveCanvas, protocol.LeaveCanvas{TileID: "0|0"}))
		h.disconnect(c1)

		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Equal(t, 1, tile.ViewerCount, "c2 is still viewing")
	})

	t.Run("disconnect leaves every joined tile", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)
		join(t, h, c, "0|0")
		join(t, h, c, "1|0")

		h.disconnect(c)

		for _, key := range []canvas.Coord{{X: 0, Y: 0}, {X: 1, Y: 0}} {
			tile, _ := h.store.Get(key)
			assert.Equal(t, 0, tile.ViewerCount)
		}
	})
}

func TestDraw(t *testing.T) {
	ctx := context.Background()

	t.Run("applies and broadcasts to other subscribers", func(t *testing.T) {
		h := setupHub(t)
		a := &fakeConn{id: "a", user: userA}
		b := &fakeConn{id: "b", user: userB}
		h.connect(a)
		h.connect(b)
		join(t, h, a, "0|0")
		join(t, h, b, "0|0")
		bBefore := b.sentCount()

		h.handle(ctx, a, drawEnv("0|0", 5, 5, "#FF0000"))

		// The authoritative tile state.
		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		rec := tile.Pixels["5,5"]
		assert.Equal(t, "#FF0000", rec.Color)
		assert.Equal(t, *userA, rec.User)
		assert.Equal(t, int64(1700000000000), rec.TimestampMs)

		// B got exactly one broadcast with the authoritative record.
		require.Equal(t, bBefore+1, b.sentCount())
		var applied protocol.DrawApplied
		require.NoError(t, b.lastEvent(t).Decode(&applied))
		assert.Equal(t, []string{"5,5"}, applied.Affected)
		assert.Equal(t, rec, applied.Record)

		// A got the reconciliation echo.
		var echo protocol.DrawApplied
		require.NoError(t, a.lastEvent(t).Decode(&echo))
		assert.Equal(t, []string{"5,5"}, echo.Affected)
	})

	t.Run("unauthenticated draw on an empty tile is rejected", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1"}
		h.connect(c)
		join(t, h, c, "0|0")

		h.handle(ctx, c, drawEnv("0|0", 10, 10, "#FF0000"))

		assert.Equal(t, protocol.EventError, c.lastEvent(t).Event)
		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Empty(t, tile.Pixels)
	})

	t.Run("unauthenticated draw on a populated tile is also rejected", func(t *testing.T) {
		h := setupHub(t)
		a := &fakeConn{id: "a", user: userA}
		anon := &fakeConn{id: "anon"}
		h.connect(a)
		h.connect(anon)
		join(t, h, a, "0|0")
		join(t, h, anon, "0|0")
		h.handle(ctx, a, drawEnv("0|0", 1, 1, "#FF0000"))

		h.handle(ctx, anon, drawEnv("0|0", 2, 2, "#00FF00"))

		assert.Equal(t, protocol.EventError, anon.lastEvent(t).Event)
		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Len(t, tile.Pixels, 1)
	})

	t.Run("requires a subscription to the target tile", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)

		h.handle(ctx, c, drawEnv("0|0", 5, 5, "#FF0000"))

		assert.Equal(t, []string{protocol.EventError}, c.events())
		_, resident := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.False(t, resident, "an unsubscribed draw must not create the tile")
	})

	t.Run("rejects invalid payloads without mutating", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1", user: userA}
		h.connect(c)
		join(t, h, c, "0|0")

		bad := []protocol.Draw{
			{TileID: "0|0", X: 5, Y: 5, Color: "red", Size: 1, Shape: "round"},
			{TileID: "0|0", X: 5, Y: 5, Color: "#FF0000", Size: 0, Shape: "round"},
			{TileID: "0|0", X: 5, Y: 5, Color: "#FF0000", Size: MaxBrushSize + 1, Shape: "round"},
			{TileID: "0|0", X: 5, Y: 5, Color: "#FF0000", Size: 1, Shape: "star"},
			{TileID: "0|0", X: 5, Y: 5, Color: "#FF0000", Size: 1, Shape: "round", TargetColor: "white"},
		}
		for _, p := range bad {
			h.handle(ctx, c, protocol.MustEnvelope(protocol.EventDraw, p))
			assert.Equal(t, protocol.EventError, c.lastEvent(t).Event)
		}

		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Empty(t, tile.Pixels)
	})

	t.Run("gated stroke with no writes echoes but does not broadcast", func(t *testing.T) {
		h := setupHub(t)
		a := &fakeConn{id: "a", user: userA}
		b := &fakeConn{id: "b", user: userB}
		h.connect(a)
		h.connect(b)
		join(t, h, a, "0|0")
		join(t, h, b, "0|0")
		bBefore := b.sentCount()

		// Replace-only brush targeting a color the tile nowhere shows.
		h.handle(ctx, a, protocol.MustEnvelope(protocol.EventDraw, protocol.Draw{
			TileID: "0|0", X: 5, Y: 5, Color: "#FF0000", Size: 1, Shape: "round", TargetColor: "#123456",
		}))

		assert.Equal(t, bBefore, b.sentCount(), "no-op draws must not be broadcast")
		var echo protocol.DrawApplied
		require.NoError(t, a.lastEvent(t).Decode(&echo))
		assert.Empty(t, echo.Affected)
	})
}

func TestFill(t *testing.T) {
	ctx := context.Background()

	t.Run("applies and broadcasts", func(t *testing.T) {
		h := setupHub(t)
		a := &fakeConn{id: "a", user: userA}
		b := &fakeConn{id: "b", user: userB}
		h.connect(a)
		h.connect(b)
		join(t, h, a, "0|0")
		join(t, h, b, "0|0")

		// Confine the fill so the test stays fast.
		h.handle(ctx, a, drawEnv("0|0", 0, 1, "#000000"))
		h.handle(ctx, a, drawEnv("0|0", 1, 0, "#000000"))
		bBefore := b.sentCount()

		h.handle(ctx, a, protocol.MustEnvelope(protocol.EventFill, protocol.Fill{
			TileID: "0|0", X: 0, Y: 0, TargetColor: "#FFFFFF", NewColor: "#00FF00",
		}))

		require.Equal(t, bBefore+1, b.sentCount())
		var applied protocol.FillApplied
		require.NoError(t, b.lastEvent(t).Decode(&applied))
		assert.Equal(t, []string{"0,0"}, applied.Affected)

		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Equal(t, "#00FF00", tile.ColorAt(0, 0))
	})

	t.Run("unauthenticated fill is rejected with zero mutation", func(t *testing.T) {
		h := setupHub(t)
		c := &fakeConn{id: "c1"}
		h.connect(c)
		join(t, h, c, "0|0")

		h.handle(ctx, c, protocol.MustEnvelope(protocol.EventFill, protocol.Fill{
			TileID: "0|0", X: 0, Y: 0, TargetColor: "#FFFFFF", NewColor: "#000000",
		}))

		assert.Equal(t, protocol.EventError, c.lastEvent(t).Event)
		tile, _ := h.store.Get(canvas.Coord{X: 0, Y: 0})
		assert.Empty(t, tile.Pixels)
	})
}

func TestSnapshotBeforeStream(t *testing.T) {
	// A connection's init-canvas must precede any broadcast triggered by an
	// edit processed after its join. Both run through the same handler loop.
	ctx := context.Background()
	h := setupHub(t)
	a := &fakeConn{id: "a", user: userA}
	b := &fakeConn{id: "b", user: userB}
	h.connect(a)
	h.connect(b)
	join(t, h, a, "0|0")

	join(t, h, b, "0|0")
	h.handle(ctx, a, drawEnv("0|0", 5, 5, "#FF0000"))

	events := b.events()
	initIdx, drawIdx := -1, -1
	for i, ev := range events {
		switch ev {
		case protocol.EventInitCanvas:
			initIdx = i
		case protocol.EventDraw:
			drawIdx = i
		}
	}
	require.NotEqual(t, -1, initIdx, "B never got its snapshot")
	require.NotEqual(t, -1, drawIdx, "B never got the draw broadcast")
	assert.Less(t, initIdx, drawIdx, "snapshot must precede the stream")
}

func TestCanvasListRequest(t *testing.T) {
	ctx := context.Background()
	h := setupHub(t)
	c := &fakeConn{id: "c1", user: userA}
	h.connect(c)
	join(t, h, c, "0|0")
	join(t, h, c, "1|0")

	h.handle(ctx, c, &protocol.Envelope{Event: protocol.EventRequestCanvasList})

	var list protocol.UpdateCanvasList
	require.NoError(t, c.lastEvent(t).Decode(&list))
	assert.Equal(t, []string{"0|0", "1|0"}, list.TileIDs)
}

func TestUnknownEvent(t *testing.T) {
	h := setupHub(t)
	c := &fakeConn{id: "c1", user: userA}
	h.connect(c)

	h.handle(context.Background(), c, &protocol.Envelope{Event: "teleport"})

	assert.Equal(t, []string{protocol.EventError}, c.events())
}

func TestEnvelopeBeforeRegistration(t *testing.T) {
	// The websocket layer queues the register event and then starts reading,
	// so a connection's first envelope can reach the hub loop ahead of its
	// registration. The hub must absorb that ordering, not panic on state
	// that does not exist yet.
	h := setupHub(t)
	c := &fakeConn{id: "c1", user: userA}

	join(t, h, c, "0|0")

	assert.Equal(t, protocol.EventInitCanvas, c.envelopeAt(t, 0).Event)
	tile, ok := h.store.Get(canvas.Coord{X: 0, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 1, tile.ViewerCount)

	// The late register event must not wipe the subscription.
	h.connect(c)
	join(t, h, c, "0|0")
	tile, _ = h.store.Get(canvas.Coord{X: 0, Y: 0})
	assert.Equal(t, 1, tile.ViewerCount)
}

// stallBackend is an in-memory Backend whose first save blocks until released
// and then fails. Every later save is recorded normally.
type stallBackend struct {
	mu       sync.Mutex
	saved    map[string]map[string]canvas.PixelRecord
	stalled  bool
	release  chan struct{}
	inFlight chan struct{}
}

func newStallBackend() *stallBackend {
	return &stallBackend{
		saved:    make(map[string]map[string]canvas.PixelRecord),
		release:  make(chan struct{}),
		inFlight: make(chan struct{}),
	}
}

func (b *stallBackend) LoadTile(ctx context.Context, id canvas.Coord) (map[string]canvas.PixelRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pixels, ok := b.saved[id.Key()]
	if !ok {
		return nil, store.ErrTileNotFound
	}
	out := make(map[string]canvas.PixelRecord, len(pixels))
	for k, v := range pixels {
		out[k] = v
	}
	return out, nil
}

func (b *stallBackend) SaveTile(ctx context.Context, id canvas.Coord, pixels map[string]canvas.PixelRecord) error {
	b.mu.Lock()
	first := !b.stalled
	b.stalled = true
	b.mu.Unlock()

	if first {
		close(b.inFlight)
		<-b.release
		return errors.New("backend unavailable")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved[id.Key()] = pixels
	return nil
}

func (b *stallBackend) ListTileIDs(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.saved))
	for k := range b.saved {
		ids = append(ids, k)
	}
	return ids, nil
}

func (b *stallBackend) Close() error { return nil }

func (b *stallBackend) pixels(key string) map[string]canvas.PixelRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saved[key]
}

func TestShutdownRetriesInFlightFlush(t *testing.T) {
	// A background save still in flight when the run context is canceled must
	// not lose its edits: Run settles the failed result, which re-marks the
	// tile dirty, and the final flush persists it.
	backend := newStallBackend()
	h := NewHub(store.New(backend, zap.NewNop()), Config{FlushInterval: 20 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	c := &fakeConn{id: "c1", user: userA}
	h.Register(c)
	h.Dispatch(c, protocol.MustEnvelope(protocol.EventJoinCanvas, protocol.JoinCanvas{TileID: "0|0"}))
	h.Dispatch(c, drawEnv("0|0", 5, 5, "#FF0000"))

	select {
	case <-backend.inFlight:
	case <-time.After(5 * time.Second):
		t.Fatal("flush never started")
	}

	cancel()
	close(backend.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not shut down")
	}

	saved := backend.pixels("0|0")
	require.Contains(t, saved, "5,5", "edit dropped by the failed in-flight save")
	assert.Equal(t, "#FF0000", saved["5,5"].Color)
}

func TestHubRunLifecycle(t *testing.T) {
	// Run must drain a registration and flush on shutdown without deadlock.
	h := setupHub(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	c := &fakeConn{id: "c1", user: userA}
	h.Register(c)
	h.Dispatch(c, protocol.MustEnvelope(protocol.EventJoinCanvas, protocol.JoinCanvas{TileID: "0|0"}))

	require.Eventually(t, func() bool {
		return c.sentCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not shut down")
	}
}
