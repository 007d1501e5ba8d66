// Package session implements the tile session manager and edit relay: the
// per-connection bookkeeping of tile subscriptions, snapshot delivery on
// join, and room-scoped broadcast of applied edits.
//
// All tile mutation happens on the single Hub.Run goroutine. That one rule is
// the whole locking discipline: there are no data races on tile state by
// construction, and a joining connection's snapshot is always sent before any
// broadcast for an edit processed after the join.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/metrics"
	"github.com/mosaicgrid/mosaic/internal/protocol"
	"github.com/mosaicgrid/mosaic/internal/store"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// MaxBrushSize bounds the accepted brush diameter. Large enough for any
// sensible UI slider, small enough that a single stamp stays cheap.
const MaxBrushSize = 64

// Conn is one transport connection as the hub sees it. Implemented by the
// websocket client in internal/server and by test fakes.
//
// Send must not block the hub goroutine: implementations buffer outbound
// envelopes and deal with slow consumers themselves.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string

	// User returns the authenticated identity attached at upgrade time, or
	// nil for anonymous (read-only) connections.
	User() *canvas.UserRef

	// Send queues an envelope for delivery, preserving per-connection order.
	Send(env *protocol.Envelope)
}

type inbound struct {
	conn Conn
	env  *protocol.Envelope
}

// Config holds the hub's timing knobs.
type Config struct {
	// FlushInterval is how often dirty tiles are written back to the
	// persistence backend.
	FlushInterval time.Duration

	// EvictInterval is how often the idle sweep runs.
	EvictInterval time.Duration

	// MaxIdle is how long a tile with no viewers may go untouched before the
	// sweep reclaims it.
	MaxIdle time.Duration
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 60 * time.Second
	}
	if c.EvictInterval <= 0 {
		c.EvictInterval = 5 * time.Minute
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 15 * time.Minute
	}
	return c
}

// Hub owns the connection and room state and serializes every operation that
// touches tile state through its Run loop.
type Hub struct {
	store  *store.Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	register   chan Conn
	unregister chan Conn
	messages   chan inbound
	flushDone  chan store.FlushResult

	conns  map[string]Conn
	rooms  map[string]map[string]Conn // tile key -> conn id -> conn
	joined map[string]map[string]bool // conn id -> tile keys
}

// NewHub creates a hub over the given store. Zero Config fields fall back to
// defaults.
func NewHub(st *store.Store, cfg Config, logger *zap.Logger) *Hub {
	return &Hub{
		store:      st,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
		register:   make(chan Conn, 64),
		unregister: make(chan Conn, 64),
		messages:   make(chan inbound, 256),
		flushDone:  make(chan store.FlushResult, 64),
		conns:      make(map[string]Conn),
		rooms:      make(map[string]map[string]Conn),
		joined:     make(map[string]map[string]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c Conn) {
	h.register <- c
}

// Unregister removes a connection, implicitly leaving every joined tile.
// Safe to call for a connection that already left its tiles explicitly.
func (h *Hub) Unregister(c Conn) {
	h.unregister <- c
}

// Dispatch queues an inbound envelope for processing on the hub goroutine.
func (h *Hub) Dispatch(c Conn, env *protocol.Envelope) {
	h.messages <- inbound{conn: c, env: env}
}

// Run processes hub events until ctx is canceled, then flushes all dirty
// tiles before returning.
func (h *Hub) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(h.cfg.FlushInterval)
	defer flushTicker.Stop()
	evictTicker := time.NewTicker(h.cfg.EvictInterval)
	defer evictTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Settle in-flight background saves before the final flush: a
			// failed save must re-mark its tile dirty so FlushAll retries it,
			// and every sender on flushDone must be received before Run
			// returns.
			for h.store.FlushingCount() > 0 {
				h.store.HandleFlushResult(<-h.flushDone)
			}
			// The run context is gone; give the final flush its own deadline.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return h.store.FlushAll(shutdownCtx)

		case c := <-h.register:
			h.connect(c)

		case c := <-h.unregister:
			h.disconnect(c)

		case m := <-h.messages:
			h.handle(ctx, m.conn, m.env)

		case <-flushTicker.C:
			// Background saves must outlive a mid-flight shutdown; the run
			// context would fail them the moment it is canceled.
			h.store.FlushDirty(context.WithoutCancel(ctx), h.flushDone)

		case res := <-h.flushDone:
			h.store.HandleFlushResult(res)

		case <-evictTicker.C:
			h.store.SweepIdle(context.WithoutCancel(ctx), h.cfg.MaxIdle, h.now(), h.flushDone)
		}
	}
}

func (h *Hub) connect(c Conn) {
	if _, ok := h.conns[c.ID()]; ok {
		return
	}
	h.conns[c.ID()] = c
	h.joined[c.ID()] = make(map[string]bool)
	metrics.ActiveConnections.Set(float64(len(h.conns)))
	h.logger.Info("connection registered", zap.String("conn", c.ID()))
}

// disconnect is the implicit leave for every tile the connection had joined.
// The joined set is authoritative, so a tile already left explicitly cannot
// be double-decremented here.
func (h *Hub) disconnect(c Conn) {
	if _, ok := h.conns[c.ID()]; !ok {
		return
	}
	for key := range h.joined[c.ID()] {
		h.leaveTile(c, key)
	}
	delete(h.joined, c.ID())
	delete(h.conns, c.ID())
	metrics.ActiveConnections.Set(float64(len(h.conns)))
	h.logger.Info("connection removed", zap.String("conn", c.ID()))
}

// leaveTile removes the connection from a tile's room and decrements the
// viewer count. Callers must have checked the joined set first.
func (h *Hub) leaveTile(c Conn, key string) {
	if room, ok := h.rooms[key]; ok {
		delete(room, c.ID())
		if len(room) == 0 {
			delete(h.rooms, key)
		}
	}
	if id, err := canvas.ParseCoordKey(key); err == nil {
		if tile, ok := h.store.Get(id); ok && tile.ViewerCount > 0 {
			tile.ViewerCount--
		}
	}
}

func (h *Hub) sendError(c Conn, message string) {
	c.Send(protocol.MustEnvelope(protocol.EventError, protocol.ErrorMessage{Message: message}))
}
