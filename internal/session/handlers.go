package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/metrics"
	"github.com/mosaicgrid/mosaic/internal/protocol"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

func (h *Hub) handle(ctx context.Context, c Conn, env *protocol.Envelope) {
	// A connection's first envelope can win the race against its register
	// event on the select loop. Registration is idempotent, so settle it here
	// rather than touching per-connection state that does not exist yet.
	if _, ok := h.conns[c.ID()]; !ok {
		h.connect(c)
	}
	switch env.Event {
	case protocol.EventJoinCanvas:
		h.handleJoin(ctx, c, env)
	case protocol.EventLeaveCanvas:
		h.handleLeave(c, env)
	case protocol.EventDraw:
		h.handleDraw(ctx, c, env)
	case protocol.EventFill:
		h.handleFill(ctx, c, env)
	case protocol.EventRequestCanvasList:
		h.handleCanvasList(ctx, c)
	default:
		h.sendError(c, fmt.Sprintf("unknown event %q", env.Event))
	}
}

// handleJoin subscribes the connection to a tile. Idempotent: re-joining an
// already-joined tile does nothing (no second snapshot, no double viewer
// count). Joining is open to anonymous connections; only mutation requires
// authentication.
//
// The snapshot is sent synchronously here, before the handler returns, so no
// edit processed after this join can reach the connection ahead of its
// snapshot.
func (h *Hub) handleJoin(ctx context.Context, c Conn, env *protocol.Envelope) {
	var p protocol.JoinCanvas
	if err := env.Decode(&p); err != nil {
		h.sendError(c, err.Error())
		return
	}
	id, err := canvas.ParseCoordKey(p.TileID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	key := id.Key()

	if h.joined[c.ID()][key] {
		return
	}

	tile, err := h.store.GetOrCreate(ctx, id)
	if err != nil {
		h.logger.Error("failed to load tile for join",
			zap.String("tile", key),
			zap.Error(err))
		h.sendError(c, fmt.Sprintf("canvas %s is temporarily unavailable", key))
		return
	}

	if h.rooms[key] == nil {
		h.rooms[key] = make(map[string]Conn)
	}
	h.rooms[key][c.ID()] = c
	h.joined[c.ID()][key] = true
	tile.ViewerCount++
	tile.Touch(h.now())

	// Marshaling happens inside MustEnvelope, on this goroutine, so the live
	// pixel map is safe to hand over.
	c.Send(protocol.MustEnvelope(protocol.EventInitCanvas, protocol.InitCanvas{
		TileID: key,
		Pixels: tile.Pixels,
	}))
	metrics.SnapshotsSent.Inc()

	// Everyone learns about newly discoverable tiles, including this
	// connection's neighbors-to-be.
	h.broadcastCanvasList(ctx)
}

// handleLeave unsubscribes the connection from a tile. Leaving a tile that
// was never joined is a no-op.
func (h *Hub) handleLeave(c Conn, env *protocol.Envelope) {
	var p protocol.LeaveCanvas
	if err := env.Decode(&p); err != nil {
		h.sendError(c, err.Error())
		return
	}
	id, err := canvas.ParseCoordKey(p.TileID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	if !h.joined[c.ID()][id.Key()] {
		return
	}
	h.leaveTile(c, id.Key())
	delete(h.joined[c.ID()], id.Key())
}

// handleDraw authorizes, validates, applies, and relays one brush stamp.
// Rejections are terminal for this operation only: an error envelope goes to
// the originating connection, nothing is mutated, nothing is broadcast.
func (h *Hub) handleDraw(ctx context.Context, c Conn, env *protocol.Envelope) {
	user := c.User()
	if user == nil {
		metrics.EditsRejected.WithLabelValues("unauthorized").Inc()
		h.sendError(c, "authentication required to draw")
		return
	}

	var p protocol.Draw
	if err := env.Decode(&p); err != nil {
		metrics.EditsRejected.WithLabelValues("invalid").Inc()
		h.sendError(c, err.Error())
		return
	}
	id, err := canvas.ParseCoordKey(p.TileID)
	if err != nil {
		metrics.EditsRejected.WithLabelValues("invalid").Inc()
		h.sendError(c, err.Error())
		return
	}
	if msg, ok := validateDraw(p); !ok {
		metrics.EditsRejected.WithLabelValues("invalid").Inc()
		h.sendError(c, msg)
		return
	}
	if !h.joined[c.ID()][id.Key()] {
		metrics.EditsRejected.WithLabelValues("not_subscribed").Inc()
		h.sendError(c, fmt.Sprintf("not subscribed to canvas %s", id.Key()))
		return
	}

	now := h.now()
	affected, err := h.store.ApplyEdit(ctx, id, canvas.EditOp{
		X:           p.X,
		Y:           p.Y,
		Color:       p.Color,
		Size:        p.Size,
		Shape:       canvas.Shape(p.Shape),
		TargetColor: p.TargetColor,
	}, *user, now)
	if err != nil {
		h.logger.Error("failed to apply draw", zap.String("tile", id.Key()), zap.Error(err))
		h.sendError(c, fmt.Sprintf("canvas %s is temporarily unavailable", id.Key()))
		return
	}

	applied := protocol.MustEnvelope(protocol.EventDraw, protocol.DrawApplied{
		Draw:     p,
		Affected: affected,
		Record: canvas.PixelRecord{
			Color:       p.Color,
			User:        *user,
			TimestampMs: now.UnixMilli(),
		},
	})

	// The sender always gets the authoritative result back, even when the
	// target-color gate rejected every predicted pixel; its optimistic stroke
	// reconciles against Affected. Other subscribers only hear about edits
	// that wrote something.
	if len(affected) > 0 {
		h.broadcastToRoom(id.Key(), c, applied)
	}
	c.Send(applied)
}

// handleFill authorizes, validates, applies, and relays one flood fill.
func (h *Hub) handleFill(ctx context.Context, c Conn, env *protocol.Envelope) {
	user := c.User()
	if user == nil {
		metrics.EditsRejected.WithLabelValues("unauthorized").Inc()
		h.sendError(c, "authentication required to fill")
		return
	}

	var p protocol.Fill
	if err := env.Decode(&p); err != nil {
		metrics.EditsRejected.WithLabelValues("invalid").Inc()
		h.sendError(c, err.Error())
		return
	}
	id, err := canvas.ParseCoordKey(p.TileID)
	if err != nil {
		metrics.EditsRejected.WithLabelValues("invalid").Inc()
		h.sendError(c, err.Error())
		return
	}
	if msg, ok := validateFill(p); !ok {
		metrics.EditsRejected.WithLabelValues("invalid").Inc()
		h.sendError(c, msg)
		return
	}
	if !h.joined[c.ID()][id.Key()] {
		metrics.EditsRejected.WithLabelValues("not_subscribed").Inc()
		h.sendError(c, fmt.Sprintf("not subscribed to canvas %s", id.Key()))
		return
	}

	now := h.now()
	affected, err := h.store.ApplyFill(ctx, id, canvas.FillOp{
		X:           p.X,
		Y:           p.Y,
		TargetColor: p.TargetColor,
		NewColor:    p.NewColor,
	}, *user, now)
	if err != nil {
		h.logger.Error("failed to apply fill", zap.String("tile", id.Key()), zap.Error(err))
		h.sendError(c, fmt.Sprintf("canvas %s is temporarily unavailable", id.Key()))
		return
	}

	applied := protocol.MustEnvelope(protocol.EventFill, protocol.FillApplied{
		Fill:     p,
		Affected: affected,
		Record: canvas.PixelRecord{
			Color:       p.NewColor,
			User:        *user,
			TimestampMs: now.UnixMilli(),
		},
	})

	if len(affected) > 0 {
		h.broadcastToRoom(id.Key(), c, applied)
	}
	c.Send(applied)
}

// handleCanvasList replies to the requesting connection with the known tiles.
func (h *Hub) handleCanvasList(ctx context.Context, c Conn) {
	ids, err := h.store.ListKnownTileIDs(ctx)
	if err != nil {
		h.logger.Error("failed to list tiles", zap.Error(err))
		h.sendError(c, "canvas list is temporarily unavailable")
		return
	}
	c.Send(protocol.MustEnvelope(protocol.EventUpdateCanvasList, protocol.UpdateCanvasList{TileIDs: ids}))
}

// broadcastCanvasList pushes the known tile list to every connection.
func (h *Hub) broadcastCanvasList(ctx context.Context) {
	ids, err := h.store.ListKnownTileIDs(ctx)
	if err != nil {
		h.logger.Error("failed to list tiles for broadcast", zap.Error(err))
		return
	}
	env := protocol.MustEnvelope(protocol.EventUpdateCanvasList, protocol.UpdateCanvasList{TileIDs: ids})
	for _, conn := range h.conns {
		conn.Send(env)
	}
}

// broadcastToRoom sends an envelope to every room member except the sender.
func (h *Hub) broadcastToRoom(key string, sender Conn, env *protocol.Envelope) {
	for id, conn := range h.rooms[key] {
		if id == sender.ID() {
			continue
		}
		conn.Send(env)
	}
}

func validateDraw(p protocol.Draw) (string, bool) {
	if !canvas.ValidColor(p.Color) {
		return fmt.Sprintf("invalid color %q", p.Color), false
	}
	if p.TargetColor != "" && !canvas.ValidColor(p.TargetColor) {
		return fmt.Sprintf("invalid target color %q", p.TargetColor), false
	}
	if p.Size < 1 || p.Size > MaxBrushSize {
		return fmt.Sprintf("brush size %d out of range [1,%d]", p.Size, MaxBrushSize), false
	}
	if !canvas.ValidShape(canvas.Shape(p.Shape)) {
		return fmt.Sprintf("unknown brush shape %q", p.Shape), false
	}
	return "", true
}

func validateFill(p protocol.Fill) (string, bool) {
	if !canvas.ValidColor(p.TargetColor) {
		return fmt.Sprintf("invalid target color %q", p.TargetColor), false
	}
	if !canvas.ValidColor(p.NewColor) {
		return fmt.Sprintf("invalid fill color %q", p.NewColor), false
	}
	return "", true
}
