package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/protocol"
	"github.com/mosaicgrid/mosaic/internal/session"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

const (
	// writeWait is how long a single websocket write may take.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before declaring the peer dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Edits are small; snapshots only
	// ever travel outbound.
	maxMessageSize = 4096

	// sendBuffer is the outbound queue depth per connection. A connection
	// that falls this far behind is dropped rather than allowed to stall
	// the hub.
	sendBuffer = 256
)

// client is one websocket connection, bridging the transport to the hub.
// It implements session.Conn.
type client struct {
	id     string
	user   *canvas.UserRef
	hub    *session.Hub
	ws     *websocket.Conn
	send   chan *protocol.Envelope
	logger *zap.Logger
}

func newClient(id string, user *canvas.UserRef, hub *session.Hub, ws *websocket.Conn, logger *zap.Logger) *client {
	return &client{
		id:     id,
		user:   user,
		hub:    hub,
		ws:     ws,
		send:   make(chan *protocol.Envelope, sendBuffer),
		logger: logger,
	}
}

func (c *client) ID() string { return c.id }

func (c *client) User() *canvas.UserRef { return c.user }

// Send queues an envelope without blocking the hub. A full buffer means the
// peer is too slow to keep up; the connection is closed and the hub will see
// the disconnect through the read pump.
func (c *client) Send(env *protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		c.logger.Warn("dropping slow connection", zap.String("conn", c.id))
		c.ws.Close()
	}
}

// readPump relays inbound envelopes to the hub. It owns the connection's
// lifecycle: on any read error it unregisters the client and closes the
// socket, which terminates the write pump as well.
func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("connection closed unexpectedly", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Send(protocol.MustEnvelope(protocol.EventError, protocol.ErrorMessage{
				Message: "malformed message: expected a JSON envelope",
			}))
			continue
		}
		c.hub.Dispatch(c, &env)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
