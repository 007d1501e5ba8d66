// Package protocol defines the wire format for the canvas event protocol.
// Every frame on the wire is a JSON Envelope: an event name plus an
// event-specific payload. The same envelope shape is used in both directions.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// Event names carried in Envelope.Event.
const (
	// EventRequestCanvasList asks the server for the known tile list
	// (client -> server, no payload).
	EventRequestCanvasList = "request-canvas-list"

	// EventUpdateCanvasList carries the known tile list
	// (server -> client(s)).
	EventUpdateCanvasList = "update-canvas-list"

	// EventJoinCanvas subscribes the connection to a tile (client -> server).
	EventJoinCanvas = "join-canvas"

	// EventLeaveCanvas unsubscribes the connection from a tile (client -> server).
	EventLeaveCanvas = "leave-canvas"

	// EventInitCanvas delivers a full tile snapshot (server -> client).
	// Guaranteed to arrive before any draw/fill broadcast triggered by an
	// edit processed after the join.
	EventInitCanvas = "init-canvas"

	// EventDraw carries a brush stamp. Client -> server it is a request;
	// server -> client it is the authoritative result including the affected
	// pixel set.
	EventDraw = "draw"

	// EventFill carries a flood fill, same directionality as EventDraw.
	EventFill = "fill"

	// EventError reports an authorization or validation failure to the
	// originating connection only (server -> client).
	EventError = "error"
)

// Envelope is one protocol frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload struct into an envelope for the given event.
func NewEnvelope(event string, payload any) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return &Envelope{Event: event, Data: data}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal
// (plain structs of strings and ints). Panics otherwise.
func MustEnvelope(event string, payload any) *Envelope {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Event, err)
	}
	return nil
}

// JoinCanvas is the payload for EventJoinCanvas.
type JoinCanvas struct {
	TileID string `json:"tileId"`
}

// LeaveCanvas is the payload for EventLeaveCanvas.
type LeaveCanvas struct {
	TileID string `json:"tileId"`
}

// InitCanvas is the payload for EventInitCanvas: the complete sparse pixel
// map of one tile.
type InitCanvas struct {
	TileID string                        `json:"tileId"`
	Pixels map[string]canvas.PixelRecord `json:"pixels"`
}

// UpdateCanvasList is the payload for EventUpdateCanvasList.
type UpdateCanvasList struct {
	TileIDs []string `json:"tileIds"`
}

// Draw is the client -> server payload for EventDraw. X and Y are local tile
// coordinates of the stroke origin.
type Draw struct {
	TileID      string `json:"tileId"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Color       string `json:"color"`
	Size        int    `json:"size"`
	Shape       string `json:"shape"`
	TargetColor string `json:"targetColor,omitempty"`
}

// DrawApplied is the server -> client payload for EventDraw: the request plus
// the authoritative set of pixel keys actually written and the record they
// were written with. Clients that predicted the stroke reconcile against
// Affected rather than re-rasterizing.
type DrawApplied struct {
	Draw
	Affected []string           `json:"affected"`
	Record   canvas.PixelRecord `json:"record"`
}

// Fill is the client -> server payload for EventFill.
type Fill struct {
	TileID      string `json:"tileId"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	TargetColor string `json:"targetColor"`
	NewColor    string `json:"newColor"`
}

// FillApplied is the server -> client payload for EventFill.
type FillApplied struct {
	Fill
	Affected []string           `json:"affected"`
	Record   canvas.PixelRecord `json:"record"`
}

// ErrorMessage is the payload for EventError.
type ErrorMessage struct {
	Message string `json:"message"`
}
