package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventDraw, Draw{
		TileID: "0|0",
		X:      5,
		Y:      5,
		Color:  "#FF0000",
		Size:   1,
		Shape:  "round",
	})
	require.NoError(t, err)

	wire, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, EventDraw, decoded.Event)

	var payload Draw
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, "0|0", payload.TileID)
	assert.Equal(t, "#FF0000", payload.Color)
}

func TestEnvelopeNoPayload(t *testing.T) {
	env, err := NewEnvelope(EventRequestCanvasList, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Data)

	var payload JoinCanvas
	assert.Error(t, env.Decode(&payload))
}

func TestDecodeInvalidPayload(t *testing.T) {
	env := &Envelope{Event: EventJoinCanvas, Data: json.RawMessage(`{"tileId":`)}
	var payload JoinCanvas
	assert.Error(t, env.Decode(&payload))
}

func TestTargetColorOmittedWhenEmpty(t *testing.T) {
	env := MustEnvelope(EventDraw, Draw{TileID: "0|0", Color: "#FF0000", Size: 1, Shape: "round"})
	assert.NotContains(t, string(env.Data), "targetColor")
}

func TestDrawAppliedCarriesAffectedSet(t *testing.T) {
	env := MustEnvelope(EventDraw, DrawApplied{
		Draw:     Draw{TileID: "0|0", X: 5, Y: 5, Color: "#FF0000", Size: 1, Shape: "round"},
		Affected: []string{"5,5"},
		Record:   canvas.PixelRecord{Color: "#FF0000", User: canvas.UserRef{ID: "u1"}, TimestampMs: 1},
	})

	var decoded DrawApplied
	require.NoError(t, env.Decode(&decoded))
	assert.Equal(t, []string{"5,5"}, decoded.Affected)
	assert.Equal(t, "#FF0000", decoded.Record.Color)
}
