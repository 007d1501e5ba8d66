package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mosaicgrid/mosaic/internal/printer"
	"github.com/mosaicgrid/mosaic/internal/protocol"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

var fillCmd = &cobra.Command{
	Use:   "fill <tile> <x> <y> <target-color> <new-color>",
	Short: "Flood-fill a region of a tile",
	Long: `Flood-fill the 4-connected region of target-color pixels reachable from
(x, y), replacing them with new-color. The fill never crosses tile
boundaries. Unpainted pixels count as the background color ` + canvas.BackgroundColor + `.

Requires a session token (--token).

Example:
  mosaic fill "0|0" 100 100 "#ffffff" "#2244aa" --token $TOKEN`,
	Args: cobra.ExactArgs(5),
	RunE: runFill,
}

func init() {
	rootCmd.AddCommand(fillCmd)
}

func runFill(cmd *cobra.Command, args []string) error {
	tileID := args[0]
	x, err := strconv.Atoi(args[1])
	if err != nil {
		return printer.Error("x must be an integer, got %q", args[1])
	}
	y, err := strconv.Atoi(args[2])
	if err != nil {
		return printer.Error("y must be an integer, got %q", args[2])
	}
	targetColor, newColor := args[3], args[4]
	if !canvas.ValidColor(targetColor) {
		return printer.Error("target color must be a hex value like #ffffff, got %q", targetColor)
	}
	if !canvas.ValidColor(newColor) {
		return printer.Error("new color must be a hex value like #2244aa, got %q", newColor)
	}
	if authToken == "" {
		return printer.Error("fill requires a session token (--token)")
	}

	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.MustEnvelope(protocol.EventJoinCanvas, protocol.JoinCanvas{TileID: tileID})); err != nil {
		return fmt.Errorf("failed to join tile: %w", err)
	}
	if _, err := readEvent(conn, protocol.EventInitCanvas, 10*time.Second); err != nil {
		return err
	}

	fill := protocol.Fill{
		TileID:      tileID,
		X:           x,
		Y:           y,
		TargetColor: targetColor,
		NewColor:    newColor,
	}
	if err := conn.WriteJSON(protocol.MustEnvelope(protocol.EventFill, fill)); err != nil {
		return fmt.Errorf("failed to send fill: %w", err)
	}

	env, err := readEvent(conn, protocol.EventFill, 30*time.Second)
	if err != nil {
		return err
	}
	var applied protocol.FillApplied
	if err := env.Decode(&applied); err != nil {
		return err
	}

	printer.Success("Filled %d pixel(s) %s %s -> %s %s on tile %s\n",
		len(applied.Affected),
		printer.Swatch(targetColor), targetColor,
		printer.Swatch(newColor), newColor, tileID)
	return nil
}
