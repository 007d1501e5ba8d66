package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mosaicgrid/mosaic/internal/printer"
	"github.com/mosaicgrid/mosaic/internal/protocol"
	"github.com/mosaicgrid/mosaic/internal/viewport"
	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

var watchRect string

var watchCmd = &cobra.Command{
	Use:   "watch [tile...]",
	Short: "Stream live edits from one or more tiles",
	Long: `Subscribe to tiles and print every edit as it happens, until
interrupted.

Tiles can be named directly by ID, or selected with --rect, which takes a
world-pixel rectangle "minX,minY,maxX,maxY" and subscribes to every tile it
intersects.

Examples:
  mosaic watch "0|0"
  mosaic watch "0|0" "1|0"
  mosaic watch --rect "-100,-100,600,600"`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRect, "rect", "", "World rectangle minX,minY,maxX,maxY to watch")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	tiles, err := watchTiles(args)
	if err != nil {
		return err
	}
	if len(tiles) == 0 {
		return printer.Error("nothing to watch: name at least one tile or pass --rect")
	}

	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, id := range tiles {
		if err := conn.WriteJSON(protocol.MustEnvelope(protocol.EventJoinCanvas, protocol.JoinCanvas{TileID: id})); err != nil {
			return fmt.Errorf("failed to join tile %s: %w", id, err)
		}
		env, err := readEvent(conn, protocol.EventInitCanvas, 10*time.Second)
		if err != nil {
			return err
		}
		var init protocol.InitCanvas
		if err := env.Decode(&init); err != nil {
			return err
		}
		printer.Info("Watching tile %s (%d painted pixel(s))\n", init.TileID, len(init.Pixels))
		renderSnapshot(init)
	}
	printer.Step("Streaming edits, Ctrl+C to stop\n")

	// Close the connection on interrupt; the blocked ReadJSON then returns
	// and the loop exits cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		<-sigCh
		close(interrupted)
		conn.Close()
	}()

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-interrupted:
				fmt.Println()
				printer.Info("Stopped watching\n")
				return nil
			default:
				return fmt.Errorf("connection lost: %w", err)
			}
		}
		printWatchEvent(&env)
	}
}

// watchTiles resolves the positional tile IDs plus the --rect selection into
// a deduplicated subscription list.
func watchTiles(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var tiles []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			tiles = append(tiles, id)
		}
	}

	for _, id := range args {
		if _, err := canvas.ParseCoordKey(id); err != nil {
			return nil, printer.Error("invalid tile ID %q: %v", id, err)
		}
		add(id)
	}

	if watchRect != "" {
		rect, err := parseRect(watchRect)
		if err != nil {
			return nil, err
		}
		for _, coord := range viewport.Visible(rect) {
			add(coord.Key())
		}
	}
	return tiles, nil
}

func parseRect(s string) (viewport.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return viewport.Rect{}, printer.Error("--rect wants minX,minY,maxX,maxY, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return viewport.Rect{}, printer.Error("--rect component %q is not a number", p)
		}
		vals[i] = v
	}
	return viewport.Rect{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

// Terminal render caps: one cell is two characters wide, so 64x32 keeps the
// view inside a normal terminal.
const (
	maxRenderWidth  = 64
	maxRenderHeight = 32
)

// renderSnapshot draws the painted region of a tile snapshot, one swatch per
// pixel, if the region fits the terminal caps. Larger regions are summarized
// instead of scrolled past.
func renderSnapshot(init protocol.InitCanvas) {
	if len(init.Pixels) == 0 {
		return
	}

	minX, minY := canvas.TileSize, canvas.TileSize
	maxX, maxY := 0, 0
	for key := range init.Pixels {
		x, y, err := canvas.ParsePixelKey(key)
		if err != nil {
			continue
		}
		minX, minY = min(minX, x), min(minY, y)
		maxX, maxY = max(maxX, x), max(maxY, y)
	}

	w, h := maxX-minX+1, maxY-minY+1
	if w > maxRenderWidth || h > maxRenderHeight {
		printer.Info("Painted region %dx%d is too large to render, streaming only\n", w, h)
		return
	}

	var row strings.Builder
	for y := minY; y <= maxY; y++ {
		row.Reset()
		for x := minX; x <= maxX; x++ {
			if rec, ok := init.Pixels[canvas.PixelKey(x, y)]; ok {
				row.WriteString(printer.Swatch(rec.Color))
			} else {
				row.WriteString("  ")
			}
		}
		fmt.Println(row.String())
	}
}

func printWatchEvent(env *protocol.Envelope) {
	switch env.Event {
	case protocol.EventDraw:
		var applied protocol.DrawApplied
		if err := env.Decode(&applied); err != nil {
			printer.Warning("undecodable draw event: %v\n", err)
			return
		}
		fmt.Printf("%s draw  %s (%d,%d) %s %s size=%d shape=%s -> %d pixel(s)\n",
			timestamp(applied.Record.TimestampMs), applied.TileID,
			applied.X, applied.Y,
			printer.Swatch(applied.Color), applied.Color,
			applied.Size, applied.Shape, len(applied.Affected))

	case protocol.EventFill:
		var applied protocol.FillApplied
		if err := env.Decode(&applied); err != nil {
			printer.Warning("undecodable fill event: %v\n", err)
			return
		}
		fmt.Printf("%s fill  %s (%d,%d) %s %s -> %s %s, %d pixel(s)\n",
			timestamp(applied.Record.TimestampMs), applied.TileID,
			applied.X, applied.Y,
			printer.Swatch(applied.TargetColor), applied.TargetColor,
			printer.Swatch(applied.NewColor), applied.NewColor,
			len(applied.Affected))

	case protocol.EventUpdateCanvasList:
		var list protocol.UpdateCanvasList
		if err := env.Decode(&list); err != nil {
			return
		}
		printer.Info("Canvas list updated: %d tile(s)\n", len(list.TileIDs))

	case protocol.EventError:
		var msg protocol.ErrorMessage
		if err := env.Decode(&msg); err != nil {
			return
		}
		printer.Warning("Server error: %s\n", msg.Message)
	}
}

func timestamp(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}
