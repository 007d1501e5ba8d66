package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mosaicgrid/mosaic/internal/protocol"
)

var tilesJSON bool

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "List the tiles the server knows about",
	Long: `List every tile the server knows about: tiles currently resident in
memory plus tiles present in the persistence backend.

Tile IDs are "x|y" world coordinates of the tile origin divided by the tile
size, e.g. "0|0" or "-1|2".

Use --json for machine-readable output.`,
	RunE: runTiles,
}

func init() {
	tilesCmd.Flags().BoolVar(&tilesJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(tilesCmd)
}

func runTiles(cmd *cobra.Command, args []string) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.Envelope{Event: protocol.EventRequestCanvasList}); err != nil {
		return fmt.Errorf("failed to request tile list: %w", err)
	}

	env, err := readEvent(conn, protocol.EventUpdateCanvasList, 10*time.Second)
	if err != nil {
		return err
	}
	var list protocol.UpdateCanvasList
	if err := env.Decode(&list); err != nil {
		return err
	}

	if tilesJSON {
		data, err := json.MarshalIndent(list.TileIDs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal tile list: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(list.TileIDs) == 0 {
		fmt.Println("No tiles yet.")
		fmt.Println()
		fmt.Println("Run 'mosaic draw <tile> <x> <y> <color>' to paint the first pixel.")
		return nil
	}
	for _, id := range list.TileIDs {
		fmt.Println(id)
	}
	return nil
}
