// Package commands implements the mosaic CLI: a small websocket client for
// inspecting and editing tiles on a running mosaicd server.
package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mosaicgrid/mosaic/internal/protocol"
)

var (
	version string
	commit  string
	date    string
)

var (
	serverURL string
	authToken string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Mosaic - collaborative pixel canvas client",
	Long: `Mosaic is the command-line client for a mosaicd canvas server.

It can list the known tiles, watch a tile's edit stream live, and apply
draw and fill operations. Mutating commands need a session token; viewing
commands work anonymously.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://localhost:8080", "mosaicd server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "session token for mutating commands")
}

// dial opens the websocket connection to the server's /ws endpoint, sending
// the session token as a bearer credential when one is set.
func dial() (*websocket.Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws, wss, http or https", serverURL)
	}
	u.Path = "/ws"

	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}
	return conn, nil
}

// readEvent reads envelopes until one matching event arrives. A server error
// envelope terminates the wait with the server's message.
func readEvent(conn *websocket.Conn, event string, timeout time.Duration) (*protocol.Envelope, error) {
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", event, err)
		}
		switch env.Event {
		case event:
			return &env, nil
		case protocol.EventError:
			var msg protocol.ErrorMessage
			if err := env.Decode(&msg); err != nil {
				return nil, fmt.Errorf("server error (undecodable payload): %w", err)
			}
			return nil, fmt.Errorf("server rejected request: %s", msg.Message)
		}
		// Anything else (canvas list updates, other users' edits) is not for
		// us; keep reading until the deadline.
	}
}
