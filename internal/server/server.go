// Package server exposes the HTTP surface of the canvas: the websocket
// endpoint that feeds the session hub, the auth status endpoints, health, and
// Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mosaicgrid/mosaic/internal/auth"
	"github.com/mosaicgrid/mosaic/internal/session"
)

// Server wires the router, the hub, and the authenticator together.
type Server struct {
	hub      *session.Hub
	auth     auth.Authenticator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a Server. The hub must be running (session.Hub.Run) before
// connections arrive.
func New(hub *session.Hub, authenticator auth.Authenticator, logger *zap.Logger) *Server {
	return &Server{
		hub:    hub,
		auth:   authenticator,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The canvas client is served from arbitrary origins during
			// development; session tokens, not origins, gate mutation.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/auth/status", auth.StatusHandler(s.auth)).Methods(http.MethodGet)
	r.HandleFunc("/logout", auth.LogoutHandler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleWebsocket authenticates the request, upgrades it, and hands the
// connection to the hub. Identity is resolved once, here: the connection
// keeps it for its lifetime.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	user, _ := s.auth.Authenticate(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.New().String(), user, s.hub, ws, s.logger)
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
