package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// statusResponse is the body of GET /auth/status.
type statusResponse struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            *canvas.UserRef `json:"user,omitempty"`
}

// StatusHandler serves GET /auth/status: the identity capability as seen by
// the browser client.
func StatusHandler(a Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.Authenticate(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResponse{IsAuthenticated: ok, User: user})
	}
}

// LogoutHandler serves GET /logout: expires the session cookie.
func LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}
