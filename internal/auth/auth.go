// Package auth provides the authentication capability the canvas core
// consumes: "is this request authenticated, and as whom". Identity arrives as
// a signed session token (cookie or bearer header); how the token was
// obtained (OAuth provider flows and so on) is outside this package.
package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mosaicgrid/mosaic/pkg/canvas"
)

// SessionCookie is the cookie the session token travels in.
const SessionCookie = "mosaic_session"

// Authenticator resolves a request to an identity. Implementations must be
// safe for concurrent use.
type Authenticator interface {
	// Authenticate returns the request's identity, or (nil, false) when the
	// request carries no valid credential.
	Authenticate(r *http.Request) (*canvas.UserRef, bool)
}

// TokenAuthenticator validates HMAC-signed JWTs carrying the user identity in
// the "sub" and "name" claims.
type TokenAuthenticator struct {
	secret []byte
}

// NewTokenAuthenticator creates an authenticator for the given signing
// secret. Returns an error if the secret is empty.
func NewTokenAuthenticator(secret string) (*TokenAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret cannot be empty")
	}
	return &TokenAuthenticator{secret: []byte(secret)}, nil
}

// Authenticate checks the Authorization bearer header first, then the
// session cookie. Invalid or expired tokens authenticate as nobody; they are
// never an error the caller needs to distinguish.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (*canvas.UserRef, bool) {
	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return nil, false
	}
	return a.verify(token)
}

// IssueToken signs a session token for the given user, valid for ttl.
func (a *TokenAuthenticator) IssueToken(user canvas.UserRef, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"name": user.DisplayName,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (a *TokenAuthenticator) verify(token string) (*canvas.UserRef, bool) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil, false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, false
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}
	return &canvas.UserRef{ID: sub, DisplayName: name}, true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
