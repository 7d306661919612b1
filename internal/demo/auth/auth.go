// Package auth issues and verifies the JWTs that establish a chatdemo
// uid, using golang-jwt/jwt/v5 with standard Bearer-token parsing and
// claims extraction. The core library (server.Config.UserIDFn) only
// needs a plain
// func(*http.Request, registry.ClientID) registry.UID — this package is
// the glue that makes that function read a real token.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chansock/internal/demo/config"
	"chansock/registry"
)

type claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies the demo's session tokens.
type Issuer struct {
	secret     []byte
	expiration time.Duration
}

func NewIssuer(cfg config.JWTConfig) *Issuer {
	return &Issuer{secret: []byte(cfg.Secret), expiration: cfg.ExpirationTime}
}

// Issue mints a bearer token asserting uid, used by the demo's login
// endpoint. There is no real password store here; the demo's "login"
// just accepts a display name and issues it an identity.
func (i *Issuer) Issue(uid string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiration)),
		},
	})
	return tok.SignedString(i.secret)
}

func (i *Issuer) verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.UID == "" {
		return "", fmt.Errorf("auth: token missing uid claim")
	}
	return c.UID, nil
}

// bearerToken extracts the token from an Authorization header, falling
// back to the "token" query parameter so the handshake GET (which can't
// set custom headers before the WebSocket upgrade completes in every
// client) still has a way to authenticate.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// UserIDFn adapts Issuer into the server.Config.UserIDFn shape: a
// missing or invalid token resolves to registry.NilUID rather than
// rejecting the request. Authentication failures are an application
// concern the demo degrades gracefully on, not a hard failure of the
// handshake itself.
func (i *Issuer) UserIDFn(r *http.Request, _ registry.ClientID) registry.UID {
	token := bearerToken(r)
	if token == "" {
		return registry.NilUID
	}
	uid, err := i.verify(token)
	if err != nil {
		return registry.NilUID
	}
	return registry.UID(uid)
}
