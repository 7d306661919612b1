package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

const csrfCookieName = "chatdemo_csrf"

type csrfCtxKey struct{}

// CSRFMiddleware ensures every request carries a CSRF cookie, minting
// one on first contact and stashing it on the request context so
// CSRFTokenFn (which only receives *http.Request, per server.Config's
// signature) can read it back without access to the ResponseWriter.
func CSRFMiddleware(c *gin.Context) {
	token := ""
	if cookie, err := c.Cookie(csrfCookieName); err == nil && cookie != "" {
		token = cookie
	} else {
		token = newCSRFToken()
		c.SetCookie(csrfCookieName, token, 0, "/", "", false, false)
	}
	ctx := context.WithValue(c.Request.Context(), csrfCtxKey{}, token)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// TokenFn adapts to server.Config.CSRFTokenFn. The server only needs
// the token present at handshake time (it warns, never rejects, when
// absent), so the CSRFMiddleware + TokenFn split — mint in middleware,
// read in the handler the core library calls — is enough.
func TokenFn(r *http.Request) string {
	v, _ := r.Context().Value(csrfCtxKey{}).(string)
	return v
}

func newCSRFToken() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
