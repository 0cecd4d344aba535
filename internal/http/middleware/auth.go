// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer authentication. Auth resolves the caller from
// the Authorization header (or a ?token= query parameter for browser socket
// clients), stores the identity in the Gin context, and rejects everything
// else with 401 and a WWW-Authenticate challenge.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pdf-chat-backend/internal/auth"
)

const (
	ctxKeyUserID   = "userID"
	ctxKeyIdentity = "identity"
)

// TokenVerifier resolves a raw bearer token to an identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Auth returns a middleware that requires a valid bearer token.
//
// On success it sets "userID" and "identity" in the Gin context and extends
// the request-scoped logger with user_id. On failure it aborts with
//
//	HTTP/1.1 401 Unauthorized
//	WWW-Authenticate: Bearer
//	{"request_id": "...", "code": "unauthorized", "message": "..."}
func Auth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := TokenFromRequest(c.Request)
		if raw == "" {
			unauthorized(c, "Authorization required")
			return
		}
		id, err := v.Verify(raw)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ctxKeyUserID, id.UserID)
		c.Set(ctxKeyIdentity, id)
		setLogger(c, LoggerFrom(c).With().Str("user_id", id.UserID).Logger())
		c.Next()
	}
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if t := auth.BearerToken(r.Header.Get("Authorization")); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// UserID returns the authenticated user id, or "" before Auth ran.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ctxKeyIdentity)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
