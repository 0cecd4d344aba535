// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the correlation and logging basics: RequestID assigns the
// X-Request-ID, Logger builds the request-scoped zerolog logger that handlers
// reach through LoggerFrom and services through zerolog.Ctx, and Recovery
// turns panics into the JSON 500 envelope.
//
// Install them as RequestID, Logger, then Recovery so a panic is logged with
// its request id.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// Client-supplied ids end up in logs and response headers.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

// RequestID reuses a well-formed incoming X-Request-ID or generates a UUID,
// echoes it on the response and stores it in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, falling back to the
// response header for chains that set it some other way.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		return asString(v)
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// Logger attaches a logger carrying request_id, method and path (Auth adds
// user_id). It also carries the request context, so a trace hook on the
// global logger can stamp trace ids. Errors recorded with c.Error are
// logged once the chain returns; the access line is RedactingLogger's job.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		setLogger(c, log.With().
			Ctx(c.Request.Context()).
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger())

		c.Next()

		for _, e := range c.Errors {
			LoggerFrom(c).Error().Err(e.Err).Int("status", c.Writer.Status()).Msg("request failed")
		}
	}
}

// setLogger stores l in both the Gin context and the request context.
func setLogger(c *gin.Context, l zerolog.Logger) {
	c.Set(loggerKey, &l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// LoggerFrom returns the request-scoped logger, or the global one before
// Logger ran.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// Recovery logs a panic with its stack and answers
//
//	{"request_id": "...", "code": "internal_error", "message": "internal server error"}
//
// when nothing was written yet. Hijacked (websocket) connections are left
// alone: the socket belongs to the handler.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			panicsTotal.Inc()
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() || c.IsWebsocket() {
				c.Abort()
				if !c.Writer.Written() {
					c.Writer.WriteHeaderNow()
				}
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
