// Package handlers implements the REST endpoints: authentication, document
// upload and retrieval, the chat query and the session views.
//
// Every failure is written as ErrorResponse. Service errors go through
// failErr, which looks only at the error kind:
//
//	validation      -> 400 bad_request (413 payload_too_large for oversized uploads)
//	not found       -> 404 not_found
//	forbidden       -> 403 forbidden
//	anything else   -> 500 internal_error, detail logged server-side
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
	"github.com/tbourn/pdf-chat-backend/internal/services"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"resource not found"`
}

// fail aborts with the envelope. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// failErr translates a service error into the standard envelope. Only the
// error kind decides the status; the wrapped cause of a 5xx never reaches the
// client and is logged with timeout=true when it was a deadline.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrFileTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, services.Message(err))
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, services.Message(err))
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.Message(err))
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, services.Message(err))
	default:
		middleware.LoggerFrom(c).Error().
			Err(err).
			Bool("timeout", services.IsTimeout(err)).
			Msg("request failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, services.Message(err))
	}
}

// Fail writes the envelope; the router uses it for fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
