package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
)

// Development credentials accepted by Login while DEBUG is on.
const (
	devEmail    = "dev@example.com"
	devPassword = "password"
)

// AuthOptions configures the auth endpoints.
//
// DevToken is handed out by Login; it is empty (and Login refuses every
// request) unless the server runs in debug mode.
type AuthOptions struct {
	DevToken  string
	ExpiresIn int // seconds reported to the client
}

// LoginRequest is the JSON payload for Login.
type LoginRequest struct {
	Email    string `json:"email" example:"dev@example.com"`
	Password string `json:"password" example:"password"`
}

// TokenResponse is returned by Login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type" example:"bearer"`
	ExpiresIn   int    `json:"expires_in" example:"3600"`
}

// Login godoc
// @ID          login
// @Summary     Development login
// @Description Exchanges the development credentials for the development token. Only available when the server runs with DEBUG enabled.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object}  handlers.TokenResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid credentials"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if h.auth.DevToken == "" ||
		!strings.EqualFold(strings.TrimSpace(req.Email), devEmail) ||
		req.Password != devPassword {
		c.Header("WWW-Authenticate", "Bearer")
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid credentials")
		return
	}
	expires := h.auth.ExpiresIn
	if expires <= 0 {
		expires = 3600
	}
	ok(c, http.StatusOK, TokenResponse{AccessToken: h.auth.DevToken, TokenType: "bearer", ExpiresIn: expires})
}

// Me godoc
// @ID          me
// @Summary     Current identity
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  auth.Identity
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	id, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Authorization required")
		return
	}
	ok(c, http.StatusOK, id)
}

// Logout godoc
// @ID          logout
// @Summary     Log out
// @Description Tokens are stateless; the client discards its token.
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MessageResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	ok(c, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}
