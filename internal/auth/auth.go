// Package auth verifies bearer tokens and issues HS256 access tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every rejected credential; callers answer 401
// without distinguishing why.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the authenticated principal.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// DevIdentity is what the development token resolves to.
var DevIdentity = Identity{UserID: "dev-user", Email: "dev@example.com", Role: "admin"}

type claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks tokens against a shared secret.
type Verifier struct {
	secret []byte
	// devToken is accepted only when non-empty; set it only in debug mode.
	devToken string
}

// NewVerifier returns a Verifier. devToken is honored only when debug is true.
func NewVerifier(secret, devToken string, debug bool) *Verifier {
	v := &Verifier{secret: []byte(secret)}
	if debug {
		v.devToken = devToken
	}
	return v
}

// DevTokenEnabled reports whether the development token is accepted.
func (v *Verifier) DevTokenEnabled() bool { return v.devToken != "" }

// DevToken returns the accepted development token, or "".
func (v *Verifier) DevToken() string { return v.devToken }

// Verify returns the identity carried by raw.
func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrInvalidToken
	}
	if v.devToken != "" && raw == v.devToken {
		return DevIdentity, nil
	}
	if len(v.secret) == 0 {
		return Identity{}, ErrInvalidToken
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{UserID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// Issue signs an HS256 token for id valid for ttl.
func Issue(secret string, id Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty secret")
	}
	if id.UserID == "" {
		return "", errors.New("auth: empty user id")
	}
	now := time.Now()
	c := claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
