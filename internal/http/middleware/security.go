// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file sets the response hardening headers. API responses are JSON or
// PDF bytes, so they get a locked-down Content-Security-Policy; the HTML
// pages under DocPrefixes (Swagger UI) only get the framing directive.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days.
	HSTSMaxAge time.Duration
	// NoStore marks every response uncacheable.
	NoStore bool
	// EnablePolicy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
	// FrameAncestors may embed responses (the web client shows the inline PDF
	// preview in an iframe). Empty means framing is denied.
	FrameAncestors []string
	// DocPrefixes are path prefixes serving HTML that loads scripts and styles.
	DocPrefixes []string
}

// SecurityHeaders always sets X-Content-Type-Options: nosniff,
// Referrer-Policy: no-referrer and a Content-Security-Policy. Framing is
// refused with X-Frame-Options: DENY unless FrameAncestors are configured,
// in which case the CSP lists 'self' plus those origins instead.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	frame := "frame-ancestors 'none'"
	if len(opt.FrameAncestors) > 0 {
		frame = "frame-ancestors 'self' " + strings.Join(opt.FrameAncestors, " ")
	}
	apiCSP := "default-src 'none'; " + frame
	docCSP := frame

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")

		csp := apiCSP
		for _, p := range opt.DocPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				csp = docCSP
				break
			}
		}
		h.Set("Content-Security-Policy", csp)
		if len(opt.FrameAncestors) == 0 {
			h.Set("X-Frame-Options", "DENY")
		}

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		c.Next()
	}
}

// isHTTPS trusts X-Forwarded-Proto from the reverse proxy.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
