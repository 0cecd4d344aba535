// Package httpapi mounts the REST API, the websocket channels and the
// operational endpoints on a Gin engine, with the middleware chain in the
// order the handlers depend on.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/pdf-chat-backend/docs" // swagger spec registration
	"github.com/tbourn/pdf-chat-backend/internal/config"
	"github.com/tbourn/pdf-chat-backend/internal/http/handlers"
	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
	"github.com/tbourn/pdf-chat-backend/internal/realtime"
	"github.com/tbourn/pdf-chat-backend/internal/repo"
	"github.com/tbourn/pdf-chat-backend/internal/services"
)

const (
	// jsonBodyLimit caps request bodies on every route except uploads.
	jsonBodyLimit = 1 << 20
	// uploadCost is the rate-limit charge for one PDF upload.
	uploadCost = 5
)

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	DB       *gorm.DB
	Docs     handlers.DocumentService
	Sessions handlers.SessionService
	Query    handlers.QueryService
	Verifier middleware.TokenVerifier
	// DevToken is handed out by /auth/login; empty disables the endpoint.
	DevToken string
	// Hub receives room subscriptions from the event socket. Optional.
	Hub *realtime.Hub
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health and metrics endpoints, the websocket channels, and then
// mounts the authenticated API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: request-scoped logger for handlers and services
//  4. RedactingLogger: access log with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Metrics
//  7. CORS and Security headers
//
// and, on the API group only:
//  8. Gzip
//  9. Auth
//  10. Idempotency validator (before rate limiter to allow bypass on replay)
//  11. Rate limiter (per user, bypass on replay, uploads cost more)
//  12. Body size limit (larger on the upload route)
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Request-scoped logger
	r.Use(middleware.Logger())

	// 4) Access log with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "Content-Disposition", "ETag", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS).
	// Allowed origins may frame the inline PDF preview.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:     cfg.Security.EnableHSTS,
		HSTSMaxAge:     cfg.Security.HSTSMaxAge,
		NoStore:        false,
		EnablePolicy:   true,
		FrameAncestors: cfg.CORS.AllowedOrigins,
		DocPrefixes:    []string{"/swagger/"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": cfg.ServiceName})
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Shared token bucket for HTTP and websocket traffic.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	// Live channels authenticate themselves (browsers cannot set headers on
	// a websocket handshake, so ?token= is accepted too).
	ws := realtime.NewServer(realtime.Options{
		Query:          deps.Query,
		Verifier:       deps.Verifier,
		Limiter:        rl,
		Hub:            deps.Hub,
		MaxInflight:    int64(cfg.WSMaxInflight),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	r.GET("/socket", ws.EventSocket)
	r.GET("/ws/:client_id", ws.Raw)

	h := handlers.New(deps.Docs, deps.Sessions, deps.Query, handlers.AuthOptions{DevToken: deps.DevToken})

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(gzip.Gzip(gzip.DefaultCompression))

	api.POST("/auth/login", limitBody(jsonBodyLimit), h.Login)

	authed := api.Group("",
		middleware.Auth(deps.Verifier),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			idempotencyLookup(deps.DB),
		),
	)

	// Ingestion is charged uploadCost tokens, everything else one.
	ingest := authed.Group("", middleware.Cost(uploadCost), rl.Handler())
	ingest.POST("/upload", limitBody(cfg.MaxUploadBytes+jsonBodyLimit), h.Upload)

	metered := authed.Group("", rl.Handler())
	{
		// Auth
		metered.GET("/auth/me", h.Me)
		metered.POST("/auth/logout", h.Logout)

		// Documents
		metered.GET("/documents", h.ListDocuments)
		metered.DELETE("/documents/:id", h.DeleteDocument)
		metered.GET("/documents/:id/text", h.DocumentText)
		metered.GET("/documents/:id/download", h.Download)
		metered.GET("/documents/:id/preview", h.Preview)

		// Chat
		chat := metered.Group("/chat", limitBody(jsonBodyLimit))
		chat.POST("/query", h.Query)
		chat.GET("/sessions/all", h.ListAllSessions)
		chat.GET("/sessions/:document_id", h.ListDocumentSessions)
		chat.GET("/sessions/:document_id/latest", h.LatestSession)
		chat.DELETE("/sessions/:session_id", h.DeleteSession)
		chat.POST("/sessions/:session_id/export", h.ExportSession)
		chat.GET("/history/:session_id", h.History)
	}
}

// idempotencyLookup reports whether the query pipeline already recorded an
// answer for (user, key).
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, services.QueryScope, key, now)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return rec != nil, nil
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
