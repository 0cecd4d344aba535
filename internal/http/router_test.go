package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pdf-chat-backend/internal/auth"
	"github.com/tbourn/pdf-chat-backend/internal/config"
	"github.com/tbourn/pdf-chat-backend/internal/domain"
	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
	"github.com/tbourn/pdf-chat-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// --- tiny fake query service ---
type fakeQuery struct{ calls int }

func (f *fakeQuery) Query(_ context.Context, in services.QueryInput) (*services.QueryResult, error) {
	f.calls++
	return &services.QueryResult{Response: "ok", SessionID: "s1", MessageID: "m1", Sources: []string{}}, nil
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api",
		ServiceName:    "test-svc",
		RateRPS:        100,
		RateBurst:      10,
		MaxUploadBytes: 1 << 20,
		WSMaxInflight:  2,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *fakeQuery, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	q := &fakeQuery{}
	RegisterRoutes(r, Deps{
		DB:       db,
		Query:    q,
		Verifier: auth.NewVerifier("test-secret", "dev-token", true),
		DevToken: "dev-token",
	}, cfg)
	return r, q, db
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _, _ := newRouter(t, baseConfig())

	// /health works and names the service
	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	var health map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &health)
	if health["status"] != "healthy" || health["service"] != "test-svc" {
		t.Fatalf("health body=%v", health)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	// /metrics is wired
	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w := serve(r, httptest.NewRequest(http.MethodPost, "/health", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off by default
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEchoAndFraming(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _, _ := newRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "frame-ancestors 'self' http://example.com") {
		t.Fatalf("expected frame-ancestors for allowed origins, got %q", csp)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r, _, _ := newRouter(t, cfg)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/chat/query") {
		t.Fatalf("swagger doc: code=%d body=%.200s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_AuthBoundary(t *testing.T) {
	r, q, _ := newRouter(t, baseConfig())

	// Protected routes need a token.
	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected 401 challenge, got %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader(`{"text":"x","document_id":"d1"}`))
	req.Header.Set("Authorization", "Bearer nope")
	if w := serve(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token expected 401, got %d", w.Code)
	}
	if q.calls != 0 {
		t.Fatalf("query must not run unauthenticated")
	}

	// Login is public and hands out the dev token.
	w = serve(r, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"dev@example.com","password":"password"}`)))
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tok)
	if w.Code != http.StatusOK || tok.AccessToken != "dev-token" {
		t.Fatalf("login: code=%d body=%s", w.Code, w.Body.String())
	}

	// The token opens the API, responses are gzipped on request.
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept-Encoding", "gzip")
	w = serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("me: code=%d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding on API responses")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader(`{"text":"x","document_id":"d1"}`))
	req.Header.Set("Authorization", "Bearer dev-token")
	if w := serve(r, req); w.Code != http.StatusOK || q.calls != 1 {
		t.Fatalf("query: code=%d calls=%d", w.Code, q.calls)
	}
}

func TestRegisterRoutes_WebsocketRequiresToken(t *testing.T) {
	r, _, _ := newRouter(t, baseConfig())
	for _, path := range []string{"/socket", "/ws/c1"} {
		if w := serve(r, httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s expected 401, got %d", path, w.Code)
		}
	}
}

func TestRegisterRoutes_ReplayBypassesRateLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, _, db := newRouter(t, cfg)

	if err := db.Create(&domain.Idempotency{
		ID: "i1", UserID: auth.DevIdentity.UserID, Scope: services.QueryScope, Key: "k-1",
		SessionID: "s1", MessageID: "m1", ExpiresAt: time.Now().Add(time.Hour),
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	post := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader(`{"text":"x","document_id":"d1"}`))
		req.Header.Set("Authorization", "Bearer dev-token")
		if key != "" {
			req.Header.Set(middleware.HeaderIdempotencyKey, key)
		}
		return serve(r, req).Code
	}

	if code := post(""); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := post(""); code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", code)
	}
	if code := post("k-1"); code != http.StatusOK {
		t.Fatalf("recorded key should bypass the limiter, got %d", code)
	}
}

func Test_idempotencyLookup(t *testing.T) {
	db := newTestDB(t)
	lookup := idempotencyLookup(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if hit, err := lookup(ctx, "u1", "k", now); err != nil || hit {
		t.Fatalf("miss: hit=%v err=%v", hit, err)
	}
	if err := db.Create(&domain.Idempotency{
		ID: "i1", UserID: "u1", Scope: services.QueryScope, Key: "k",
		SessionID: "s1", MessageID: "m1", ExpiresAt: now.Add(time.Hour),
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if hit, err := lookup(ctx, "u1", "k", now); err != nil || !hit {
		t.Fatalf("hit: hit=%v err=%v", hit, err)
	}
	if hit, _ := lookup(ctx, "u2", "k", now); hit {
		t.Fatalf("keys are per user")
	}

	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
	if _, err := lookup(ctx, "u1", "k", now); err == nil {
		t.Fatalf("closed db should surface an error")
	}

	if idempotencyLookup(nil) != nil {
		t.Fatalf("nil db disables lookup")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))) // 12 bytes
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	// non-root prefix
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}
