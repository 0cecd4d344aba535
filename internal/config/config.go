// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, storage
// backends, the ingestion pipeline, model providers, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/pdf-chat-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "pdf-chat-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the relational store.
type DBConfig struct {
	Driver string // sqlite|mysql|postgres
	DSN    string // driver DSN; for sqlite a file path
}

// LLMConfig configures the chat-completion provider. An empty APIKey with a
// hosted provider means "no model configured".
type LLMConfig struct {
	Provider    string // openrouter|openai|ollama|gemini
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// EmbedConfig configures the OpenAI-compatible embeddings endpoint.
type EmbedConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
}

// QdrantConfig configures the vector index. Host == "" disables it.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// S3Config configures object storage. Endpoint == "" selects local disk.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// RedisConfig configures the session history cache. Addr == "" disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// AMQPConfig configures domain event publishing. URL == "" disables it.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s, LLM calls are slow
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	ServiceName string // reported by /health
	Debug       bool   // enables the development token and dev login
	DevToken    string // reserved literal bearer token (Debug only)
	JWTSecret   string // HS256 secret for bearer tokens

	// Storage
	DB             DBConfig
	UploadDir      string // local blob directory
	IndexDir       string // keyword index directory
	MaxUploadBytes int64
	S3             S3Config

	// Ingestion / retrieval
	ChunkSize        int
	ChunkOverlap     int
	RetrievalK       int
	MaxQueryRunes    int
	RetrievalTimeout time.Duration

	// Providers
	LLM    LLMConfig
	Embed  EmbedConfig
	Qdrant QdrantConfig
	Redis  RedisConfig
	AMQP   AMQPConfig

	// Live channels
	WSMaxInflight int

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// App
		ServiceName: getenv("SERVICE_NAME", "newchat-api"),
		Debug:       getbool("DEBUG", false),
		DevToken:    getenv("DEV_TOKEN", "dev-token"),
		JWTSecret:   getenv("JWT_SECRET", ""),

		// Storage
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", getenv("DB_PATH", "data/app.db")),
		},
		UploadDir:      getenv("UPLOAD_DIR", "data/uploads"),
		IndexDir:       getenv("INDEX_DIR", "data/mock_embeddings"),
		MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 25<<20)),
		S3: S3Config{
			Endpoint:  getenv("S3_ENDPOINT", ""),
			Region:    getenv("S3_REGION", "us-east-1"),
			Bucket:    getenv("S3_BUCKET", "pdf-chat-documents"),
			AccessKey: getenv("S3_ACCESS_KEY", ""),
			SecretKey: getenv("S3_SECRET_KEY", ""),
			UseSSL:    getbool("S3_USE_SSL", true),
		},

		// Ingestion / retrieval
		ChunkSize:        getint("CHUNK_SIZE", 500),
		ChunkOverlap:     getint("CHUNK_OVERLAP", 50),
		RetrievalK:       getint("RETRIEVAL_K", 3),
		MaxQueryRunes:    getint("MAX_QUERY_RUNES", 4000),
		RetrievalTimeout: getdur("RETRIEVAL_TIMEOUT", 10*time.Second),

		// Providers
		LLM: LLMConfig{
			Provider:    strings.ToLower(getenv("LLM_PROVIDER", "openrouter")),
			APIKey:      sysutil.FirstNonEmpty(os.Getenv("LLM_API_KEY"), os.Getenv("OPENROUTER_API_KEY")),
			BaseURL:     getenv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:       getenv("LLM_MODEL", "meta-llama/llama-3.1-8b-instruct"),
			MaxTokens:   getint("LLM_MAX_TOKENS", 500),
			Temperature: getfloat("LLM_TEMPERATURE", 0.7),
			Timeout:     getdur("LLM_TIMEOUT", 30*time.Second),
			MaxRetries:  getint("LLM_MAX_RETRIES", 2),
		},
		Embed: EmbedConfig{
			BaseURL:   getenv("EMBED_BASE_URL", ""),
			APIKey:    getenv("EMBED_API_KEY", ""),
			Model:     getenv("EMBED_MODEL", "text-embedding-3-small"),
			Dimension: getint("EMBED_DIMENSION", 1536),
			BatchSize: getint("EMBED_BATCH_SIZE", 64),
		},
		Qdrant: QdrantConfig{
			Host:       getenv("QDRANT_HOST", ""),
			Port:       getint("QDRANT_PORT", 6334),
			APIKey:     getenv("QDRANT_API_KEY", ""),
			UseTLS:     getbool("QDRANT_USE_TLS", false),
			Collection: getenv("QDRANT_COLLECTION", "document_chunks"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
			TTL:      getdur("REDIS_TTL", 10*time.Minute),
		},
		AMQP: AMQPConfig{
			URL:      getenv("AMQP_URL", ""),
			Exchange: getenv("AMQP_EXCHANGE", "pdfchat.events"),
		},

		WSMaxInflight: getint("WS_MAX_INFLIGHT", 2),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "pdf-chat-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize && cfg.ChunkSize > 0 {
		cfg.ChunkOverlap = cfg.ChunkSize - 1
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, mysql, postgres")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if strings.TrimSpace(cfg.UploadDir) == "" || strings.TrimSpace(cfg.IndexDir) == "" {
		return cfg, errors.New("UPLOAD_DIR and INDEX_DIR must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.ChunkSize < 1 || cfg.ChunkOverlap < 0 {
		return cfg, errors.New("CHUNK_SIZE must be >= 1 and CHUNK_OVERLAP >= 0")
	}
	if cfg.RetrievalK < 1 {
		return cfg, errors.New("RETRIEVAL_K must be >= 1")
	}
	if cfg.MaxQueryRunes < 1 {
		return cfg, errors.New("MAX_QUERY_RUNES must be >= 1")
	}
	if cfg.RetrievalTimeout <= 0 || cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("RETRIEVAL_TIMEOUT and LLM_TIMEOUT must be > 0")
	}
	switch cfg.LLM.Provider {
	case "openrouter", "openai", "ollama", "gemini":
	default:
		return cfg, errors.New("LLM_PROVIDER must be one of: openrouter, openai, ollama, gemini")
	}
	if cfg.LLM.MaxRetries < 0 {
		return cfg, errors.New("LLM_MAX_RETRIES must be >= 0")
	}
	if cfg.Qdrant.Host != "" && cfg.Embed.BaseURL == "" {
		return cfg, errors.New("EMBED_BASE_URL is required when QDRANT_HOST is set")
	}
	if cfg.WSMaxInflight < 1 {
		return cfg, errors.New("WS_MAX_INFLIGHT must be >= 1")
	}
	if !cfg.Debug && strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must be set unless DEBUG is enabled")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// LLMConfigured reports whether a chat model can be constructed.
// Ollama runs locally and needs no key.
func (c Config) LLMConfigured() bool {
	if c.LLM.Provider == "ollama" {
		return c.LLM.BaseURL != ""
	}
	return strings.TrimSpace(c.LLM.APIKey) != ""
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch {
		case sysutil.IsTruthy(v):
			return true
		case sysutil.IsFalsy(v):
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
