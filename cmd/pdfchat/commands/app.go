package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/pdf-chat-backend/internal/cache"
	"github.com/tbourn/pdf-chat-backend/internal/config"
	"github.com/tbourn/pdf-chat-backend/internal/events"
	"github.com/tbourn/pdf-chat-backend/internal/llm"
	"github.com/tbourn/pdf-chat-backend/internal/realtime"
	"github.com/tbourn/pdf-chat-backend/internal/repo"
	"github.com/tbourn/pdf-chat-backend/internal/search"
	"github.com/tbourn/pdf-chat-backend/internal/services"
	"github.com/tbourn/pdf-chat-backend/internal/storage"
)

// app is the fully wired service graph shared by serve and ingest.
type app struct {
	DB       *gorm.DB
	Hub      *realtime.Hub
	Docs     *services.DocumentService
	Sessions *services.SessionService
	Query    *services.QueryService

	closers []func() error
}

// Close releases external connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("shutdown: close failed")
		}
	}
}

// openDB opens the configured store and migrates it.
func openDB(cfg config.Config) (*gorm.DB, error) {
	if cfg.DB.Driver == "sqlite" || cfg.DB.Driver == "" {
		if dir := filepath.Dir(cfg.DB.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// buildApp wires storage, the index, the model and the optional brokers.
// Optional backends that are configured but unreachable are fatal; backends
// that are not configured fall back to their local implementations.
func buildApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.DB, err = openDB(cfg)
	if err != nil {
		return nil, err
	}
	if sqlDB, dbErr := a.DB.DB(); dbErr == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	// Blobs
	var blobs storage.Store
	if cfg.S3.Endpoint != "" {
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		blobs = s3
		log.Info().Str("endpoint", cfg.S3.Endpoint).Str("bucket", cfg.S3.Bucket).Msg("storage: s3")
	} else {
		local, err := storage.NewLocalStore(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		blobs = local
		log.Info().Str("dir", cfg.UploadDir).Msg("storage: local disk")
	}

	// Index
	index, err := buildIndex(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	// Model
	model, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	switch {
	case errors.Is(err, llm.ErrNoModel):
		log.Warn().Str("provider", cfg.LLM.Provider).Msg("llm: no API key, answering with the placeholder")
		model = nil
	case err != nil:
		return nil, fmt.Errorf("llm: %w", err)
	default:
		log.Info().Str("provider", cfg.LLM.Provider).Str("model", cfg.LLM.Model).Msg("llm: ready")
	}

	// Session cache
	var sessionCache cache.SessionCache
	if cfg.Redis.Addr != "" {
		client, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		sessionCache = cache.NewRedisSessionCache(client, cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("cache: redis")
	}

	// Events: room members always, the broker when configured.
	a.Hub = realtime.NewHub()
	publishers := events.Multi{a.Hub}
	if cfg.AMQP.URL != "" {
		pub, err := events.DialAMQP(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		publishers = append(publishers, pub)
		log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("events: amqp")
	}

	a.Sessions = services.NewSessionService(a.DB, sessionCache)
	a.Docs = &services.DocumentService{
		DB:             a.DB,
		Store:          blobs,
		Index:          index,
		Events:         publishers,
		Sessions:       a.Sessions,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	a.Query = &services.QueryService{
		DB:               a.DB,
		Sessions:         a.Sessions,
		Retriever:        index,
		Generator:        &services.Generator{Model: model, Timeout: cfg.LLM.Timeout},
		Events:           publishers,
		K:                cfg.RetrievalK,
		MaxQueryRunes:    cfg.MaxQueryRunes,
		RetrievalTimeout: cfg.RetrievalTimeout,
		IdempotencyTTL:   cfg.IdempotencyTTL,
	}
	return a, nil
}

// buildIndex picks Qdrant when both it and an embeddings endpoint are
// configured, and the on-disk keyword index otherwise.
func buildIndex(ctx context.Context, cfg config.Config, a *app) (search.Backend, error) {
	if cfg.Qdrant.Host != "" && cfg.Embed.BaseURL != "" {
		embed := llm.NewHTTPEmbedder(cfg.Embed.BaseURL, cfg.Embed.APIKey, cfg.Embed.Model)
		qx, err := search.NewQdrantIndex(ctx, search.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Qdrant.Collection,
			VectorSize: uint64(cfg.Embed.Dimension),
			BatchSize:  cfg.Embed.BatchSize,
		}, embed)
		if err != nil {
			return nil, fmt.Errorf("qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
		}
		a.closers = append(a.closers, qx.Close)
		log.Info().Str("collection", cfg.Qdrant.Collection).Msg("index: qdrant")
		return qx, nil
	}
	store, err := search.NewFileChunkStore(cfg.IndexDir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", cfg.IndexDir).Msg("index: keyword")
	return search.NewKeywordIndex(store), nil
}
