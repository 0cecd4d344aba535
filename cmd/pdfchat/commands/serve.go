package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/pdf-chat-backend/internal/auth"
	"github.com/tbourn/pdf-chat-backend/internal/config"
	httpapi "github.com/tbourn/pdf-chat-backend/internal/http"
	"github.com/tbourn/pdf-chat-backend/internal/observability"
	"github.com/tbourn/pdf-chat-backend/internal/repo"
)

const (
	shutdownTimeout = 20 * time.Second
	purgeInterval   = time.Hour
)

func newServeCmd(cfg func() config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and websocket channels",
		Example: `  pdfchat serve
  PORT=9000 LLM_API_KEY=... pdfchat serve
  pdfchat serve --config deploy/pdfchat.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownOTel, err := observability.SetupOTel(ctx, c.OTEL, Version)
			if err != nil {
				return fmt.Errorf("serve: otel: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownOTel(sctx); err != nil {
					log.Warn().Err(err).Msg("otel shutdown")
				}
			}()

			a, err := buildApp(ctx, c)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			verifier := auth.NewVerifier(c.JWTSecret, c.DevToken, c.Debug)
			if verifier.DevTokenEnabled() {
				log.Warn().Msg("debug mode: development token and /auth/login are enabled")
			}

			gin.SetMode(c.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, httpapi.Deps{
				DB:       a.DB,
				Docs:     a.Docs,
				Sessions: a.Sessions,
				Query:    a.Query,
				Verifier: verifier,
				DevToken: verifier.DevToken(),
				Hub:      a.Hub,
			}, c)

			if addr == "" {
				addr = ":" + c.Port
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadTimeout:       c.ReadTimeout,
				ReadHeaderTimeout: c.ReadHeaderTimeout,
				WriteTimeout:      c.WriteTimeout,
				IdleTimeout:       c.IdleTimeout,
				MaxHeaderBytes:    c.MaxHeaderBytes,
			}

			go purgeIdempotency(ctx, a.DB, purgeInterval)

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Str("version", Version).Msg("http: listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("http: shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				return fmt.Errorf("serve: shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :$PORT)")
	return cmd
}

// purgeIdempotency deletes expired idempotency records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("idempotency purge")
			}
		}
	}
}
