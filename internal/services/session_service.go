// Package services – SessionService
//
// SessionService owns chat sessions and their message log. Appends to one
// session are serialized by an in-process keyed mutex and committed in a
// single transaction; the (session_id, seq) unique index guards against
// writers in other processes. Reads go through an optional Redis cache that
// is invalidated while the session lock is held.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pdf-chat-backend/internal/cache"
	"github.com/tbourn/pdf-chat-backend/internal/domain"
	"github.com/tbourn/pdf-chat-backend/internal/repo"
)

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	SessionID          string    `json:"session_id"`
	DocumentID         string    `json:"document_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	MessageCount       int64     `json:"message_count"`
	LastMessagePreview string    `json:"last_message_preview"`
}

// Export is a rendered transcript.
type Export struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

// SessionService manages chat sessions.
type SessionService struct {
	DB *gorm.DB
	// Cache is optional.
	Cache cache.SessionCache

	locks keyedMutex
}

// NewSessionService wires a service; a nil cache disables caching.
func NewSessionService(db *gorm.DB, c cache.SessionCache) *SessionService {
	if c == nil {
		c = cache.Nop{}
	}
	return &SessionService{DB: db, Cache: c}
}

func (s *SessionService) cache() cache.SessionCache {
	if s.Cache == nil {
		return cache.Nop{}
	}
	return s.Cache
}

// Create starts an empty session.
func (s *SessionService) Create(ctx context.Context, documentID, userID string) (*domain.ChatSession, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	sess, err := repo.CreateSession(ctx, s.DB, documentID, userID)
	if err != nil {
		return nil, upstream("create session", err)
	}
	sess.Messages = []domain.Message{}
	return sess, nil
}

// Get returns the session with its messages in order, or ErrSessionNotFound.
func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	if sess, hit, err := s.cache().Get(ctx, sessionID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("session cache read failed")
	} else if hit {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return sess, nil
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := repo.LoadSession(ctx, s.DB, sessionID)
	if repo.IsNotFound(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, upstream("load session", err)
	}
	if err := s.cache().Set(ctx, sess); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("session cache write failed")
	}
	return sess, nil
}

// GetOwned is Get plus the ownership check: another user's session yields
// ErrSessionForbidden, distinct from ErrSessionNotFound.
func (s *SessionService) GetOwned(ctx context.Context, sessionID, userID string) (*domain.ChatSession, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionForbidden
	}
	return sess, nil
}

// AppendMessages appends msgs atomically and bumps updated_at.
func (s *SessionService) AppendMessages(ctx context.Context, sessionID string, msgs ...domain.Message) ([]domain.Message, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "AppendMessages",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("messages", len(msgs)),
		),
	)
	defer span.End()

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	saved, err := repo.AppendMessages(ctx, s.DB, sessionID, msgs)
	if repo.IsNotFound(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, upstream("append messages", err)
	}
	s.forget(ctx, sessionID)
	return saved, nil
}

// ListForDocument lists a user's sessions about one document, most recently
// updated first.
func (s *SessionService) ListForDocument(ctx context.Context, documentID, userID string) ([]SessionSummary, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "ListForDocument",
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()
	return s.list(ctx, userID, documentID)
}

// ListForUser lists every session of a user.
func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]SessionSummary, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "ListForUser",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()
	return s.list(ctx, userID, "")
}

func (s *SessionService) list(ctx context.Context, userID, documentID string) ([]SessionSummary, error) {
	rows, err := repo.ListSessionSummaries(ctx, s.DB, userID, documentID)
	if err != nil {
		return nil, upstream("list sessions", err)
	}
	out := make([]SessionSummary, len(rows))
	for i, r := range rows {
		out[i] = SessionSummary{
			SessionID:    r.Session.ID,
			DocumentID:   r.Session.DocumentID,
			CreatedAt:    r.Session.CreatedAt,
			UpdatedAt:    r.Session.UpdatedAt,
			MessageCount: r.MessageCount,
		}
		if r.LastMessage != nil {
			out[i].LastMessagePreview = Preview(r.LastMessage.Text)
		}
	}
	return out, nil
}

// Latest returns the most recently updated session for (document, user),
// creating an empty one when none exists.
func (s *SessionService) Latest(ctx context.Context, documentID, userID string) (*domain.ChatSession, error) {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Latest",
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	latest, err := repo.LatestSession(ctx, s.DB, documentID, userID)
	if repo.IsNotFound(err) {
		return s.Create(ctx, documentID, userID)
	}
	if err != nil {
		return nil, upstream("latest session", err)
	}
	return s.Get(ctx, latest.ID)
}

// Delete removes a session and its messages, or returns ErrSessionNotFound.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	ctx, span := otel.Tracer("services/SessionService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	err := repo.DeleteSession(ctx, s.DB, sessionID)
	if repo.IsNotFound(err) {
		return ErrSessionNotFound
	}
	if err != nil {
		return upstream("delete session", err)
	}
	s.forget(ctx, sessionID)
	return nil
}

// Export renders the session as a Markdown transcript. exportedBy is printed
// in the header when non-empty.
func (s *SessionService) Export(ctx context.Context, sessionID, exportedBy string) (*Export, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Export{
		Content:  renderMarkdown(sess, exportedBy, time.Now().UTC()),
		Filename: fmt.Sprintf("chat_session_%s.md", sess.ID),
	}, nil
}

// Stats backs weak ETags on listings: session count and newest updated_at.
func (s *SessionService) Stats(ctx context.Context, userID, documentID string) (int64, *time.Time, error) {
	n, ts, err := repo.SessionsStats(ctx, s.DB, userID, documentID)
	if err != nil {
		return 0, nil, upstream("session stats", err)
	}
	return n, ts, nil
}

// Forget drops cached copies of the given sessions.
func (s *SessionService) Forget(ctx context.Context, sessionIDs ...string) {
	for _, id := range sessionIDs {
		s.forget(ctx, id)
	}
}

func (s *SessionService) forget(ctx context.Context, sessionID string) {
	if err := s.cache().Delete(ctx, sessionID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("session cache invalidation failed")
	}
}

func renderMarkdown(sess *domain.ChatSession, exportedBy string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Chat Session Export\n\n")
	fmt.Fprintf(&b, "Session ID: %s\n", sess.ID)
	fmt.Fprintf(&b, "Document ID: %s\n", sess.DocumentID)
	if exportedBy != "" {
		fmt.Fprintf(&b, "User: %s\n", exportedBy)
	}
	fmt.Fprintf(&b, "Export Date: %s\n\n", now.Format(time.RFC3339))
	b.WriteString("## Conversation\n")
	if len(sess.Messages) == 0 {
		b.WriteString("\n*No messages yet.*\n")
		return b.String()
	}
	for _, m := range sess.Messages {
		who := "User"
		if m.Sender == domain.SenderAI {
			who = "AI"
		}
		fmt.Fprintf(&b, "\n### %s (%s)\n\n%s\n", who, m.CreatedAt.UTC().Format(time.RFC3339), m.Text)
		if len(m.Sources) > 0 {
			b.WriteString("\nSources:\n")
			for _, src := range m.Sources {
				fmt.Fprintf(&b, "- %s\n", src)
			}
		}
	}
	return b.String()
}
