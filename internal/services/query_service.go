// Package services – QueryService
//
// QueryService is the one question-answering pipeline shared by the HTTP
// endpoint and both socket transports: validate, resolve the session, replay
// an idempotent retry, retrieve, generate, persist the (user, ai) pair, and
// record the idempotency key.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
	"github.com/tbourn/pdf-chat-backend/internal/events"
	"github.com/tbourn/pdf-chat-backend/internal/repo"
	"github.com/tbourn/pdf-chat-backend/internal/search"
)

// QueryScope namespaces idempotency keys recorded by the query pipeline.
const QueryScope = "chat.query"

// QueryInput is one question.
type QueryInput struct {
	UserID         string
	DocumentID     string
	SessionID      string // optional
	Text           string
	IdempotencyKey string // optional
}

// QueryResult is the persisted answer.
type QueryResult struct {
	Response  string    `json:"response"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Sources   []string  `json:"sources"`
	Timestamp time.Time `json:"-"`
	// Replayed is set when the result came from an earlier request with the
	// same idempotency key.
	Replayed bool `json:"-"`
}

// QueryService answers questions about documents.
type QueryService struct {
	DB        *gorm.DB
	Sessions  *SessionService
	Retriever search.Retriever
	Generator *Generator
	Events    events.Publisher

	K                int
	MaxQueryRunes    int
	RetrievalTimeout time.Duration
	IdempotencyTTL   time.Duration

	keys keyedMutex
}

// Query runs the pipeline.
func (s *QueryService) Query(ctx context.Context, in QueryInput) (res *QueryResult, err error) {
	ctx, span := otel.Tracer("services/QueryService").Start(ctx, "Query",
		trace.WithAttributes(
			attribute.String("user.id", in.UserID),
			attribute.String("document.id", in.DocumentID),
			attribute.String("session.id", in.SessionID),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Replayed:
			outcome = "replayed"
		}
		queryDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if strings.TrimSpace(in.DocumentID) == "" {
		return nil, ErrMissingDocumentID
	}
	if s.MaxQueryRunes > 0 && utf8.RuneCountInString(text) > s.MaxQueryRunes {
		return nil, ErrQueryTooLong
	}

	if err := s.checkDocument(ctx, in.UserID, in.DocumentID); err != nil {
		return nil, err
	}

	var sessionID string
	if in.SessionID != "" {
		sess, err := s.Sessions.GetOwned(ctx, in.SessionID, in.UserID)
		if err != nil {
			return nil, err
		}
		if sess.DocumentID != in.DocumentID {
			return nil, ErrSessionMismatch
		}
		sessionID = sess.ID
	}

	if in.IdempotencyKey != "" {
		// Retries sharing a key wait for the first attempt, then replay it.
		unlock := s.keys.Lock(in.UserID + "\x00" + in.IdempotencyKey)
		defer unlock()

		prev, ok, err := s.replay(ctx, in, sessionID)
		if err != nil {
			return nil, err
		}
		if ok {
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return prev, nil
		}
	}

	if sessionID == "" {
		sess, err := s.Sessions.Create(ctx, in.DocumentID, in.UserID)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	chunks := s.retrieve(ctx, in.DocumentID, text)
	answer := s.Generator.Generate(ctx, text, chunks)

	saved, err := s.Sessions.AppendMessages(ctx, sessionID,
		domain.Message{Sender: domain.SenderUser, Text: text},
		domain.Message{Sender: domain.SenderAI, Text: answer.Text, Sources: answer.Sources},
	)
	if err != nil {
		return nil, err
	}
	ai := saved[len(saved)-1]

	if in.IdempotencyKey != "" {
		if _, err := repo.CreateIdempotency(ctx, s.DB, in.UserID, QueryScope, in.IdempotencyKey, sessionID, ai.ID, s.idempotencyTTL()); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("idempotency_key", in.IdempotencyKey).Msg("idempotency record failed")
		}
	}

	if s.Events != nil {
		if err := s.Events.Publish(ctx, events.Event{
			Type:       events.QueryAnswered,
			UserID:     in.UserID,
			DocumentID: in.DocumentID,
			SessionID:  sessionID,
			Data:       map[string]any{"message_id": ai.ID, "sources": len(answer.Sources), "degraded": answer.Degraded},
		}); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("event publish failed")
		}
	}

	return &QueryResult{
		Response:  ai.Text,
		SessionID: sessionID,
		MessageID: ai.ID,
		Sources:   nonNil(answer.Sources),
		Timestamp: ai.CreatedAt,
	}, nil
}

func (s *QueryService) checkDocument(ctx context.Context, userID, documentID string) error {
	doc, err := repo.GetDocument(ctx, s.DB, documentID)
	if repo.IsNotFound(err) {
		return ErrDocumentNotFound
	}
	if err != nil {
		return upstream("get document", err)
	}
	if doc.UserID != userID {
		return ErrDocumentForbidden
	}
	return nil
}

// replay returns the answer recorded for in's key, if any. Lookup failures
// are logged and treated as a miss. A key recorded for another conversation
// (a different session, or a session of another document) is rejected with
// ErrIdempotencyMismatch.
func (s *QueryService) replay(ctx context.Context, in QueryInput, sessionID string) (*QueryResult, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, in.UserID, QueryScope, in.IdempotencyKey, time.Now().UTC())
	if err != nil {
		if !repo.IsNotFound(err) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("idempotency lookup failed")
		}
		return nil, false, nil
	}
	if sessionID != "" && rec.SessionID != sessionID {
		return nil, false, ErrIdempotencyMismatch
	}
	if sessionID == "" {
		sess, err := repo.GetSession(ctx, s.DB, rec.SessionID)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", rec.SessionID).Msg("idempotent replay session missing")
			return nil, false, nil
		}
		if sess.DocumentID != in.DocumentID {
			return nil, false, ErrIdempotencyMismatch
		}
	}
	msg, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("message_id", rec.MessageID).Msg("idempotent replay target missing")
		return nil, false, nil
	}
	return &QueryResult{
		Response:  msg.Text,
		SessionID: rec.SessionID,
		MessageID: msg.ID,
		Sources:   nonNil(msg.Sources),
		Timestamp: msg.CreatedAt,
		Replayed:  true,
	}, true, nil
}

// retrieve degrades to no context on failure.
func (s *QueryService) retrieve(ctx context.Context, documentID, question string) []search.Result {
	if s.Retriever == nil {
		return nil
	}
	timeout := s.RetrievalTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	k := s.K
	if k <= 0 {
		k = 3
	}
	chunks, err := s.Retriever.Search(rctx, documentID, question, k)
	if err != nil {
		log := zerolog.Ctx(ctx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
			retrievalFallbacks.WithLabelValues("timeout").Inc()
			log.Error().Err(err).Bool("timeout", true).Dur("limit", timeout).Str("document_id", documentID).Msg("retrieval timed out")
		} else {
			retrievalFallbacks.WithLabelValues("error").Inc()
			log.Error().Err(err).Str("document_id", documentID).Msg("retrieval failed")
		}
		return nil
	}
	return chunks
}

func (s *QueryService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
