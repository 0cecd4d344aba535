// Chat HTTP handlers.
//
// This file exposes REST endpoints for questions and chat sessions:
//   - POST   /chat/query                        (ask; honors Idempotency-Key)
//   - GET    /chat/sessions/all                 (every session of the user, ETag)
//   - GET    /chat/sessions/{document_id}        (sessions of one document, ETag)
//   - GET    /chat/sessions/{document_id}/latest (latest session, created on demand)
//   - GET    /chat/history/{session_id}          (full transcript, ETag)
//   - DELETE /chat/sessions/{session_id}
//   - POST   /chat/sessions/{session_id}/export  (Markdown transcript)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
	"github.com/tbourn/pdf-chat-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// DocumentService defines document operations consumed by HTTP handlers.
type DocumentService interface {
	Upload(ctx context.Context, userID, filename string, r io.Reader) (*services.UploadResult, error)
	List(ctx context.Context, userID string) ([]domain.Document, error)
	Get(ctx context.Context, userID, id string) (*domain.Document, error)
	Delete(ctx context.Context, userID, id string) error
	// Open returns the stored PDF; the caller closes the reader.
	Open(ctx context.Context, userID, id string) (*domain.Document, io.ReadCloser, error)
	Text(ctx context.Context, userID, id string) (string, error)
}

// SessionService defines chat session operations consumed by HTTP handlers.
//
// Ownership is checked by the handler through GetOwned before any mutation.
type SessionService interface {
	GetOwned(ctx context.Context, sessionID, userID string) (*domain.ChatSession, error)
	ListForDocument(ctx context.Context, documentID, userID string) ([]services.SessionSummary, error)
	ListForUser(ctx context.Context, userID string) ([]services.SessionSummary, error)
	Latest(ctx context.Context, documentID, userID string) (*domain.ChatSession, error)
	Delete(ctx context.Context, sessionID string) error
	Export(ctx context.Context, sessionID, exportedBy string) (*services.Export, error)
	// Stats returns (count, newest updated_at) for ETags.
	Stats(ctx context.Context, userID, documentID string) (int64, *time.Time, error)
}

// QueryService answers one question.
type QueryService interface {
	Query(ctx context.Context, in services.QueryInput) (*services.QueryResult, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for documents, chat, and auth.
type Handlers struct {
	docs     DocumentService
	sessions SessionService
	query    QueryService
	auth     AuthOptions
}

// New constructs and returns a Handlers instance bound to the given services.
func New(docs DocumentService, sessions SessionService, query QueryService, auth AuthOptions) *Handlers {
	return &Handlers{docs: docs, sessions: sessions, query: query, auth: auth}
}

// userID returns the id set by middleware.Auth.
func userID(c *gin.Context) string { return middleware.UserID(c) }

//
// DTOs
//

// QueryRequest is the JSON payload for asking a question.
type QueryRequest struct {
	// Text is the question. Required.
	Text string `json:"text" example:"What were the Q3 revenue drivers?"`
	// DocumentID selects the document. Required.
	DocumentID string `json:"document_id" example:"7d5b3c1e-6a1f-4a8e-9e52-0b4bb7b9e3f1"`
	// SessionID continues an existing session; a new one is created when empty.
	SessionID string `json:"session_id,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// SessionListResponse wraps session summaries.
type SessionListResponse struct {
	Sessions []services.SessionSummary `json:"sessions"`
}

// HistoryResponse is a session with its full transcript.
type HistoryResponse struct {
	SessionID  string           `json:"session_id"`
	DocumentID string           `json:"document_id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Messages   []domain.Message `json:"messages"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" example:"Chat session deleted successfully"`
}

func historyOf(s *domain.ChatSession) HistoryResponse {
	msgs := s.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return HistoryResponse{
		SessionID:  s.ID,
		DocumentID: s.DocumentID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		Messages:   msgs,
	}
}

// notModified sets the ETag header and reports whether the client copy is
// current, in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// sessionsETag builds the weak ETag of a session listing, best effort.
func (h *Handlers) sessionsETag(c *gin.Context, uid, documentID string) (string, bool) {
	count, maxTS, err := h.sessions.Stats(c.Request.Context(), uid, documentID)
	if err != nil {
		return "", false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	scope := documentID
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf(`W/"sessions:%s:%s:%d:%d"`, uid, scope, count, ts), true
}

//
// Handlers
//

// Query godoc
// @ID          chatQuery
// @Summary     Ask a question about a document
// @Description Retrieves relevant chunks, asks the language model, and stores the user and AI messages in a session. A repeated Idempotency-Key returns the recorded answer with Idempotency-Replayed: true.
// @Tags        Chat
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Client key for safe retries"  example(6b0f2a1c-retry-1)
// @Param       body             body    handlers.QueryRequest  true  "Question"
//
// @Success     200  {object}  services.QueryResult
// @Header      200  {string}  Idempotency-Replayed  "true when the answer was replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Session or document owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse  "Document or session not found"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chat/query [post]
func (h *Handlers) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.query.Query(c.Request.Context(), services.QueryInput{
		UserID:         userID(c),
		DocumentID:     req.DocumentID,
		SessionID:      req.SessionID,
		Text:           req.Text,
		IdempotencyKey: key,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if res.Replayed {
		middleware.MarkReplayed(c)
	}
	ok(c, http.StatusOK, res)
}

// ListAllSessions godoc
// @ID          listAllSessions
// @Summary     List all chat sessions of the current user
// @Description Sessions across all documents, most recently updated first. Supports weak ETag via If-None-Match.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.SessionListResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/sessions/all [get]
func (h *Handlers) ListAllSessions(c *gin.Context) {
	uid := userID(c)
	if etag, ok := h.sessionsETag(c, uid, ""); ok && notModified(c, etag) {
		return
	}
	items, err := h.sessions.ListForUser(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SessionListResponse{Sessions: items})
}

// ListDocumentSessions godoc
// @ID          listDocumentSessions
// @Summary     List chat sessions of a document
// @Description The current user's sessions about one document, most recently updated first. Supports weak ETag via If-None-Match.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
//
// @Param       document_id    path    string  true  "Document ID"  format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.SessionListResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/sessions/{document_id} [get]
func (h *Handlers) ListDocumentSessions(c *gin.Context) {
	uid, docID := userID(c), c.Param("document_id")
	if etag, ok := h.sessionsETag(c, uid, docID); ok && notModified(c, etag) {
		return
	}
	items, err := h.sessions.ListForDocument(c.Request.Context(), docID, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SessionListResponse{Sessions: items})
}

// LatestSession godoc
// @ID          latestSession
// @Summary     Latest chat session of a document
// @Description Returns the most recently updated session with its messages, creating an empty one if none exists.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
//
// @Param       document_id  path  string  true  "Document ID"  format(uuid)
//
// @Success     200  {object} handlers.HistoryResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Document owned by another user"
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/sessions/{document_id}/latest [get]
func (h *Handlers) LatestSession(c *gin.Context) {
	ctx, uid, docID := c.Request.Context(), userID(c), c.Param("document_id")
	if _, err := h.docs.Get(ctx, uid, docID); err != nil {
		failErr(c, err)
		return
	}
	sess, err := h.sessions.Latest(ctx, docID, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, historyOf(sess))
}

// History godoc
// @ID          chatHistory
// @Summary     Full transcript of a chat session
// @Description Messages are ordered by time of append. Supports weak ETag via If-None-Match.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
//
// @Param       session_id     path    string  true  "Session ID"  format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.HistoryResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Access denied to this chat session"
// @Failure     404  {object} handlers.ErrorResponse "Chat session not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/history/{session_id} [get]
func (h *Handlers) History(c *gin.Context) {
	sess, err := h.sessions.GetOwned(c.Request.Context(), c.Param("session_id"), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	etag := fmt.Sprintf(`W/"history:%s:%d:%d"`, sess.ID, len(sess.Messages), sess.UpdatedAt.UnixNano())
	if notModified(c, etag) {
		return
	}
	ok(c, http.StatusOK, historyOf(sess))
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Delete a chat session
// @Description Removes the session and all of its messages.
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
//
// @Param       session_id  path  string  true  "Session ID"  format(uuid)
//
// @Success     200  {object} handlers.MessageResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Access denied to this chat session"
// @Failure     404  {object} handlers.ErrorResponse "Chat session not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/sessions/{session_id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("session_id")
	if _, err := h.sessions.GetOwned(ctx, id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	if err := h.sessions.Delete(ctx, id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: "Chat session deleted successfully"})
}

// ExportSession godoc
// @ID          exportSession
// @Summary     Export a chat session as Markdown
// @Tags        Chat
// @Produce     json
// @Security    BearerAuth
//
// @Param       session_id  path  string  true  "Session ID"  format(uuid)
//
// @Success     200  {object} services.Export
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Access denied to this chat session"
// @Failure     404  {object} handlers.ErrorResponse "Chat session not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/sessions/{session_id}/export [post]
func (h *Handlers) ExportSession(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("session_id")
	if _, err := h.sessions.GetOwned(ctx, id, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	var exportedBy string
	if ident, ok := middleware.IdentityFrom(c); ok {
		exportedBy = ident.Email
	}
	exp, err := h.sessions.Export(ctx, id, exportedBy)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, exp)
}
