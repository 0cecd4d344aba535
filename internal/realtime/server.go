package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/pdf-chat-backend/internal/http/handlers"
	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
	"github.com/tbourn/pdf-chat-backend/internal/services"
)

// Metric channel labels.
const (
	channelSocket = "socket"
	channelRaw    = "raw"
)

const errTooManyInflight = "Too many queries in flight, wait for the previous answer"

// QueryService answers one question.
type QueryService interface {
	Query(ctx context.Context, in services.QueryInput) (*services.QueryResult, error)
}

// Limiter admits or rejects one event for key.
type Limiter interface {
	Allow(key string) bool
}

// Options configures a Server.
type Options struct {
	Query    QueryService
	Verifier middleware.TokenVerifier
	// Limiter is optional; it is shared with the HTTP rate limiter.
	Limiter Limiter
	// Hub is optional; a private hub is created when nil.
	Hub *Hub
	// MaxInflight caps concurrent queries per connection (default 2).
	MaxInflight int64
	// AllowedOrigins restricts the Origin header; empty allows any.
	AllowedOrigins []string
}

// Server upgrades authenticated requests to websocket connections.
type Server struct {
	query       QueryService
	verifier    middleware.TokenVerifier
	limiter     Limiter
	hub         *Hub
	maxInflight int64
	upgrader    websocket.Upgrader
}

// NewServer builds a Server from opts.
func NewServer(opts Options) *Server {
	s := &Server{
		query:       opts.Query,
		verifier:    opts.Verifier,
		limiter:     opts.Limiter,
		hub:         opts.Hub,
		maxInflight: opts.MaxInflight,
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	if s.maxInflight <= 0 {
		s.maxInflight = 2
	}
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
	return s
}

// Hub returns the room hub, for wiring it as an events.Publisher.
func (s *Server) Hub() *Hub { return s.hub }

// conn is the per-connection state shared by both protocols.
type conn struct {
	*client
	channel string
	ctx     context.Context
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

// accept authenticates and upgrades the request. It writes the HTTP error
// itself and returns nil when the connection could not be established.
func (s *Server) accept(c *gin.Context, channel, id string) *conn {
	raw := middleware.TokenFromRequest(c.Request)
	if raw == "" {
		c.Header("WWW-Authenticate", "Bearer")
		handlers.Fail(c, http.StatusUnauthorized, handlers.ErrCodeUnauthorized, "Authorization required")
		return nil
	}
	ident, err := s.verifier.Verify(raw)
	if err != nil {
		c.Header("WWW-Authenticate", "Bearer")
		handlers.Fail(c, http.StatusUnauthorized, handlers.ErrCodeUnauthorized, "Invalid or expired token")
		return nil
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		middleware.LoggerFrom(c).Warn().Err(err).Str("channel", channel).Msg("websocket upgrade failed")
		return nil
	}
	if id == "" {
		id = uuid.NewString()
	}
	l := middleware.LoggerFrom(c).With().
		Str("channel", channel).
		Str("conn_id", id).
		Str("user_id", ident.UserID).
		Logger()

	return &conn{
		client:  newClient(id, ident.UserID, ws, l),
		channel: channel,
		sem:     semaphore.NewWeighted(s.maxInflight),
	}
}

// serve runs the pumps until the peer disconnects, then cancels and waits
// for in-flight queries.
func (s *Server) serve(parent context.Context, cn *conn, onOpen func(), handle func([]byte)) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	cn.ctx = cn.log.WithContext(ctx)

	closed := middleware.WSConnected(cn.channel)
	cn.log.Info().Msg("websocket connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		cn.writePump()
	}()

	if onOpen != nil {
		onOpen()
	}
	cn.readPump(handle)

	cancel()
	cn.wg.Wait()
	s.hub.drop(cn.client)
	cn.close()
	<-writerDone
	closed()
	cn.log.Info().Msg("websocket disconnected")
}

// admit applies the shared rate limit and the per-connection in-flight cap.
// On success the caller must call release when done.
func (s *Server) admit(cn *conn) (release func(), reason string) {
	if s.limiter != nil && !s.limiter.Allow("user:"+cn.userID) {
		return nil, "Too many requests"
	}
	if !cn.sem.TryAcquire(1) {
		return nil, errTooManyInflight
	}
	cn.wg.Add(1)
	return func() {
		cn.sem.Release(1)
		cn.wg.Done()
	}, ""
}

// ask runs the shared query pipeline for cn's user.
func (s *Server) ask(cn *conn, documentID, sessionID, text string) (*services.QueryResult, error) {
	return s.query.Query(cn.ctx, services.QueryInput{
		UserID:     cn.userID,
		DocumentID: documentID,
		SessionID:  sessionID,
		Text:       text,
	})
}

// failureText is the client-facing text for a failed query.
func failureText(cn *conn, err error) string {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrForbidden):
		return services.Message(err)
	}
	cn.log.Error().Err(err).Bool("timeout", services.IsTimeout(err)).Msg("websocket query failed")
	return "Error processing query"
}
