package realtime

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pdf-chat-backend/internal/domain"
	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
)

type rawInbound struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	SessionID  string `json:"session_id,omitempty"`
}

// RawFrame is a typing or error frame on the raw channel.
type RawFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// RawMessage is the answer frame on the raw channel. Sources is always
// present, empty when no chunk was used.
type RawMessage struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
}

// Raw godoc
// @ID          rawSocket
// @Summary     Raw chat channel
// @Description Websocket of JSON text frames. Send {text, document_id, session_id?}; receive {type:"typing"} then {type:"message", text, sender:"ai", timestamp, sources, session_id}, or {type:"error", message}.
// @Tags        Realtime
// @Param       client_id  path   string  true   "Client-chosen connection id"
// @Param       token      query  string  false  "Bearer token for browser clients"
// @Success     101
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /ws/{client_id} [get]
func (s *Server) Raw(c *gin.Context) {
	cn := s.accept(c, channelRaw, c.Param("client_id"))
	if cn == nil {
		return
	}
	s.serve(c.Request.Context(), cn, nil, func(frame []byte) { s.handleRaw(cn, frame) })
}

func (s *Server) handleRaw(cn *conn, frame []byte) {
	var in rawInbound
	if err := json.Unmarshal(frame, &in); err != nil {
		middleware.WSEvent(channelRaw, "invalid")
		cn.sendJSON(RawFrame{Type: "error", Message: "Malformed message"})
		return
	}
	middleware.WSEvent(channelRaw, "message")
	if strings.TrimSpace(in.Text) == "" || strings.TrimSpace(in.DocumentID) == "" {
		cn.sendJSON(RawFrame{Type: "error", Message: "Missing text or document_id"})
		return
	}
	release, reason := s.admit(cn)
	if release == nil {
		cn.sendJSON(RawFrame{Type: "error", Message: reason})
		return
	}
	cn.sendJSON(RawFrame{Type: "typing", Status: "ai_typing"})
	go func() {
		defer release()
		res, err := s.ask(cn, in.DocumentID, in.SessionID, in.Text)
		if err != nil {
			cn.sendJSON(RawFrame{Type: "error", Message: failureText(cn, err)})
			return
		}
		ts := res.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		sources := res.Sources
		if sources == nil {
			sources = []string{}
		}
		cn.sendJSON(RawMessage{
			Type:      "message",
			Text:      res.Response,
			Sender:    domain.SenderAI,
			Timestamp: ts,
			Sources:   sources,
			SessionID: res.SessionID,
			MessageID: res.MessageID,
		})
	}()
}
