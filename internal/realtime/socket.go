package realtime

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pdf-chat-backend/internal/http/middleware"
)

// Event socket event names.
const (
	EventConnected  = "connected"
	EventJoinRoom   = "join_room"
	EventJoinedRoom = "joined_room"
	EventLeaveRoom  = "leave_room"
	EventLeftRoom   = "left_room"
	EventQuery      = "query"
	EventTyping     = "typing"
	EventResponse   = "response"
	EventError      = "error"
)

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type socketQuery struct {
	DocumentID string `json:"document_id"`
	Query      string `json:"query"`
	SessionID  string `json:"session_id,omitempty"`
}

// SocketResponse is the data of a response event.
type SocketResponse struct {
	Response   string   `json:"response"`
	DocumentID string   `json:"document_id"`
	SessionID  string   `json:"session_id"`
	MessageID  string   `json:"message_id"`
	Sources    []string `json:"sources"`
}

type errorData struct {
	Message string `json:"message"`
}

// EventSocket godoc
// @ID          eventSocket
// @Summary     Event socket
// @Description Websocket carrying {event, data} envelopes. Clients send join_room, leave_room and query; the server sends connected, joined_room, left_room, typing, response and error. Authenticate with the Authorization header or ?token=.
// @Tags        Realtime
// @Param       token  query  string  false  "Bearer token for browser clients"
// @Success     101
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Router      /socket [get]
func (s *Server) EventSocket(c *gin.Context) {
	cn := s.accept(c, channelSocket, "")
	if cn == nil {
		return
	}
	s.serve(c.Request.Context(), cn,
		func() {
			cn.sendJSON(Envelope{Event: EventConnected, Data: map[string]string{
				"message": "Connected to Newchat",
				"sid":     cn.id,
				"status":  "success",
			}})
		},
		func(frame []byte) { s.handleEvent(cn, frame) },
	)
}

func (s *Server) handleEvent(cn *conn, frame []byte) {
	var in inbound
	if err := json.Unmarshal(frame, &in); err != nil || in.Event == "" {
		middleware.WSEvent(channelSocket, "invalid")
		cn.sendJSON(Envelope{Event: EventError, Data: errorData{Message: "Malformed event"}})
		return
	}
	middleware.WSEvent(channelSocket, in.Event)

	switch in.Event {
	case EventJoinRoom, EventLeaveRoom:
		var req roomRequest
		_ = json.Unmarshal(in.Data, &req)
		room := strings.TrimSpace(req.Room)
		if room == "" {
			return
		}
		if in.Event == EventJoinRoom {
			s.hub.join(room, cn.client)
			cn.sendJSON(Envelope{Event: EventJoinedRoom, Data: roomRequest{Room: room}})
		} else {
			s.hub.leave(room, cn.client)
			cn.sendJSON(Envelope{Event: EventLeftRoom, Data: roomRequest{Room: room}})
		}

	case EventQuery:
		var q socketQuery
		if err := json.Unmarshal(in.Data, &q); err != nil ||
			strings.TrimSpace(q.Query) == "" || strings.TrimSpace(q.DocumentID) == "" {
			cn.sendJSON(Envelope{Event: EventError, Data: errorData{Message: "Missing query or document_id"}})
			return
		}
		release, reason := s.admit(cn)
		if release == nil {
			cn.sendJSON(Envelope{Event: EventError, Data: errorData{Message: reason}})
			return
		}
		cn.sendJSON(Envelope{Event: EventTyping, Data: map[string]string{"status": "ai_typing"}})
		go func() {
			defer release()
			res, err := s.ask(cn, q.DocumentID, q.SessionID, q.Query)
			if err != nil {
				cn.sendJSON(Envelope{Event: EventError, Data: errorData{Message: failureText(cn, err)}})
				return
			}
			cn.sendJSON(Envelope{Event: EventResponse, Data: SocketResponse{
				Response:   res.Response,
				DocumentID: q.DocumentID,
				SessionID:  res.SessionID,
				MessageID:  res.MessageID,
				Sources:    res.Sources,
			}})
		}()

	default:
		cn.sendJSON(Envelope{Event: EventError, Data: errorData{Message: "Unknown event " + in.Event}})
	}
}
