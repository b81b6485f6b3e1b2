package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/meguriba/meguriba-backend/internal/chatgate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 8 << 10
	sendBufferSize = 32
)

// Backend is what inbound frames are executed against. Implemented by the
// conversation service; every call re-checks authorization server-side.
type Backend interface {
	// AuthorizeJoin returns nil only when uid is a participant of the
	// conversation.
	AuthorizeJoin(ctx context.Context, convID uint64, uid string) error
	// Send runs the full gated send path: membership, gatekeeper, persist,
	// fan-out.
	Send(ctx context.Context, convID uint64, senderUID, body string) error
	// MarkRead stamps the counterpart's messages read and fans out
	// message:read.
	MarkRead(ctx context.Context, convID uint64, uid string) error
}

// Session is one websocket connection of one authenticated user.
type Session struct {
	ID  string
	UID string

	hub     *Hub
	backend Backend
	conn    *websocket.Conn
	send    chan []byte
	joined  map[uint64]bool
}

type inboundFrame struct {
	Action         string `json:"action"` // join | leave | message | read
	ConversationID uint64 `json:"conversationId"`
	Body           string `json:"body"`
}

type errorPayload struct {
	Reason         string `json:"reason"`
	ConversationID uint64 `json:"conversationId,omitempty"`
}

// Serve upgrades nothing; the HTTP handler has already upgraded conn. It
// registers the session and runs both pumps, blocking until the connection
// dies.
func Serve(hub *Hub, backend Backend, conn *websocket.Conn, uid string) {
	s := &Session{
		ID:      uuid.NewString(),
		UID:     uid,
		hub:     hub,
		backend: backend,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		joined:  make(map[uint64]bool),
	}
	hub.register(s)
	go s.writePump()
	s.readPump()
}

func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: read error uid=%s: %v", s.UID, err)
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError("bad-frame", 0)
			continue
		}
		s.handle(frame)
	}
}

func (s *Session) handle(frame inboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch frame.Action {
	case "join":
		if err := s.backend.AuthorizeJoin(ctx, frame.ConversationID, s.UID); err != nil {
			s.sendError("not-participant", frame.ConversationID)
			return
		}
		s.hub.join(s, frame.ConversationID)
	case "leave":
		s.hub.leave(s, frame.ConversationID)
	case "message":
		if err := s.backend.Send(ctx, frame.ConversationID, s.UID, frame.Body); err != nil {
			s.sendError(sendFailureReason(err), frame.ConversationID)
		}
	case "read":
		if err := s.backend.MarkRead(ctx, frame.ConversationID, s.UID); err != nil {
			s.sendError("mark-read-failed", frame.ConversationID)
		}
	default:
		s.sendError("unknown-action", frame.ConversationID)
	}
}

// sendFailureReason maps a send error to the caller-facing reason code so
// only the sender learns why delivery was refused.
func sendFailureReason(err error) string {
	var denied *chatgate.DeniedError
	if errors.As(err, &denied) {
		return string(denied.Reason)
	}
	return "send-failed"
}

func (s *Session) sendError(reason string, convID uint64) {
	frame, err := marshal(EventError, errorPayload{Reason: reason, ConversationID: convID})
	if err != nil {
		return
	}
	s.hub.offer(s, frame)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Upgrader is shared by the websocket endpoint. Origin checking mirrors the
// HTTP CORS policy and is applied by the handler.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
