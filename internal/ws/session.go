// Package ws serves realtime sessions over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/chat"
	"github.com/pliu/sealedchat/internal/middleware"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 128
	eventBuffer    = 64
)

// Frame types sent to clients.
const (
	FrameSnapshot    = "snapshot"
	FrameMessage     = "message"
	FrameChatRequest = "chat_request"
	FrameError       = "error"
)

// Frame is the JSON envelope written to the socket.
type Frame struct {
	Type      string                  `json:"type"`
	RoomID    string                  `json:"room_id,omitempty"`
	Operation realtime.Operation      `json:"operation,omitempty"`
	Messages  []models.DisplayMessage `json:"messages,omitempty"`
	Message   *models.DisplayMessage  `json:"message,omitempty"`
	Request   *models.ChatRequest     `json:"request,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// inbound is a client frame. Only "send" is understood.
type inbound struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	IV        string `json:"iv,omitempty"`
	SenderKey string `json:"sender_key,omitempty"`
}

type Handler struct {
	chat     *chat.Service
	dist     *realtime.Distributor
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(svc *chat.Service, dist *realtime.Distributor, logger *slog.Logger) *Handler {
	return &Handler{
		chat:   svc,
		dist:   dist,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeWs upgrades an authenticated request. With ?room= the session
// follows that room's messages; every session follows the caller's
// chat-request events.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := r.URL.Query().Get("room")
	if roomID != "" {
		if err := h.chat.Rooms.RequireMember(r.Context(), roomID, userID); err != nil {
			http.Error(w, apperr.Message(err), apperr.HTTPStatus(apperr.CodeOf(err)))
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	s := &session{
		id:     uuid.NewString(),
		userID: userID,
		roomID: roomID,
		h:      h,
		ws:     conn,
		send:   make(chan []byte, sendBuffer),
		events: make(chan realtime.Event, eventBuffer),
		done:   make(chan struct{}),
		seen:   make(map[string]bool),
	}
	s.logger = h.logger.With("session_id", s.id, "user_id", userID, "room_id", roomID)
	s.run(r.Context())
}

type session struct {
	id     string
	userID string
	roomID string
	h      *Handler
	ws     *websocket.Conn
	logger *slog.Logger

	send   chan []byte
	events chan realtime.Event
	done   chan struct{}
	once   sync.Once

	subs []*realtime.Subscription
	// seen holds snapshot ids not yet matched by a live event. It only
	// shrinks after the snapshot. Only the pump goroutine touches it
	// after start.
	seen map[string]bool
}

func (s *session) run(ctx context.Context) {
	defer s.cleanup()

	if err := s.subscribe(ctx); err != nil {
		s.logger.Warn("realtime subscribe failed", "error", err)
		s.Close(websocket.CloseInternalServerErr, "realtime unavailable")
		return
	}

	snapshot := Frame{Type: FrameSnapshot, RoomID: s.roomID}
	if s.roomID != "" {
		history, err := s.h.chat.Conversations.Assemble(ctx, s.roomID, s.userID)
		if err != nil {
			s.logger.Warn("loading history failed", "error", err)
			s.Close(websocket.CloseInternalServerErr, "history unavailable")
			return
		}
		for _, m := range history {
			s.seen[m.ID] = true
		}
		snapshot.Messages = history
	}

	go s.writeLoop()
	s.enqueue(snapshot)
	go s.pump()

	s.logger.Info("session opened")
	s.readLoop(ctx)
}

// subscribe registers the session before any state is read so no event
// between the read and the subscription is lost.
func (s *session) subscribe(ctx context.Context) error {
	topics := []string{realtime.UserTopic(s.userID)}
	if s.roomID != "" {
		topics = append(topics, realtime.RoomTopic(s.roomID))
	}
	for _, topic := range topics {
		sub, err := s.h.dist.Subscribe(ctx, topic, s.deliver)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *session) deliver(ev realtime.Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
		s.logger.Warn("session event queue full, dropping event", "table", ev.Table)
	}
}

func (s *session) pump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			if f, ok := s.frame(ev); ok {
				s.enqueue(f)
			}
		}
	}
}

func (s *session) frame(ev realtime.Event) (Frame, bool) {
	switch ev.Table {
	case realtime.TableMessage:
		var msg models.Message
		if err := ev.Decode(&msg); err != nil {
			s.logger.Warn("bad message event", "error", err)
			return Frame{}, false
		}
		if s.seen[msg.ID] {
			delete(s.seen, msg.ID)
			return Frame{}, false
		}
		d := s.h.chat.Conversations.Display(&msg, s.userID)
		return Frame{Type: FrameMessage, RoomID: msg.RoomID, Operation: ev.Operation, Message: &d}, true
	case realtime.TableChatRequest:
		var req models.ChatRequest
		if err := ev.Decode(&req); err != nil {
			s.logger.Warn("bad chat request event", "error", err)
			return Frame{}, false
		}
		return Frame{Type: FrameChatRequest, Operation: ev.Operation, Request: &req}, true
	}
	return Frame{}, false
}

func (s *session) readLoop(ctx context.Context) {
	s.ws.SetReadLimit(maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.enqueue(Frame{Type: FrameError, Error: "invalid frame"})
			continue
		}
		if err := s.handle(ctx, in); err != nil {
			s.enqueue(Frame{Type: FrameError, RoomID: s.roomID, Error: apperr.Message(err)})
		}
	}
}

// handle processes one client frame. The stored message reaches the
// client through the room topic like any other.
func (s *session) handle(ctx context.Context, in inbound) error {
	if in.Type != "send" {
		return apperr.InvalidInput("unknown frame type")
	}
	if s.roomID == "" {
		return apperr.InvalidInput("session has no room")
	}
	if in.IV != "" || in.SenderKey != "" {
		_, err := s.h.chat.Messages.Append(ctx, s.userID, chat.SendInput{
			RoomID:    s.roomID,
			Content:   in.Content,
			IV:        in.IV,
			SenderKey: in.SenderKey,
		})
		return err
	}
	_, err := s.h.chat.Messages.Send(ctx, s.userID, s.roomID, in.Content)
	return err
}

func (s *session) enqueue(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		s.logger.Error("encoding frame", "error", err)
		return
	}
	select {
	case <-s.done:
	case s.send <- payload:
	default:
		s.Close(websocket.CloseGoingAway, "send buffer full")
	}
}

// Close terminates the connection and stops the write loop.
func (s *session) Close(code int, reason string) {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = s.ws.Close()
	})
}

func (s *session) cleanup() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
	s.Close(websocket.CloseNormalClosure, "")
	s.logger.Info("session closed")
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (s *session) write(messageType int, payload []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, payload)
}
