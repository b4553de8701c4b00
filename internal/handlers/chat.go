package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/sealedchat/internal/chat"
	"github.com/pliu/sealedchat/internal/middleware"
	"github.com/pliu/sealedchat/internal/models"
)

type ChatHandler struct {
	Chat   *chat.Service
	Logger *slog.Logger
}

type SendChatRequest struct {
	ReceiverID string `json:"receiver_id"`
}

// SendMessageRequest carries either plaintext to be sealed with the
// sender's key, or client-sealed ciphertext with its IV and key.
type SendMessageRequest struct {
	Content   string `json:"content"`
	IV        string `json:"iv,omitempty"`
	SenderKey string `json:"sender_key,omitempty"`
}

func (h *ChatHandler) SendChatRequest(w http.ResponseWriter, r *http.Request) {
	var req SendChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	cr, created, err := h.Chat.Requests.Send(r.Context(), middleware.UserID(r.Context()), req.ReceiverID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"request": cr, "created": created})
}

func (h *ChatHandler) ChatRequestStatus(w http.ResponseWriter, r *http.Request) {
	status, cr, err := h.Chat.Requests.Status(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("receiver_id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	fields := map[string]any{"status": status}
	if cr != nil {
		fields["request"] = cr
	}
	writeJSON(w, http.StatusOK, fields)
}

func (h *ChatHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Chat.Requests.Pending(r.Context(), middleware.UserID(r.Context()))
	h.writeRequests(w, r, reqs, err)
}

func (h *ChatHandler) RejectedRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Chat.Requests.Rejected(r.Context(), middleware.UserID(r.Context()))
	h.writeRequests(w, r, reqs, err)
}

func (h *ChatHandler) writeRequests(w http.ResponseWriter, r *http.Request, reqs []models.IncomingRequest, err error) {
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if reqs == nil {
		reqs = []models.IncomingRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Chat.Requests.Accepted(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if chats == nil {
		chats = []models.AcceptedChat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *ChatHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	room, err := h.Chat.Requests.Accept(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (h *ChatHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.Chat.Requests.Reject(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context())); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	userID := middleware.UserID(r.Context())
	roomID := mux.Vars(r)["id"]
	var (
		msg *models.Message
		err error
	)
	if req.IV != "" || req.SenderKey != "" {
		msg, err = h.Chat.Messages.Append(r.Context(), userID, chat.SendInput{
			RoomID:    roomID,
			Content:   req.Content,
			IV:        req.IV,
			SenderKey: req.SenderKey,
		})
	} else {
		msg, err = h.Chat.Messages.Send(r.Context(), userID, roomID, req.Content)
	}
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// GetMessages returns the stored rows of a room, still sealed.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Chat.Messages.List(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// GetConversation returns the room's messages decrypted for the caller.
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Chat.Conversations.Assemble(r.Context(), mux.Vars(r)["id"], middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.DisplayMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
