package chat

import (
	"context"
	"log/slog"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/crypto"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/realtime"
	"github.com/pliu/sealedchat/internal/store"
)

// SendInput is the wire form of a message. IV and SenderKey are either
// both set, in which case Content is base64 ciphertext, or both empty,
// in which case Content is stored as plaintext.
type SendInput struct {
	RoomID    string `json:"room_id"`
	Content   string `json:"content"`
	IV        string `json:"iv,omitempty"`
	SenderKey string `json:"sender_key,omitempty"`
}

// Messages is the append-only message log. Messages are never updated
// or deleted.
type Messages struct {
	store   store.Store
	keys    *Keys
	rooms   *Rooms
	pub     *publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Send encrypts plaintext with the sender's key and appends it to the
// room.
func (m *Messages) Send(ctx context.Context, senderID, roomID, plaintext string) (*models.Message, error) {
	if senderID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if err := validate(roomID, plaintext); err != nil {
		return nil, err
	}
	key, exported, err := m.keys.SenderKey(ctx, senderID)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	iv, content := crypto.EncodeSealed(sealed)
	return m.Append(ctx, senderID, SendInput{RoomID: roomID, Content: content, IV: iv, SenderKey: exported})
}

// Append stores in as sent by senderID and notifies the room's
// subscribers.
func (m *Messages) Append(ctx context.Context, senderID string, in SendInput) (*models.Message, error) {
	if senderID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if err := validate(in.RoomID, in.Content); err != nil {
		return nil, err
	}
	if (in.IV == "") != (in.SenderKey == "") {
		return nil, apperr.InvalidInput("iv and sender key must be provided together")
	}
	kind := "plaintext"
	if in.SenderKey != "" {
		kind = "encrypted"
		if _, err := crypto.ImportKey(in.SenderKey); err != nil {
			return nil, apperr.InvalidInput("sender key must be a base64 256-bit key")
		}
		sealed, err := crypto.DecodeSealed(in.IV, in.Content)
		if err != nil || len(sealed.Nonce) != crypto.NonceSize {
			return nil, apperr.InvalidInput("iv and content must be base64 with a 96-bit iv")
		}
	}
	if err := m.rooms.RequireMember(ctx, in.RoomID, senderID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		RoomID:              in.RoomID,
		SenderID:            senderID,
		Content:             in.Content,
		IV:                  in.IV,
		SenderEncryptionKey: in.SenderKey,
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, storageErr(err)
	}
	m.metrics.MessagesAppended.WithLabelValues(kind).Inc()
	m.logger.Debug("message appended", "message_id", msg.ID, "room_id", msg.RoomID, "kind", kind)
	m.pub.publish(ctx, realtime.TableMessage, realtime.OpInsert, msg, realtime.RoomTopic(msg.RoomID))
	return msg, nil
}

// List returns the room's stored messages, oldest first.
func (m *Messages) List(ctx context.Context, viewerID, roomID string) ([]models.Message, error) {
	if viewerID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if roomID == "" {
		return nil, apperr.InvalidInput("room id is required")
	}
	if err := m.rooms.RequireMember(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, roomID)
	return msgs, storageErr(err)
}

func validate(roomID, content string) error {
	if roomID == "" {
		return apperr.InvalidInput("room id is required")
	}
	if content == "" {
		return apperr.InvalidInput("message content is required")
	}
	return nil
}
