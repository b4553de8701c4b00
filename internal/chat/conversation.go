package chat

import (
	"context"
	"log/slog"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/crypto"
	"github.com/pliu/sealedchat/internal/metrics"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/store"
)

// UnavailableText replaces the body of a message that fails to decrypt.
const UnavailableText = "message unavailable"

// Conversations prepares a room's messages for one viewer.
type Conversations struct {
	store   store.Store
	rooms   *Rooms
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Assemble returns the room's messages decrypted for viewerID, oldest
// first. A message that cannot be decrypted is replaced by a
// placeholder; it does not fail the list.
func (c *Conversations) Assemble(ctx context.Context, roomID, viewerID string) ([]models.DisplayMessage, error) {
	if viewerID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if roomID == "" {
		return nil, apperr.InvalidInput("room id is required")
	}
	if err := c.rooms.RequireMember(ctx, roomID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := c.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, storageErr(err)
	}
	out := make([]models.DisplayMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, c.Display(&msgs[i], viewerID))
	}
	return out, nil
}

// Display prepares one message for viewerID.
func (c *Conversations) Display(msg *models.Message, viewerID string) models.DisplayMessage {
	d := models.DisplayMessage{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Own:       msg.SenderID == viewerID,
		CreatedAt: msg.CreatedAt,
	}
	switch body := msg.Body().(type) {
	case models.PlainBody:
		d.Text = body.Text
	case models.EncryptedBody:
		d.Encrypted = true
		text, err := crypto.OpenEncoded(body.SenderKey, body.IV, body.Ciphertext)
		if err != nil {
			c.metrics.DecryptFailures.Inc()
			c.logger.Warn("message unavailable", "message_id", msg.ID, "room_id", msg.RoomID, "error", err)
			d.Text = UnavailableText
			d.Unavailable = true
			break
		}
		d.Text = text
	}
	return d
}
