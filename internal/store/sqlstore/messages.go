package sqlstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/pliu/sealedchat/internal/models"
)

// AppendMessage inserts msg, assigning its id and creation time.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = now()
	query := s.rebind(`
		INSERT INTO messages (id, room_id, sender_id, content, iv, sender_encryption_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.IV, msg.SenderEncryptionKey, msg.CreatedAt)
	return err
}

// ListMessages returns the room's messages oldest first. Messages with
// equal timestamps keep insertion order.
func (s *SQLStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	query := s.rebind(`
		SELECT id, room_id, sender_id, content, iv, sender_encryption_key, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, seq ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.IV, &m.SenderEncryptionKey, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
