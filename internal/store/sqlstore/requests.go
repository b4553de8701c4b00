package sqlstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/roomid"
)

const chatRequestColumns = "id, sender_id, receiver_id, status, created_at"

func scanChatRequest(row interface{ Scan(...any) error }, req *models.ChatRequest) error {
	return row.Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt)
}

func (s *SQLStore) CreateChatRequest(ctx context.Context, req *models.ChatRequest) (bool, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	query := s.rebind(`
		INSERT INTO chat_requests (id, sender_id, receiver_id, pair_key, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (pair_key) DO NOTHING
	`)
	result, err := s.db.ExecContext(ctx, query,
		req.ID, req.SenderID, req.ReceiverID, roomid.Canonical(req.SenderID, req.ReceiverID), string(req.Status), req.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *SQLStore) GetChatRequestForPair(ctx context.Context, userA, userB string) (*models.ChatRequest, error) {
	var req models.ChatRequest
	query := s.rebind("SELECT " + chatRequestColumns + " FROM chat_requests WHERE pair_key = ?")
	if err := scanChatRequest(s.db.QueryRowContext(ctx, query, roomid.Canonical(userA, userB)), &req); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (s *SQLStore) GetChatRequest(ctx context.Context, id string) (*models.ChatRequest, error) {
	var req models.ChatRequest
	query := s.rebind("SELECT " + chatRequestColumns + " FROM chat_requests WHERE id = ?")
	if err := scanChatRequest(s.db.QueryRowContext(ctx, query, id), &req); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (s *SQLStore) ResolveChatRequest(ctx context.Context, id, receiverID string, status models.RequestStatus) (bool, error) {
	query := s.rebind("UPDATE chat_requests SET status = ? WHERE id = ? AND receiver_id = ? AND status = ?")
	result, err := s.db.ExecContext(ctx, query, string(status), id, receiverID, string(models.StatusPending))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// AcceptChatRequest commits the ACCEPTED transition together with the
// room, so a failure leaves the request PENDING and retryable.
func (s *SQLStore) AcceptChatRequest(ctx context.Context, id, receiverID string, room *models.Room, memberIDs ...string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := s.rebind("UPDATE chat_requests SET status = ? WHERE id = ? AND receiver_id = ? AND status = ?")
	result, err := tx.ExecContext(ctx, query, string(models.StatusAccepted), id, receiverID, string(models.StatusPending))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows != 1 {
		return false, nil
	}

	if err := s.ensureRoom(ctx, tx, room, memberIDs); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) ListChatRequestsForReceiver(ctx context.Context, receiverID string, status models.RequestStatus) ([]models.IncomingRequest, error) {
	query := s.rebind(`
		SELECT cr.id, cr.sender_id, cr.receiver_id, cr.status, cr.created_at, u.id, u.username
		FROM chat_requests cr
		JOIN users u ON u.id = cr.sender_id
		WHERE cr.receiver_id = ? AND cr.status = ?
		ORDER BY cr.created_at ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, receiverID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []models.IncomingRequest
	for rows.Next() {
		var req models.IncomingRequest
		if err := rows.Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.Sender.ID, &req.Sender.Username); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ListAcceptedChats returns the accepted requests userID takes part in,
// in either direction, with the peer and the shared room.
func (s *SQLStore) ListAcceptedChats(ctx context.Context, userID string) ([]models.AcceptedChat, error) {
	query := s.rebind(`
		SELECT cr.id, cr.sender_id, cr.receiver_id, cr.status, cr.created_at, u.id, u.username, r.id
		FROM chat_requests cr
		JOIN users u ON u.id = CASE WHEN cr.sender_id = ? THEN cr.receiver_id ELSE cr.sender_id END
		LEFT JOIN rooms r ON r.id = cr.pair_key
		WHERE cr.status = ? AND (cr.sender_id = ? OR cr.receiver_id = ?)
		ORDER BY cr.created_at ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, userID, string(models.StatusAccepted), userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.AcceptedChat
	for rows.Next() {
		var c models.AcceptedChat
		var roomID sql.NullString
		if err := rows.Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.Status, &c.CreatedAt, &c.Peer.ID, &c.Peer.Username, &roomID); err != nil {
			return nil, err
		}
		c.RoomID = roomID.String
		chats = append(chats, c)
	}
	return chats, rows.Err()
}
