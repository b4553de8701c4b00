package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pliu/sealedchat/internal/models"
)

// EnsureRoom inserts the room and its members, skipping rows that
// already exist, in one transaction. Concurrent callers for the same
// room id all succeed.
func (s *SQLStore) EnsureRoom(ctx context.Context, room *models.Room, memberIDs ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ensureRoom(ctx, tx, room, memberIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ensureRoom(ctx context.Context, tx *sql.Tx, room *models.Room, memberIDs []string) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now()
	}
	query := s.rebind("INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING")
	if _, err := tx.ExecContext(ctx, query, room.ID, room.Name, room.CreatedAt); err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}

	query = s.rebind("INSERT INTO room_members (user_id, room_id) VALUES (?, ?) ON CONFLICT (user_id, room_id) DO NOTHING")
	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, query, userID, room.ID); err != nil {
			return fmt.Errorf("inserting member: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	query := s.rebind("SELECT id, name, created_at FROM rooms WHERE id = ?")
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (s *SQLStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)")
	err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) GetRoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	query := s.rebind("SELECT user_id, room_id FROM room_members WHERE room_id = ? ORDER BY user_id")
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.RoomMember
	for rows.Next() {
		var m models.RoomMember
		if err := rows.Scan(&m.UserID, &m.RoomID); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
