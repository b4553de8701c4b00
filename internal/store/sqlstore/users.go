package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/store"
)

// CreateUser inserts user, assigning an id when it has none.
func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	query := s.rebind("INSERT INTO users (id, username, password, encryption_key) VALUES (?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Password, user.EncryptionKey)
	if isUniqueViolation(err) {
		return fmt.Errorf("username %q: %w", user.Username, store.ErrDuplicate)
	}
	return err
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, password, encryption_key FROM users WHERE username = ?")
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.Password, &user.EncryptionKey)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, password, encryption_key FROM users WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.Password, &user.EncryptionKey)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *SQLStore) SearchUsers(ctx context.Context, queryStr string) ([]models.User, error) {
	query := s.rebind("SELECT id, username FROM users WHERE username LIKE ? ORDER BY username LIMIT 10")
	rows, err := s.db.QueryContext(ctx, query, "%"+queryStr+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLStore) SetEncryptionKeyIfEmpty(ctx context.Context, userID, key string) (bool, error) {
	query := s.rebind("UPDATE users SET encryption_key = ? WHERE id = ? AND encryption_key = ''")
	result, err := s.db.ExecContext(ctx, query, key, userID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
