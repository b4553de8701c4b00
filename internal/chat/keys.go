package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/crypto"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/store"
)

// Keys assigns each user one symmetric key, lazily, and reuses it for
// every message that user sends in any room. Keys are never rotated.
type Keys struct {
	store  store.Store
	logger *slog.Logger
}

// EnsureUserKey returns the user with a stored encryption key,
// generating one if the user has none. Concurrent callers converge on
// the first key written.
func (k *Keys) EnsureUserKey(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthenticated
	}
	user, err := k.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUnauthenticated
	}
	if err != nil {
		return nil, storageErr(err)
	}
	if user.EncryptionKey != "" {
		return user, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	exported := crypto.ExportKey(key)
	updated, err := k.store.SetEncryptionKeyIfEmpty(ctx, userID, exported)
	if err != nil {
		return nil, storageErr(err)
	}
	if !updated {
		// Lost the race; use the key that was stored.
		user, err = k.store.GetUserByID(ctx, userID)
		if err != nil {
			return nil, storageErr(err)
		}
		return user, nil
	}
	k.logger.Info("issued encryption key", "user_id", userID)
	user.EncryptionKey = exported
	return user, nil
}

// SenderKey returns the imported key the user encrypts with.
func (k *Keys) SenderKey(ctx context.Context, userID string) (crypto.Key, string, error) {
	user, err := k.EnsureUserKey(ctx, userID)
	if err != nil {
		return crypto.Key{}, "", err
	}
	key, err := crypto.ImportKey(user.EncryptionKey)
	if err != nil {
		return crypto.Key{}, "", err
	}
	return key, user.EncryptionKey, nil
}
