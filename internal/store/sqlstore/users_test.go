package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/store"
)

func TestCreateUser(t *testing.T) {
	s := SetupTestDB(t)

	u := createUser(t, s, "testuser")
	assert.NotEmpty(t, u.ID)

	// Test duplicate user
	err := s.CreateUser(ctx, &models.User{Username: "testuser", Password: "password123"})
	assert.ErrorIs(t, err, store.ErrDuplicate, "Expected duplicate error when creating duplicate user")
}

func TestGetUser(t *testing.T) {
	s := SetupTestDB(t)
	created := createUser(t, s, "testuser")

	user, err := s.GetUserByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)
	assert.Empty(t, user.EncryptionKey)

	byID, err := s.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "testuser", byID.Username)

	_, err = s.GetUserByUsername(ctx, "nonexistent")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUserByID(ctx, "nonexistent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchUsers(t *testing.T) {
	s := SetupTestDB(t)
	createUser(t, s, "alice")
	createUser(t, s, "bob")
	createUser(t, s, "alex")

	users, err := s.SearchUsers(ctx, "al")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alex", users[0].Username)
	assert.Empty(t, users[0].Password)
}

func TestSetEncryptionKeyIfEmpty(t *testing.T) {
	s := SetupTestDB(t)
	u := createUser(t, s, "alice")

	updated, err := s.SetEncryptionKeyIfEmpty(ctx, u.ID, "first")
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = s.SetEncryptionKeyIfEmpty(ctx, u.ID, "second")
	require.NoError(t, err)
	assert.False(t, updated)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.EncryptionKey)
}
