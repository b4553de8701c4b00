package sqlstore

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/pliu/sealedchat/internal/models"
)

var ctx = context.Background()

func SetupTestDB(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New("sqlite3", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *SQLStore, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Password: "pass"}
	require.NoError(t, s.CreateUser(ctx, u))
	return u
}

func TestRebind(t *testing.T) {
	s := &SQLStore{driverName: "postgres"}
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", s.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	s = &SQLStore{driverName: "sqlite3"}
	require.Equal(t, "SELECT ?", s.rebind("SELECT ?"))
}

func TestCreateTablesIsIdempotent(t *testing.T) {
	s := SetupTestDB(t)
	require.NoError(t, s.createTables())
	require.NoError(t, s.Ping(ctx))
}
