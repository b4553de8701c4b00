package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver (pgx)
	_ "github.com/lib/pq"              // Postgres driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/pliu/sealedchat/internal/store"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

var _ store.Store = (*SQLStore)(nil)

// New opens the database and creates the schema. driverName is one of
// "sqlite3", "postgres" (lib/pq) or "pgx".
func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// A single connection keeps ":memory:" databases shared and
		// serializes writers instead of failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *SQLStore) isPostgres() bool {
	return s.driverName == "postgres" || s.driverName == "pgx"
}

func (s *SQLStore) createTables() error {
	// Simplified for brevity, ideally use migrations
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		encryption_key TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS chat_requests (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL REFERENCES users(id),
		receiver_id TEXT NOT NULL REFERENCES users(id),
		pair_key TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_members (
		user_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		PRIMARY KEY (user_id, room_id),
		FOREIGN KEY (room_id) REFERENCES rooms(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		iv TEXT NOT NULL DEFAULT '',
		sender_encryption_key TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id),
		FOREIGN KEY (sender_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS messages_room_created ON messages (room_id, created_at);
	`

	if s.isPostgres() {
		// Adjust for Postgres syntax
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMPTZ")
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.isPostgres() {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func now() time.Time {
	return time.Now().UTC()
}
