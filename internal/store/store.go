package store

import (
	"context"
	"errors"

	"github.com/pliu/sealedchat/internal/models"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint.
var ErrDuplicate = errors.New("already exists")

type Store interface {
	// User operations
	// CreateUser fails with ErrDuplicate when the username is taken.
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
	// SetEncryptionKeyIfEmpty stores key only when the user has none.
	// It reports whether the row was updated.
	SetEncryptionKeyIfEmpty(ctx context.Context, userID, key string) (bool, error)

	// Chat request operations
	// CreateChatRequest inserts req unless a request already exists for
	// the unordered pair. It reports whether a row was inserted.
	CreateChatRequest(ctx context.Context, req *models.ChatRequest) (bool, error)
	GetChatRequestForPair(ctx context.Context, userA, userB string) (*models.ChatRequest, error)
	GetChatRequest(ctx context.Context, id string) (*models.ChatRequest, error)
	// ResolveChatRequest moves a PENDING request addressed to receiverID
	// to status in one conditional update. It reports false when no row
	// matched.
	ResolveChatRequest(ctx context.Context, id, receiverID string, status models.RequestStatus) (bool, error)
	// AcceptChatRequest moves a PENDING request addressed to receiverID
	// to ACCEPTED and ensures room with its members, all in one
	// transaction. It reports false, with nothing written, when no
	// request matched.
	AcceptChatRequest(ctx context.Context, id, receiverID string, room *models.Room, memberIDs ...string) (bool, error)
	// ListChatRequestsForReceiver returns receiverID's requests in status,
	// oldest first, each joined with its sender.
	ListChatRequestsForReceiver(ctx context.Context, receiverID string, status models.RequestStatus) ([]models.IncomingRequest, error)
	ListAcceptedChats(ctx context.Context, userID string) ([]models.AcceptedChat, error)

	// Room operations
	// EnsureRoom creates the room and the membership rows if absent.
	EnsureRoom(ctx context.Context, room *models.Room, memberIDs ...string) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	GetRoomMembers(ctx context.Context, roomID string) ([]models.RoomMember, error)

	// Message operations
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close() error
}
