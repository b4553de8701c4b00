package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pliu/sealedchat/internal/apperr"
	"github.com/pliu/sealedchat/internal/models"
	"github.com/pliu/sealedchat/internal/roomid"
	"github.com/pliu/sealedchat/internal/store"
)

type Rooms struct {
	store  store.Store
	logger *slog.Logger
}

// CanonicalRoomID is the id of the room shared by a and b, independent
// of argument order.
func CanonicalRoomID(a, b string) string {
	return roomid.Canonical(a, b)
}

// GetOrCreate returns the room for the pair, creating it and both
// membership rows if needed. Concurrent calls for the same pair return
// the same room.
func (r *Rooms) GetOrCreate(ctx context.Context, a, b string) (*models.Room, error) {
	id := CanonicalRoomID(a, b)
	room, err := r.store.GetRoom(ctx, id)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storageErr(err)
	}

	room = newRoom(a, b)
	if err := r.store.EnsureRoom(ctx, room, a, b); err != nil {
		return nil, storageErr(err)
	}
	// Read back: a concurrent creator may have won.
	room, err = r.store.GetRoom(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	r.logger.Info("room ready", "room_id", id)
	return room, nil
}

func newRoom(a, b string) *models.Room {
	return &models.Room{ID: CanonicalRoomID(a, b), Name: fmt.Sprintf("%s - %s", a, b)}
}

func (r *Rooms) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := r.store.IsMember(ctx, roomID, userID)
	return ok, storageErr(err)
}

// RequireMember fails with apperr.ErrNotRoomMember unless userID
// belongs to roomID.
func (r *Rooms) RequireMember(ctx context.Context, roomID, userID string) error {
	ok, err := r.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotRoomMember
	}
	return nil
}

func (r *Rooms) Members(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	members, err := r.store.GetRoomMembers(ctx, roomID)
	return members, storageErr(err)
}
