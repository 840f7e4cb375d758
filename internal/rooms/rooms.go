// Package rooms implements the room engine (C5): create/join/leave/list,
// the reserved-lobby rule, and the session-registry side effects each
// operation produces.
package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/lanternchat/lantern/internal/session"
	"github.com/lanternchat/lantern/internal/store"
	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
	"github.com/lanternchat/lantern/internal/wire"
)

// ErrReservedName is returned for CREATE_ROOM/JOIN_ROOM against "lobby".
var ErrReservedName = errors.New("rooms: lobby is a reserved name")

// ErrInvalidName is returned when a room name fails validation.
var ErrInvalidName = errors.New("rooms: invalid room name")

// Engine wires the storage adapter to the session registry.
type Engine struct {
	Store    adapter.Adapter
	Sessions *session.Registry
}

func New(store adapter.Adapter, sessions *session.Registry) *Engine {
	return &Engine{Store: store, Sessions: sessions}
}

// Create validates the name, creates the room with the caller as Owner,
// moves the caller into it, and broadcasts a join notice.
func (e *Engine) Create(ctx context.Context, connID, userID, username, name string) (*t.Room, error) {
	if !t.ValidRoomName(name) {
		if name == t.ReservedLobbyName {
			return nil, ErrReservedName
		}
		return nil, ErrInvalidName
	}

	room, err := e.Store.CreateRoomWithOwnerMembership(ctx, name, t.PrivacyPublic, userID)
	if err != nil {
		return nil, err
	}

	e.Sessions.SetCurrentRoom(connID, room.ID)
	e.Sessions.BroadcastToRoom(room.ID, fmt.Sprintf(wire.PrefixSystemMessage+"%s created and joined room '%s'", username, room.Name), connID)
	return room, nil
}

// Join requires the room to exist; adding membership is idempotent.
func (e *Engine) Join(ctx context.Context, connID, userID, username, name string) (*t.Room, error) {
	if name == t.ReservedLobbyName {
		return nil, ErrReservedName
	}
	room, err := e.Store.RoomGetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := e.Store.MembershipAdd(ctx, room.ID, userID, t.MemberMember); err != nil {
		return nil, err
	}

	e.Sessions.SetCurrentRoom(connID, room.ID)
	e.Sessions.BroadcastToRoom(room.ID, fmt.Sprintf(wire.PrefixSystemMessage+"%s joined the room", username), connID)
	return room, nil
}

// Leave removes the membership (non-Owner only) and returns the caller
// to the lobby.
func (e *Engine) Leave(ctx context.Context, connID, userID, username string) error {
	sess, ok := e.Sessions.Get(connID)
	if !ok || sess.CurrentRoom == "" {
		return store.ErrInvalidTransition
	}
	roomID := sess.CurrentRoom

	room, err := e.Store.RoomGet(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID == userID {
		return store.ErrPermissionDenied
	}

	if err := e.Store.MembershipRemove(ctx, roomID, userID); err != nil {
		return err
	}

	e.Sessions.SetCurrentRoom(connID, "")
	e.Sessions.BroadcastToRoom(roomID, fmt.Sprintf(wire.PrefixSystemMessage+"%s left the room", username), connID)
	return nil
}

// List enumerates all rooms.
func (e *Engine) List(ctx context.Context) ([]t.Room, error) {
	return e.Store.RoomList(ctx, adapter.Pagination{})
}
