// Package invites implements the invitation engine (C7): invite,
// accept/decline (single or LATEST), list, and accept-all.
package invites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lanternchat/lantern/internal/session"
	"github.com/lanternchat/lantern/internal/store"
	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
	"github.com/lanternchat/lantern/internal/wire"
)

// DefaultInvitationTTL matches spec §4.7's 7-day expiry.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// ErrAlreadyMember means the target is already a member of the room.
var ErrAlreadyMember = errors.New("invites: target is already a member")

// ErrNotAMember means the inviter isn't a member of the room they're
// inviting into.
var ErrNotAMember = errors.New("invites: inviter is not a member of room")

// Engine wires the storage adapter to the session registry.
type Engine struct {
	Store    adapter.Adapter
	Sessions *session.Registry
}

func New(store adapter.Adapter, sessions *session.Registry) *Engine {
	return &Engine{Store: store, Sessions: sessions}
}

// Invite validates membership/target state and creates a Pending
// invitation, notifying both parties.
func (e *Engine) Invite(ctx context.Context, inviterID, inviterUsername, targetUserID, targetUsername, roomName string) (*t.Invitation, error) {
	room, err := e.Store.RoomGetByName(ctx, roomName)
	if err != nil {
		return nil, err
	}
	if _, err := e.Store.MembershipGet(ctx, room.ID, inviterID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}
	if _, err := e.Store.MembershipGet(ctx, room.ID, targetUserID); err == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, err := e.Store.InvitationGetLatestPending(ctx, targetUserID, room.ID); err == nil {
		return nil, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	inv, err := e.Store.CreateInvitationWithReservedMembership(ctx, inviterID, targetUserID, room.ID, time.Now().Add(DefaultInvitationTTL), false)
	if err != nil {
		return nil, err
	}

	e.Sessions.SendToUser(targetUserID, fmt.Sprintf(wire.PrefixSystemMessage+"%s invited you to join room '%s'", inviterUsername, room.Name))
	e.Sessions.SendToUser(inviterID, fmt.Sprintf(wire.PrefixSystemMessage+"You invited %s to join room '%s'", targetUsername, room.Name))
	return inv, nil
}

// List returns the caller's non-expired Pending invitations.
func (e *Engine) List(ctx context.Context, userID string) ([]t.Invitation, error) {
	all, err := e.Store.PendingInvitationsFor(ctx, userID, time.Now())
	if err != nil {
		return nil, err
	}
	out := make([]t.Invitation, 0, len(all))
	for _, inv := range all {
		if !inv.Expired(time.Now()) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// resolveTarget finds the invitation named by room (by name) or the
// literal "LATEST" (most recent Pending by created_at).
func (e *Engine) resolveTarget(ctx context.Context, userID, roomOrLatest string) (*t.Invitation, error) {
	if roomOrLatest == "LATEST" {
		return e.Store.InvitationGetLatestPending(ctx, userID, "")
	}
	room, err := e.Store.RoomGetByName(ctx, roomOrLatest)
	if err != nil {
		return nil, err
	}
	return e.Store.InvitationGetLatestPending(ctx, userID, room.ID)
}

// Accept marks the named (or LATEST) invitation Accepted, ensures an
// active membership, sets the caller's current room, and broadcasts a
// join notice.
func (e *Engine) Accept(ctx context.Context, connID, userID, username, roomOrLatest string) (*t.Invitation, error) {
	target, err := e.resolveTarget(ctx, userID, roomOrLatest)
	if err != nil {
		return nil, err
	}
	inv, err := e.Store.AcceptInvitation(ctx, target.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	e.Sessions.SetCurrentRoom(connID, inv.RoomID)
	e.Sessions.BroadcastToRoom(inv.RoomID, fmt.Sprintf(wire.PrefixSystemMessage+"%s joined the room", username), connID)
	return inv, nil
}

// Decline marks the named (or LATEST) invitation Declined and notifies
// the inviter if online.
func (e *Engine) Decline(ctx context.Context, userID, roomOrLatest string) (*t.Invitation, error) {
	target, err := e.resolveTarget(ctx, userID, roomOrLatest)
	if err != nil {
		return nil, err
	}
	inv, err := e.Store.RespondInvitation(ctx, target.ID, t.InvitationDeclined, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	e.Sessions.SendToUser(inv.SenderID, wire.PrefixSystemMessage+"your invitation was declined")
	return inv, nil
}

// AcceptAll accepts every pending invitation for the caller; the final
// current_room is whichever was accepted last, in ascending
// created_at order (DESIGN.md's Open Question resolution).
func (e *Engine) AcceptAll(ctx context.Context, connID, userID, username string) ([]t.Invitation, error) {
	pending, err := e.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	accepted := make([]t.Invitation, 0, len(pending))
	for _, p := range pending {
		inv, err := e.Store.AcceptInvitation(ctx, p.ID, time.Now().UTC())
		if err != nil {
			continue
		}
		accepted = append(accepted, *inv)
		e.Sessions.SetCurrentRoom(connID, inv.RoomID)
		e.Sessions.BroadcastToRoom(inv.RoomID, fmt.Sprintf(wire.PrefixSystemMessage+"%s joined the room", username), connID)
	}
	return accepted, nil
}
