// Package adapter declares the interface every database backend must
// implement. The rest of the server talks to storage through an
// adapter.Adapter; only internal/server imports the concrete backends,
// to construct the configured one.
package adapter

import (
	"context"
	"time"

	t "github.com/lanternchat/lantern/internal/store/types"
)

// Pagination bounds a list query.
type Pagination struct {
	Limit  int
	Before *string // opaque cursor, backend-defined ordering key
}

// DeletionStats reports what a cascading user deletion touched.
type DeletionStats struct {
	SessionsRemoved     int
	MembershipsRemoved  int
	InvitationsRemoved  int
	MessagesSoftDeleted int
	ReactionsRemoved    int
}

// Adapter is the contract every storage backend implements. All writes
// are atomic per call; operations spanning multiple entities are called
// out explicitly below and run inside a single transaction.
type Adapter interface {
	// General

	Open(ctx context.Context, dsn string) error
	Close() error
	IsOpen() bool
	Migrate(ctx context.Context) error
	Name() string

	// Users

	UserCreate(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, error)
	UserFindByUsername(ctx context.Context, username string) (*t.User, error)
	UserGet(ctx context.Context, id string) (*t.User, error)
	UserTouchLastSeen(ctx context.Context, id string, when time.Time) error
	// UserDelete cascades: sessions and memberships hard-deleted, messages
	// authored by the user soft-deleted, reactions removed, invitations
	// (sent or received) removed. Atomic.
	UserDelete(ctx context.Context, id string) (*DeletionStats, error)

	// Sessions (in-memory for TCP, but reconnect tokens persist a row)

	SessionCreate(ctx context.Context, userID string, expiresAt *time.Time) (*t.Session, error)
	SessionGet(ctx context.Context, id string) (*t.Session, error)
	SessionDelete(ctx context.Context, id string) error

	// Atomic: insert user then insert initial session in one transaction.
	RegisterUserWithInitialSession(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, *t.Session, error)

	// Rooms

	RoomCreate(ctx context.Context, name string, privacy t.Privacy, ownerID string) (*t.Room, error)
	RoomGetByName(ctx context.Context, name string) (*t.Room, error)
	RoomGet(ctx context.Context, id string) (*t.Room, error)
	RoomList(ctx context.Context, p Pagination) ([]t.Room, error)
	RoomDelete(ctx context.Context, id string) error

	// Atomic: create room row + owner membership row.
	CreateRoomWithOwnerMembership(ctx context.Context, name string, privacy t.Privacy, ownerID string) (*t.Room, error)

	// Memberships

	MembershipAdd(ctx context.Context, roomID, userID string, role t.MemberRole) error
	MembershipRemove(ctx context.Context, roomID, userID string) error
	MembershipGet(ctx context.Context, roomID, userID string) (*t.RoomMembership, error)
	MembershipsForUser(ctx context.Context, userID string) ([]t.RoomMembership, error)
	MembershipsForRoom(ctx context.Context, roomID string, p Pagination) ([]t.RoomMembership, error)

	// Messages

	MessageStore(ctx context.Context, msg *t.Message) (*t.Message, error)
	MessageGet(ctx context.Context, id string) (*t.Message, error)
	MessageEdit(ctx context.Context, id, editorID, newContent string, when time.Time) (*t.Message, error)
	MessageDelete(ctx context.Context, id, actorID string, when time.Time) error
	MessageReact(ctx context.Context, id, userID, emoji string, when time.Time) (*t.Message, error)
	MessageUnreact(ctx context.Context, id, userID, emoji string) (*t.Message, error)
	MessageSearch(ctx context.Context, roomID, query string, limit int) ([]t.Message, error)
	MessageHistory(ctx context.Context, roomID string, limit int, before *string) ([]t.Message, error)
	MessageThread(ctx context.Context, parentID string, limit int) ([]t.Message, error)
	MessageMarkRead(ctx context.Context, userID, roomID, upToMessageID string, when time.Time) error

	// Invitations

	// Atomic: insert invitation and, if reserve is true, a pending
	// (inactive) membership row in the same transaction.
	CreateInvitationWithReservedMembership(ctx context.Context, senderID, recipientID, roomID string, expiresAt time.Time, reserve bool) (*t.Invitation, error)
	InvitationGet(ctx context.Context, id string) (*t.Invitation, error)
	InvitationGetLatestPending(ctx context.Context, recipientID, roomID string) (*t.Invitation, error)
	PendingInvitationsFor(ctx context.Context, userID string, now time.Time) ([]t.Invitation, error)
	// Atomic: transition invitation to Accepted and ensure an active
	// membership row exists, in one transaction.
	AcceptInvitation(ctx context.Context, id string, when time.Time) (*t.Invitation, error)
	RespondInvitation(ctx context.Context, id string, status t.InvitationStatus, when time.Time) (*t.Invitation, error)

	// Audit

	AuditAppend(ctx context.Context, entry *t.AuditLogEntry) error
	AuditRecent(ctx context.Context, limit int) ([]t.AuditLogEntry, error)
	AuditForUser(ctx context.Context, userID string, limit int) ([]t.AuditLogEntry, error)
}
