// Package types defines the entities persisted by the storage layer and
// shared by every component that talks to it.
package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh opaque entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Role is a user's system-wide role.
type Role string

const (
	RoleAdmin     Role = "Admin"
	RoleModerator Role = "Moderator"
	RoleUser      Role = "User"
	RoleGuest     Role = "Guest"
)

// MemberRole is a user's role within a single room.
type MemberRole string

const (
	MemberOwner     MemberRole = "Owner"
	MemberModerator MemberRole = "Moderator"
	MemberMember    MemberRole = "Member"
	MemberGuest     MemberRole = "Guest"
)

// rank orders member roles so permission checks can compare them.
var rank = map[MemberRole]int{
	MemberGuest:     0,
	MemberMember:    1,
	MemberModerator: 2,
	MemberOwner:     3,
}

// AtLeast reports whether r grants at least the privilege of want.
func (r MemberRole) AtLeast(want MemberRole) bool {
	return rank[r] >= rank[want]
}

// Privacy is a room's visibility.
type Privacy string

const (
	PrivacyPublic  Privacy = "Public"
	PrivacyPrivate Privacy = "Private"
)

// MessageType distinguishes chat content from system/file events.
type MessageType string

const (
	MessageText   MessageType = "Text"
	MessageSystem MessageType = "System"
	MessageFile   MessageType = "File"
)

// InvitationStatus is the lifecycle state of an Invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "Pending"
	InvitationAccepted InvitationStatus = "Accepted"
	InvitationDeclined InvitationStatus = "Declined"
	InvitationExpired  InvitationStatus = "Expired"
	InvitationRevoked  InvitationStatus = "Revoked"
)

// ObjHeader carries the fields common to every stored entity.
type ObjHeader struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InitTimes assigns a new ID if unset, stamps CreatedAt to now if unset,
// and sets UpdatedAt to CreatedAt.
func (h *ObjHeader) InitTimes(now time.Time) {
	if h.ID == "" {
		h.ID = NewID()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = h.CreatedAt
}

// Touch bumps UpdatedAt to now.
func (h *ObjHeader) Touch(now time.Time) {
	h.UpdatedAt = now
}

// User is a registered account.
type User struct {
	ObjHeader
	Username   string
	Verifier   []byte // salted password hash
	Role       Role
	LastSeenAt time.Time
}

// Session is an authenticated connection, kept only in memory for TCP
// sessions; the struct also doubles as the row shape for persisted
// long-lived reconnect sessions (e.g. token-based).
type Session struct {
	ObjHeader
	UserID    string
	ExpiresAt *time.Time
}

// ReservedLobbyName is never a real, storable room.
const ReservedLobbyName = "lobby"

// Room is a named, joinable conversation space.
type Room struct {
	ObjHeader
	Name    string
	Privacy Privacy
	OwnerID string
}

// RoomMembership links a user to a room with a role.
type RoomMembership struct {
	RoomID   string
	UserID   string
	Role     MemberRole
	JoinedAt time.Time
	Active   bool
}

// Message is a chat message, DM, or system notice.
type Message struct {
	ObjHeader
	RoomID    string // empty for DMs
	DMPairID  string // empty for room messages
	AuthorID  string
	Content   string
	Type      MessageType
	ParentID  string // optional, for threads
	EditedAt  *time.Time
	DeletedAt *time.Time
	Reactions map[string]map[string]bool // emoji -> set of user ids
}

// IsDeleted reports whether the message has been soft-deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Reaction is a single (message, user, emoji) tuple.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// ReadReceipt tracks the last message a user has read in a room.
type ReadReceipt struct {
	UserID        string
	RoomID        string
	LastReadMsgID string
	UpdatedAt     time.Time
}

// Invitation is a pending offer to join a room.
type Invitation struct {
	ObjHeader
	SenderID    string
	RecipientID string
	RoomID      string
	Status      InvitationStatus
	ExpiresAt   time.Time
	RespondedAt *time.Time
}

// Expired reports whether a Pending invitation should now be treated as
// Expired, evaluated lazily on read per spec.
func (i *Invitation) Expired(now time.Time) bool {
	return i.Status == InvitationPending && now.After(i.ExpiresAt)
}

// AuditLogEntry records a single security-relevant event.
type AuditLogEntry struct {
	ObjHeader
	UserID       string // optional
	Action       string
	ResourceType string
	ResourceID   string
	Detail       string
	SourceAddr   string
}

// DMPairID returns the deterministic, order-independent id for a DM
// conversation between two users, grounded on the teacher's P2P topic
// naming: lexicographically sort the two ids so either party computes
// the same key.
func DMPairID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// ValidRoomName reports whether name is a legal, non-reserved room name.
func ValidRoomName(name string) bool {
	if len(name) < 1 || len(name) > 64 {
		return false
	}
	if strings.EqualFold(name, ReservedLobbyName) {
		return false
	}
	for _, r := range name {
		if r < 0x20 {
			return false
		}
	}
	return true
}
