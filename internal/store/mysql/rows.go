package mysql

import (
	"time"

	t "github.com/lanternchat/lantern/internal/store/types"
)

type userRow struct {
	ID         string     `db:"id"`
	Username   string     `db:"username"`
	Verifier   []byte     `db:"verifier"`
	Role       string     `db:"role"`
	LastSeenAt *time.Time `db:"last_seen_at"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

func (r *userRow) toDomain() *t.User {
	u := &t.User{
		ObjHeader: t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		Username:  r.Username,
		Verifier:  r.Verifier,
		Role:      t.Role(r.Role),
	}
	if r.LastSeenAt != nil {
		u.LastSeenAt = *r.LastSeenAt
	}
	return u
}

type sessionRow struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	ExpiresAt *time.Time `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func (r *sessionRow) toDomain() *t.Session {
	return &t.Session{ObjHeader: t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}, UserID: r.UserID, ExpiresAt: r.ExpiresAt}
}

type roomRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Privacy   string    `db:"privacy"`
	OwnerID   string    `db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *roomRow) toDomain() *t.Room {
	return &t.Room{ObjHeader: t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}, Name: r.Name, Privacy: t.Privacy(r.Privacy), OwnerID: r.OwnerID}
}

type membershipRow struct {
	RoomID   string    `db:"room_id"`
	UserID   string    `db:"user_id"`
	Role     string    `db:"role"`
	JoinedAt time.Time `db:"joined_at"`
	Active   bool      `db:"active"`
}

func (r *membershipRow) toDomain() t.RoomMembership {
	return t.RoomMembership{RoomID: r.RoomID, UserID: r.UserID, Role: t.MemberRole(r.Role), JoinedAt: r.JoinedAt, Active: r.Active}
}

type messageRow struct {
	ID        string     `db:"id"`
	RoomID    *string    `db:"room_id"`
	DMPairID  *string    `db:"dm_pair_id"`
	AuthorID  string     `db:"author_id"`
	Content   string     `db:"content"`
	Type      string     `db:"type"`
	ParentID  *string    `db:"parent_id"`
	EditedAt  *time.Time `db:"edited_at"`
	DeletedAt *time.Time `db:"deleted_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *messageRow) toDomain(reactions map[string]map[string]bool) *t.Message {
	return &t.Message{
		ObjHeader: t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		RoomID:    deref(r.RoomID),
		DMPairID:  deref(r.DMPairID),
		AuthorID:  r.AuthorID,
		Content:   r.Content,
		Type:      t.MessageType(r.Type),
		ParentID:  deref(r.ParentID),
		EditedAt:  r.EditedAt,
		DeletedAt: r.DeletedAt,
		Reactions: reactions,
	}
}

type reactionRow struct {
	MessageID string    `db:"message_id"`
	UserID    string    `db:"user_id"`
	Emoji     string    `db:"emoji"`
	CreatedAt time.Time `db:"created_at"`
}

type invitationRow struct {
	ID          string     `db:"id"`
	SenderID    string     `db:"sender_id"`
	RecipientID string     `db:"recipient_id"`
	RoomID      string     `db:"room_id"`
	Status      string     `db:"status"`
	ExpiresAt   time.Time  `db:"expires_at"`
	RespondedAt *time.Time `db:"responded_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func (r *invitationRow) toDomain() *t.Invitation {
	return &t.Invitation{
		ObjHeader:   t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		RoomID:      r.RoomID,
		Status:      t.InvitationStatus(r.Status),
		ExpiresAt:   r.ExpiresAt,
		RespondedAt: r.RespondedAt,
	}
}

type auditRow struct {
	ID           string    `db:"id"`
	UserID       *string   `db:"user_id"`
	Action       string    `db:"action"`
	ResourceType *string   `db:"resource_type"`
	ResourceID   *string   `db:"resource_id"`
	Detail       *string   `db:"detail"`
	SourceAddr   *string   `db:"source_addr"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *auditRow) toDomain() t.AuditLogEntry {
	return t.AuditLogEntry{
		ObjHeader:    t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt},
		UserID:       deref(r.UserID),
		Action:       r.Action,
		ResourceType: deref(r.ResourceType),
		ResourceID:   deref(r.ResourceID),
		Detail:       deref(r.Detail),
		SourceAddr:   deref(r.SourceAddr),
	}
}
