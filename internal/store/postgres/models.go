package postgres

import (
	"time"

	t "github.com/lanternchat/lantern/internal/store/types"
)

// GORM models mirror internal/store/types but add the column tags the
// relational schema needs. Foreign keys are declared in
// migrations/0001_init.up.sql, and timestamps are time.Time fields
// stored in TIMESTAMPTZ columns, not as epoch milliseconds.
// Conversion to/from the domain types happens at the adapter boundary so
// the rest of the server never imports gorm.

type userRow struct {
	ID         string `gorm:"primaryKey"`
	Username   string `gorm:"uniqueIndex;size:32;not null"`
	Verifier   []byte `gorm:"not null"`
	Role       string `gorm:"size:16;not null"`
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userRow) TableName() string { return "users" }

type sessionRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type roomRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:64;not null"`
	Privacy   string `gorm:"size:16;not null"`
	OwnerID   string `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (roomRow) TableName() string { return "rooms" }

type membershipRow struct {
	RoomID   string `gorm:"primaryKey"`
	UserID   string `gorm:"primaryKey"`
	Role     string `gorm:"size:16;not null"`
	JoinedAt time.Time
	Active   bool
}

func (membershipRow) TableName() string { return "room_memberships" }

type messageRow struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string `gorm:"index"`
	DMPairID  string `gorm:"index"`
	AuthorID  string `gorm:"index;not null"`
	Content   string `gorm:"not null"`
	Type      string `gorm:"size:16;not null"`
	ParentID  string `gorm:"index"`
	EditedAt  *time.Time
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (messageRow) TableName() string { return "messages" }

type reactionRow struct {
	MessageID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	Emoji     string `gorm:"primaryKey;size:16"`
	CreatedAt time.Time
}

func (reactionRow) TableName() string { return "reactions" }

type receiptRow struct {
	UserID        string `gorm:"primaryKey"`
	RoomID        string `gorm:"primaryKey"`
	LastReadMsgID string
	UpdatedAt     time.Time
}

func (receiptRow) TableName() string { return "read_receipts" }

type invitationRow struct {
	ID          string `gorm:"primaryKey"`
	SenderID    string `gorm:"index;not null"`
	RecipientID string `gorm:"index;not null"`
	RoomID      string `gorm:"index;not null"`
	Status      string `gorm:"size:16;not null"`
	ExpiresAt   time.Time
	RespondedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (invitationRow) TableName() string { return "invitations" }

type auditRow struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index"`
	Action       string `gorm:"size:64;not null"`
	ResourceType string `gorm:"size:32"`
	ResourceID   string
	Detail       string
	SourceAddr   string
	CreatedAt    time.Time
}

func (auditRow) TableName() string { return "audit_log" }

func userFromRow(r *userRow) *t.User {
	return &t.User{
		ObjHeader:  t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		Username:   r.Username,
		Verifier:   r.Verifier,
		Role:       t.Role(r.Role),
		LastSeenAt: r.LastSeenAt,
	}
}

func roomFromRow(r *roomRow) *t.Room {
	return &t.Room{
		ObjHeader: t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		Name:      r.Name,
		Privacy:   t.Privacy(r.Privacy),
		OwnerID:   r.OwnerID,
	}
}

func membershipFromRow(r *membershipRow) t.RoomMembership {
	return t.RoomMembership{
		RoomID:   r.RoomID,
		UserID:   r.UserID,
		Role:     t.MemberRole(r.Role),
		JoinedAt: r.JoinedAt,
		Active:   r.Active,
	}
}

func messageFromRow(r *messageRow, reactions map[string]map[string]bool) *t.Message {
	return &t.Message{
		ObjHeader: t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		RoomID:    r.RoomID,
		DMPairID:  r.DMPairID,
		AuthorID:  r.AuthorID,
		Content:   r.Content,
		Type:      t.MessageType(r.Type),
		ParentID:  r.ParentID,
		EditedAt:  r.EditedAt,
		DeletedAt: r.DeletedAt,
		Reactions: reactions,
	}
}

func invitationFromRow(r *invitationRow) *t.Invitation {
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
