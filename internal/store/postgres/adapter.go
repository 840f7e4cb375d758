// Package postgres implements internal/store/adapter.Adapter on top of
// GORM and PostgreSQL (the primary, recommended backend).
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/lanternchat/lantern/internal/store"
	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
)

func onConflictDoNothing() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}

func onConflictUpdateActive() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active"}),
	}
}

// Adapter is the PostgreSQL-backed implementation of adapter.Adapter.
type Adapter struct {
	db *gorm.DB
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an unopened adapter.
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return "postgres" }

func (a *Adapter) Open(ctx context.Context, dsn string) error {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return store.NewBackendError("open postgres", err)
	}
	a.db = db
	return nil
}

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (a *Adapter) IsOpen() bool { return a.db != nil }

func (a *Adapter) Migrate(ctx context.Context) error {
	return runMigrations(a.db)
}

// isUniqueViolation recognizes Postgres' unique_violation SQLSTATE (23505)
// without importing the pgx error type directly, so the adapter stays
// resilient to driver swaps under gorm.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

func isSerializationFailure(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "40001") || strings.Contains(err.Error(), "40P01"))
}

func (a *Adapter) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	retryable := store.IsRetryable(func(err error) bool { return isSerializationFailure(err) })
	return store.RetryAtomic(ctx, store.DefaultRetryPolicy, retryable, func(ctx context.Context) error {
		return store.WithTxnTimeout(ctx, store.DefaultTxnTimeout, func(ctx context.Context) error {
			return a.db.WithContext(ctx).Transaction(fn)
		})
	})
}

// ---- Users ----

func (a *Adapter) UserCreate(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, error) {
	now := time.Now().UTC()
	row := &userRow{ID: t.NewID(), Username: username, Verifier: verifier, Role: string(role), CreatedAt: now, UpdatedAt: now}
	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, store.NewBackendError("user create", err)
	}
	return userFromRow(row), nil
}

func (a *Adapter) UserFindByUsername(ctx context.Context, username string) (*t.User, error) {
	var row userRow
	err := a.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("user find", err)
	}
	return userFromRow(&row), nil
}

func (a *Adapter) UserGet(ctx context.Context, id string) (*t.User, error) {
	var row userRow
	err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("user get", err)
	}
	return userFromRow(&row), nil
}

func (a *Adapter) UserTouchLastSeen(ctx context.Context, id string, when time.Time) error {
	res := a.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("last_seen_at", when)
	if res.Error != nil {
		return store.NewBackendError("user touch", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (a *Adapter) UserDelete(ctx context.Context, id string) (*adapter.DeletionStats, error) {
	stats := &adapter.DeletionStats{}
	err := a.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&userRow{}, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}

		var n int64
		if res := tx.Where("user_id = ?", id).Delete(&sessionRow{}); res.Error != nil {
			return res.Error
		} else {
			n = res.RowsAffected
		}
		stats.SessionsRemoved = int(n)

		if res := tx.Where("user_id = ?", id).Delete(&membershipRow{}); res.Error != nil {
			return res.Error
		} else {
			stats.MembershipsRemoved = int(res.RowsAffected)
		}

		if res := tx.Where("sender_id = ? OR recipient_id = ?", id, id).Delete(&invitationRow{}); res.Error != nil {
			return res.Error
		} else {
			stats.InvitationsRemoved = int(res.RowsAffected)
		}

		if res := tx.Where("user_id = ?", id).Delete(&reactionRow{}); res.Error != nil {
			return res.Error
		} else {
			stats.ReactionsRemoved = int(res.RowsAffected)
		}

		now := time.Now().UTC()
		if res := tx.Model(&messageRow{}).Where("author_id = ? AND deleted_at IS NULL", id).Update("deleted_at", now); res.Error != nil {
			return res.Error
		} else {
			stats.MessagesSoftDeleted = int(res.RowsAffected)
		}

		return tx.Delete(&userRow{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, store.NewBackendError("user delete", err)
	}
	return stats, nil
}

// ---- Sessions ----

func (a *Adapter) SessionCreate(ctx context.Context, userID string, expiresAt *time.Time) (*t.Session, error) {
	now := time.Now().UTC()
	row := &sessionRow{ID: t.NewID(), UserID: userID, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}
	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, store.NewBackendError("session create", err)
	}
	return &t.Session{ObjHeader: t.ObjHeader{ID: row.ID, CreatedAt: now, UpdatedAt: now}, UserID: userID, ExpiresAt: expiresAt}, nil
}

func (a *Adapter) SessionGet(ctx context.Context, id string) (*t.Session, error) {
	var row sessionRow
	err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("session get", err)
	}
	return &t.Session{ObjHeader: t.ObjHeader{ID: row.ID, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}, UserID: row.UserID, ExpiresAt: row.ExpiresAt}, nil
}

func (a *Adapter) SessionDelete(ctx context.Context, id string) error {
	return a.db.WithContext(ctx).Delete(&sessionRow{}, "id = ?", id).Error
}

func (a *Adapter) RegisterUserWithInitialSession(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, *t.Session, error) {
	var user *t.User
	var session *t.Session
	err := a.withTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		uRow := &userRow{ID: t.NewID(), Username: username, Verifier: verifier, Role: string(role), CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(uRow).Error; err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		sRow := &sessionRow{ID: t.NewID(), UserID: uRow.ID, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(sRow).Error; err != nil {
			return err
		}
		user = userFromRow(uRow)
		session = &t.Session{ObjHeader: t.ObjHeader{ID: sRow.ID, CreatedAt: now, UpdatedAt: now}, UserID: uRow.ID}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, err
		}
		return nil, nil, store.NewBackendError("register user", err)
	}
	return user, session, nil
}

// ---- Rooms ----

func (a *Adapter) RoomCreate(ctx context.Context, name string, privacy t.Privacy, ownerID string) (*t.Room, error) {
	now := time.Now().UTC()
	row := &roomRow{ID: t.NewID(), Name: name, Privacy: string(privacy), OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, store.NewBackendError("room create", err)
	}
	return roomFromRow(row), nil
}

func (a *Adapter) RoomGetByName(ctx context.Context, name string) (*t.Room, error) {
	var row roomRow
	err := a.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("room get by name", err)
	}
	return roomFromRow(&row), nil
}

func (a *Adapter) RoomGet(ctx context.Context, id string) (*t.Room, error) {
	var row roomRow
	err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("room get", err)
	}
	return roomFromRow(&row), nil
}

func (a *Adapter) RoomList(ctx context.Context, p adapter.Pagination) ([]t.Room, error) {
	q := a.db.WithContext(ctx).Order("created_at asc")
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	if p.Before != nil {
		if cursor, err := a.RoomGet(ctx, *p.Before); err == nil {
			q = q.Where("created_at > ?", cursor.CreatedAt)
		}
	}
	var rows []roomRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, store.NewBackendError("room list", err)
	}
	out := make([]t.Room, 0, len(rows))
	for i := range rows {
		out = append(out, *roomFromRow(&rows[i]))
	}
	return out, nil
}

func (a *Adapter) RoomDelete(ctx context.Context, id string) error {
	return a.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&membershipRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&invitationRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&roomRow{}, "id = ?", id).Error
	})
}

func (a *Adapter) CreateRoomWithOwnerMembership(ctx context.Context, name string, privacy t.Privacy, ownerID string) (*t.Room, error) {
	var room *t.Room
	err := a.withTx(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		row := &roomRow{ID: t.NewID(), Name: name, Privacy: string(privacy), OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(row).Error; err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		mrow := &membershipRow{RoomID: row.ID, UserID: ownerID, Role: string(t.MemberOwner), JoinedAt: now, Active: true}
		if err := tx.Create(mrow).Error; err != nil {
			return err
		}
		room = roomFromRow(row)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return nil, store.NewBackendError("create room with owner", err)
	}
	return room, nil
}

// ---- Memberships ----

func (a *Adapter) MembershipAdd(ctx context.Context, roomID, userID string, role t.MemberRole) error {
	now := time.Now().UTC()
	row := &membershipRow{RoomID: roomID, UserID: userID, Role: string(role), JoinedAt: now, Active: true}
	err := a.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Assign(map[string]interface{}{"active": true}).
		FirstOrCreate(row).Error
	if err != nil {
		return store.NewBackendError("membership add", err)
	}
	return nil
}

func (a *Adapter) MembershipRemove(ctx context.Context, roomID, userID string) error {
	res := a.db.WithContext(ctx).Delete(&membershipRow{}, "room_id = ? AND user_id = ?", roomID, userID)
	if res.Error != nil {
		return store.NewBackendError("membership remove", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (a *Adapter) MembershipGet(ctx context.Context, roomID, userID string) (*t.RoomMembership, error) {
	var row membershipRow
	err := a.db.WithContext(ctx).Where("room_id = ? AND user_id = ? AND active = true", roomID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("membership get", err)
	}
	m := membershipFromRow(&row)
	return &m, nil
}

func (a *Adapter) MembershipsForUser(ctx context.Context, userID string) ([]t.RoomMembership, error) {
	var rows []membershipRow
	if err := a.db.WithContext(ctx).Where("user_id = ? AND active = true", userID).Find(&rows).Error; err != nil {
		return nil, store.NewBackendError("memberships for user", err)
	}
	out := make([]t.RoomMembership, 0, len(rows))
	for i := range rows {
		out = append(out, membershipFromRow(&rows[i]))
	}
	return out, nil
}

func (a *Adapter) MembershipsForRoom(ctx context.Context, roomID string, p adapter.Pagination) ([]t.RoomMembership, error) {
	q := a.db.WithContext(ctx).Where("room_id = ? AND active = true", roomID).Order("joined_at asc")
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	var rows []membershipRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, store.NewBackendError("memberships for room", err)
	}
	out := make([]t.RoomMembership, 0, len(rows))
	for i := range rows {
		out = append(out, membershipFromRow(&rows[i]))
	}
	return out, nil
}

// ---- Messages ----

func (a *Adapter) MessageStore(ctx context.Context, msg *t.Message) (*t.Message, error) {
	now := time.Now().UTC()
	row := &messageRow{
		ID: t.NewID(), RoomID: msg.RoomID, DMPairID: msg.DMPairID, AuthorID: msg.AuthorID,
		Content: msg.Content, Type: string(msg.Type), ParentID: msg.ParentID,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, store.NewBackendError("message store", err)
	}
	return messageFromRow(row, map[string]map[string]bool{}), nil
}

func (a *Adapter) loadMessageRow(ctx context.Context, id string) (*messageRow, error) {
	var row messageRow
	err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("message load", err)
	}
	return &row, nil
}

func (a *Adapter) reactionsFor(ctx context.Context, messageID string) (map[string]map[string]bool, error) {
	var rows []reactionRow
	if err := a.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]map[string]bool{}
	for _, r := range rows {
		if out[r.Emoji] == nil {
			out[r.Emoji] = map[string]bool{}
		}
		out[r.Emoji][r.UserID] = true
	}
	return out, nil
}

func (a *Adapter) MessageGet(ctx context.Context, id string) (*t.Message, error) {
	row, err := a.loadMessageRow(ctx, id)
	if err != nil {
		return nil, err
	}
	reactions, err := a.reactionsFor(ctx, id)
	if err != nil {
		return nil, store.NewBackendError("message get reactions", err)
	}
	return messageFromRow(row, reactions), nil
}

func (a *Adapter) MessageEdit(ctx context.Context, id, editorID, newContent string, when time.Time) (*t.Message, error) {
	row, err := a.loadMessageRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if row.AuthorID != editorID {
		return nil, store.ErrPermissionDenied
	}
	// Idempotent under equal content: keep the first edited_at (spec.md §8 property 6).
	update := map[string]interface{}{"content": newContent, "updated_at": when}
	if row.Content != newContent || row.EditedAt == nil {
		if row.EditedAt == nil {
			update["edited_at"] = when
		}
	}
	if err := a.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", id).Updates(update).Error; err != nil {
		return nil, store.NewBackendError("message edit", err)
	}
	return a.MessageGet(ctx, id)
}

func (a *Adapter) MessageDelete(ctx context.Context, id, actorID string, when time.Time) error {
	row, err := a.loadMessageRow(ctx, id)
	if err != nil {
		return err
	}
	if row.DeletedAt != nil {
		return nil // idempotent (spec.md §8 property 7)
	}
	if row.AuthorID != actorID {
		return store.ErrPermissionDenied
	}
	return a.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", id).Update("deleted_at", when).Error
}

func (a *Adapter) MessageReact(ctx context.Context, id, userID, emoji string, when time.Time) (*t.Message, error) {
	row := &reactionRow{MessageID: id, UserID: userID, Emoji: emoji, CreatedAt: when}
	err := a.db.WithContext(ctx).Clauses(onConflictDoNothing()).Create(row).Error
	if err != nil {
		return nil, store.NewBackendError("message react", err)
	}
	return a.MessageGet(ctx, id)
}

func (a *Adapter) MessageUnreact(ctx context.Context, id, userID, emoji string) (*t.Message, error) {
	err := a.db.WithContext(ctx).Delete(&reactionRow{}, "message_id = ? AND user_id = ? AND emoji = ?", id, userID, emoji).Error
	if err != nil {
		return nil, store.NewBackendError("message unreact", err)
	}
	return a.MessageGet(ctx, id)
}

func (a *Adapter) MessageSearch(ctx context.Context, roomID, query string, limit int) ([]t.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []messageRow
	err := a.db.WithContext(ctx).
		Where("room_id = ? AND deleted_at IS NULL AND content ILIKE ?", roomID, "%"+query+"%").
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, store.NewBackendError("message search", err)
	}
	return a.hydrateMessages(ctx, rows)
}

func (a *Adapter) MessageHistory(ctx context.Context, roomID string, limit int, before *string) ([]t.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := a.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at desc, id desc").Limit(limit)
	if before != nil {
		cursor, err := a.loadMessageRow(ctx, *before)
		if err == nil {
			q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
		}
	}
	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, store.NewBackendError("message history", err)
	}
	return a.hydrateMessages(ctx, rows)
}

func (a *Adapter) MessageThread(ctx context.Context, parentID string, limit int) ([]t.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []messageRow
	err := a.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("created_at asc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, store.NewBackendError("message thread", err)
	}
	return a.hydrateMessages(ctx, rows)
}

func (a *Adapter) hydrateMessages(ctx context.Context, rows []messageRow) ([]t.Message, error) {
	out := make([]t.Message, 0, len(rows))
	for i := range rows {
		r := rows[i]
		content := r.Content
		if r.DeletedAt != nil {
			content = "" // soft-deleted content hidden from history/search (spec.md §3.2)
		}
		reactions, err := a.reactionsFor(ctx, r.ID)
		if err != nil {
			return nil, store.NewBackendError("hydrate reactions", err)
		}
		m := messageFromRow(&r, reactions)
		m.Content = content
		out = append(out, *m)
	}
	return out, nil
}

func (a *Adapter) MessageMarkRead(ctx context.Context, userID, roomID, upToMessageID string, when time.Time) error {
	var existing receiptRow
	err := a.db.WithContext(ctx).Where("user_id = ? AND room_id = ?", userID, roomID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return a.db.WithContext(ctx).Create(&receiptRow{UserID: userID, RoomID: roomID, LastReadMsgID: upToMessageID, UpdatedAt: when}).Error
	} else if err != nil {
		return store.NewBackendError("mark read", err)
	}

	// Monotonic: never move the cursor backwards (spec.md §8 property 8).
	cur, errCur := a.loadMessageRow(ctx, existing.LastReadMsgID)
	next, errNext := a.loadMessageRow(ctx, upToMessageID)
	if errCur == nil && errNext == nil && !next.CreatedAt.After(cur.CreatedAt) {
		return nil
	}
	return a.db.WithContext(ctx).Model(&receiptRow{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Updates(map[string]interface{}{"last_read_msg_id": upToMessageID, "updated_at": when}).Error
}

// ---- Invitations ----

func (a *Adapter) CreateInvitationWithReservedMembership(ctx context.Context, senderID, recipientID, roomID string, expiresAt time.Time, reserve bool) (*t.Invitation, error) {
	var inv *t.Invitation
	err := a.withTx(ctx, func(tx *gorm.DB) error {
		var existing invitationRow
		err := tx.Where("recipient_id = ? AND room_id = ? AND status = ?", recipientID, roomID, string(t.InvitationPending)).First(&existing).Error
		if err == nil {
			return store.ErrConflict
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		row := &invitationRow{
			ID: t.NewID(), SenderID: senderID, RecipientID: recipientID, RoomID: roomID,
			Status: string(t.InvitationPending), ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now,
		}
		if err := tx.Create(row).Error; err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		if reserve {
			mrow := &membershipRow{RoomID: roomID, UserID: recipientID, Role: string(t.MemberGuest), JoinedAt: now, Active: false}
			if err := tx.Clauses(onConflictDoNothing()).Create(mrow).Error; err != nil {
				return err
			}
		}
		inv = invitationFromRow(row)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return nil, store.NewBackendError("create invitation", err)
	}
	return inv, nil
}

func (a *Adapter) InvitationGet(ctx context.Context, id string) (*t.Invitation, error) {
	var row invitationRow
	err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("invitation get", err)
	}
	return invitationFromRow(&row), nil
}

func (a *Adapter) InvitationGetLatestPending(ctx context.Context, recipientID, roomID string) (*t.Invitation, error) {
	var row invitationRow
	q := a.db.WithContext(ctx).Where("recipient_id = ? AND status = ?", recipientID, string(t.InvitationPending))
	if roomID != "" {
		q = q.Where("room_id = ?", roomID)
	}
	err := q.Order("created_at desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("invitation latest", err)
	}
	return invitationFromRow(&row), nil
}

func (a *Adapter) PendingInvitationsFor(ctx context.Context, userID string, now time.Time) ([]t.Invitation, error) {
	var rows []invitationRow
	err := a.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ? AND expires_at > ?", userID, string(t.InvitationPending), now).
		Order("created_at asc").Find(&rows).Error
	if err != nil {
		return nil, store.NewBackendError("pending invitations", err)
	}
	out := make([]t.Invitation, 0, len(rows))
	for i := range rows {
		out = append(out, *invitationFromRow(&rows[i]))
	}
	return out, nil
}

func (a *Adapter) AcceptInvitation(ctx context.Context, id string, when time.Time) (*t.Invitation, error) {
	var inv *t.Invitation
	err := a.withTx(ctx, func(tx *gorm.DB) error {
		var row invitationRow
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if row.Status != string(t.InvitationPending) {
			return store.ErrInvalidTransition
		}
		row.Status = string(t.InvitationAccepted)
		row.RespondedAt = &when
		row.UpdatedAt = when
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		mrow := &membershipRow{RoomID: row.RoomID, UserID: row.RecipientID, Role: string(t.MemberMember), JoinedAt: when, Active: true}
		if err := tx.Clauses(onConflictUpdateActive()).Create(mrow).Error; err != nil {
			return err
		}
		inv = invitationFromRow(&row)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			return nil, err
		}
		return nil, store.NewBackendError("accept invitation", err)
	}
	return inv, nil
}

func (a *Adapter) RespondInvitation(ctx context.Context, id string, status t.InvitationStatus, when time.Time) (*t.Invitation, error) {
	var row invitationRow
	if err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.NewBackendError("respond invitation", err)
	}
	if row.Status != string(t.InvitationPending) {
		return nil, store.ErrInvalidTransition
	}
	row.Status = string(status)
	row.RespondedAt = &when
	row.UpdatedAt = when
	if err := a.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, store.NewBackendError("respond invitation save", err)
	}
	return invitationFromRow(&row), nil
}

// ---- Audit ----

func (a *Adapter) AuditAppend(ctx context.Context, entry *t.AuditLogEntry) error {
	now := time.Now().UTC()
	row := &auditRow{
		ID: t.NewID(), UserID: entry.UserID, Action: entry.Action, ResourceType: entry.ResourceType,
		ResourceID: entry.ResourceID, Detail: entry.Detail, SourceAddr: entry.SourceAddr, CreatedAt: now,
	}
	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		return store.NewBackendError("audit append", err)
	}
	return nil
}

func (a *Adapter) AuditRecent(ctx context.Context, limit int) ([]t.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	if err := a.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, store.NewBackendError("audit recent", err)
	}
	return auditRowsToEntries(rows), nil
}

func (a *Adapter) AuditForUser(ctx context.Context, userID string, limit int) ([]t.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	if err := a.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, store.NewBackendError("audit for user", err)
	}
	return auditRowsToEntries(rows), nil
}

func auditRowsToEntries(rows []auditRow) []t.AuditLogEntry {
	out := make([]t.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, t.AuditLogEntry{
			ObjHeader:    t.ObjHeader{ID: r.ID, CreatedAt: r.CreatedAt},
			UserID:       r.UserID,
			Action:       r.Action,
			ResourceType: r.ResourceType,
			ResourceID:   r.ResourceID,
			Detail:       r.Detail,
			SourceAddr:   r.SourceAddr,
		})
	}
	return out
}
