package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lanternchat/lantern/internal/store"
	t "github.com/lanternchat/lantern/internal/store/types"
)

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (a *Adapter) MessageStore(ctx context.Context, msg *t.Message) (*t.Message, error) {
	now := time.Now().UTC()
	id := t.NewID()
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, dm_pair_id, author_id, content, type, parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, strPtr(msg.RoomID), strPtr(msg.DMPairID), msg.AuthorID, msg.Content, string(msg.Type), strPtr(msg.ParentID), now, now)
	if err != nil {
		return nil, store.NewBackendError("message store", err)
	}
	return &t.Message{
		ObjHeader: t.ObjHeader{ID: id, CreatedAt: now, UpdatedAt: now},
		RoomID:    msg.RoomID, DMPairID: msg.DMPairID, AuthorID: msg.AuthorID,
		Content: msg.Content, Type: msg.Type, ParentID: msg.ParentID,
		Reactions: map[string]map[string]bool{},
	}, nil
}

func (a *Adapter) loadMessageRow(ctx context.Context, id string) (*messageRow, error) {
	var row messageRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("message load", err)
	}
	return &row, nil
}

func (a *Adapter) reactionsFor(ctx context.Context, messageID string) (map[string]map[string]bool, error) {
	var rows []reactionRow
	if err := a.db.SelectContext(ctx, &rows, `SELECT * FROM reactions WHERE message_id = ?`, messageID); err != nil {
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
	return row.toDomain(reactions), nil
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
	if row.EditedAt == nil {
		_, err = a.db.ExecContext(ctx, `UPDATE messages SET content = ?, edited_at = ?, updated_at = ? WHERE id = ?`, newContent, when, when, id)
	} else {
		_, err = a.db.ExecContext(ctx, `UPDATE messages SET content = ?, updated_at = ? WHERE id = ?`, newContent, when, id)
	}
	if err != nil {
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
		return nil
	}
	if row.AuthorID != actorID {
		return store.ErrPermissionDenied
	}
	_, err = a.db.ExecContext(ctx, `UPDATE messages SET deleted_at = ? WHERE id = ?`, when, id)
	if err != nil {
		return store.NewBackendError("message delete", err)
	}
	return nil
}

func (a *Adapter) MessageReact(ctx context.Context, id, userID, emoji string, when time.Time) (*t.Message, error) {
	_, err := a.db.ExecContext(ctx,
		`INSERT IGNORE INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
		id, userID, emoji, when)
	if err != nil {
		return nil, store.NewBackendError("message react", err)
	}
	return a.MessageGet(ctx, id)
}

func (a *Adapter) MessageUnreact(ctx context.Context, id, userID, emoji string) (*t.Message, error) {
	_, err := a.db.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`, id, userID, emoji)
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
	err := a.db.SelectContext(ctx, &rows,
		`SELECT * FROM messages WHERE room_id = ? AND deleted_at IS NULL AND content LIKE ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		roomID, "%"+query+"%", limit)
	if err != nil {
		return nil, store.NewBackendError("message search", err)
	}
	return a.hydrateMessages(ctx, rows)
}

func (a *Adapter) MessageHistory(ctx context.Context, roomID string, limit int, before *string) ([]t.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT * FROM messages WHERE room_id = ?`
	args := []interface{}{roomID}
	if before != nil {
		if cursor, err := a.loadMessageRow(ctx, *before); err == nil {
			query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
			args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	var rows []messageRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, store.NewBackendError("message history", err)
	}
	return a.hydrateMessages(ctx, rows)
}

func (a *Adapter) MessageThread(ctx context.Context, parentID string, limit int) ([]t.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []messageRow
	err := a.db.SelectContext(ctx, &rows, `SELECT * FROM messages WHERE parent_id = ? ORDER BY created_at ASC LIMIT ?`, parentID, limit)
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
			content = ""
		}
		reactions, err := a.reactionsFor(ctx, r.ID)
		if err != nil {
			return nil, store.NewBackendError("hydrate reactions", err)
		}
		m := r.toDomain(reactions)
		m.Content = content
		out = append(out, *m)
	}
	return out, nil
}

func (a *Adapter) MessageMarkRead(ctx context.Context, userID, roomID, upToMessageID string, when time.Time) error {
	var existing struct {
		LastReadMsgID *string `db:"last_read_msg_id"`
	}
	err := a.db.GetContext(ctx, &existing, `SELECT last_read_msg_id FROM read_receipts WHERE user_id = ? AND room_id = ?`, userID, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = a.db.ExecContext(ctx, `INSERT INTO read_receipts (user_id, room_id, last_read_msg_id, updated_at) VALUES (?, ?, ?, ?)`,
			userID, roomID, upToMessageID, when)
		if err != nil {
			return store.NewBackendError("mark read", err)
		}
		return nil
	} else if err != nil {
		return store.NewBackendError("mark read", err)
	}

	if existing.LastReadMsgID != nil {
		cur, errCur := a.loadMessageRow(ctx, *existing.LastReadMsgID)
		next, errNext := a.loadMessageRow(ctx, upToMessageID)
		if errCur == nil && errNext == nil && !next.CreatedAt.After(cur.CreatedAt) {
			return nil
		}
	}
	_, err = a.db.ExecContext(ctx, `UPDATE read_receipts SET last_read_msg_id = ?, updated_at = ? WHERE user_id = ? AND room_id = ?`,
		upToMessageID, when, userID, roomID)
	if err != nil {
		return store.NewBackendError("mark read update", err)
	}
	return nil
}

// ---- Invitations ----

func (a *Adapter) CreateInvitationWithReservedMembership(ctx context.Context, senderID, recipientID, roomID string, expiresAt time.Time, reserve bool) (*t.Invitation, error) {
	var inv *t.Invitation
	err := a.inTx(ctx, func(tx *sqlx.Tx) error {
		var existing string
		err := tx.GetContext(ctx, &existing,
			`SELECT id FROM invitations WHERE recipient_id = ? AND room_id = ? AND status = ?`,
			recipientID, roomID, string(t.InvitationPending))
		if err == nil {
			return store.ErrConflict
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		now := time.Now().UTC()
		id := t.NewID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO invitations (id, sender_id, recipient_id, room_id, status, expires_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, senderID, recipientID, roomID, string(t.InvitationPending), expiresAt, now, now); err != nil {
			return err
		}
		if reserve {
			if _, err := tx.ExecContext(ctx,
				`INSERT IGNORE INTO room_memberships (room_id, user_id, role, joined_at, active) VALUES (?, ?, ?, ?, 0)`,
				roomID, recipientID, string(t.MemberGuest), now); err != nil {
				return err
			}
		}
		inv = &t.Invitation{
			ObjHeader: t.ObjHeader{ID: id, CreatedAt: now, UpdatedAt: now},
			SenderID:  senderID, RecipientID: recipientID, RoomID: roomID,
			Status: t.InvitationPending, ExpiresAt: expiresAt,
		}
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
	err := a.db.GetContext(ctx, &row, `SELECT * FROM invitations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("invitation get", err)
	}
	return row.toDomain(), nil
}

func (a *Adapter) InvitationGetLatestPending(ctx context.Context, recipientID, roomID string) (*t.Invitation, error) {
	query := `SELECT * FROM invitations WHERE recipient_id = ? AND status = ?`
	args := []interface{}{recipientID, string(t.InvitationPending)}
	if roomID != "" {
		query += ` AND room_id = ?`
		args = append(args, roomID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`
	var row invitationRow
	err := a.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("invitation latest", err)
	}
	return row.toDomain(), nil
}

func (a *Adapter) PendingInvitationsFor(ctx context.Context, userID string, now time.Time) ([]t.Invitation, error) {
	var rows []invitationRow
	err := a.db.SelectContext(ctx, &rows,
		`SELECT * FROM invitations WHERE recipient_id = ? AND status = ? AND expires_at > ? ORDER BY created_at ASC`,
		userID, string(t.InvitationPending), now)
	if err != nil {
		return nil, store.NewBackendError("pending invitations", err)
	}
	out := make([]t.Invitation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}

func (a *Adapter) AcceptInvitation(ctx context.Context, id string, when time.Time) (*t.Invitation, error) {
	var inv *t.Invitation
	err := a.inTx(ctx, func(tx *sqlx.Tx) error {
		var row invitationRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM invitations WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if row.Status != string(t.InvitationPending) {
			return store.ErrInvalidTransition
		}
		if _, err := tx.ExecContext(ctx, `UPDATE invitations SET status = ?, responded_at = ?, updated_at = ? WHERE id = ?`,
			string(t.InvitationAccepted), when, when, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_memberships (room_id, user_id, role, joined_at, active) VALUES (?, ?, ?, ?, 1)
			 ON DUPLICATE KEY UPDATE active = 1`,
			row.RoomID, row.RecipientID, string(t.MemberMember), when); err != nil {
			return err
		}
		row.Status = string(t.InvitationAccepted)
		row.RespondedAt = &when
		inv = row.toDomain()
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
	if err := a.db.GetContext(ctx, &row, `SELECT * FROM invitations WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.NewBackendError("respond invitation", err)
	}
	if row.Status != string(t.InvitationPending) {
		return nil, store.ErrInvalidTransition
	}
	if _, err := a.db.ExecContext(ctx, `UPDATE invitations SET status = ?, responded_at = ?, updated_at = ? WHERE id = ?`,
		string(status), when, when, id); err != nil {
		return nil, store.NewBackendError("respond invitation update", err)
	}
	row.Status = string(status)
	row.RespondedAt = &when
	return row.toDomain(), nil
}

// ---- Audit ----

func (a *Adapter) AuditAppend(ctx context.Context, entry *t.AuditLogEntry) error {
	now := time.Now().UTC()
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, user_id, action, resource_type, resource_id, detail, source_addr, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.NewID(), strPtr(entry.UserID), entry.Action, strPtr(entry.ResourceType), strPtr(entry.ResourceID),
		strPtr(entry.Detail), strPtr(entry.SourceAddr), now)
	if err != nil {
		return store.NewBackendError("audit append", err)
	}
	return nil
}

func (a *Adapter) AuditRecent(ctx context.Context, limit int) ([]t.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	if err := a.db.SelectContext(ctx, &rows, `SELECT * FROM audit_log ORDER BY created_at DESC LIMIT ?`, limit); err != nil {
		return nil, store.NewBackendError("audit recent", err)
	}
	out := make([]t.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (a *Adapter) AuditForUser(ctx context.Context, userID string, limit int) ([]t.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []auditRow
	if err := a.db.SelectContext(ctx, &rows, `SELECT * FROM audit_log WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit); err != nil {
		return nil, store.NewBackendError("audit for user", err)
	}
	out := make([]t.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
