// Package mysql is the secondary/legacy relational backend, grounded on
// the teacher's own production dependencies (jmoiron/sqlx +
// go-sql-driver/mysql) rather than the Postgres backend's ORM.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lanternchat/lantern/internal/store"
	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
)

// Adapter implements adapter.Adapter directly over database/sql via sqlx.
type Adapter struct {
	db *sqlx.DB
}

var _ adapter.Adapter = (*Adapter)(nil)

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "mysql" }

func (a *Adapter) Open(ctx context.Context, dsn string) error {
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return store.NewBackendError("open mysql", err)
	}
	a.db = db
	return nil
}

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) IsOpen() bool { return a.db != nil }

func (a *Adapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return store.NewBackendError("mysql migrate", err)
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	return err != nil && (containsAny(err.Error(), "1062", "Duplicate entry"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func (a *Adapter) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	retryable := store.IsRetryable(func(err error) bool { return containsAny(err.Error(), "1213", "Deadlock found") })
	return store.RetryAtomic(ctx, store.DefaultRetryPolicy, retryable, func(ctx context.Context) error {
		return store.WithTxnTimeout(ctx, store.DefaultTxnTimeout, func(ctx context.Context) error {
			tx, err := a.db.BeginTxx(ctx, nil)
			if err != nil {
				return err
			}
			if err := fn(tx); err != nil {
				_ = tx.Rollback()
				return err
			}
			return tx.Commit()
		})
	})
}

// ---- Users ----

func (a *Adapter) UserCreate(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, error) {
	now := time.Now().UTC()
	id := t.NewID()
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO users (id, username, verifier, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, username, verifier, string(role), now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, store.ErrConflict
		}
		return nil, store.NewBackendError("user create", err)
	}
	return &t.User{ObjHeader: t.ObjHeader{ID: id, CreatedAt: now, UpdatedAt: now}, Username: username, Verifier: verifier, Role: role}, nil
}

func (a *Adapter) UserFindByUsername(ctx context.Context, username string) (*t.User, error) {
	var row userRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("user find", err)
	}
	return row.toDomain(), nil
}

func (a *Adapter) UserGet(ctx context.Context, id string) (*t.User, error) {
	var row userRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("user get", err)
	}
	return row.toDomain(), nil
}

func (a *Adapter) UserTouchLastSeen(ctx context.Context, id string, when time.Time) error {
	res, err := a.db.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, when, id)
	if err != nil {
		return store.NewBackendError("user touch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (a *Adapter) UserDelete(ctx context.Context, id string) (*adapter.DeletionStats, error) {
	stats := &adapter.DeletionStats{}
	err := a.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists string
		if err := tx.GetContext(ctx, &exists, `SELECT id FROM users WHERE id = ?`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
			return err
		} else {
			n, _ := res.RowsAffected()
			stats.SessionsRemoved = int(n)
		}
		if res, err := tx.ExecContext(ctx, `DELETE FROM room_memberships WHERE user_id = ?`, id); err != nil {
			return err
		} else {
			n, _ := res.RowsAffected()
			stats.MembershipsRemoved = int(n)
		}
		if res, err := tx.ExecContext(ctx, `DELETE FROM invitations WHERE sender_id = ? OR recipient_id = ?`, id, id); err != nil {
			return err
		} else {
			n, _ := res.RowsAffected()
			stats.InvitationsRemoved = int(n)
		}
		if res, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE user_id = ?`, id); err != nil {
			return err
		} else {
			n, _ := res.RowsAffected()
			stats.ReactionsRemoved = int(n)
		}
		now := time.Now().UTC()
		if res, err := tx.ExecContext(ctx, `UPDATE messages SET deleted_at = ? WHERE author_id = ? AND deleted_at IS NULL`, now, id); err != nil {
			return err
		} else {
			n, _ := res.RowsAffected()
			stats.MessagesSoftDeleted = int(n)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		return err
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
	id := t.NewID()
	_, err := a.db.ExecContext(ctx, `INSERT INTO sessions (id, user_id, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, expiresAt, now, now)
	if err != nil {
		return nil, store.NewBackendError("session create", err)
	}
	return &t.Session{ObjHeader: t.ObjHeader{ID: id, CreatedAt: now, UpdatedAt: now}, UserID: userID, ExpiresAt: expiresAt}, nil
}

func (a *Adapter) SessionGet(ctx context.Context, id string) (*t.Session, error) {
	var row sessionRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("session get", err)
	}
	return row.toDomain(), nil
}

func (a *Adapter) SessionDelete(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return store.NewBackendError("session delete", err)
	}
	return nil
}

func (a *Adapter) RegisterUserWithInitialSession(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, *t.Session, error) {
	var user *t.User
	var session *t.Session
	err := a.inTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		uid := t.NewID()
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (id, username, verifier, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			uid, username, verifier, string(role), now, now); err != nil {
			if isDuplicateKey(err) {
				return store.ErrConflict
			}
			return err
		}
		sid := t.NewID()
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			sid, uid, now, now); err != nil {
			return err
		}
		user = &t.User{ObjHeader: t.ObjHeader{ID: uid, CreatedAt: now, UpdatedAt: now}, Username: username, Verifier: verifier, Role: role}
		session = &t.Session{ObjHeader: t.ObjHeader{ID: sid, CreatedAt: now, UpdatedAt: now}, UserID: uid}
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
	id := t.NewID()
	_, err := a.db.ExecContext(ctx, `INSERT INTO rooms (id, name, privacy, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, string(privacy), ownerID, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, store.ErrConflict
		}
		return nil, store.NewBackendError("room create", err)
	}
	return &t.Room{ObjHeader: t.ObjHeader{ID: id, CreatedAt: now, UpdatedAt: now}, Name: name, Privacy: privacy, OwnerID: ownerID}, nil
}

func (a *Adapter) RoomGetByName(ctx context.Context, name string) (*t.Room, error) {
	var row roomRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM rooms WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("room get by name", err)
	}
	return row.toDomain(), nil
}

func (a *Adapter) RoomGet(ctx context.Context, id string) (*t.Room, error) {
	var row roomRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM rooms WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("room get", err)
	}
	return row.toDomain(), nil
}

func (a *Adapter) RoomList(ctx context.Context, p adapter.Pagination) ([]t.Room, error) {
	query := `SELECT * FROM rooms`
	args := []interface{}{}
	if p.Before != nil {
		if cursor, err := a.RoomGet(ctx, *p.Before); err == nil {
			query += ` WHERE created_at > ?`
			args = append(args, cursor.CreatedAt)
		}
	}
	query += ` ORDER BY created_at ASC`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}
	var rows []roomRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, store.NewBackendError("room list", err)
	}
	out := make([]t.Room, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}

func (a *Adapter) RoomDelete(ctx context.Context, id string) error {
	return a.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM room_memberships WHERE room_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invitations WHERE room_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
		return err
	})
}

func (a *Adapter) CreateRoomWithOwnerMembership(ctx context.Context, name string, privacy t.Privacy, ownerID string) (*t.Room, error) {
	var room *t.Room
	err := a.inTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		id := t.NewID()
		if _, err := tx.ExecContext(ctx, `INSERT INTO rooms (id, name, privacy, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, name, string(privacy), ownerID, now, now); err != nil {
			if isDuplicateKey(err) {
				return store.ErrConflict
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO room_memberships (room_id, user_id, role, joined_at, active) VALUES (?, ?, ?, ?, 1)`,
			id, ownerID, string(t.MemberOwner), now); err != nil {
			return err
		}
		room = &t.Room{ObjHeader: t.ObjHeader{ID: id, CreatedAt: now, UpdatedAt: now}, Name: name, Privacy: privacy, OwnerID: ownerID}
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
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO room_memberships (room_id, user_id, role, joined_at, active) VALUES (?, ?, ?, ?, 1)
		 ON DUPLICATE KEY UPDATE active = 1`,
		roomID, userID, string(role), now)
	if err != nil {
		return store.NewBackendError("membership add", err)
	}
	return nil
}

func (a *Adapter) MembershipRemove(ctx context.Context, roomID, userID string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM room_memberships WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return store.NewBackendError("membership remove", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (a *Adapter) MembershipGet(ctx context.Context, roomID, userID string) (*t.RoomMembership, error) {
	var row membershipRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM room_memberships WHERE room_id = ? AND user_id = ? AND active = 1`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, store.NewBackendError("membership get", err)
	}
	m := row.toDomain()
	return &m, nil
}

func (a *Adapter) MembershipsForUser(ctx context.Context, userID string) ([]t.RoomMembership, error) {
	var rows []membershipRow
	if err := a.db.SelectContext(ctx, &rows, `SELECT * FROM room_memberships WHERE user_id = ? AND active = 1`, userID); err != nil {
		return nil, store.NewBackendError("memberships for user", err)
	}
	out := make([]t.RoomMembership, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (a *Adapter) MembershipsForRoom(ctx context.Context, roomID string, p adapter.Pagination) ([]t.RoomMembership, error) {
	query := `SELECT * FROM room_memberships WHERE room_id = ? AND active = 1 ORDER BY joined_at ASC`
	args := []interface{}{roomID}
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}
	var rows []membershipRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, store.NewBackendError("memberships for room", err)
	}
	out := make([]t.RoomMembership, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
