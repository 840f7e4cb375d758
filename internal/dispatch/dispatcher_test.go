package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanternchat/lantern/internal/auth"
	"github.com/lanternchat/lantern/internal/invites"
	"github.com/lanternchat/lantern/internal/messages"
	"github.com/lanternchat/lantern/internal/rooms"
	"github.com/lanternchat/lantern/internal/security"
	"github.com/lanternchat/lantern/internal/session"
	"github.com/lanternchat/lantern/internal/store"
	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
)

// fakeAdapter is a minimal in-memory adapter.Adapter double for
// exercising the dispatcher without a real database.
type fakeAdapter struct {
	mu      sync.Mutex
	users   map[string]*t.User // by id
	byName  map[string]string  // username -> id
	rooms   map[string]*t.Room // by id
	byRoom  map[string]string  // name -> id
	members map[string]map[string]t.MemberRole // roomID -> userID -> role
	audit   []t.AuditLogEntry
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		users:   make(map[string]*t.User),
		byName:  make(map[string]string),
		rooms:   make(map[string]*t.Room),
		byRoom:  make(map[string]string),
		members: make(map[string]map[string]t.MemberRole),
	}
}

func (f *fakeAdapter) Open(context.Context, string) error { return nil }
func (f *fakeAdapter) Close() error                        { return nil }
func (f *fakeAdapter) IsOpen() bool                         { return true }
func (f *fakeAdapter) Migrate(context.Context) error        { return nil }
func (f *fakeAdapter) Name() string                         { return "fake" }

func (f *fakeAdapter) UserCreate(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byName[username]; exists {
		return nil, store.ErrConflict
	}
	u := &t.User{ObjHeader: t.ObjHeader{ID: t.NewID()}, Username: username, Verifier: verifier, Role: role}
	f.users[u.ID] = u
	f.byName[username] = u.ID
	return u, nil
}

func (f *fakeAdapter) UserFindByUsername(ctx context.Context, username string) (*t.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.users[id], nil
}

func (f *fakeAdapter) UserGet(ctx context.Context, id string) (*t.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeAdapter) UserTouchLastSeen(context.Context, string, time.Time) error { return nil }
func (f *fakeAdapter) UserDelete(context.Context, string) (*adapter.DeletionStats, error) {
	return &adapter.DeletionStats{}, nil
}

func (f *fakeAdapter) SessionCreate(context.Context, string, *time.Time) (*t.Session, error) {
	return &t.Session{}, nil
}
func (f *fakeAdapter) SessionGet(context.Context, string) (*t.Session, error) { return nil, store.ErrNotFound }
func (f *fakeAdapter) SessionDelete(context.Context, string) error            { return nil }

func (f *fakeAdapter) RegisterUserWithInitialSession(ctx context.Context, username string, verifier []byte, role t.Role) (*t.User, *t.Session, error) {
	u, err := f.UserCreate(ctx, username, verifier, role)
	if err != nil {
		return nil, nil, err
	}
	return u, &t.Session{UserID: u.ID}, nil
}

func (f *fakeAdapter) RoomCreate(ctx context.Context, name string, privacy t.Privacy, ownerID string) (*t.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byRoom[name]; exists {
		return nil, store.ErrConflict
	}
	r := &t.Room{ObjHeader: t.ObjHeader{ID: t.NewID()}, Name: name, Privacy: privacy, OwnerID: ownerID}
	f.rooms[r.ID] = r
	f.byRoom[name] = r.ID
	return r, nil
}

func (f *fakeAdapter) RoomGetByName(ctx context.Context, name string) (*t.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byRoom[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.rooms[id], nil
}

func (f *fakeAdapter) RoomGet(ctx context.Context, id string) (*t.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeAdapter) RoomList(ctx context.Context, p adapter.Pagination) ([]t.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]t.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeAdapter) RoomDelete(context.Context, string) error { return nil }

func (f *fakeAdapter) CreateRoomWithOwnerMembership(ctx context.Context, name string, privacy t.Privacy, ownerID string) (*t.Room, error) {
	r, err := f.RoomCreate(ctx, name, privacy, ownerID)
	if err != nil {
		return nil, err
	}
	return r, f.MembershipAdd(ctx, r.ID, ownerID, t.MemberOwner)
}

func (f *fakeAdapter) MembershipAdd(ctx context.Context, roomID, userID string, role t.MemberRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[roomID] == nil {
		f.members[roomID] = make(map[string]t.MemberRole)
	}
	if _, exists := f.members[roomID][userID]; !exists {
		f.members[roomID][userID] = role
	}
	return nil
}

func (f *fakeAdapter) MembershipRemove(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[roomID], userID)
	return nil
}

func (f *fakeAdapter) MembershipGet(ctx context.Context, roomID, userID string) (*t.RoomMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.members[roomID][userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t.RoomMembership{RoomID: roomID, UserID: userID, Role: role, Active: true}, nil
}

func (f *fakeAdapter) MembershipsForUser(ctx context.Context, userID string) ([]t.RoomMembership, error) {
	return nil, nil
}

func (f *fakeAdapter) MembershipsForRoom(ctx context.Context, roomID string, p adapter.Pagination) ([]t.RoomMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]t.RoomMembership, 0, len(f.members[roomID]))
	for uid, role := range f.members[roomID] {
		out = append(out, t.RoomMembership{RoomID: roomID, UserID: uid, Role: role, Active: true})
	}
	return out, nil
}

func (f *fakeAdapter) MessageStore(ctx context.Context, msg *t.Message) (*t.Message, error) {
	msg.InitTimes(time.Now())
	return msg, nil
}
func (f *fakeAdapter) MessageGet(context.Context, string) (*t.Message, error) { return nil, store.ErrNotFound }
func (f *fakeAdapter) MessageEdit(context.Context, string, string, string, time.Time) (*t.Message, error) {
	return nil, store.ErrNotFound
}
func (f *fakeAdapter) MessageDelete(context.Context, string, string, time.Time) error {
	return store.ErrNotFound
}
func (f *fakeAdapter) MessageReact(context.Context, string, string, string, time.Time) (*t.Message, error) {
	return nil, store.ErrNotFound
}
func (f *fakeAdapter) MessageUnreact(context.Context, string, string, string) (*t.Message, error) {
	return nil, store.ErrNotFound
}
func (f *fakeAdapter) MessageSearch(context.Context, string, string, int) ([]t.Message, error) {
	return nil, nil
}
func (f *fakeAdapter) MessageHistory(context.Context, string, int, *string) ([]t.Message, error) {
	return nil, nil
}
func (f *fakeAdapter) MessageThread(context.Context, string, int) ([]t.Message, error) {
	return nil, nil
}
func (f *fakeAdapter) MessageMarkRead(context.Context, string, string, string, time.Time) error {
	return nil
}

func (f *fakeAdapter) CreateInvitationWithReservedMembership(context.Context, string, string, string, time.Time, bool) (*t.Invitation, error) {
	return nil, store.ErrNotFound
}
func (f *fakeAdapter) InvitationGet(context.Context, string) (*t.Invitation, error) {
	return nil, store.ErrNotFound
}
func (f *fakeAdapter) InvitationGetLatestPending(context.Context, string, string) (*t.Invitation, error) {
	return nil, store.ErrNotFound
}
func (f *fakeAdapter) PendingInvitationsFor(context.Context, string, time.Time) ([]t.Invitation, error) {
	return nil, nil
}
func (f *fakeAdapter) AcceptInvitation(context.Context, string, time.Time) (*t.Invitation, error) {
	return nil, store.ErrNotFound
}
func (f *fakeAdapter) RespondInvitation(context.Context, string, t.InvitationStatus, time.Time) (*t.Invitation, error) {
	return nil, store.ErrNotFound
}

func (f *fakeAdapter) AuditAppend(ctx context.Context, entry *t.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, *entry)
	return nil
}
func (f *fakeAdapter) AuditRecent(context.Context, int) ([]t.AuditLogEntry, error) { return nil, nil }
func (f *fakeAdapter) AuditForUser(context.Context, string, int) ([]t.AuditLogEntry, error) {
	return nil, nil
}

var _ adapter.Adapter = (*fakeAdapter)(nil)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeAdapter) {
	fa := newFakeAdapter()
	sessions := session.New(nil, nil, nil)
	logger := zap.NewNop()

	auth.RegisterScheme("basic", auth.NewBasicHandler(fa))

	d := &Dispatcher{
		Store:       fa,
		Sessions:    sessions,
		Rooms:       rooms.New(fa, sessions),
		Messages:    messages.New(fa, sessions, nil),
		Invites:     invites.New(fa, sessions),
		RateLimiter: security.NewRateLimiter(),
		Auditor:     security.NewAuditor(fa, logger),
	}
	return d, fa
}

func registerConn(tt *testing.T, d *Dispatcher, connID, username string) *ConnContext {
	d.Sessions.Register(connID, nil)
	cc := NewConnContext(connID, "127.0.0.1")
	line := `{"Register":{"username":"` + username + `","password":"hunter2222","fingerprint":"a1"}}`
	d.HandleLine(context.Background(), cc, line)
	require.Equal(tt, Authenticated, cc.State)
	sess, ok := d.Sessions.Get(connID)
	require.True(tt, ok)
	select {
	case reply := <-sess.Send():
		require.Equal(tt, "SYSTEM_MESSAGE:Authentication successful", reply)
	default:
		tt.Fatal("expected the registration reply on the outbound queue")
	}
	return cc
}

func TestRegisterTransitionsToAuthenticated(t *testing.T) {
	d, _ := newTestDispatcher(t)
	cc := registerConn(t, d, "conn-1", "alice")
	require.NotEmpty(t, cc.UserID)
	require.Equal(t, "alice", cc.Username)
}

func TestPreAuthRejectsPlainCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Sessions.Register("conn-2", nil)
	cc := NewConnContext("conn-2", "127.0.0.1")
	fatal := d.HandleLine(context.Background(), cc, "CREATE_ROOM:general")
	require.True(t, fatal)
}

func TestCreateAndJoinRoom(t *testing.T) {
	d, _ := newTestDispatcher(t)
	owner := registerConn(t, d, "conn-3", "owner")
	d.HandleLine(context.Background(), owner, "CREATE_ROOM:general")

	guest := registerConn(t, d, "conn-4", "guest")
	d.HandleLine(context.Background(), guest, "JOIN_ROOM:general")

	sess, ok := d.Sessions.Get("conn-4")
	require.True(t, ok)
	require.NotEmpty(t, sess.CurrentRoom)
}

func TestUnknownCommandProducesErrorLine(t *testing.T) {
	d, _ := newTestDispatcher(t)
	cc := registerConn(t, d, "conn-5", "dave")
	fatal := d.HandleLine(context.Background(), cc, "NOT_A_REAL_COMMAND:arg")
	require.False(t, fatal)
	sess, _ := d.Sessions.Get("conn-5")
	select {
	case line := <-sess.Send():
		require.Equal(t, "ERROR:UNKNOWN_COMMAND", line)
	default:
		t.Fatal("expected an ERROR line on the outbound queue")
	}
}

func TestPlainLineIsTreatedAsLobbyChat(t *testing.T) {
	d, _ := newTestDispatcher(t)
	speaker := registerConn(t, d, "conn-6", "eve")
	listener := registerConn(t, d, "conn-7", "frank")

	d.HandleLine(context.Background(), speaker, "hello everyone")

	listenerSess, ok := d.Sessions.Get(listener.ConnID)
	require.True(t, ok)
	select {
	case line := <-listenerSess.Send():
		require.Contains(t, line, "hello everyone")
	default:
		t.Fatal("listener should have received the lobby broadcast")
	}
}
