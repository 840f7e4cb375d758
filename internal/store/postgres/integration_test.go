//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lanternchat/lantern/internal/store/adapter"
	lanternpg "github.com/lanternchat/lantern/internal/store/postgres"
	types "github.com/lanternchat/lantern/internal/store/types"
)

func newTestAdapter(ctx context.Context, tt *testing.T) *lanternpg.Adapter {
	tt.Helper()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("lanternchat"),
		postgres.WithUsername("lanternchat"),
		postgres.WithPassword("lanternchat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(tt, err)
	tt.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(tt, err)

	a := lanternpg.New()
	require.NoError(tt, a.Open(ctx, dsn))
	tt.Cleanup(func() { _ = a.Close() })
	require.NoError(tt, a.Migrate(ctx))

	return a
}

func TestPostgresAdapter_UserRoomMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(ctx, t)

	owner, err := a.UserCreate(ctx, "alice", []byte("verifier"), types.RoleUser)
	require.NoError(t, err)
	require.Equal(t, "alice", owner.Username)

	found, err := a.UserFindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, owner.ID, found.ID)

	room, err := a.CreateRoomWithOwnerMembership(ctx, "general", types.PrivacyPublic, owner.ID)
	require.NoError(t, err)
	require.Equal(t, "general", room.Name)

	members, err := a.MembershipsForRoom(ctx, room.ID, adapter.Pagination{})
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, owner.ID, members[0].UserID)

	msg, err := a.MessageStore(ctx, &types.Message{
		RoomID:   room.ID,
		AuthorID: owner.ID,
		Content:  "hello room",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	history, err := a.MessageHistory(ctx, room.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "hello room", history[0].Content)
}

func TestPostgresAdapter_InvitationLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(ctx, t)

	owner, err := a.UserCreate(ctx, "owner", []byte("verifier"), types.RoleUser)
	require.NoError(t, err)
	invitee, err := a.UserCreate(ctx, "invitee", []byte("verifier"), types.RoleUser)
	require.NoError(t, err)
	room, err := a.CreateRoomWithOwnerMembership(ctx, "private-room", types.PrivacyPrivate, owner.ID)
	require.NoError(t, err)

	inv, err := a.CreateInvitationWithReservedMembership(ctx, owner.ID, invitee.ID, room.ID, time.Now().Add(time.Hour), true)
	require.NoError(t, err)
	require.Equal(t, types.InvitationPending, inv.Status)

	pending, err := a.PendingInvitationsFor(ctx, invitee.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	accepted, err := a.AcceptInvitation(ctx, inv.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, types.InvitationAccepted, accepted.Status)

	membership, err := a.MembershipGet(ctx, room.ID, invitee.ID)
	require.NoError(t, err)
	require.NotNil(t, membership)
}
