package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanternchat/lantern/internal/store"
	types "github.com/lanternchat/lantern/internal/store/types"
)

type fakeUsers struct {
	byName map[string]*types.User
}

func (f *fakeUsers) UserFindByUsername(ctx context.Context, username string) (*types.User, error) {
	u, ok := f.byName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func TestBasicHandlerAuthenticate(t *testing.T) {
	verifier, err := HashPassword("hunter22")
	require.NoError(t, err)
	users := &fakeUsers{byName: map[string]*types.User{
		"alice": {ObjHeader: types.ObjHeader{ID: "u1"}, Username: "alice", Verifier: verifier},
	}}
	h := NewBasicHandler(users)

	got, err := h.Authenticate(context.Background(), Credentials{Username: "alice", Secret: "hunter22"})
	require.NoError(t, err)
	require.Equal(t, "u1", got.ID)

	_, err = h.Authenticate(context.Background(), Credentials{Username: "alice", Secret: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.Authenticate(context.Background(), Credentials{Username: "nobody", Secret: "x"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenHandlerRoundTrip(t *testing.T) {
	user := &types.User{ObjHeader: types.ObjHeader{ID: "u1"}, Username: "alice"}
	users := &fakeUsers{byName: map[string]*types.User{"alice": user}}
	h := NewTokenHandler([]byte("test-secret-key-value"), time.Hour, users)

	tok, expires, err := h.Issue(user)
	require.NoError(t, err)
	require.True(t, expires.After(time.Now()))

	got, err := h.Authenticate(context.Background(), Credentials{Secret: tok})
	require.NoError(t, err)
	require.Equal(t, "u1", got.ID)

	_, err = h.Authenticate(context.Background(), Credentials{Secret: "garbage"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegistryRoundTrip(t *testing.T) {
	RegisterScheme("basic-test", NewBasicHandler(&fakeUsers{byName: map[string]*types.User{}}))
	h, err := GetScheme("basic-test")
	require.NoError(t, err)
	require.NotNil(t, h)

	_, err = GetScheme("nonexistent-scheme")
	require.ErrorIs(t, err, ErrUnknownScheme)
}
