package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndSetUser(t *testing.T) {
	r := New(nil, nil, nil)
	s := r.Register("c1", nil)
	require.Equal(t, "c1", s.ConnID)

	r.SetUser("c1", "u1")
	got, ok := r.Get("c1")
	require.True(t, ok)
	require.Equal(t, "u1", got.UserID)

	require.Equal(t, []string{"c1"}, r.LookupByUser("u1"))
}

func TestSendToUserMultiDevice(t *testing.T) {
	r := New(nil, nil, nil)
	r.Register("c1", nil)
	r.Register("c2", nil)
	r.SetUser("c1", "u1")
	r.SetUser("c2", "u1")

	r.SendToUser("u1", "hello")

	s1, _ := r.Get("c1")
	s2, _ := r.Get("c2")
	require.Equal(t, "hello", <-s1.Send())
	require.Equal(t, "hello", <-s2.Send())
}

func TestBroadcastToRoomExcludesSender(t *testing.T) {
	r := New(nil, nil, nil)
	r.Register("c1", nil)
	r.Register("c2", nil)
	r.SetCurrentRoom("c1", "room-a")
	r.SetCurrentRoom("c2", "room-a")

	r.BroadcastToRoom("room-a", "hi", "c1")

	s2, _ := r.Get("c2")
	require.Equal(t, "hi", <-s2.Send())

	s1, _ := r.Get("c1")
	select {
	case <-s1.Send():
		t.Fatal("sender should not receive its own broadcast")
	default:
	}
}

func TestDropClosesChannelAndRemovesFromIndex(t *testing.T) {
	var droppedConn, droppedUser string
	var droppedReason DropReason
	r := New(func(connID, userID string, reason DropReason) {
		droppedConn, droppedUser, droppedReason = connID, userID, reason
	}, nil, nil)
	r.Register("c1", nil)
	r.SetUser("c1", "u1")

	r.Drop("c1", DropExplicit)

	_, ok := r.Get("c1")
	require.False(t, ok)
	require.Empty(t, r.LookupByUser("u1"))
	require.Equal(t, "c1", droppedConn)
	require.Equal(t, "u1", droppedUser)
	require.Equal(t, DropExplicit, droppedReason)

	// idempotent
	r.Drop("c1", DropExplicit)
}

func TestSlowConsumerDroppedOnFullQueue(t *testing.T) {
	r := New(nil, nil, nil)
	r.Register("c1", nil)
	s, _ := r.Get("c1")

	for i := 0; i < OutboundQueueSize; i++ {
		r.enqueueOrDrop(s, "filler")
	}
	// one more push should overflow and drop the connection
	r.enqueueOrDrop(s, "overflow")

	_, ok := r.Get("c1")
	require.False(t, ok)
}
