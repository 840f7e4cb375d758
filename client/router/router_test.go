package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwallowsProtocolChatterWithNoDisplayVariant(t *testing.T) {
	cases := []string{
		"ROOM_STATUS:testroom,alice,bob",
		"true",
	}
	for _, line := range cases {
		got := Parse(line)
		require.Equal(t, KindNone, got.Kind, "line %q should be swallowed", line)
	}
}

func TestProtocolLinesNeverProduceDisplayMessage(t *testing.T) {
	cases := []string{
		"USER_LIST:alice,bob",
		"ROOM_LIST:lobby,testroom",
		"ROOM_STATUS:testroom,alice,bob",
		"CURRENT_ROOM:testroom",
		"CURRENT_ROOM:",
		"true",
	}
	for _, line := range cases {
		got := Parse(line)
		require.NotEqual(t, KindDisplayMessage, got.Kind, "line %q must never surface as a DisplayMessage", line)
	}
}

func TestSwallowsReconnectedUserLine(t *testing.T) {
	got := Parse("Reconnected User: welcome back")
	require.Equal(t, KindNone, got.Kind)
}

func TestSwallowsWrappedProtocolChatter(t *testing.T) {
	got := Parse("alice: CURRENT_ROOM:testroom")
	require.Equal(t, KindNone, got.Kind)
}

func TestUpdateCurrentRoom(t *testing.T) {
	got := Parse("CURRENT_ROOM:testroom")
	require.Equal(t, KindUpdateCurrentRoom, got.Kind)
	require.Equal(t, "testroom", got.Room)

	got = Parse("CURRENT_ROOM:")
	require.Equal(t, KindUpdateCurrentRoom, got.Kind)
	require.Equal(t, "", got.Room)
}

func TestUpdateUserList(t *testing.T) {
	got := Parse("USER_LIST:alice,bob")
	require.Equal(t, KindUpdateUserList, got.Kind)
	require.Equal(t, []string{"alice", "bob"}, got.Users)
}

func TestRoomCreated(t *testing.T) {
	got := Parse("ROOM_CREATED:testroom")
	require.Equal(t, KindRoomCreated, got.Kind)
	require.Equal(t, "testroom", got.Room)
}

func TestDirectMessage(t *testing.T) {
	got := Parse("PRIVATE_MESSAGE:alice:ping")
	require.Equal(t, KindDirectMessage, got.Kind)
	require.Equal(t, "alice", got.Sender)
	require.Equal(t, "ping", got.Content)
}

func TestDirectMessageConfirmation(t *testing.T) {
	got := Parse("SYSTEM_MESSAGE:DM sent to bob: ping")
	require.Equal(t, KindDirectMessageConfirmation, got.Kind)
	require.Equal(t, "bob", got.Sender)
	require.Equal(t, "ping", got.Content)
}

func TestInvitationReceived(t *testing.T) {
	got := Parse("SYSTEM_MESSAGE:alice invited you to join room 'testroom'")
	require.Equal(t, KindInvitationReceived, got.Kind)
	require.Equal(t, "testroom", got.Room)
}

func TestInvitationSent(t *testing.T) {
	got := Parse("SYSTEM_MESSAGE:You invited bob to join room 'testroom'")
	require.Equal(t, KindInvitationSent, got.Kind)
	require.Equal(t, "testroom", got.Room)
}

func TestGenericSystemMessage(t *testing.T) {
	got := Parse("SYSTEM_MESSAGE:Authentication successful")
	require.Equal(t, KindDisplayMessage, got.Kind)
	require.Contains(t, got.Text, "Authentication successful")
}

func TestErrorLine(t *testing.T) {
	got := Parse("ERROR:RATE_LIMIT")
	require.Equal(t, KindError, got.Kind)
	require.Equal(t, "RATE_LIMIT", got.ErrorCode)
	require.Empty(t, got.ErrorDetail)

	got = Parse("ERROR:INVALID_ARGS:missing target")
	require.Equal(t, KindError, got.Kind)
	require.Equal(t, "INVALID_ARGS", got.ErrorCode)
	require.Equal(t, "missing target", got.ErrorDetail)
}

func TestPlainChatLine(t *testing.T) {
	got := Parse("alice: hello everyone")
	require.Equal(t, KindDisplayMessage, got.Kind)
	require.Equal(t, "alice", got.Sender)
	require.Equal(t, "hello everyone", got.Content)
}
