// Package wire holds the line prefixes and literal tokens both sides of
// the connection agree on, so internal/dispatch (the writer) and
// client/router (the reader) never drift out of sync on spec §6's
// wire grammar.
package wire

const (
	PrefixSystemMessage  = "SYSTEM_MESSAGE:"
	PrefixPrivateMessage = "PRIVATE_MESSAGE:"
	PrefixRoomCreated    = "ROOM_CREATED:"
	PrefixCurrentRoom    = "CURRENT_ROOM:"
	PrefixRoomStatus     = "ROOM_STATUS:"
	PrefixUserList       = "USER_LIST:"
	PrefixRoomList       = "ROOM_LIST:"
	PrefixInvitationList = "INVITATION_LIST:"
	PrefixReactionUpdate = "REACTION_UPDATE:"
	PrefixSearchResults  = "SEARCH_RESULTS:"
	PrefixHistory        = "HISTORY:"
	PrefixError          = "ERROR:"
)

// LobbyRoomName is a display name for "not in any room". It is not what
// goes on the wire: the lobby is sent as CURRENT_ROOM: with an empty
// name, matching a session's empty CurrentRoom field.
const LobbyRoomName = "lobby"

// ReconnectedUserLine and LiteralTrue are server lines the client
// router swallows outright rather than surfacing to the UI.
const (
	ReconnectedUserLine = "Reconnected User"
	LiteralTrue         = "true"
)
