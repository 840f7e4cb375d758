// Package router implements the client message router (C8): it
// classifies every decrypted line the server sends into at most one
// typed UI action, or drops the line as protocol chatter.
package router

import (
	"strings"

	"github.com/lanternchat/lantern/internal/wire"
)

// Kind names the UI action a line produced.
type Kind string

const (
	KindNone                      Kind = "none" // swallowed; nothing for the UI
	KindDisplayMessage            Kind = "display_message"
	KindUpdateCurrentRoom         Kind = "update_current_room"
	KindUpdateUserList            Kind = "update_user_list"
	KindUpdateRoomList            Kind = "update_room_list"
	KindInvitationReceived        Kind = "invitation_received"
	KindInvitationSent            Kind = "invitation_sent"
	KindInvitationList            Kind = "invitation_list"
	KindDirectMessage             Kind = "direct_message"
	KindDirectMessageConfirmation Kind = "direct_message_confirmation"
	KindRoomCreated               Kind = "room_created"
	KindReactionUpdate            Kind = "reaction_update"
	KindSearchResults             Kind = "search_results"
	KindHistoryResults            Kind = "history_results"
	KindError                     Kind = "error"
)

// Action is the single tagged variant the UI layer switches on. Only
// the fields relevant to Kind are populated.
type Action struct {
	Kind Kind

	Text string // DisplayMessage / InvitationReceived / InvitationSent / InvitationList / DirectMessageConfirmation text

	Room  string   // UpdateCurrentRoom / RoomCreated / InvitationReceived / InvitationSent
	Users []string // UpdateUserList
	Rooms []string // UpdateRoomList
	IDs   []string // SearchResults / HistoryResults message ids; ReactionUpdate comma-separated fields

	Sender  string // DirectMessage / DisplayMessage chat line sender; DirectMessageConfirmation target
	Content string // DirectMessage / DirectMessageConfirmation / DisplayMessage chat line content

	ErrorCode   string
	ErrorDetail string
}

// reconnectedSender is the synthetic chat sender the server wraps
// reconnection notices in; lines from it are always swallowed.
const reconnectedSender = "Reconnected User"

// Parse classifies one decrypted line. A swallowed line returns
// Action{Kind: KindNone}.
func Parse(line string) Action {
	line = strings.TrimRight(line, "\r\n")

	if line == wire.LiteralTrue {
		return Action{Kind: KindNone}
	}
	if sender, content, ok := splitChatLine(line); ok {
		if sender == reconnectedSender || isProtocolPrefixed(content) {
			return Action{Kind: KindNone}
		}
	}

	switch {
	case strings.HasPrefix(line, wire.PrefixError):
		return parseError(line)
	case strings.HasPrefix(line, wire.PrefixSystemMessage):
		return parseSystemMessage(strings.TrimPrefix(line, wire.PrefixSystemMessage))
	case strings.HasPrefix(line, wire.PrefixPrivateMessage):
		return parsePrivateMessage(strings.TrimPrefix(line, wire.PrefixPrivateMessage))
	case strings.HasPrefix(line, wire.PrefixRoomCreated):
		return Action{Kind: KindRoomCreated, Room: strings.TrimPrefix(line, wire.PrefixRoomCreated)}
	case strings.HasPrefix(line, wire.PrefixCurrentRoom):
		return Action{Kind: KindUpdateCurrentRoom, Room: strings.TrimPrefix(line, wire.PrefixCurrentRoom)}
	case strings.HasPrefix(line, wire.PrefixUserList):
		return Action{Kind: KindUpdateUserList, Users: splitCSV(strings.TrimPrefix(line, wire.PrefixUserList))}
	case strings.HasPrefix(line, wire.PrefixRoomList):
		return Action{Kind: KindUpdateRoomList, Rooms: splitCSV(strings.TrimPrefix(line, wire.PrefixRoomList))}
	case strings.HasPrefix(line, wire.PrefixRoomStatus):
		// Room membership snapshot: state-only, never shown in the log.
		return Action{Kind: KindNone}
	case strings.HasPrefix(line, wire.PrefixInvitationList):
		return Action{Kind: KindInvitationList, Text: strings.TrimPrefix(line, wire.PrefixInvitationList)}
	case strings.HasPrefix(line, wire.PrefixReactionUpdate):
		return Action{Kind: KindReactionUpdate, IDs: splitCSV(strings.TrimPrefix(line, wire.PrefixReactionUpdate))}
	case strings.HasPrefix(line, wire.PrefixSearchResults):
		return Action{Kind: KindSearchResults, IDs: splitCSV(strings.TrimPrefix(line, wire.PrefixSearchResults))}
	case strings.HasPrefix(line, wire.PrefixHistory):
		return Action{Kind: KindHistoryResults, IDs: splitCSV(strings.TrimPrefix(line, wire.PrefixHistory))}
	default:
		if sender, content, ok := splitChatLine(line); ok {
			return Action{Kind: KindDisplayMessage, Sender: sender, Content: content, Text: line}
		}
		return Action{Kind: KindDisplayMessage, Text: line}
	}
}

// isProtocolPrefixed reports whether s starts with one of the line
// prefixes spec.md names as internal protocol chatter.
func isProtocolPrefixed(s string) bool {
	for _, p := range []string{wire.PrefixUserList, wire.PrefixRoomList, wire.PrefixRoomStatus, wire.PrefixCurrentRoom} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return s == wire.LiteralTrue
}

// splitChatLine splits a "sender: content" line at its first ": ", the
// format ordinary chat and reconnection notices are framed in (DM-sent
// confirmations use a dedicated prefix instead).
func splitChatLine(line string) (sender, content string, ok bool) {
	idx := strings.Index(line, ": ")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+2:], true
}

// parseSystemMessage distinguishes the two invitation notice strings
// and the DM-sent confirmation from a generic system notice.
func parseSystemMessage(text string) Action {
	if rest, ok := cutSuffixAfter(text, " invited you to join room '"); ok {
		return Action{Kind: KindInvitationReceived, Text: text, Room: rest}
	}
	if rest, ok := cutPrefixSuffix(text, "You invited ", " to join room '"); ok {
		return Action{Kind: KindInvitationSent, Text: text, Room: rest}
	}
	if rest, ok := cutPrefix(text, "DM sent to "); ok {
		target, content, ok := strings.Cut(rest, ": ")
		if ok {
			return Action{Kind: KindDirectMessageConfirmation, Sender: target, Content: content, Text: text}
		}
	}
	return Action{Kind: KindDisplayMessage, Text: wire.PrefixSystemMessage + text}
}

func parsePrivateMessage(rest string) Action {
	sender, content, ok := strings.Cut(rest, ":")
	if !ok {
		return Action{Kind: KindDisplayMessage, Text: wire.PrefixPrivateMessage + rest}
	}
	return Action{Kind: KindDirectMessage, Sender: sender, Content: content}
}

func parseError(line string) Action {
	rest := strings.TrimPrefix(line, wire.PrefixError)
	code, detail, _ := strings.Cut(rest, ":")
	return Action{Kind: KindError, ErrorCode: code, ErrorDetail: detail}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// cutPrefix reports whether s has prefix p, returning the remainder.
func cutPrefix(s, p string) (string, bool) {
	if !strings.HasPrefix(s, p) {
		return "", false
	}
	return s[len(p):], true
}

// cutSuffixAfter finds marker in s and returns what follows it as the
// room name, with one trailing closing quote trimmed if present.
func cutSuffixAfter(s, marker string) (string, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "", false
	}
	room := s[idx+len(marker):]
	room = strings.TrimSuffix(room, "'")
	return room, true
}

// cutPrefixSuffix extracts the room name from a "<prefix><target><mid><room>'"
// shaped string, given the leading prefix and the middle marker.
func cutPrefixSuffix(s, prefix, mid string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	idx := strings.Index(s, mid)
	if idx < 0 {
		return "", false
	}
	room := s[idx+len(mid):]
	room = strings.TrimSuffix(room, "'")
	return room, true
}
