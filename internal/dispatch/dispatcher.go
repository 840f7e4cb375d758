package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"time"

	"github.com/lanternchat/lantern/internal/auth"
	"github.com/lanternchat/lantern/internal/invites"
	"github.com/lanternchat/lantern/internal/messages"
	"github.com/lanternchat/lantern/internal/metrics"
	"github.com/lanternchat/lantern/internal/rooms"
	"github.com/lanternchat/lantern/internal/security"
	"github.com/lanternchat/lantern/internal/session"
	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
	"github.com/lanternchat/lantern/internal/wire"
)

// ConnContext is the per-connection state the dispatcher threads
// through every call: its position in the state machine plus whatever
// identity it has established so far.
type ConnContext struct {
	ConnID   string
	PeerIP   string
	State    State
	UserID   string
	Username string
}

// NewConnContext starts a connection in KeyEstablished: the handshake
// (C2) has already completed by the time lines reach the dispatcher.
func NewConnContext(connID, peerIP string) *ConnContext {
	return &ConnContext{ConnID: connID, PeerIP: peerIP, State: KeyEstablished}
}

// Dispatcher wires every engine the command table routes to.
type Dispatcher struct {
	Store       adapter.Adapter
	Sessions    *session.Registry
	Rooms       *rooms.Engine
	Messages    *messages.Engine
	Invites     *invites.Engine
	RateLimiter *security.RateLimiter
	Auditor     *security.Auditor
	Blocklist   *security.Blocklist
	Metrics     *metrics.Metrics
}

// registerPayload/loginPayload mirror the JSON bodies of spec §4.4.
type registerPayload struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint"`
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLine processes one decrypted line from cc's connection. It
// returns true when the connection must be closed immediately (a fatal
// protocol violation), matching spec §7's fatal/recoverable split.
func (d *Dispatcher) HandleLine(ctx context.Context, cc *ConnContext, line string) bool {
	if cc.State != Authenticated {
		return d.handlePreAuth(ctx, cc, line)
	}

	if allowed, _ := d.RateLimiter.AllowCommand(ctx, cc.UserID); !allowed {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errRateLimited))
		d.Auditor.Record(ctx, cc.UserID, security.ActionRateLimitHit, "", "", "", cc.PeerIP)
		d.metricsRateLimitHit()
		return false
	}

	if security.LooksLikeThreat(line) {
		d.Auditor.Record(ctx, cc.UserID, security.ActionAdminAction, "connection", cc.ConnID, "threat pattern in command line", cc.PeerIP)
		if d.Blocklist != nil {
			d.Blocklist.RecordOffense(cc.PeerIP, time.Now())
		}
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return false
	}

	verb, rest, isJSON := splitCommand(line)

	if isJSON {
		// Authenticated connections don't re-send REGISTER/LOGIN.
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errUnknownCommand))
		return false
	}

	switch verb {
	case "DM":
		d.metricsCommand(verb)
		d.handleDM(ctx, cc, rest)
	case "CREATE_ROOM":
		d.metricsCommand(verb)
		d.handleCreateRoom(ctx, cc, rest)
	case "JOIN_ROOM":
		d.metricsCommand(verb)
		d.handleJoinRoom(ctx, cc, rest)
	case "LEAVE_ROOM":
		d.metricsCommand(verb)
		d.handleLeaveRoom(ctx, cc)
	case "LIST_ROOMS":
		d.metricsCommand(verb)
		d.handleListRooms(ctx, cc)
	case "REQUEST_USER_LIST":
		d.metricsCommand(verb)
		d.handleUserList(ctx, cc)
	case "INVITE_USER":
		d.metricsCommand(verb)
		d.handleInviteUser(ctx, cc, rest)
	case "ACCEPT_INVITATION":
		d.metricsCommand(verb)
		d.handleAcceptInvitation(ctx, cc, rest)
	case "DECLINE_INVITATION":
		d.metricsCommand(verb)
		d.handleDeclineInvitation(ctx, cc, rest)
	case "LIST_INVITATIONS":
		d.metricsCommand(verb)
		d.handleListInvitations(ctx, cc)
	case "ACCEPT_ALL_INVITATIONS":
		d.metricsCommand(verb)
		d.handleAcceptAllInvitations(ctx, cc)
	case "EDIT_MESSAGE":
		d.metricsCommand(verb)
		d.handleEditMessage(ctx, cc, rest)
	case "DELETE_MESSAGE":
		d.metricsCommand(verb)
		d.handleDeleteMessage(ctx, cc, rest)
	case "REACT_MESSAGE":
		d.metricsCommand(verb)
		d.handleReactMessage(ctx, cc, rest)
	case "UNREACT_MESSAGE":
		d.metricsCommand(verb)
		d.handleUnreactMessage(ctx, cc, rest)
	case "SEARCH_MESSAGES":
		d.metricsCommand(verb)
		d.handleSearchMessages(ctx, cc, rest)
	case "GET_HISTORY":
		d.metricsCommand(verb)
		d.handleGetHistory(ctx, cc, rest)
	case "REPLY_MESSAGE":
		d.metricsCommand(verb)
		d.handleReplyMessage(ctx, cc, rest)
	case "MARK_READ":
		d.metricsCommand(verb)
		d.handleMarkRead(ctx, cc, rest)
	case "SHOW_HELP":
		d.metricsCommand(verb)
		d.handleShowHelp(cc)
	default:
		if looksLikeCommand(line) {
			d.Sessions.SendToConn(cc.ConnID, d.errorLine(errUnknownCommand))
			return false
		}
		d.metricsCommand("CHAT")
		d.handleChat(ctx, cc, line)
	}
	return false
}

// handlePreAuth only accepts REGISTER/LOGIN; anything else is a fatal
// protocol violation (spec §7).
func (d *Dispatcher) handlePreAuth(ctx context.Context, cc *ConnContext, line string) bool {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &envelope); err != nil {
		return true
	}

	if raw, ok := envelope["Register"]; ok {
		return d.handleRegister(ctx, cc, raw)
	}
	if raw, ok := envelope["Login"]; ok {
		return d.handleLogin(ctx, cc, raw)
	}
	return true
}

func (d *Dispatcher) handleRegister(ctx context.Context, cc *ConnContext, raw json.RawMessage) bool {
	var payload registerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return false
	}
	if !security.ValidUsername(payload.Username) || !security.ValidPassword(payload.Password) {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return false
	}

	verifier, err := auth.HashPassword(payload.Password)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return false
	}

	user, _, err := d.Store.RegisterUserWithInitialSession(ctx, payload.Username, verifier, t.RoleUser)
	if err != nil {
		d.Auditor.Record(ctx, "", security.ActionFailedLogin, "user", payload.Username, "register failed", cc.PeerIP)
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return false
	}

	d.completeAuth(cc, user)
	d.Sessions.SendToConn(cc.ConnID, wire.PrefixSystemMessage+"Authentication successful")
	return false
}

func (d *Dispatcher) handleLogin(ctx context.Context, cc *ConnContext, raw json.RawMessage) bool {
	var payload loginPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return false
	}

	handler, err := auth.GetScheme("basic")
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return false
	}

	user, err := handler.Authenticate(ctx, auth.Credentials{Username: payload.Username, Secret: payload.Password})
	if err != nil {
		d.Auditor.Record(ctx, "", security.ActionFailedLogin, "user", payload.Username, "login failed", cc.PeerIP)
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return false
	}

	d.completeAuth(cc, user)
	d.Sessions.SendToConn(cc.ConnID, wire.PrefixSystemMessage+"Authentication successful")
	return false
}

func (d *Dispatcher) completeAuth(cc *ConnContext, user *t.User) {
	cc.State = Authenticated
	cc.UserID = user.ID
	cc.Username = user.Username
	d.Sessions.SetUser(cc.ConnID, user.ID)
}

func (d *Dispatcher) handleDM(ctx context.Context, cc *ConnContext, rest string) {
	target, content, ok := splitTwo(rest)
	if !ok {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return
	}
	content, err := security.SanitizeMessage(content)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	targetUser, err := d.Store.UserFindByUsername(ctx, target)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	if err := d.Messages.SendDM(ctx, cc.UserID, cc.Username, targetUser.ID, targetUser.Username, content); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleCreateRoom(ctx context.Context, cc *ConnContext, name string) {
	room, err := d.Rooms.Create(ctx, cc.ConnID, cc.UserID, cc.Username, name)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	d.Sessions.SendToConn(cc.ConnID, fmt.Sprintf("%s%s", wire.PrefixRoomCreated, room.Name))
	d.sendRoomSnapshot(ctx, cc, room)
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, cc *ConnContext, name string) {
	room, err := d.Rooms.Join(ctx, cc.ConnID, cc.UserID, cc.Username, name)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	d.sendRoomSnapshot(ctx, cc, room)
}

func (d *Dispatcher) handleLeaveRoom(ctx context.Context, cc *ConnContext) {
	if err := d.Rooms.Leave(ctx, cc.ConnID, cc.UserID, cc.Username); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	d.Sessions.SendToConn(cc.ConnID, wire.PrefixCurrentRoom)
}

func (d *Dispatcher) handleListRooms(ctx context.Context, cc *ConnContext) {
	list, err := d.Rooms.List(ctx)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	names := make([]string, 0, len(list))
	for _, r := range list {
		names = append(names, r.Name)
	}
	d.Sessions.SendToConn(cc.ConnID, fmt.Sprintf("%s%s", wire.PrefixRoomList, strings.Join(names, ",")))
}

func (d *Dispatcher) handleUserList(ctx context.Context, cc *ConnContext) {
	users := d.resolveUsernames(ctx, d.Sessions.ListUsers())
	d.Sessions.SendToConn(cc.ConnID, fmt.Sprintf("%s%s", wire.PrefixUserList, strings.Join(users, ",")))
}

func (d *Dispatcher) sendRoomSnapshot(ctx context.Context, cc *ConnContext, room *t.Room) {
	d.Sessions.SendToConn(cc.ConnID, fmt.Sprintf("%s%s", wire.PrefixCurrentRoom, room.Name))
	members, err := d.Store.MembershipsForRoom(ctx, room.ID, adapter.Pagination{})
	if err != nil {
		return
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	names := d.resolveUsernames(ctx, ids)
	d.Sessions.SendToConn(cc.ConnID, fmt.Sprintf("%s%s,%s", wire.PrefixRoomStatus, room.Name, strings.Join(names, ",")))
}

// resolveUsernames looks up display names for a set of user ids,
// falling back to the id itself if the user record can't be read.
func (d *Dispatcher) resolveUsernames(ctx context.Context, userIDs []string) []string {
	names := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := d.Store.UserGet(ctx, id)
		if err != nil {
			names = append(names, id)
			continue
		}
		names = append(names, u.Username)
	}
	return names
}

func (d *Dispatcher) handleInviteUser(ctx context.Context, cc *ConnContext, rest string) {
	target, room, ok := splitTwo(rest)
	if !ok {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return
	}
	targetUser, err := d.Store.UserFindByUsername(ctx, target)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	if _, err := d.Invites.Invite(ctx, cc.UserID, cc.Username, targetUser.ID, targetUser.Username, room); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleAcceptInvitation(ctx context.Context, cc *ConnContext, arg string) {
	if _, err := d.Invites.Accept(ctx, cc.ConnID, cc.UserID, cc.Username, arg); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleDeclineInvitation(ctx context.Context, cc *ConnContext, arg string) {
	if _, err := d.Invites.Decline(ctx, cc.UserID, arg); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleListInvitations(ctx context.Context, cc *ConnContext) {
	list, err := d.Invites.List(ctx, cc.UserID)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	names := make([]string, 0, len(list))
	for _, inv := range list {
		room, err := d.Store.RoomGet(ctx, inv.RoomID)
		if err != nil {
			names = append(names, inv.RoomID)
			continue
		}
		names = append(names, room.Name)
	}
	d.Sessions.SendToConn(cc.ConnID, fmt.Sprintf("%s%s", wire.PrefixInvitationList, strings.Join(names, ",")))
}

func (d *Dispatcher) handleAcceptAllInvitations(ctx context.Context, cc *ConnContext) {
	if _, err := d.Invites.AcceptAll(ctx, cc.ConnID, cc.UserID, cc.Username); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleEditMessage(ctx context.Context, cc *ConnContext, rest string) {
	id, content, ok := splitTwo(rest)
	if !ok {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return
	}
	content, err := security.SanitizeMessage(content)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	roomID := d.currentRoom(cc)
	if _, err := d.Messages.Edit(ctx, cc.ConnID, cc.UserID, id, content, roomID); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleDeleteMessage(ctx context.Context, cc *ConnContext, id string) {
	roomID := d.currentRoom(cc)
	if err := d.Messages.Delete(ctx, cc.ConnID, cc.UserID, id, roomID); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleReactMessage(ctx context.Context, cc *ConnContext, rest string) {
	id, emoji, ok := splitTwo(rest)
	if !ok {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return
	}
	roomID := d.currentRoom(cc)
	if _, err := d.Messages.React(ctx, roomID, cc.UserID, id, emoji); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleUnreactMessage(ctx context.Context, cc *ConnContext, rest string) {
	id, emoji, ok := splitTwo(rest)
	if !ok {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return
	}
	roomID := d.currentRoom(cc)
	if _, err := d.Messages.Unreact(ctx, roomID, cc.UserID, id, emoji); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleSearchMessages(ctx context.Context, cc *ConnContext, query string) {
	roomID := d.currentRoom(cc)
	results, err := d.Messages.Search(ctx, roomID, query, messages.DefaultSearchLimit)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	d.sendMessageList(cc, wire.PrefixSearchResults, results)
}

func (d *Dispatcher) handleGetHistory(ctx context.Context, cc *ConnContext, limitStr string) {
	limit := parseIntOrDefault(limitStr, messages.DefaultSearchLimit)
	roomID := d.currentRoom(cc)
	results, err := d.Messages.History(ctx, roomID, limit, nil)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	d.sendMessageList(cc, wire.PrefixHistory, results)
}

func (d *Dispatcher) handleReplyMessage(ctx context.Context, cc *ConnContext, rest string) {
	parentID, content, ok := splitTwo(rest)
	if !ok {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(errInvalidArgs))
		return
	}
	content, err := security.SanitizeMessage(content)
	if err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
		return
	}
	roomID := d.currentRoom(cc)
	if err := d.Messages.Reply(ctx, cc.ConnID, cc.UserID, cc.Username, roomID, parentID, content); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleMarkRead(ctx context.Context, cc *ConnContext, id string) {
	roomID := d.currentRoom(cc)
	if err := d.Messages.MarkRead(ctx, cc.UserID, roomID, id); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) handleShowHelp(cc *ConnContext) {
	d.Sessions.SendToConn(cc.ConnID, wire.PrefixSystemMessage+"see docs for the full command list")
}

func (d *Dispatcher) handleChat(ctx context.Context, cc *ConnContext, line string) {
	content, err := security.SanitizeMessage(line)
	if err != nil || content == "" {
		return
	}
	sess, ok := d.Sessions.Get(cc.ConnID)
	if !ok {
		return
	}
	if sess.CurrentRoom == "" {
		d.Messages.SendLobbyMessage(cc.ConnID, cc.Username, content)
		return
	}
	if err := d.Messages.SendRoomMessage(ctx, cc.ConnID, cc.UserID, cc.Username, sess.CurrentRoom, content); err != nil {
		d.Sessions.SendToConn(cc.ConnID, d.errorLine(err))
	}
}

func (d *Dispatcher) currentRoom(cc *ConnContext) string {
	sess, ok := d.Sessions.Get(cc.ConnID)
	if !ok {
		return ""
	}
	return sess.CurrentRoom
}

func (d *Dispatcher) sendMessageList(cc *ConnContext, prefix string, msgs []t.Message) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	d.Sessions.SendToConn(cc.ConnID, fmt.Sprintf("%s%s", prefix, strings.Join(ids, ",")))
}

var (
	errRateLimited    = errors.New("dispatch: rate limited")
	errUnknownCommand = errors.New("dispatch: unknown command")
	errInvalidArgs    = errors.New("dispatch: invalid arguments")
)

// splitCommand recognizes a JSON-framed line (isJSON=true) or splits a
// TOKEN[:rest] line into its verb and argument remainder.
func splitCommand(line string) (verb, rest string, isJSON bool) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		return "", "", true
	}
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, "", false
	}
	return line[:idx], line[idx+1:], false
}

// looksLikeCommand reports whether a non-matching line still looks
// protocol-shaped (uppercase token followed by a colon), warranting
// ERROR:UNKNOWN_COMMAND instead of being treated as chat.
func looksLikeCommand(line string) bool {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return false
	}
	candidate := line[:idx]
	for _, r := range candidate {
		if r != '_' && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// splitTwo splits "a:b" into (a, b), requiring both to be non-empty.
func splitTwo(s string) (string, string, bool) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// metricsCommand counts one dispatched command (or "CHAT" for plain
// chat lines) against CommandsTotal.
func (d *Dispatcher) metricsCommand(verb string) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.CommandsTotal.WithLabelValues(verb).Inc()
}

// metricsRateLimitHit counts one per-user command rejected by the rate
// limiter against RateLimitHits.
func (d *Dispatcher) metricsRateLimitHit() {
	if d.Metrics == nil {
		return
	}
	d.Metrics.RateLimitHits.Inc()
}

func parseIntOrDefault(s string, def int) int {
	n := 0
	if s == "" {
		return def
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}
