// Package messages implements the message engine (C6): chat broadcast,
// DMs, edit/delete, reactions, search/history/threading, and read
// receipts.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lanternchat/lantern/internal/metrics"
	"github.com/lanternchat/lantern/internal/session"
	"github.com/lanternchat/lantern/internal/store/adapter"
	t "github.com/lanternchat/lantern/internal/store/types"
	"github.com/lanternchat/lantern/internal/wire"
)

// MaxContentBytes is the largest a message body may be, per spec §4.9.
const MaxContentBytes = 4096

// DefaultSearchLimit and MaxSearchLimit bound SEARCH_MESSAGES/GET_HISTORY.
const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 200
)

// ErrStorage is surfaced to the caller as ERROR:STORAGE after a single
// retry of a failed persistence call, per spec §4.6.
var ErrStorage = errors.New("messages: storage failure")

// Engine wires the storage adapter to the session registry.
type Engine struct {
	Store    adapter.Adapter
	Sessions *session.Registry
	Metrics  *metrics.Metrics
}

func New(store adapter.Adapter, sessions *session.Registry, m *metrics.Metrics) *Engine {
	return &Engine{Store: store, Sessions: sessions, Metrics: m}
}

func (e *Engine) metricsMessageSent() {
	if e.Metrics == nil {
		return
	}
	e.Metrics.MessagesSent.Inc()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// storeWithRetry runs fn once, and on failure retries exactly once
// before giving up with ErrStorage, matching spec §4.6's "retried once"
// failure semantics for chat persistence.
func storeWithRetry(fn func() (*t.Message, error)) (*t.Message, error) {
	msg, err := fn()
	if err == nil {
		return msg, nil
	}
	msg, err = fn()
	if err != nil {
		return nil, ErrStorage
	}
	return msg, nil
}

// SendRoomMessage persists and broadcasts a plain chat line in the
// caller's current room.
func (e *Engine) SendRoomMessage(ctx context.Context, connID, userID, username, roomID, content string) error {
	_, err := storeWithRetry(func() (*t.Message, error) {
		return e.Store.MessageStore(ctx, &t.Message{RoomID: roomID, AuthorID: userID, Content: content, Type: t.MessageText})
	})
	if err != nil {
		return err
	}
	e.Sessions.BroadcastToRoom(roomID, fmt.Sprintf("%s: %s", username, content), connID)
	e.metricsMessageSent()
	return nil
}

// SendLobbyMessage broadcasts a plain chat line to every other
// connection currently in the lobby. Lobby chat is never persisted.
func (e *Engine) SendLobbyMessage(connID, username, content string) {
	e.Sessions.BroadcastToLobby(fmt.Sprintf("%s: %s", username, content), connID)
	e.metricsMessageSent()
}

// SendDM persists a direct message under the deterministic DM-pair id
// and delivers it to every connection of the target plus a send
// confirmation to the sender.
func (e *Engine) SendDM(ctx context.Context, senderID, senderUsername, targetUserID, targetUsername, content string) error {
	pairID := t.DMPairID(senderID, targetUserID)
	_, err := storeWithRetry(func() (*t.Message, error) {
		return e.Store.MessageStore(ctx, &t.Message{DMPairID: pairID, AuthorID: senderID, Content: content, Type: t.MessageText})
	})
	if err != nil {
		return err
	}
	e.Sessions.SendToUser(targetUserID, fmt.Sprintf("%s%s:%s", wire.PrefixPrivateMessage, senderUsername, content))
	e.Sessions.SendToUser(senderID, fmt.Sprintf("%sDM sent to %s: %s", wire.PrefixSystemMessage, targetUsername, content))
	e.metricsMessageSent()
	return nil
}

// Edit overwrites a message's content; only the author may edit.
func (e *Engine) Edit(ctx context.Context, connID, userID, messageID, newContent, roomID string) (*t.Message, error) {
	msg, err := e.Store.MessageEdit(ctx, messageID, userID, newContent, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	e.Sessions.BroadcastToRoom(roomID, fmt.Sprintf("%smessage %s was edited", wire.PrefixSystemMessage, messageID), connID)
	return msg, nil
}

// Delete soft-deletes a message; only the author may delete. Idempotent.
func (e *Engine) Delete(ctx context.Context, connID, userID, messageID, roomID string) error {
	if err := e.Store.MessageDelete(ctx, messageID, userID, time.Now().UTC()); err != nil {
		return err
	}
	e.Sessions.BroadcastToRoom(roomID, fmt.Sprintf("%smessage %s was deleted", wire.PrefixSystemMessage, messageID), connID)
	return nil
}

// React toggles a reaction on, then broadcasts the updated set.
func (e *Engine) React(ctx context.Context, roomID, userID, messageID, emoji string) (*t.Message, error) {
	msg, err := e.Store.MessageReact(ctx, messageID, userID, emoji, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	e.Sessions.BroadcastToRoom(roomID, fmt.Sprintf("%s%s:%s", wire.PrefixReactionUpdate, messageID, formatReactions(msg.Reactions)), "")
	return msg, nil
}

// Unreact removes a reaction, then broadcasts the updated set.
func (e *Engine) Unreact(ctx context.Context, roomID, userID, messageID, emoji string) (*t.Message, error) {
	msg, err := e.Store.MessageUnreact(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}
	e.Sessions.BroadcastToRoom(roomID, fmt.Sprintf("%s%s:%s", wire.PrefixReactionUpdate, messageID, formatReactions(msg.Reactions)), "")
	return msg, nil
}

func formatReactions(reactions map[string]map[string]bool) string {
	parts := make([]string, 0, len(reactions))
	for emoji, users := range reactions {
		parts = append(parts, fmt.Sprintf("%s=%d", emoji, len(users)))
	}
	return strings.Join(parts, ",")
}

// Search returns up to limit most recent matching messages in roomID.
func (e *Engine) Search(ctx context.Context, roomID, query string, limit int) ([]t.Message, error) {
	return e.Store.MessageSearch(ctx, roomID, query, clampLimit(limit))
}

// History paginates a room's messages, newest first.
func (e *Engine) History(ctx context.Context, roomID string, limit int, before *string) ([]t.Message, error) {
	return e.Store.MessageHistory(ctx, roomID, clampLimit(limit), before)
}

// Reply stores a threaded message under parentID.
func (e *Engine) Reply(ctx context.Context, connID, userID, username, roomID, parentID, content string) error {
	_, err := storeWithRetry(func() (*t.Message, error) {
		return e.Store.MessageStore(ctx, &t.Message{RoomID: roomID, AuthorID: userID, Content: content, Type: t.MessageText, ParentID: parentID})
	})
	if err != nil {
		return err
	}
	e.Sessions.BroadcastToRoom(roomID, fmt.Sprintf("%s: %s", username, content), connID)
	e.metricsMessageSent()
	return nil
}

// Thread returns parentID's descendants, oldest first.
func (e *Engine) Thread(ctx context.Context, parentID string, limit int) ([]t.Message, error) {
	return e.Store.MessageThread(ctx, parentID, clampLimit(limit))
}

// MarkRead advances the caller's read cursor for roomID. Monotonic: a
// cursor never moves backward, enforced by the adapter.
func (e *Engine) MarkRead(ctx context.Context, userID, roomID, messageID string) error {
	return e.Store.MessageMarkRead(ctx, userID, roomID, messageID, time.Now().UTC())
}
