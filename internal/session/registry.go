package session

import (
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DropReason explains why a connection's registry entry was removed,
// for the audit trail.
type DropReason string

const (
	DropExplicit    DropReason = "explicit"
	DropSlowConsumer DropReason = "slow_consumer"
)

// AuditFunc records a security-relevant registry event. Kept as a
// callback rather than a direct dependency so this package doesn't
// import internal/security.
type AuditFunc func(connID, userID string, reason DropReason)

// Registry is the process-wide connection map. The zero value is not
// usable; call New.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{} // userID -> set of connIDs

	onAudit AuditFunc

	liveGauge        prometheus.Gauge
	slowConsumerDrop prometheus.Counter
}

// New constructs an empty Registry. onAudit may be nil. slowConsumerDrop
// may be nil; when set, it counts every connection dropped for a full
// outbound queue.
func New(onAudit AuditFunc, liveGauge prometheus.Gauge, slowConsumerDrop prometheus.Counter) *Registry {
	if onAudit == nil {
		onAudit = func(string, string, DropReason) {}
	}
	return &Registry{
		sessions:         make(map[string]*Session),
		byUser:           make(map[string]map[string]struct{}),
		onAudit:          onAudit,
		liveGauge:        liveGauge,
		slowConsumerDrop: slowConsumerDrop,
	}
}

// Register creates a new entry for a freshly accepted, not-yet-
// authenticated connection and returns it.
func (r *Registry) Register(connID string, peerAddr net.Addr) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := newSession(connID, peerAddr, time.Now())
	r.sessions[connID] = s
	if r.liveGauge != nil {
		r.liveGauge.Inc()
	}
	return s
}

// SetUser binds a connection to an authenticated user id, called once
// per connection immediately after Register/Login succeeds.
func (r *Registry) SetUser(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	if s.UserID != "" {
		r.removeFromUserIndex(s.UserID, connID)
	}
	s.UserID = userID
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
}

// SetCurrentRoom updates a connection's current room. Empty means the
// lobby.
func (r *Registry) SetCurrentRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[connID]; ok {
		s.CurrentRoom = roomID
	}
}

// Get returns the session for connID, if present.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// LookupByUser finds every live connection id for a user (spec's
// lookup_by_username, taking a user id since this package doesn't
// resolve usernames itself — that's the caller's job via C1).
func (r *Registry) LookupByUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

// ListUsers returns the user id of every connection with a bound
// identity, for REQUEST_USER_LIST.
func (r *Registry) ListUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		out = append(out, userID)
	}
	return out
}

// SendToConn enqueues line on exactly one connection, e.g. for a reply
// that only the requesting connection should see (an ERROR line, a
// command's direct response).
func (r *Registry) SendToConn(connID, line string) {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.enqueueOrDrop(s, line)
}

// SendToUser enqueues line on every connection for userID. If a
// connection's queue is full, that connection is treated as a slow
// consumer: its queue is drained and the connection is dropped.
func (r *Registry) SendToUser(userID, line string) {
	r.mu.RLock()
	conns := make([]*Session, 0, len(r.byUser[userID]))
	for c := range r.byUser[userID] {
		if s, ok := r.sessions[c]; ok {
			conns = append(conns, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range conns {
		r.enqueueOrDrop(s, line)
	}
}

// BroadcastToRoom sends line to every connection whose CurrentRoom is
// roomID, optionally skipping the connection named in except.
func (r *Registry) BroadcastToRoom(roomID, line, except string) {
	r.mu.RLock()
	targets := make([]*Session, 0)
	for connID, s := range r.sessions {
		if connID == except {
			continue
		}
		if s.CurrentRoom == roomID {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.enqueueOrDrop(s, line)
	}
}

// BroadcastToLobby sends line to every authenticated connection whose
// CurrentRoom is empty (the lobby), optionally skipping except.
func (r *Registry) BroadcastToLobby(line, except string) {
	r.mu.RLock()
	targets := make([]*Session, 0)
	for connID, s := range r.sessions {
		if connID == except || s.UserID == "" {
			continue
		}
		if s.CurrentRoom == "" {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.enqueueOrDrop(s, line)
	}
}

func (r *Registry) enqueueOrDrop(s *Session, line string) {
	select {
	case s.send <- line:
	default:
		if r.slowConsumerDrop != nil {
			r.slowConsumerDrop.Inc()
		}
		r.Drop(s.ConnID, DropSlowConsumer)
	}
}

// Drop removes a connection's registry entry and closes its outbound
// channel. Safe to call more than once for the same connID.
func (r *Registry) Drop(connID string, reason DropReason) {
	r.mu.Lock()
	s, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, connID)
	if s.UserID != "" {
		r.removeFromUserIndex(s.UserID, connID)
	}
	if r.liveGauge != nil {
		r.liveGauge.Dec()
	}
	r.mu.Unlock()

	close(s.send)
	r.onAudit(connID, s.UserID, reason)
}

// removeFromUserIndex must be called with mu held.
func (r *Registry) removeFromUserIndex(userID, connID string) {
	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}
