// Package session implements the process-wide connection registry (C3):
// a map keyed by connection id tracking the authenticated user, current
// room, and a bounded outbound line channel per connection.
package session

import (
	"net"
	"time"
)

// OutboundQueueSize bounds the per-connection outbound channel, per spec.
const OutboundQueueSize = 128

// Session is one live connection's registry entry. Fields other than
// the outbound channel are mutated only through the owning Registry.
type Session struct {
	ConnID      string
	UserID      string // empty until authenticated
	CurrentRoom string // empty means the lobby
	PeerAddr    net.Addr
	ConnectedAt time.Time

	send chan string
}

// Send returns the read-only view of the outbound channel for the
// connection's writer goroutine to drain.
func (s *Session) Send() <-chan string {
	return s.send
}

func newSession(connID string, peerAddr net.Addr, now time.Time) *Session {
	return &Session{
		ConnID:      connID,
		PeerAddr:    peerAddr,
		ConnectedAt: now,
		send:        make(chan string, OutboundQueueSize),
	}
}
