// Package auth implements the pluggable authentication-scheme registry
// used during the Register/Login step of the connection state machine.
package auth

import (
	"context"
	"errors"
	"sync"

	t "github.com/lanternchat/lantern/internal/store/types"
)

// ErrUnknownScheme means the caller named a scheme no Handler was
// registered for.
var ErrUnknownScheme = errors.New("auth: unknown scheme")

// ErrInvalidCredentials means the supplied secret did not match.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Credentials carries what a Register or Login command supplies.
type Credentials struct {
	Username    string
	Secret      string // plaintext password, or opaque token depending on scheme
	Fingerprint string
}

// Handler is one authentication scheme: "basic" (username+password) or
// "token" (reconnect token). Mirrors the teacher's per-scheme singleton
// shape (Init/Authenticate/GenSecret) but narrowed to what this server
// actually needs.
type Handler interface {
	// Authenticate verifies creds and returns the matching user, or
	// ErrInvalidCredentials / store.ErrNotFound.
	Authenticate(ctx context.Context, creds Credentials) (*t.User, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Handler{}
)

// RegisterScheme installs a Handler under name, overwriting any
// previous registration. It takes the registry's write lock, so it is
// safe to call concurrently with GetScheme.
func RegisterScheme(name string, h Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = h
}

// GetScheme looks up a previously registered Handler.
func GetScheme(name string) (Handler, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[name]
	if !ok {
		return nil, ErrUnknownScheme
	}
	return h, nil
}
