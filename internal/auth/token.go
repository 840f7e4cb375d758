package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	t "github.com/lanternchat/lantern/internal/store/types"
)

// DefaultTokenLifetime is how long an issued reconnect token is valid,
// decided in DESIGN.md's Open Question resolution.
const DefaultTokenLifetime = 24 * time.Hour

// tokenClaims is the reconnect token payload, replacing the teacher's
// hand-rolled fixed-width binary token (server/auth/token/auth_token.go)
// with the ecosystem-standard JWT equivalent.
type tokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// TokenHandler issues and verifies reconnect tokens signed with a
// server-held HMAC secret.
type TokenHandler struct {
	secret   []byte
	lifetime time.Duration
	users    UserLookup
}

// NewTokenHandler builds the "token" scheme. secret must be non-empty;
// callers validate that at config load, matching the teacher's own
// auth_token.Init check.
func NewTokenHandler(secret []byte, lifetime time.Duration, users UserLookup) *TokenHandler {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &TokenHandler{secret: secret, lifetime: lifetime, users: users}
}

// Issue mints a signed reconnect token for an already-authenticated user.
func (h *TokenHandler) Issue(user *t.User) (string, time.Time, error) {
	expires := time.Now().Add(h.lifetime)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username: user.Username,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(h.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Authenticate verifies a reconnect token's signature and expiry, then
// looks up the user it names.
func (h *TokenHandler) Authenticate(ctx context.Context, creds Credentials) (*t.User, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(creds.Secret, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return h.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}
	user, err := h.users.UserFindByUsername(ctx, claims.Username)
	if err != nil {
		return nil, err
	}
	if user.ID != claims.Subject {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
