package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/lanternchat/lantern/internal/store"
	t "github.com/lanternchat/lantern/internal/store/types"
)

// BcryptCost matches the teacher's own default of not hand-tuning away
// from the library default.
const BcryptCost = bcrypt.DefaultCost

// HashPassword produces the verifier stored on the User row.
func HashPassword(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), BcryptCost)
}

// UserLookup is the slice of the storage adapter the basic scheme needs.
// Narrowed deliberately so this package doesn't depend on the adapter's
// full surface.
type UserLookup interface {
	UserFindByUsername(ctx context.Context, username string) (*t.User, error)
}

// BasicHandler authenticates Register/Login's username+password pair
// against the bcrypt verifier stored with the user.
type BasicHandler struct {
	Users UserLookup
}

// NewBasicHandler builds the "basic" scheme over the given store.
func NewBasicHandler(users UserLookup) *BasicHandler {
	return &BasicHandler{Users: users}
}

func (h *BasicHandler) Authenticate(ctx context.Context, creds Credentials) (*t.User, error) {
	user, err := h.Users.UserFindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(user.Verifier, []byte(creds.Secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
