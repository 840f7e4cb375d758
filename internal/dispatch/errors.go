package dispatch

import (
	"errors"
	"fmt"

	"github.com/lanternchat/lantern/internal/auth"
	"github.com/lanternchat/lantern/internal/invites"
	"github.com/lanternchat/lantern/internal/messages"
	"github.com/lanternchat/lantern/internal/rooms"
	"github.com/lanternchat/lantern/internal/security"
	"github.com/lanternchat/lantern/internal/store"
	"github.com/lanternchat/lantern/internal/wire"
)

// Wire error codes, the closed set from spec §6.
const (
	CodeRateLimit      = "RATE_LIMIT"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeInvalidArgs    = "INVALID_ARGS"
	CodeStorage        = "STORAGE"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeNotAuthorized  = "NOT_AUTHORIZED"
	CodeTimeout        = "TIMEOUT"
)

// errorLine maps any error this package sees to an ERROR:<CODE> wire
// line, counting it against ErrorsTotal. The dispatcher never panics;
// an unrecognized error still degrades to a generic wire code.
func (d *Dispatcher) errorLine(err error) string {
	code, detail := mapError(err)
	if d.Metrics != nil {
		d.Metrics.ErrorsTotal.WithLabelValues(code).Inc()
	}
	if detail == "" {
		return fmt.Sprintf("%s%s", wire.PrefixError, code)
	}
	return fmt.Sprintf("%s%s:%s", wire.PrefixError, code, detail)
}

func mapError(err error) (code string, detail string) {
	switch {
	case errors.Is(err, errRateLimited):
		return CodeRateLimit, ""
	case errors.Is(err, errUnknownCommand):
		return CodeUnknownCommand, ""
	case errors.Is(err, errInvalidArgs):
		return CodeInvalidArgs, ""
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound, ""
	case errors.Is(err, store.ErrConflict):
		return CodeConflict, ""
	case errors.Is(err, store.ErrInvalidTransition):
		return CodeInvalidArgs, ""
	case errors.Is(err, store.ErrPermissionDenied):
		return CodeNotAuthorized, ""
	case errors.Is(err, store.ErrTimeout):
		return CodeTimeout, ""
	case errors.Is(err, messages.ErrStorage):
		return CodeStorage, ""
	case errors.Is(err, auth.ErrInvalidCredentials):
		return CodeNotAuthorized, ""
	case errors.Is(err, auth.ErrUnknownScheme):
		return CodeInvalidArgs, ""
	case errors.Is(err, rooms.ErrReservedName), errors.Is(err, rooms.ErrInvalidName):
		return CodeInvalidArgs, ""
	case errors.Is(err, invites.ErrAlreadyMember), errors.Is(err, invites.ErrNotAMember):
		return CodeInvalidArgs, ""
	case errors.Is(err, security.ErrUsernameInvalid), errors.Is(err, security.ErrPasswordTooShort), errors.Is(err, security.ErrMessageInvalid):
		return CodeInvalidArgs, ""
	default:
		var be *store.BackendError
		if errors.As(err, &be) {
			return CodeStorage, ""
		}
		return CodeInvalidArgs, err.Error()
	}
}
