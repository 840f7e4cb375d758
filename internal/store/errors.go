package store

import "errors"

// Sentinel errors returned by adapters and atomic operations. Components
// compare against these with errors.Is; the dispatcher (internal/dispatch)
// is the only place that turns them into wire ERROR codes.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrConflict          = errors.New("store: conflict")
	ErrInvalidTransition = errors.New("store: invalid transition")
	ErrPermissionDenied  = errors.New("store: permission denied")
	ErrTimeout           = errors.New("store: timeout")
)

// BackendError wraps an underlying driver error so callers can log the
// cause without leaking it to clients (spec.md §7: "Backend(reason)").
type BackendError struct {
	Reason string
	Cause  error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return "store: backend failure: " + e.Reason + ": " + e.Cause.Error()
	}
	return "store: backend failure: " + e.Reason
}

func (e *BackendError) Unwrap() error { return e.Cause }

// NewBackendError wraps cause with a human-readable reason.
func NewBackendError(reason string, cause error) error {
	return &BackendError{Reason: reason, Cause: cause}
}
