package domain

import (
	"github.com/pkg/errors"
)

var (
	ErrSessionExpired   = errors.New("session expired")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrBadCredentials   = errors.New("bad credentials")
	ErrBackLogLocked    = errors.New("backlog locked by another waiter")
	ErrLagging          = errors.New("event stream lagging")
	ErrSaveInUse        = errors.New("save in use by a host")
	ErrNotEmpty         = errors.New("directory not empty")
	ErrAlreadyExists    = errors.New("already exists")
	ErrHostTaken        = errors.New("a host is already registered")
	ErrUnexpectedEvent  = errors.New("unexpected host event")
	ErrUploadIncomplete = errors.New("upload incomplete")
	ErrUnknownObject    = errors.New("unknown object")
	ErrHashMismatch     = errors.New("content hash mismatch")
	ErrInvalidPath      = errors.New("invalid path")
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("malformed request")
)

// Kind is the closed error taxonomy crossing the RPC boundary.
type Kind string

const (
	KindExpired      = Kind("expired")
	KindUnauthorized = Kind("unauthorized")
	KindConflict     = Kind("conflict")
	KindLagging      = Kind("lagging")
	KindTransientIO  = Kind("transient_io")
	KindInternal     = Kind("internal")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrSessionExpired, KindExpired},
	{ErrUnauthorized, KindUnauthorized},
	{ErrBadCredentials, KindUnauthorized},
	{ErrLagging, KindLagging},
	{ErrBackLogLocked, KindConflict},
	{ErrSaveInUse, KindConflict},
	{ErrNotEmpty, KindConflict},
	{ErrAlreadyExists, KindConflict},
	{ErrHostTaken, KindConflict},
	{ErrUnexpectedEvent, KindConflict},
	{ErrUploadIncomplete, KindConflict},
	{ErrUnknownObject, KindConflict},
	{ErrHashMismatch, KindConflict},
	{ErrInvalidPath, KindConflict},
	{ErrNotFound, KindConflict},
	{ErrBadRequest, KindConflict},
}

type transientError struct {
	err error
}

func (e transientError) Error() string {
	return e.err.Error()
}

func (e transientError) Unwrap() error {
	return e.err
}

// TransientIO marks a storage or filesystem failure as safe to retry.
func TransientIO(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

func KindOf(err error) Kind {
	kind, _ := classify(err)
	return kind
}

// Reason is the text of the sentinel err matches, empty when there is none.
func Reason(err error) string {
	_, sentinel := classify(err)
	if sentinel == nil {
		return ""
	}
	return sentinel.Error()
}

func classify(err error) (Kind, error) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind, k.err
		}
	}
	var t transientError
	if errors.As(err, &t) {
		return KindTransientIO, nil
	}
	return KindInternal, nil
}

// ErrorOfKind rebuilds a local error from a wire kind, used by clients.
func ErrorOfKind(kind Kind, reason string, msg string) error {
	for _, k := range kinds {
		if k.kind == kind && reason != "" && k.err.Error() == reason {
			return errors.WithMessage(k.err, msg)
		}
	}
	switch kind {
	case KindExpired:
		return errors.WithMessage(ErrSessionExpired, msg)
	case KindUnauthorized:
		return errors.WithMessage(ErrUnauthorized, msg)
	case KindLagging:
		return errors.WithMessage(ErrLagging, msg)
	case KindConflict:
		return errors.Errorf("conflict: %s", msg)
	case KindTransientIO:
		return TransientIO(errors.New(msg))
	default:
		return errors.Errorf("internal: %s", msg)
	}
}
