package errors

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalid     = errors.New("invalid")
	ErrConflict    = errors.New("conflict")
	ErrInternal    = errors.New("internal")
	ErrUnavailable = errors.New("unavailable")
	ErrClosed      = errors.New("closed")
	ErrRunning     = errors.New("reindex already running")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
