package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Invalidf wraps ErrInvalid with a caller facing reason.
func Invalidf(reason string) error {
	return &invalidErr{reason: reason}
}

type invalidErr struct {
	reason string
}

func (e *invalidErr) Error() string {
	return e.reason
}

func (e *invalidErr) Unwrap() error {
	return ErrInvalid
}
