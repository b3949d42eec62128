// Package shareerr defines the outcomes returned by share authorization and
// reverse-share redemption. Clients branch on Kind, so the string values are
// part of the wire contract and must not change.
package shareerr

import "errors"

type Kind string

const (
	KindShareRemoved     Kind = "share_removed"
	KindViewsExceeded    Kind = "share_max_views_exceeded"
	KindPrivateShare     Kind = "private_share"
	KindPasswordRequired Kind = "share_password_required"
	KindTokenRequired    Kind = "share_token_required"
	KindInvalidPassword  Kind = "invalid_password"

	KindReverseShareNotFound     Kind = "reverse_share_not_found"
	KindReverseShareExhausted    Kind = "reverse_share_exhausted"
	KindReverseShareExpired      Kind = "reverse_share_expired"
	KindReverseShareSizeExceeded Kind = "reverse_share_size_exceeded"
)

type Class int

const (
	ClassUnknown Class = iota
	// ClassChallenge can be retried with more credentials.
	ClassChallenge
	// ClassTerminal never succeeds on retry.
	ClassTerminal
	// ClassPolicy requires the caller to change the request.
	ClassPolicy
)

func (c Class) String() string {
	switch c {
	case ClassChallenge:
		return "challenge"
	case ClassTerminal:
		return "terminal"
	case ClassPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

func (k Kind) Class() Class {
	switch k {
	case KindPasswordRequired, KindTokenRequired, KindInvalidPassword:
		return ClassChallenge
	case KindShareRemoved, KindViewsExceeded, KindPrivateShare,
		KindReverseShareNotFound, KindReverseShareExhausted, KindReverseShareExpired:
		return ClassTerminal
	case KindReverseShareSizeExceeded:
		return ClassPolicy
	default:
		return ClassUnknown
	}
}

// Cacheable reports whether the outcome depends only on the stored record and
// not on who is asking, so it can be remembered for a short while.
func (k Kind) Cacheable() bool {
	switch k {
	case KindShareRemoved, KindViewsExceeded,
		KindReverseShareNotFound, KindReverseShareExhausted, KindReverseShareExpired:
		return true
	default:
		return false
	}
}

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// As extracts a *Error from err.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func IsChallenge(err error) bool {
	e, ok := As(err)
	return ok && e.Kind.Class() == ClassChallenge
}
